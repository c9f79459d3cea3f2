package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the broker order type.
type OrderType string

const (
	OrderMarket         OrderType = "MARKET"
	OrderLimit          OrderType = "LIMIT"
	OrderStopLoss       OrderType = "STOP_LOSS"
	OrderStopLossMarket OrderType = "STOP_LOSS_MARKET"
)

// OrderStatus is the dashboard's simplified order state.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Order represents a broker order normalized for the dashboard.
type Order struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	SecurityID  string          `json:"security_id"`
	Segment     Segment         `json:"exchange_segment"`
	Side        Side            `json:"side"`
	Type        OrderType       `json:"type"`
	ProductType string          `json:"product_type"` // CNC, INTRADAY, MARGIN
	Quantity    int64           `json:"quantity"`
	FilledQty   int64           `json:"filled_qty"`
	Price       decimal.Decimal `json:"price"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	Status      OrderStatus     `json:"status"`
	RawStatus   string          `json:"raw_status"` // broker status before mapping
	Timestamp   time.Time       `json:"timestamp"`
}

// OrderRequest is what the UI submits to place an order.
type OrderRequest struct {
	Symbol       string          `json:"symbol"`
	SecurityID   string          `json:"security_id"`
	Segment      Segment         `json:"exchange_segment"`
	Side         Side            `json:"side"`
	Type         OrderType       `json:"type"`
	ProductType  string          `json:"product_type"`
	Validity     string          `json:"validity"`
	Quantity     int64           `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
}

// OrderModification carries the fields of an order that may change.
type OrderModification struct {
	Type         OrderType       `json:"type"`
	Quantity     int64           `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	Validity     string          `json:"validity"`
}

// Trade is one execution against an order.
type Trade struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	SecurityID string          `json:"security_id"`
	Side       Side            `json:"side"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Time       time.Time       `json:"time"`
}
