package dhan

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

// IST is the zone the broker reports wall-clock times in.
var IST = time.FixedZone("IST", 5*3600+30*60)

const brokerTimeLayout = "2006-01-02 15:04:05"

// RecordError describes one response record that could not be normalized.
type RecordError struct {
	Index  int
	Field  string
	Reason string
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d: %s: %s", e.Index, e.Field, e.Reason)
}

// ParseResult holds the records that normalized cleanly and the ones that did not.
// Bad records are never returned as zero-valued items.
type ParseResult[T any] struct {
	Items  []T
	Errors []RecordError
}

func parseAll[R, T any](records []R, conv func(R) (T, *RecordError)) ParseResult[T] {
	res := ParseResult[T]{Items: make([]T, 0, len(records))}
	for i, r := range records {
		item, rerr := conv(r)
		if rerr != nil {
			rerr.Index = i
			res.Errors = append(res.Errors, *rerr)
			continue
		}
		res.Items = append(res.Items, item)
	}
	return res
}

func missing(field string) *RecordError {
	return &RecordError{Field: field, Reason: "missing"}
}

// MapOrderStatus folds broker order states into the three the UI shows.
func MapOrderStatus(s string) model.OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "COMPLETE", "TRADED", "FILLED":
		return model.StatusFilled
	case "CANCELLED", "REJECTED":
		return model.StatusCancelled
	default:
		return model.StatusPending
	}
}

func parseSide(s string) (model.Side, bool) {
	switch strings.ToUpper(s) {
	case "BUY":
		return model.SideBuy, true
	case "SELL":
		return model.SideSell, true
	}
	return "", false
}

func parseBrokerTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(brokerTimeLayout, s, IST)
	if err != nil {
		return time.Time{}
	}
	return t
}

func dec(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// --- orders ---

type orderRecord struct {
	OrderID            string           `json:"orderId"`
	OrderStatus        string           `json:"orderStatus"`
	TransactionType    string           `json:"transactionType"`
	ExchangeSegment    string           `json:"exchangeSegment"`
	ProductType        string           `json:"productType"`
	OrderType          string           `json:"orderType"`
	TradingSymbol      string           `json:"tradingSymbol"`
	SecurityID         string           `json:"securityId"`
	Quantity           *int64           `json:"quantity"`
	Price              *decimal.Decimal `json:"price"`
	FilledQty          int64            `json:"filledQty"`
	AverageTradedPrice *decimal.Decimal `json:"averageTradedPrice"`
	CreateTime         string           `json:"createTime"`
}

func (r orderRecord) normalize() (model.Order, *RecordError) {
	if r.OrderID == "" {
		return model.Order{}, missing("orderId")
	}
	side, ok := parseSide(r.TransactionType)
	if !ok {
		return model.Order{}, &RecordError{Field: "transactionType", Reason: fmt.Sprintf("unknown value %q", r.TransactionType)}
	}
	if r.Quantity == nil {
		return model.Order{}, missing("quantity")
	}
	if r.SecurityID == "" && r.TradingSymbol == "" {
		return model.Order{}, missing("securityId")
	}
	return model.Order{
		ID:          r.OrderID,
		Symbol:      r.TradingSymbol,
		SecurityID:  r.SecurityID,
		Segment:     model.Segment(r.ExchangeSegment),
		Side:        side,
		Type:        model.OrderType(r.OrderType),
		ProductType: r.ProductType,
		Quantity:    *r.Quantity,
		FilledQty:   r.FilledQty,
		Price:       dec(r.Price),
		AvgPrice:    dec(r.AverageTradedPrice),
		Status:      MapOrderStatus(r.OrderStatus),
		RawStatus:   r.OrderStatus,
		Timestamp:   parseBrokerTime(r.CreateTime),
	}, nil
}

// --- positions / holdings ---

type positionRecord struct {
	TradingSymbol    string           `json:"tradingSymbol"`
	SecurityID       string           `json:"securityId"`
	ExchangeSegment  string           `json:"exchangeSegment"`
	ProductType      string           `json:"productType"`
	NetQty           *int64           `json:"netQty"`
	BuyAvg           *decimal.Decimal `json:"buyAvg"`
	CostPrice        *decimal.Decimal `json:"costPrice"`
	RealizedProfit   *decimal.Decimal `json:"realizedProfit"`
	UnrealizedProfit *decimal.Decimal `json:"unrealizedProfit"`
}

func (r positionRecord) normalize() (model.Position, *RecordError) {
	if r.SecurityID == "" {
		return model.Position{}, missing("securityId")
	}
	if r.NetQty == nil {
		return model.Position{}, missing("netQty")
	}
	avg := r.CostPrice
	if avg == nil {
		avg = r.BuyAvg
	}
	if avg == nil {
		return model.Position{}, missing("costPrice")
	}
	return model.Position{
		Symbol:      r.TradingSymbol,
		SecurityID:  r.SecurityID,
		Segment:     model.Segment(r.ExchangeSegment),
		ProductType: r.ProductType,
		Quantity:    *r.NetQty,
		AvgPrice:    *avg,
		RealizedPnL: dec(r.RealizedProfit),
		PnL:         dec(r.UnrealizedProfit),
	}, nil
}

type holdingRecord struct {
	Exchange        string           `json:"exchange"`
	TradingSymbol   string           `json:"tradingSymbol"`
	SecurityID      string           `json:"securityId"`
	ISIN            string           `json:"isin"`
	TotalQty        *int64           `json:"totalQty"`
	AvailableQty    int64            `json:"availableQty"`
	AvgCostPrice    *decimal.Decimal `json:"avgCostPrice"`
	LastTradedPrice *decimal.Decimal `json:"lastTradedPrice"`
}

func (r holdingRecord) normalize() (model.Holding, *RecordError) {
	if r.SecurityID == "" {
		return model.Holding{}, missing("securityId")
	}
	if r.TotalQty == nil {
		return model.Holding{}, missing("totalQty")
	}
	if r.AvgCostPrice == nil {
		return model.Holding{}, missing("avgCostPrice")
	}
	h := model.Holding{
		Symbol:       r.TradingSymbol,
		SecurityID:   r.SecurityID,
		Exchange:     r.Exchange,
		ISIN:         r.ISIN,
		Quantity:     *r.TotalQty,
		AvailableQty: r.AvailableQty,
		AvgPrice:     *r.AvgCostPrice,
	}
	if r.LastTradedPrice != nil {
		h.Revalue(*r.LastTradedPrice)
	}
	return h, nil
}

// --- trades ---

type tradeRecord struct {
	OrderID         string           `json:"orderId"`
	ExchangeTradeID string           `json:"exchangeTradeId"`
	TransactionType string           `json:"transactionType"`
	TradingSymbol   string           `json:"tradingSymbol"`
	SecurityID      string           `json:"securityId"`
	TradedQuantity  *int64           `json:"tradedQuantity"`
	TradedPrice     *decimal.Decimal `json:"tradedPrice"`
	ExchangeTime    string           `json:"exchangeTime"`
}

func (r tradeRecord) normalize() (model.Trade, *RecordError) {
	if r.OrderID == "" {
		return model.Trade{}, missing("orderId")
	}
	if r.TradedQuantity == nil {
		return model.Trade{}, missing("tradedQuantity")
	}
	if r.TradedPrice == nil {
		return model.Trade{}, missing("tradedPrice")
	}
	side, ok := parseSide(r.TransactionType)
	if !ok {
		return model.Trade{}, &RecordError{Field: "transactionType", Reason: fmt.Sprintf("unknown value %q", r.TransactionType)}
	}
	return model.Trade{
		ID:         r.ExchangeTradeID,
		OrderID:    r.OrderID,
		Symbol:     r.TradingSymbol,
		SecurityID: r.SecurityID,
		Side:       side,
		Quantity:   *r.TradedQuantity,
		Price:      *r.TradedPrice,
		Time:       parseBrokerTime(r.ExchangeTime),
	}, nil
}

// --- funds ---

type fundLimitRecord struct {
	DhanClientID        string           `json:"dhanClientId"`
	AvailabelBalance    *decimal.Decimal `json:"availabelBalance"` // sic, broker spelling
	SodLimit            *decimal.Decimal `json:"sodLimit"`
	CollateralAmount    *decimal.Decimal `json:"collateralAmount"`
	UtilizedAmount      *decimal.Decimal `json:"utilizedAmount"`
	WithdrawableBalance *decimal.Decimal `json:"withdrawableBalance"`
}

func (r fundLimitRecord) normalize() (model.FundLimit, *RecordError) {
	if r.AvailabelBalance == nil {
		return model.FundLimit{}, missing("availabelBalance")
	}
	return model.FundLimit{
		ClientID:          r.DhanClientID,
		AvailableBalance:  *r.AvailabelBalance,
		SODLimit:          dec(r.SodLimit),
		CollateralAmount:  dec(r.CollateralAmount),
		UtilizedAmount:    dec(r.UtilizedAmount),
		WithdrawableFunds: dec(r.WithdrawableBalance),
	}, nil
}
