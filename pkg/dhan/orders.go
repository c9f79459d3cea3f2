package dhan

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

type placeOrderPayload struct {
	DhanClientID      string          `json:"dhanClientId"`
	CorrelationID     string          `json:"correlationId"`
	TransactionType   string          `json:"transactionType"`
	ExchangeSegment   string          `json:"exchangeSegment"`
	ProductType       string          `json:"productType"`
	OrderType         string          `json:"orderType"`
	Validity          string          `json:"validity"`
	TradingSymbol     string          `json:"tradingSymbol,omitempty"`
	SecurityID        string          `json:"securityId"`
	Quantity          int64           `json:"quantity"`
	DisclosedQuantity int64           `json:"disclosedQuantity"`
	Price             decimal.Decimal `json:"price"`
	TriggerPrice      decimal.Decimal `json:"triggerPrice"`
	AfterMarketOrder  bool            `json:"afterMarketOrder"`
}

type modifyOrderPayload struct {
	DhanClientID      string          `json:"dhanClientId"`
	OrderID           string          `json:"orderId"`
	OrderType         string          `json:"orderType"`
	LegName           string          `json:"legName"`
	Quantity          int64           `json:"quantity"`
	Price             decimal.Decimal `json:"price"`
	DisclosedQuantity int64           `json:"disclosedQuantity"`
	TriggerPrice      decimal.Decimal `json:"triggerPrice"`
	Validity          string          `json:"validity"`
}

type orderAck struct {
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
}

// ValidateOrder checks an order request before it is sent.
func ValidateOrder(req model.OrderRequest) error {
	if req.SecurityID == "" {
		return fmt.Errorf("%w: security id required", ErrInvalidOrder)
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		return fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidOrder, req.Side)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, req.Quantity)
	}
	switch req.Type {
	case model.OrderMarket, model.OrderStopLossMarket:
	case model.OrderLimit, model.OrderStopLoss:
		if !req.Price.IsPositive() {
			return fmt.Errorf("%w: %s order needs a positive price", ErrInvalidOrder, req.Type)
		}
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, req.Type)
	}
	return nil
}

// PlaceOrder submits a new order. Broker rejections come back as *APIError.
func (c *Client) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	token, clientID := c.credentials()
	if token == "" || clientID == "" {
		return model.Order{}, ErrCredentialsMissing
	}
	if err := ValidateOrder(req); err != nil {
		return model.Order{}, err
	}
	segment := req.Segment
	if segment == "" {
		segment = model.SegmentNSEEquity
	}
	product := req.ProductType
	if product == "" {
		product = "CNC"
	}
	validity := req.Validity
	if validity == "" {
		validity = "DAY"
	}

	payload := placeOrderPayload{
		DhanClientID:    clientID,
		CorrelationID:   c.newCorrelationID(),
		TransactionType: string(req.Side),
		ExchangeSegment: string(segment),
		ProductType:     product,
		OrderType:       string(req.Type),
		Validity:        validity,
		TradingSymbol:   req.Symbol,
		SecurityID:      req.SecurityID,
		Quantity:        req.Quantity,
		Price:           req.Price,
		TriggerPrice:    req.TriggerPrice,
	}

	var ack orderAck
	if err := c.do(ctx, http.MethodPost, "/orders", payload, &ack); err != nil {
		return model.Order{}, err
	}
	if ack.OrderID == "" {
		return model.Order{}, fmt.Errorf("dhan: place order: response without orderId")
	}
	c.log.Info("order placed", "order_id", ack.OrderID, "status", ack.OrderStatus,
		"correlation_id", payload.CorrelationID)

	return model.Order{
		ID:          ack.OrderID,
		Symbol:      req.Symbol,
		SecurityID:  req.SecurityID,
		Segment:     segment,
		Side:        req.Side,
		Type:        req.Type,
		ProductType: product,
		Quantity:    req.Quantity,
		Price:       req.Price,
		Status:      MapOrderStatus(ack.OrderStatus),
		RawStatus:   ack.OrderStatus,
		Timestamp:   c.now(),
	}, nil
}

// ModifyOrder changes a pending order and returns its new status.
func (c *Client) ModifyOrder(ctx context.Context, orderID string, mod model.OrderModification) (model.OrderStatus, error) {
	token, clientID := c.credentials()
	if token == "" || clientID == "" {
		return "", ErrCredentialsMissing
	}
	if orderID == "" {
		return "", fmt.Errorf("%w: order id required", ErrInvalidOrder)
	}
	if mod.Quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, mod.Quantity)
	}
	orderType := mod.Type
	if orderType == "" {
		orderType = model.OrderLimit
	}
	validity := mod.Validity
	if validity == "" {
		validity = "DAY"
	}
	payload := modifyOrderPayload{
		DhanClientID: clientID,
		OrderID:      orderID,
		OrderType:    string(orderType),
		LegName:      "ENTRY_LEG",
		Quantity:     mod.Quantity,
		Price:        mod.Price,
		TriggerPrice: mod.TriggerPrice,
		Validity:     validity,
	}
	var ack orderAck
	if err := c.do(ctx, http.MethodPut, "/orders/"+url.PathEscape(orderID), payload, &ack); err != nil {
		return "", err
	}
	return MapOrderStatus(ack.OrderStatus), nil
}

// CancelOrder cancels a pending order and returns its new status.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (model.OrderStatus, error) {
	token, clientID := c.credentials()
	if token == "" || clientID == "" {
		return "", ErrCredentialsMissing
	}
	if orderID == "" {
		return "", fmt.Errorf("%w: order id required", ErrInvalidOrder)
	}
	var ack orderAck
	if err := c.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(orderID), nil, &ack); err != nil {
		return "", err
	}
	if ack.OrderStatus == "" {
		return model.StatusCancelled, nil
	}
	return MapOrderStatus(ack.OrderStatus), nil
}

// GetOrders returns today's order book.
func (c *Client) GetOrders(ctx context.Context) (ParseResult[model.Order], error) {
	var records []orderRecord
	if err := c.do(ctx, http.MethodGet, "/orders", nil, &records); err != nil {
		return ParseResult[model.Order]{}, err
	}
	res := parseAll(records, orderRecord.normalize)
	c.logRecordErrors("/orders", res.Errors)
	return res, nil
}

// GetTrades returns today's executions.
func (c *Client) GetTrades(ctx context.Context) (ParseResult[model.Trade], error) {
	var records []tradeRecord
	if err := c.do(ctx, http.MethodGet, "/trades", nil, &records); err != nil {
		return ParseResult[model.Trade]{}, err
	}
	res := parseAll(records, tradeRecord.normalize)
	c.logRecordErrors("/trades", res.Errors)
	return res, nil
}

func (c *Client) logRecordErrors(path string, errs []RecordError) {
	for _, e := range errs {
		c.log.Warn("record skipped", "path", path, "index", e.Index, "field", e.Field, "reason", e.Reason)
	}
}
