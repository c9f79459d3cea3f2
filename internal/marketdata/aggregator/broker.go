package aggregator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/RakeshDevCode/Algotradepro/internal/model"
	"github.com/RakeshDevCode/Algotradepro/internal/notification"
	"github.com/RakeshDevCode/Algotradepro/pkg/dhan"
)

// ErrNoBroker is returned by pass-through calls when no broker is wired.
var ErrNoBroker = errors.New("broker not configured")

// PlaceOrder forwards to the broker. Failures are returned unchanged and
// raise an alert.
func (a *Aggregator) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	if a.deps.Broker == nil {
		return model.Order{}, ErrNoBroker
	}
	o, err := a.deps.Broker.PlaceOrder(ctx, req)
	if err != nil {
		a.log.Error("order placement failed", "symbol", req.Symbol, "side", req.Side, "error", err)
		a.notify(notification.Alert{
			Level:   notification.AlertWarning,
			Title:   "Order rejected",
			Message: fmt.Sprintf("%s %d %s: %v", req.Side, req.Quantity, req.Symbol, err),
		})
		return model.Order{}, err
	}
	a.log.Info("order placed", "order_id", o.ID, "symbol", req.Symbol, "side", req.Side)
	return o, nil
}

// ModifyOrder forwards to the broker.
func (a *Aggregator) ModifyOrder(ctx context.Context, orderID string, mod model.OrderModification) (model.OrderStatus, error) {
	if a.deps.Broker == nil {
		return "", ErrNoBroker
	}
	return a.deps.Broker.ModifyOrder(ctx, orderID, mod)
}

// CancelOrder forwards to the broker.
func (a *Aggregator) CancelOrder(ctx context.Context, orderID string) (model.OrderStatus, error) {
	if a.deps.Broker == nil {
		return "", ErrNoBroker
	}
	return a.deps.Broker.CancelOrder(ctx, orderID)
}

// GetOrders forwards to the broker.
func (a *Aggregator) GetOrders(ctx context.Context) (dhan.ParseResult[model.Order], error) {
	if a.deps.Broker == nil {
		return dhan.ParseResult[model.Order]{}, ErrNoBroker
	}
	return a.deps.Broker.GetOrders(ctx)
}

// GetTrades forwards to the broker.
func (a *Aggregator) GetTrades(ctx context.Context) (dhan.ParseResult[model.Trade], error) {
	if a.deps.Broker == nil {
		return dhan.ParseResult[model.Trade]{}, ErrNoBroker
	}
	return a.deps.Broker.GetTrades(ctx)
}

// GetFundLimit forwards to the broker.
func (a *Aggregator) GetFundLimit(ctx context.Context) (model.FundLimit, error) {
	if a.deps.Broker == nil {
		return model.FundLimit{}, ErrNoBroker
	}
	return a.deps.Broker.GetFundLimit(ctx)
}

// GetPositions returns broker positions marked to live quotes where the
// feed or REST tier has one.
func (a *Aggregator) GetPositions(ctx context.Context) (dhan.ParseResult[model.Position], error) {
	if a.deps.Broker == nil {
		return dhan.ParseResult[model.Position]{}, ErrNoBroker
	}
	res, err := a.deps.Broker.GetPositions(ctx)
	if err != nil {
		return res, err
	}
	for i := range res.Items {
		p := &res.Items[i]
		if q, ok := a.liveQuote(p.Segment, p.SecurityID); ok {
			p.Revalue(decimal.NewFromFloat(q.Price))
		}
	}
	return res, nil
}

// GetHoldings returns holdings marked to live quotes where available.
func (a *Aggregator) GetHoldings(ctx context.Context) (dhan.ParseResult[model.Holding], error) {
	if a.deps.Broker == nil {
		return dhan.ParseResult[model.Holding]{}, ErrNoBroker
	}
	res, err := a.deps.Broker.GetHoldings(ctx)
	if err != nil {
		return res, err
	}
	for i := range res.Items {
		h := &res.Items[i]
		if q, ok := a.liveQuote(model.SegmentNSEEquity, h.SecurityID); ok {
			h.Revalue(decimal.NewFromFloat(q.Price))
		}
	}
	return res, nil
}
