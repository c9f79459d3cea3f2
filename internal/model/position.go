package model

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Position represents an open (or closed intraday) broker position.
type Position struct {
	Symbol       string          `json:"symbol"`
	SecurityID   string          `json:"security_id"`
	Segment      Segment         `json:"exchange_segment"`
	ProductType  string          `json:"product_type"`
	Quantity     int64           `json:"quantity"` // positive = long, negative = short
	AvgPrice     decimal.Decimal `json:"avg_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	PnL          decimal.Decimal `json:"pnl"`
	PnLPercent   float64         `json:"pnl_percent"`
}

// Key returns "segment:security_id".
func (p *Position) Key() string {
	return string(p.Segment) + ":" + p.SecurityID
}

// Revalue marks the position to ltp and recomputes unrealized PnL.
func (p *Position) Revalue(ltp decimal.Decimal) {
	p.CurrentPrice = ltp
	p.PnL, p.PnLPercent = unrealized(p.AvgPrice, ltp, p.Quantity)
}

// Holding is a delivery holding in the demat account.
type Holding struct {
	Symbol       string          `json:"symbol"`
	SecurityID   string          `json:"security_id"`
	Exchange     string          `json:"exchange"`
	ISIN         string          `json:"isin"`
	Quantity     int64           `json:"quantity"`
	AvailableQty int64           `json:"available_qty"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	PnL          decimal.Decimal `json:"pnl"`
	PnLPercent   float64         `json:"pnl_percent"`
}

// Revalue marks the holding to ltp.
func (h *Holding) Revalue(ltp decimal.Decimal) {
	h.CurrentPrice = ltp
	h.PnL, h.PnLPercent = unrealized(h.AvgPrice, ltp, h.Quantity)
}

// FundLimit is the account's trading balance summary.
type FundLimit struct {
	ClientID          string          `json:"client_id"`
	AvailableBalance  decimal.Decimal `json:"available_balance"`
	SODLimit          decimal.Decimal `json:"sod_limit"`
	CollateralAmount  decimal.Decimal `json:"collateral_amount"`
	UtilizedAmount    decimal.Decimal `json:"utilized_amount"`
	WithdrawableFunds decimal.Decimal `json:"withdrawable_balance"`
}

func unrealized(avg, ltp decimal.Decimal, qty int64) (decimal.Decimal, float64) {
	pnl := ltp.Sub(avg).Mul(decimal.NewFromInt(qty))
	if !avg.IsPositive() || qty == 0 {
		return pnl, 0
	}
	cost := avg.Mul(decimal.NewFromInt(qty).Abs())
	pct, _ := pnl.Div(cost).Mul(hundred).Round(2).Float64()
	return pnl, pct
}
