package model

import "time"

// Tick is a single decoded market update for one instrument.
// Prices are in rupees; the feed's sub-unit scaling is removed by the decoder.
type Tick struct {
	SecurityID    string    `json:"security_id"`
	LastPrice     float64   `json:"ltp"`
	Volume        int64     `json:"volume"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	LastTradeTime time.Time `json:"last_trade_time"`
}

// PriceChange returns ltp-close and the same move as a percentage of close.
// The percentage is 0 when close is zero.
func PriceChange(ltp, close float64) (change, percent float64) {
	change = ltp - close
	if close != 0 {
		percent = change / close * 100
	}
	return change, percent
}
