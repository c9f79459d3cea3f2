package model

import (
	"encoding/json"
	"time"
)

// Provenance tells the UI whether a quote is current or a stand-in.
type Provenance string

const (
	ProvenanceLive     Provenance = "live"
	ProvenanceFallback Provenance = "fallback"
)

// Source records which tier produced a quote.
type Source string

const (
	SourceFeed      Source = "feed"      // pushed over the binary feed
	SourceREST      Source = "rest"      // pulled from the market-feed REST endpoint
	SourceReference Source = "reference" // last recorded close
	SourceDefault   Source = "default"   // static table
)

// Quote is one entry of a market snapshot.
type Quote struct {
	SecurityID    string     `json:"security_id"`
	Segment       Segment    `json:"exchange_segment"`
	Symbol        string     `json:"symbol,omitempty"`
	Name          string     `json:"name,omitempty"`
	Price         float64    `json:"price"`
	Change        float64    `json:"change"`
	ChangePercent float64    `json:"change_percent"`
	Volume        int64      `json:"volume"`
	Open          float64    `json:"open"`
	High          float64    `json:"high"`
	Low           float64    `json:"low"`
	Close         float64    `json:"close"`
	Provenance    Provenance `json:"provenance"`
	Source        Source     `json:"source"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// QuoteFromTick builds a live feed quote for inst from t.
func QuoteFromTick(inst Instrument, t Tick, receivedAt time.Time) Quote {
	return Quote{
		SecurityID:    t.SecurityID,
		Segment:       inst.Segment,
		Symbol:        inst.Symbol,
		Name:          inst.Name,
		Price:         t.LastPrice,
		Change:        t.Change,
		ChangePercent: t.ChangePercent,
		Volume:        t.Volume,
		Open:          t.Open,
		High:          t.High,
		Low:           t.Low,
		Close:         t.Close,
		Provenance:    ProvenanceLive,
		Source:        SourceFeed,
		UpdatedAt:     receivedAt,
	}
}

// Key returns "segment:security_id".
func (q *Quote) Key() string {
	return string(q.Segment) + ":" + q.SecurityID
}

// Live reports whether the quote came from the feed or REST tier.
func (q *Quote) Live() bool { return q.Provenance == ProvenanceLive }

// JSON returns the JSON-encoded quote (ignoring errors for hot-path usage).
func (q *Quote) JSON() []byte {
	b, _ := json.Marshal(q)
	return b
}
