package aggregator

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

// DefaultQuote is one row of the static defaults table.
type DefaultQuote struct {
	Segment       model.Segment `yaml:"segment"`
	SecurityID    string        `yaml:"security_id"`
	Symbol        string        `yaml:"symbol"`
	Name          string        `yaml:"name"`
	Price         float64       `yaml:"price"`
	Change        float64       `yaml:"change"`
	ChangePercent float64       `yaml:"change_percent"`
}

// StaticDefaults serves fixed quotes for well-known instruments.
type StaticDefaults struct {
	byKey map[string]DefaultQuote
}

var builtinDefaults = []DefaultQuote{
	{model.SegmentNSEEquity, "2885", "RELIANCE", "Reliance Industries Ltd", 2456.75, 23.45, 0.96},
	{model.SegmentNSEEquity, "11536", "TCS", "Tata Consultancy Services", 3789.20, -45.60, -1.19},
	{model.SegmentNSEEquity, "1594", "INFY", "Infosys Limited", 1456.85, 15.30, 1.06},
	{model.SegmentNSEEquity, "1333", "HDFCBANK", "HDFC Bank Limited", 1678.45, -12.85, -0.76},
	{model.SegmentNSEEquity, "4963", "ICICIBANK", "ICICI Bank Limited", 945.30, 8.75, 0.94},
	{model.SegmentNSEEquity, "3045", "SBIN", "State Bank of India", 567.80, -3.20, -0.56},
	{model.SegmentNSEEquity, "10604", "BHARTIARTL", "Bharti Airtel Limited", 789.60, 12.40, 1.60},
	{model.SegmentNSEEquity, "1660", "ITC", "ITC Limited", 234.50, 2.30, 0.99},
	{model.SegmentNSEEquity, "11483", "LT", "Larsen & Toubro Limited", 2345.80, -18.90, -0.80},
}

// BuiltinDefaults returns the compiled-in defaults table.
func BuiltinDefaults() *StaticDefaults {
	return newStaticDefaults(builtinDefaults)
}

// LoadDefaultsYAML reads a defaults table from path.
func LoadDefaultsYAML(path string) (*StaticDefaults, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read defaults: %w", err)
	}
	return ParseDefaultsYAML(b)
}

// ParseDefaultsYAML parses
//
//	quotes:
//	  - segment: NSE_EQ
//	    security_id: "2885"
//	    symbol: RELIANCE
//	    price: 2456.75
func ParseDefaultsYAML(b []byte) (*StaticDefaults, error) {
	var doc struct {
		Quotes []DefaultQuote `yaml:"quotes"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse defaults: %w", err)
	}
	for i, q := range doc.Quotes {
		if q.SecurityID == "" {
			return nil, fmt.Errorf("parse defaults: entry %d has no security_id", i)
		}
		if q.Segment == "" {
			doc.Quotes[i].Segment = model.SegmentNSEEquity
		} else if !q.Segment.Valid() {
			return nil, fmt.Errorf("parse defaults: entry %d has unknown segment %q", i, q.Segment)
		}
	}
	return newStaticDefaults(doc.Quotes), nil
}

func newStaticDefaults(rows []DefaultQuote) *StaticDefaults {
	s := &StaticDefaults{byKey: make(map[string]DefaultQuote, len(rows))}
	for _, r := range rows {
		s.byKey[string(r.Segment)+":"+r.SecurityID] = r
	}
	return s
}

// Len returns the number of entries.
func (s *StaticDefaults) Len() int { return len(s.byKey) }

// SeedPrices returns the last price per security id.
func (s *StaticDefaults) SeedPrices() map[string]float64 {
	out := make(map[string]float64, len(s.byKey))
	for _, d := range s.byKey {
		out[d.SecurityID] = d.Price
	}
	return out
}

// Fallback implements FallbackSource.
func (s *StaticDefaults) Fallback(_ context.Context, instruments []model.Instrument) map[string]model.Quote {
	out := make(map[string]model.Quote)
	for _, inst := range instruments {
		d, ok := s.byKey[inst.Key()]
		if !ok {
			continue
		}
		out[inst.Key()] = model.Quote{
			SecurityID:    inst.SecurityID,
			Segment:       inst.Segment,
			Symbol:        firstNonEmpty(inst.Symbol, d.Symbol),
			Name:          firstNonEmpty(inst.Name, d.Name),
			Price:         d.Price,
			Change:        d.Change,
			ChangePercent: d.ChangePercent,
			Close:         d.Price - d.Change,
			Provenance:    model.ProvenanceFallback,
			Source:        model.SourceDefault,
		}
	}
	return out
}

// FallbackChain asks each source in turn for the instruments the earlier
// ones could not answer.
type FallbackChain []FallbackSource

// Fallback implements FallbackSource.
func (c FallbackChain) Fallback(ctx context.Context, instruments []model.Instrument) map[string]model.Quote {
	out := make(map[string]model.Quote, len(instruments))
	pending := instruments
	for _, src := range c {
		if len(pending) == 0 {
			break
		}
		if src == nil {
			continue
		}
		for k, q := range src.Fallback(ctx, pending) {
			out[k] = q
		}
		next := pending[:0:0]
		for _, inst := range pending {
			if _, ok := out[inst.Key()]; !ok {
				next = append(next, inst)
			}
		}
		pending = next
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
