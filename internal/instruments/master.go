// Package instruments loads the broker's scrip master and maps trading
// symbols to security ids.
package instruments

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

// PopularSymbols are the large caps offered before the user searches.
var PopularSymbols = []string{
	"RELIANCE", "TCS", "HDFCBANK", "INFY", "ICICIBANK",
	"BHARTIARTL", "ITC", "SBIN", "LT", "KOTAKBANK",
	"AXISBANK", "ASIANPAINT", "MARUTI", "SUNPHARMA", "TITAN",
	"ULTRACEMCO", "NESTLEIND", "WIPRO", "POWERGRID", "NTPC",
}

// scripRow is one line of the scrip-master CSV.
type scripRow struct {
	SecurityID     string `csv:"SEM_SMST_SECURITY_ID"`
	TradingSymbol  string `csv:"SEM_TRADING_SYMBOL"`
	CustomSymbol   string `csv:"SEM_CUSTOM_SYMBOL"`
	Exchange       string `csv:"SEM_EXM_EXCH_ID"`
	Segment        string `csv:"SEM_SEGMENT"`
	InstrumentName string `csv:"SEM_INSTRUMENT_NAME"`
	Series         string `csv:"SEM_SERIES"`
	LotUnits       string `csv:"SEM_LOT_UNITS"`
	TickSize       string `csv:"SEM_TICK_SIZE"`
}

// Security is a scrip-master entry.
type Security struct {
	model.Instrument
	InstrumentType string  `json:"instrument_type"`
	Series         string  `json:"series"`
	TickSize       float64 `json:"tick_size"`
}

// Master is an immutable in-memory scrip master.
type Master struct {
	all      []Security
	byID     map[string]Security
	bySymbol map[string]Security
}

// LoadFile reads a scrip-master CSV from path.
func LoadFile(path string) (*Master, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("instruments: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a scrip-master CSV. Rows without a security id or trading
// symbol are skipped.
func Load(r io.Reader) (*Master, error) {
	var rows []*scripRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("instruments: parse csv: %w", err)
	}

	m := &Master{
		byID:     make(map[string]Security, len(rows)),
		bySymbol: make(map[string]Security, len(rows)),
	}
	skipped := 0
	for _, row := range rows {
		id := strings.TrimSpace(row.SecurityID)
		sym := strings.TrimSpace(row.TradingSymbol)
		if id == "" || sym == "" {
			skipped++
			continue
		}
		custom := strings.TrimSpace(row.CustomSymbol)
		if custom == "" {
			custom = sym
		}
		sec := Security{
			Instrument: model.Instrument{
				Segment:    segmentFor(row.Exchange, row.Segment),
				SecurityID: id,
				Symbol:     sym,
				Name:       custom,
				LotSize:    int(parseFloat(row.LotUnits)),
			},
			InstrumentType: strings.TrimSpace(row.InstrumentName),
			Series:         strings.TrimSpace(row.Series),
			TickSize:       parseFloat(row.TickSize),
		}
		m.all = append(m.all, sec)
		m.byID[id] = sec
		upper := strings.ToUpper(sym)
		if _, dup := m.bySymbol[upper]; !dup || sec.Segment == model.SegmentNSEEquity {
			m.bySymbol[upper] = sec
		}
	}
	log.Printf("[instruments] loaded %d securities (%d rows skipped)", len(m.all), skipped)
	return m, nil
}

// segmentFor maps the master's exchange and segment letters to a feed segment.
func segmentFor(exchange, segment string) model.Segment {
	ex := strings.ToUpper(strings.TrimSpace(exchange))
	seg := strings.ToUpper(strings.TrimSpace(segment))
	if seg == "I" {
		return model.SegmentIndex
	}
	switch ex + "/" + seg {
	case "NSE/D":
		return model.SegmentNSEFNO
	case "NSE/C":
		return model.SegmentNSECurrency
	case "BSE/E":
		return model.SegmentBSEEquity
	case "BSE/D":
		return model.SegmentBSEFNO
	case "BSE/C":
		return model.SegmentBSECurrency
	case "MCX/M":
		return model.SegmentMCX
	default:
		return model.SegmentNSEEquity
	}
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// Len returns the number of loaded securities.
func (m *Master) Len() int { return len(m.all) }

// BySecurityID looks up a security by id.
func (m *Master) BySecurityID(id string) (Security, bool) {
	s, ok := m.byID[id]
	return s, ok
}

// BySymbol looks up a security by trading symbol, case-insensitively.
// NSE equity wins when a symbol is listed in several segments.
func (m *Master) BySymbol(symbol string) (Security, bool) {
	s, ok := m.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return s, ok
}

// Search matches query against trading and custom symbols, case-insensitively.
// Exact symbol matches rank first, then prefix matches, then alphabetical.
func (m *Master) Search(query string, limit int) []Security {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}
	var hits []Security
	for _, s := range m.all {
		if strings.Contains(strings.ToLower(s.Symbol), q) || strings.Contains(strings.ToLower(s.Name), q) {
			hits = append(hits, s)
		}
	}
	rank := func(s Security) int {
		sym := strings.ToLower(s.Symbol)
		switch {
		case sym == q:
			return 0
		case strings.HasPrefix(sym, q):
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		ri, rj := rank(hits[i]), rank(hits[j])
		if ri != rj {
			return ri < rj
		}
		return hits[i].Symbol < hits[j].Symbol
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Popular returns the PopularSymbols present in the master, in list order.
func (m *Master) Popular() []Security {
	out := make([]Security, 0, len(PopularSymbols))
	for _, sym := range PopularSymbols {
		if s, ok := m.BySymbol(sym); ok {
			out = append(out, s)
		}
	}
	return out
}

// Resolve fills Symbol and Name of inst from the master when known.
func (m *Master) Resolve(inst model.Instrument) model.Instrument {
	if m == nil {
		return inst
	}
	if s, ok := m.byID[inst.SecurityID]; ok {
		if inst.Symbol == "" {
			inst.Symbol = s.Symbol
		}
		if inst.Name == "" {
			inst.Name = s.Name
		}
	}
	return inst
}
