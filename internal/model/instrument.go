package model

import (
	"fmt"
	"strings"
)

// Segment is a Dhan exchange segment identifier.
type Segment string

const (
	SegmentIndex       Segment = "IDX_I"
	SegmentNSEEquity   Segment = "NSE_EQ"
	SegmentNSEFNO      Segment = "NSE_FNO"
	SegmentNSECurrency Segment = "NSE_CURRENCY"
	SegmentBSEEquity   Segment = "BSE_EQ"
	SegmentBSEFNO      Segment = "BSE_FNO"
	SegmentBSECurrency Segment = "BSE_CURRENCY"
	SegmentMCX         Segment = "MCX_COMM"
)

var knownSegments = map[Segment]bool{
	SegmentIndex:       true,
	SegmentNSEEquity:   true,
	SegmentNSEFNO:      true,
	SegmentNSECurrency: true,
	SegmentBSEEquity:   true,
	SegmentBSEFNO:      true,
	SegmentBSECurrency: true,
	SegmentMCX:         true,
}

// Valid reports whether s is one of the segments the broker accepts.
func (s Segment) Valid() bool { return knownSegments[s] }

// Instrument is a tradeable security: exchange segment + security id.
// Symbol and Name are optional display fields.
type Instrument struct {
	Segment    Segment `json:"exchange_segment" yaml:"segment"`
	SecurityID string  `json:"security_id" yaml:"security_id"`
	Symbol     string  `json:"symbol,omitempty" yaml:"symbol"`
	Name       string  `json:"name,omitempty" yaml:"name"`
	LotSize    int     `json:"lot_size,omitempty" yaml:"lot_size"`
}

// Key returns "segment:security_id".
func (i Instrument) Key() string {
	return string(i.Segment) + ":" + i.SecurityID
}

// ParseInstrument parses "NSE_EQ:2885". A bare id defaults to NSE_EQ.
func ParseInstrument(s string) (Instrument, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Instrument{}, fmt.Errorf("empty instrument")
	}
	seg, id, found := strings.Cut(s, ":")
	if !found {
		return Instrument{Segment: SegmentNSEEquity, SecurityID: s}, nil
	}
	segment := Segment(strings.ToUpper(strings.TrimSpace(seg)))
	if !segment.Valid() {
		return Instrument{}, fmt.Errorf("unknown exchange segment %q", seg)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Instrument{}, fmt.Errorf("missing security id in %q", s)
	}
	return Instrument{Segment: segment, SecurityID: id}, nil
}

// ParseInstrumentList parses a comma-separated list of instruments.
// Invalid entries are reported together; valid ones are still returned.
func ParseInstrumentList(s string) ([]Instrument, error) {
	var (
		out  []Instrument
		errs []string
	)
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		inst, err := ParseInstrument(part)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		out = append(out, inst)
	}
	if len(errs) > 0 {
		return out, fmt.Errorf("instrument list: %s", strings.Join(errs, "; "))
	}
	return out, nil
}
