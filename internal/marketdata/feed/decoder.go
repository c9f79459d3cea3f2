// Package feed speaks the broker's binary market feed: it decodes frames,
// owns the websocket connection lifecycle and dispatches ticks to
// per-instrument callbacks.
package feed

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

// Response codes carried in the first two bytes of every frame.
const (
	CodeTicker     uint16 = 2
	CodeQuote      uint16 = 4
	CodeFull       uint16 = 8
	CodeDisconnect uint16 = 50
)

// PriceScale converts wire prices to rupees. The value is unverified against
// the live feed; the observed client divides by 100.
const PriceScale = 100

const (
	headerLen = 8
	tickerLen = 20 // header + price(8) + trade time(4)
	quoteLen  = 52 // header + price(8) + volume(4) + OHLC(4x8)
)

// ErrMalformedFrame is returned when a frame is shorter than its code requires.
var ErrMalformedFrame = errors.New("malformed frame")

// FrameKind classifies a decoded frame.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameTick
	FrameDisconnect
)

func (k FrameKind) String() string {
	switch k {
	case FrameTick:
		return "tick"
	case FrameDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Frame is the result of decoding one binary message.
// Tick is set only for FrameTick.
type Frame struct {
	Code       uint16
	SecurityID uint32
	Kind       FrameKind
	Tick       *model.Tick
}

// Decode decodes b using the current time for quote frames.
func Decode(b []byte) (Frame, error) {
	return DecodeAt(b, time.Now())
}

// DecodeAt decodes b. now stamps quote and full frames, whose layout carries
// no trade time. Unknown response codes yield FrameUnknown and a nil error.
func DecodeAt(b []byte, now time.Time) (Frame, error) {
	if len(b) < headerLen {
		return Frame{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrMalformedFrame, headerLen, len(b))
	}
	f := Frame{
		Code:       binary.LittleEndian.Uint16(b[0:2]),
		SecurityID: binary.LittleEndian.Uint32(b[2:6]),
	}

	switch f.Code {
	case CodeTicker:
		if len(b) < tickerLen {
			return f, fmt.Errorf("%w: code %d needs %d bytes, got %d", ErrMalformedFrame, f.Code, tickerLen, len(b))
		}
		ltp := price(b, 8)
		tt := binary.LittleEndian.Uint32(b[16:20])
		f.Kind = FrameTick
		f.Tick = &model.Tick{
			SecurityID:    strconv.FormatUint(uint64(f.SecurityID), 10),
			LastPrice:     ltp,
			Open:          ltp,
			High:          ltp,
			Low:           ltp,
			Close:         ltp,
			LastTradeTime: time.Unix(int64(tt), 0).UTC(),
		}

	case CodeQuote, CodeFull:
		if len(b) < quoteLen {
			return f, fmt.Errorf("%w: code %d needs %d bytes, got %d", ErrMalformedFrame, f.Code, quoteLen, len(b))
		}
		t := model.Tick{
			SecurityID:    strconv.FormatUint(uint64(f.SecurityID), 10),
			LastPrice:     price(b, 8),
			Volume:        int64(binary.LittleEndian.Uint32(b[16:20])),
			Open:          price(b, 20),
			High:          price(b, 28),
			Low:           price(b, 36),
			Close:         price(b, 44),
			LastTradeTime: now.UTC(),
		}
		t.Change, t.ChangePercent = model.PriceChange(t.LastPrice, t.Close)
		f.Kind = FrameTick
		f.Tick = &t

	case CodeDisconnect:
		f.Kind = FrameDisconnect

	default:
		f.Kind = FrameUnknown
	}
	return f, nil
}

func price(b []byte, off int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[off:off+8])) / PriceScale
}
