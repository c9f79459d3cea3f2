package feed

import (
	"encoding/binary"
	"math"
	"time"
)

// Encoders produce the same layout Decode reads. Prices are given in rupees
// and scaled by PriceScale on the wire.

// EncodeTicker builds a code-2 frame.
func EncodeTicker(securityID uint32, ltp float64, tradeTime time.Time) []byte {
	b := make([]byte, tickerLen)
	putHeader(b, CodeTicker, securityID)
	putPrice(b, 8, ltp)
	binary.LittleEndian.PutUint32(b[16:20], uint32(tradeTime.Unix()))
	return b
}

// EncodeQuote builds a code-4 frame.
func EncodeQuote(securityID uint32, ltp float64, volume uint32, open, high, low, close float64) []byte {
	return encodeQuoteLayout(CodeQuote, securityID, ltp, volume, open, high, low, close)
}

// EncodeFull builds a code-8 frame. Depth is not encoded.
func EncodeFull(securityID uint32, ltp float64, volume uint32, open, high, low, close float64) []byte {
	return encodeQuoteLayout(CodeFull, securityID, ltp, volume, open, high, low, close)
}

// EncodeDisconnect builds a code-50 frame.
func EncodeDisconnect() []byte {
	b := make([]byte, headerLen)
	putHeader(b, CodeDisconnect, 0)
	return b
}

func encodeQuoteLayout(code uint16, securityID uint32, ltp float64, volume uint32, open, high, low, close float64) []byte {
	b := make([]byte, quoteLen)
	putHeader(b, code, securityID)
	putPrice(b, 8, ltp)
	binary.LittleEndian.PutUint32(b[16:20], volume)
	putPrice(b, 20, open)
	putPrice(b, 28, high)
	putPrice(b, 36, low)
	putPrice(b, 44, close)
	return b
}

func putHeader(b []byte, code uint16, securityID uint32) {
	binary.LittleEndian.PutUint16(b[0:2], code)
	binary.LittleEndian.PutUint32(b[2:6], securityID)
}

func putPrice(b []byte, off int, v float64) {
	binary.LittleEndian.PutUint64(b[off:off+8], math.Float64bits(v*PriceScale))
}
