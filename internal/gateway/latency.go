package gateway

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a sliding window of quote-to-broadcast delays and
// reports percentiles. Thread-safe.
type LatencyTracker struct {
	mu     sync.Mutex
	window []float64 // ms, ring
	next   int
	filled bool
}

// NewLatencyTracker creates a tracker over the last size samples.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 4096
	}
	return &LatencyTracker{window: make([]float64, size)}
}

// Observe records the delay between a quote's timestamp and now.
// Quotes without a timestamp or from the future are ignored.
func (lt *LatencyTracker) Observe(stamped, now time.Time) {
	if stamped.IsZero() || now.Before(stamped) {
		return
	}
	lt.Record(float64(now.Sub(stamped).Microseconds()) / 1000.0)
}

// Record adds a sample in milliseconds.
func (lt *LatencyTracker) Record(ms float64) {
	lt.mu.Lock()
	lt.window[lt.next] = ms
	lt.next++
	if lt.next == len(lt.window) {
		lt.next = 0
		lt.filled = true
	}
	lt.mu.Unlock()
}

// Count returns the number of samples in the window.
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.filled {
		return len(lt.window)
	}
	return lt.next
}

// LatencySummary is the p50/p95/p99 view of the window.
type LatencySummary struct {
	P50     float64 `json:"p50_ms"`
	P95     float64 `json:"p95_ms"`
	P99     float64 `json:"p99_ms"`
	Samples int     `json:"samples"`
}

// Summary computes percentiles by linear interpolation.
func (lt *LatencyTracker) Summary() LatencySummary {
	lt.mu.Lock()
	n := lt.next
	if lt.filled {
		n = len(lt.window)
	}
	sorted := append([]float64(nil), lt.window[:n]...)
	lt.mu.Unlock()

	if n == 0 {
		return LatencySummary{}
	}
	sort.Float64s(sorted)
	return LatencySummary{
		P50:     quantile(sorted, 0.50),
		P95:     quantile(sorted, 0.95),
		P99:     quantile(sorted, 0.99),
		Samples: n,
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}
