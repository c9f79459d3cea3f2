package gateway

import "sync"

// ReplayBuffer keeps the most recent envelopes of one channel so a client
// that noticed a channel_seq gap can fetch what it missed.
type ReplayBuffer struct {
	mu    sync.RWMutex
	limit int
	items []replayEntry // ascending seq
}

type replayEntry struct {
	Seq  int64
	Data []byte
}

// NewReplayBuffer creates a buffer holding up to limit envelopes.
func NewReplayBuffer(limit int) *ReplayBuffer {
	if limit <= 0 {
		limit = 256
	}
	return &ReplayBuffer{limit: limit, items: make([]replayEntry, 0, limit)}
}

// Push stores a copy of data under seq, evicting the oldest entry when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := append([]byte(nil), data...)
	rb.mu.Lock()
	if len(rb.items) == rb.limit {
		copy(rb.items, rb.items[1:])
		rb.items = rb.items[:rb.limit-1]
	}
	rb.items = append(rb.items, replayEntry{Seq: seq, Data: cp})
	rb.mu.Unlock()
}

// Range returns envelopes with from <= seq <= to, oldest first.
func (rb *ReplayBuffer) Range(from, to int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	var out [][]byte
	for _, e := range rb.items {
		if e.Seq >= from && e.Seq <= to {
			out = append(out, e.Data)
		}
	}
	return out
}

// Len returns the number of buffered envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.items)
}
