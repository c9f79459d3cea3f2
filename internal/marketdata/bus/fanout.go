// Package bus fans market data out from one producer to several sinks.
package bus

import (
	"context"
	"log"
	"sync"
)

// FanOut broadcasts values to N output channels. If an output channel is
// full the value is dropped for that consumer so a slow consumer cannot
// block the feed read loop.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs []chan T
	names   []string
	bufSize int
	closed  bool

	// OnDrop is called when a value is dropped for a subscriber.
	OnDrop func(subscriber string)
}

// New creates a FanOut with the given buffer size for output channels.
func New[T any](outputBufferSize int) *FanOut[T] {
	return &FanOut[T]{bufSize: outputBufferSize}
}

// Subscribe creates and returns a new named output channel.
func (f *FanOut[T]) Subscribe(name string) <-chan T {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.names = append(f.names, name)
	f.mu.Unlock()
	return ch
}

// Publish offers v to every subscriber without blocking. It is a no-op
// after Close.
func (f *FanOut[T]) Publish(v T) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for i, ch := range f.outputs {
		select {
		case ch <- v:
		default:
			if f.OnDrop != nil {
				f.OnDrop(f.names[i])
			} else {
				log.Printf("[bus] subscriber %s full, dropping value", f.names[i])
			}
		}
	}
}

// Run reads from input and publishes each value. Blocks until ctx is
// cancelled or input is closed, then closes all outputs.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	defer f.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-input:
			if !ok {
				return
			}
			f.Publish(v)
		}
	}
}

// Close closes every output channel. Safe to call more than once.
func (f *FanOut[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, ch := range f.outputs {
		close(ch)
	}
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats reports saturation per subscriber.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Name: f.names[i], Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
