// Package breaker guards calls to flaky dependencies (broker REST, redis).
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // requests pass through
	StateOpen     State = 1 // requests rejected immediately
	StateHalfOpen State = 2 // one probe in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker opens after MaxFailures consecutive failures and rejects calls for
// ResetTimeout. It then lets a single probe through: success closes it,
// failure reopens it.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool

	// IsFailure decides which errors count toward tripping. Nil counts all.
	IsFailure func(error) bool
	// OnStateChange is called on transitions, outside the breaker lock.
	OnStateChange func(name string, from, to State)

	now func() time.Time
}

// New creates a breaker. name labels logs and metrics.
func New(name string, maxFailures int, resetTimeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

// Name returns the breaker label.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn through the breaker.
// Returns an error wrapping ErrCircuitOpen when the call is rejected.
func (b *Breaker) Execute(fn func() error) error {
	var notify []func()

	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.resetTimeout {
			b.mu.Unlock()
			return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
		}
		notify = append(notify, b.transition(StateHalfOpen))
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
		}
		b.probing = true
	}
	probe := b.probing
	b.mu.Unlock()
	runAll(notify)
	notify = notify[:0]

	err := fn()

	b.mu.Lock()
	if probe {
		b.probing = false
	}
	if err != nil && b.counts(err) {
		b.failures++
		b.lastFailure = b.now()
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			if b.state != StateOpen {
				notify = append(notify, b.transition(StateOpen))
			}
		}
	} else {
		if b.state == StateHalfOpen {
			notify = append(notify, b.transition(StateClosed))
		}
		b.failures = 0
	}
	b.mu.Unlock()
	runAll(notify)
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	var fn func()
	if b.state != StateClosed {
		fn = b.transition(StateClosed)
	}
	b.failures = 0
	b.probing = false
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (b *Breaker) counts(err error) bool {
	if b.IsFailure == nil {
		return true
	}
	return b.IsFailure(err)
}

// transition must be called with mu held; the returned func fires the hook.
func (b *Breaker) transition(to State) func() {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	cb := b.OnStateChange
	name := b.name
	return func() {
		if cb != nil {
			cb(name, from, to)
		}
	}
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
