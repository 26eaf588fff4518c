// Package circuit provides a small circuit breaker used to skip external
// providers that keep failing.
package circuit

import (
	"sync"
	"time"

	"gatekeeper/pkg/platform/clock"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is healthy and requests flow normally.
	StateClosed State = iota
	// StateOpen means the circuit has tripped and callers should skip the dependency.
	StateOpen
	// StateHalfOpen means the cooldown elapsed and a single trial call is allowed.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker opens after FailureThreshold consecutive failures and stays open for
// the cooldown. After the cooldown one trial call is allowed; its success closes
// the circuit, its failure re-opens it for another cooldown.
type Breaker struct {
	mu               sync.Mutex
	state            State
	name             string
	failureCount     int
	failureThreshold int
	cooldown         time.Duration
	openedAt         time.Time
	clock            clock.Clock
}

// Option configures a Breaker instance.
type Option func(*Breaker)

// WithFailureThreshold sets the number of consecutive failures to open the circuit.
// Default is 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithCooldown sets how long the circuit stays open before a trial call. Default is 30s.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock injects the time source.
func WithClock(c clock.Clock) Option {
	return func(b *Breaker) {
		if c != nil {
			b.clock = c
		}
	}
}

// New creates a circuit breaker with the given name and options.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: 5,
		cooldown:         30 * time.Second,
		clock:            clock.Real(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Name returns the circuit breaker's name for logging/metrics.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. An open circuit whose cooldown has
// elapsed moves to half-open and admits exactly one trial call.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			return true
		}
		return false
	default:
		// a trial call is already in flight
		return false
	}
}

// RecordFailure records a failed call and reports whether the circuit just opened.
func (b *Breaker) RecordFailure() (opened bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	if b.state == StateHalfOpen || (b.state == StateClosed && b.failureCount >= b.failureThreshold) {
		b.state = StateOpen
		b.openedAt = b.clock.Now()
		return true
	}
	return false
}

// RecordSuccess records a successful call and reports whether the circuit just closed.
func (b *Breaker) RecordSuccess() (closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasOpen := b.state != StateClosed
	b.state = StateClosed
	b.failureCount = 0
	return wasOpen
}

// Reset resets the circuit breaker to closed state with zero counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
}
