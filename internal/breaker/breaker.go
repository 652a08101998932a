// Package breaker implements the per-destination circuit breaker
// (spec §4.G): closed/open/half-open with a cooldown and single-probe
// gating, driven entirely through an injectable clock so cooldown expiry is
// deterministic in tests.
package breaker

import (
	"sync"
	"time"

	"github.com/relaytide/edgegateway/internal/clock"
)

// State is one of the three circuit states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Breaker guards one destination from retry storms.
type Breaker struct {
	mu sync.Mutex
	cl clock.Clock

	threshold int
	cooldown  time.Duration

	state        State
	failures     int
	openedAt     time.Time
	probeInFlight bool
}

// New constructs a Breaker starting closed.
func New(cl clock.Clock, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		cl:        cl,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
	}
}

// RecordFailure increments the failure counter in closed, or reopens the
// circuit from half-open. In open it is a no-op (the counter only matters
// while evaluating the threshold).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evaluateTransitionLocked()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.trip()
		}
	case StateHalfOpen:
		b.trip()
	case StateOpen:
		// already open; cooldown governs recovery
	}
}

// RecordSuccess resets the failure counter in closed, or closes the circuit
// from half-open.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evaluateTransitionLocked()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = 0
		b.probeInFlight = false
	case StateOpen:
		// a success can't be observed while open; nothing to do
	}
}

// AllowsProbe returns true exactly once per half-open period: the first
// caller after the open→half-open transition may probe, every subsequent
// caller is refused until the next state change.
func (b *Breaker) AllowsProbe() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evaluateTransitionLocked()

	if b.state != StateHalfOpen || b.probeInFlight {
		return false
	}
	b.probeInFlight = true
	return true
}

// IsOpen reports whether the circuit currently refuses traffic (true in
// both open and half-open, matching "has not yet demonstrated recovery").
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evaluateTransitionLocked()
	return b.state == StateOpen || b.state == StateHalfOpen
}

// CurrentState returns the breaker's state after applying any pending
// clock-driven open→half-open transition.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evaluateTransitionLocked()
	return b.state
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.cl.Now()
	b.failures = 0
	b.probeInFlight = false
}

// evaluateTransitionLocked applies the clock-driven open→half-open
// transition if the cooldown has elapsed. Idempotent: calling it again once
// already half-open does nothing.
func (b *Breaker) evaluateTransitionLocked() {
	if b.state != StateOpen {
		return
	}
	if b.cl.Now().Sub(b.openedAt) >= b.cooldown {
		b.state = StateHalfOpen
		b.probeInFlight = false
	}
}
