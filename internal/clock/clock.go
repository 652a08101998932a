// Package clock provides the injectable time source every timer-driven
// component (session timers, TTL sweeps, circuit breaker cooldowns) reads
// through instead of calling time.Now directly, so tests can advance time
// manually without real sleeps.
package clock

import "time"

// Clock abstracts wall-clock reads and timer scheduling.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancel-idempotent handle returned by AfterFunc.
type Timer interface {
	// Stop prevents the timer from firing if it hasn't already.
	// Calling Stop after it fired, or calling it twice, is a no-op.
	Stop()
}

// Real is the production Clock backed by the standard library.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	t := time.AfterFunc(d, f)
	return &realTimer{t: t}
}

type realTimer struct{ t *time.Timer }

func (r *realTimer) Stop() { r.t.Stop() }
