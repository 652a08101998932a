package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually-advanced Clock for deterministic tests. Zero value is
// not usable; construct with NewFake.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	seq     int
}

// NewFake returns a Fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, cb func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{owner: f, fireAt: f.now.Add(d), cb: cb, seq: f.seq, active: true}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the clock forward by d, firing (in fire-time order) every
// timer whose deadline has elapsed. Firing happens synchronously on the
// caller's goroutine, after the clock has already been advanced, so a fired
// callback that reads Now() sees the post-advance time.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	due := f.dueLocked()
	f.mu.Unlock()

	for _, t := range due {
		t.fire()
	}
}

// dueLocked must be called with f.mu held. It removes and returns, in
// fire-time order, every still-active timer whose deadline has passed.
func (f *Fake) dueLocked() []*fakeTimer {
	var due []*fakeTimer
	var remaining []*fakeTimer
	for _, t := range f.timers {
		if t.active && !t.fireAt.After(f.now) {
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	f.timers = remaining
	sort.Slice(due, func(i, j int) bool {
		if due[i].fireAt.Equal(due[j].fireAt) {
			return due[i].seq < due[j].seq
		}
		return due[i].fireAt.Before(due[j].fireAt)
	})
	return due
}

type fakeTimer struct {
	owner  *Fake
	fireAt time.Time
	cb     func()
	seq    int
	active bool
}

func (t *fakeTimer) Stop() {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	t.active = false
}

func (t *fakeTimer) fire() {
	t.owner.mu.Lock()
	if !t.active {
		t.owner.mu.Unlock()
		return
	}
	t.active = false
	t.owner.mu.Unlock()
	t.cb()
}
