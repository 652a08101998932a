package breaker

import (
	"testing"
	"time"

	"github.com/relaytide/edgegateway/internal/clock"
)

func TestScenarioS6CircuitBreaker(t *testing.T) {
	cl := clock.NewFake(time.Unix(0, 0))
	b := New(cl, 2, 1000*time.Millisecond)

	b.RecordFailure()
	if b.CurrentState() != StateClosed {
		t.Fatalf("state after 1 failure = %s, want closed", b.CurrentState())
	}
	b.RecordFailure()
	if b.CurrentState() != StateOpen {
		t.Fatalf("state after threshold failures = %s, want open", b.CurrentState())
	}

	cl.Advance(1000 * time.Millisecond)
	if b.CurrentState() != StateHalfOpen {
		t.Fatalf("state after cooldown = %s, want half-open", b.CurrentState())
	}

	if !b.AllowsProbe() {
		t.Fatal("first allowsProbe() in half-open should be true")
	}
	if b.AllowsProbe() {
		t.Fatal("second allowsProbe() in same half-open period should be false")
	}

	b.RecordSuccess()
	if b.CurrentState() != StateClosed {
		t.Fatalf("state after success in half-open = %s, want closed", b.CurrentState())
	}
}

func TestRecordSuccessResetsFailureCountInClosed(t *testing.T) {
	cl := clock.NewFake(time.Unix(0, 0))
	b := New(cl, 3, time.Second)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if b.CurrentState() != StateClosed {
		t.Fatalf("state = %s, want closed (success should have reset counter)", b.CurrentState())
	}
}

func TestFailureInHalfOpenReopens(t *testing.T) {
	cl := clock.NewFake(time.Unix(0, 0))
	b := New(cl, 1, 500*time.Millisecond)
	b.RecordFailure()
	cl.Advance(500 * time.Millisecond)
	if b.CurrentState() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", b.CurrentState())
	}

	b.RecordFailure()
	if b.CurrentState() != StateOpen {
		t.Fatalf("state after half-open failure = %s, want open", b.CurrentState())
	}

	cl.Advance(500 * time.Millisecond)
	if b.CurrentState() != StateHalfOpen {
		t.Fatalf("state after second cooldown = %s, want half-open", b.CurrentState())
	}
	if !b.AllowsProbe() {
		t.Fatal("allowsProbe should be available again after reopening and re-cooling")
	}
}

func TestIsOpenTrueInOpenAndHalfOpen(t *testing.T) {
	cl := clock.NewFake(time.Unix(0, 0))
	b := New(cl, 1, time.Second)
	if b.IsOpen() {
		t.Fatal("fresh breaker reports open")
	}
	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("breaker at threshold should report open")
	}
	cl.Advance(time.Second)
	if !b.IsOpen() {
		t.Fatal("half-open breaker should still report IsOpen=true")
	}
}

func TestEvaluateTransitionIsIdempotent(t *testing.T) {
	cl := clock.NewFake(time.Unix(0, 0))
	b := New(cl, 1, time.Second)
	b.RecordFailure()
	cl.Advance(2 * time.Second)

	s1 := b.CurrentState()
	s2 := b.CurrentState()
	if s1 != StateHalfOpen || s2 != StateHalfOpen {
		t.Fatalf("repeated reads diverged: %s then %s", s1, s2)
	}
}
