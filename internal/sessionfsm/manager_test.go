package sessionfsm

import (
	"testing"
	"time"

	"github.com/relaytide/edgegateway/internal/clock"
)

func TestCreateSessionRejectsDuplicateNonDisconnected(t *testing.T) {
	cl := clock.NewFake(time.Unix(0, 0))
	m := NewManager(cl, time.Minute, time.Minute)

	if _, err := m.CreateSession("node-1", nil); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := m.CreateSession("node-1", nil); err == nil {
		t.Fatal("expected AlreadyExists on duplicate create")
	}
}

func TestCreateSessionAllowedAfterDisconnect(t *testing.T) {
	cl := clock.NewFake(time.Unix(0, 0))
	m := NewManager(cl, time.Minute, time.Minute)

	m.CreateSession("node-1", nil)
	m.HandleEvent("node-1", EventDisconnect)

	if _, err := m.CreateSession("node-1", nil); err != nil {
		t.Fatalf("recreate after disconnect: %v", err)
	}
}

func TestScenarioS5SessionLifecycle(t *testing.T) {
	cl := clock.NewFake(time.Unix(0, 0))
	m := NewManager(cl, time.Minute, time.Minute)
	m.CreateSession("node-1", nil)

	steps := []struct {
		event Event
		want  State
	}{
		{EventSuspend, StateSuspended},
		{EventResume, StateReconnecting},
		{EventActivity, StateConnected},
		{EventTimeout, StateSuspended},
	}
	for _, step := range steps {
		got, ok := m.HandleEvent("node-1", step.event)
		if !ok {
			t.Fatalf("event %s: no transition occurred", step.event)
		}
		if got != step.want {
			t.Fatalf("event %s: state = %s, want %s", step.event, got, step.want)
		}
	}
}

func TestDisconnectedStateIsAbsorbing(t *testing.T) {
	cl := clock.NewFake(time.Unix(0, 0))
	m := NewManager(cl, time.Minute, time.Minute)
	m.CreateSession("node-1", nil)
	m.HandleEvent("node-1", EventDisconnect)

	for _, ev := range []Event{EventConnect, EventDisconnect, EventSuspend, EventResume, EventActivity, EventTimeout} {
		if _, ok := m.HandleEvent("node-1", ev); ok {
			t.Fatalf("event %s transitioned out of disconnected", ev)
		}
	}
	s, _ := m.GetSession("node-1")
	if s.State != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", s.State)
	}
}

func TestSessionTimeoutFiresOnIdle(t *testing.T) {
	cl := clock.NewFake(time.Unix(0, 0))
	m := NewManager(cl, 60*time.Second, 300*time.Second)
	m.CreateSession("node-1", nil)

	var changes []StateChange
	m.OnStateChange(func(c StateChange) { changes = append(changes, c) })

	cl.Advance(61 * time.Second)

	s, _ := m.GetSession("node-1")
	if s.State != StateSuspended {
		t.Fatalf("state after session timeout = %s, want suspended", s.State)
	}
	if len(changes) != 1 || changes[0].To != StateSuspended {
		t.Fatalf("unexpected state-change events: %+v", changes)
	}
}

func TestActivityResetsSessionTimer(t *testing.T) {
	cl := clock.NewFake(time.Unix(0, 0))
	m := NewManager(cl, 60*time.Second, 300*time.Second)
	m.CreateSession("node-1", nil)

	cl.Advance(50 * time.Second)
	m.HandleEvent("node-1", EventActivity)
	cl.Advance(50 * time.Second)

	s, _ := m.GetSession("node-1")
	if s.State != StateConnected {
		t.Fatalf("state = %s, want connected (timer should have reset on activity)", s.State)
	}
}

func TestDisposeCancelsTimers(t *testing.T) {
	cl := clock.NewFake(time.Unix(0, 0))
	m := NewManager(cl, 60*time.Second, 300*time.Second)
	m.CreateSession("node-1", nil)
	m.Dispose()

	cl.Advance(time.Hour)

	s, _ := m.GetSession("node-1")
	if s.State != StateConnected {
		t.Fatalf("state after dispose+advance = %s, want connected (no timer should fire)", s.State)
	}
}

func TestScenarioS7SnapshotRestoreWithoutTimers(t *testing.T) {
	cl := clock.NewFake(time.Unix(0, 0))
	src := NewManager(cl, 60*time.Second, 300*time.Second)
	src.CreateSession("node-1", nil)

	snap := src.Capture(1000)

	dst := NewManager(cl, 60*time.Second, 300*time.Second)
	if err := dst.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	s, ok := dst.GetSession("node-1")
	if !ok || s.State != StateConnected {
		t.Fatalf("restored session = %+v, ok=%v", s, ok)
	}

	cl.Advance(120 * time.Second)

	s, _ = dst.GetSession("node-1")
	if s.State != StateConnected {
		t.Fatalf("state after advancing past sessionTimeout with no timer armed = %s, want connected", s.State)
	}
}

func TestCaptureExcludesDisconnectedSessions(t *testing.T) {
	cl := clock.NewFake(time.Unix(0, 0))
	m := NewManager(cl, time.Minute, time.Minute)
	m.CreateSession("node-1", nil)
	m.CreateSession("node-2", nil)
	m.HandleEvent("node-2", EventDisconnect)

	snap := m.Capture(1)
	if len(snap.Sessions) != 1 || snap.Sessions[0].NodeID != "node-1" {
		t.Fatalf("capture included disconnected session: %+v", snap.Sessions)
	}
}

func TestRestoreRejectsDisconnectedSession(t *testing.T) {
	cl := clock.NewFake(time.Unix(0, 0))
	m := NewManager(cl, time.Minute, time.Minute)
	bad := Snapshot{Version: 1, Sessions: []Session{{NodeID: "node-1", State: StateDisconnected}}}
	if err := m.Restore(bad); err == nil {
		t.Fatal("expected error restoring a disconnected session")
	}
}

func TestRestoreRejectsUnknownVersion(t *testing.T) {
	cl := clock.NewFake(time.Unix(0, 0))
	m := NewManager(cl, time.Minute, time.Minute)
	if err := m.Restore(Snapshot{Version: 2}); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}
