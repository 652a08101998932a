package snapshot

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/relaytide/edgegateway/internal/clock"
	"github.com/relaytide/edgegateway/internal/convroute"
	"github.com/relaytide/edgegateway/internal/delivery"
	"github.com/relaytide/edgegateway/internal/sessionfsm"
)

func newTestEngine(t *testing.T) (*Engine, *convroute.Store, *sessionfsm.Manager, *delivery.Tracker) {
	t.Helper()
	cl := clock.NewFake(time.Unix(0, 0))
	cs := convroute.NewStore(cl, 0, 0)
	sm := sessionfsm.NewManager(cl, time.Minute, time.Minute)
	dt := delivery.NewTracker(0)
	v, err := NewSchemaValidator()
	if err != nil {
		t.Fatalf("NewSchemaValidator: %v", err)
	}
	return NewEngine(cs, sm, dt, v), cs, sm, dt
}

func TestCaptureRestoreRoundTrip(t *testing.T) {
	eng, cs, sm, dt := newTestEngine(t)
	now := time.Unix(1000, 0)

	cs.Bind("k1", "node-1", now)
	sm.CreateSession("node-1", nil)
	dt.Track("node-1", delivery.PendingMessage{MessageID: "m1", NodeID: "node-1", SentAt: now})

	env := eng.Capture(5000)
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	eng2, cs2, sm2, dt2 := newTestEngine(t)
	if err := eng2.Restore(data); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if cs2.Size() != 1 {
		t.Fatalf("conversation store size after restore = %d", cs2.Size())
	}
	if _, ok := sm2.GetSession("node-1"); !ok {
		t.Fatal("session not restored")
	}
	if dt2.PendingCount("node-1") != 1 {
		t.Fatal("pending message not restored")
	}
}

func TestRestoreRejectsWrongVersion(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	bad := `{"version":2,"capturedAt":1,"conversations":{"version":1,"bindings":[],"capturedAt":1},"sessions":{"version":1,"sessions":[],"capturedAt":1},"delivery":{"version":1,"pending":[],"capturedAt":1}}`
	if err := eng.Restore([]byte(bad)); err == nil {
		t.Fatal("expected error for wrong envelope version")
	}
}

func TestRestoreRejectsMissingRequiredField(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	missingDelivery := `{"version":1,"capturedAt":1,"conversations":{"version":1,"bindings":[],"capturedAt":1},"sessions":{"version":1,"sessions":[],"capturedAt":1}}`
	if err := eng.Restore([]byte(missingDelivery)); err == nil {
		t.Fatal("expected schema validation error for missing delivery field")
	}
}
