package delivery

import (
	"testing"
	"time"

	"github.com/relaytide/edgegateway/internal/bus"
)

func pm(id, nodeID string, sentAt time.Time) PendingMessage {
	return PendingMessage{MessageID: id, NodeID: nodeID, SentAt: sentAt, Message: bus.LaneMessage{ID: id}}
}

func TestTrackAndAckRemovesFirstMatch(t *testing.T) {
	tr := NewTracker(0)
	t0 := time.Unix(1000, 0)
	tr.Track("node-1", pm("m1", "node-1", t0))
	tr.Track("node-1", pm("m2", "node-1", t0))

	if !tr.Ack("node-1", "m1") {
		t.Fatal("ack of existing message returned false")
	}
	if tr.Ack("node-1", "m1") {
		t.Fatal("second ack of same id returned true")
	}

	unacked := tr.Unacked("node-1")
	if len(unacked) != 1 || unacked[0].MessageID != "m2" {
		t.Fatalf("unacked = %+v, want [m2]", unacked)
	}
}

func TestAckUnknownReturnsFalse(t *testing.T) {
	tr := NewTracker(0)
	if tr.Ack("node-1", "missing") {
		t.Fatal("ack of unknown message returned true")
	}
}

func TestPendingCountAndRemoveNode(t *testing.T) {
	tr := NewTracker(0)
	t0 := time.Unix(1000, 0)
	tr.Track("node-1", pm("m1", "node-1", t0))
	tr.Track("node-1", pm("m2", "node-1", t0))
	tr.Track("node-2", pm("m3", "node-2", t0))

	if tr.PendingCount("node-1") != 2 {
		t.Fatalf("pendingCount(node-1) = %d, want 2", tr.PendingCount("node-1"))
	}

	removed := tr.RemoveNode("node-1")
	if removed != 2 {
		t.Fatalf("removeNode returned %d, want 2", removed)
	}
	if tr.PendingCount("node-1") != 0 {
		t.Fatal("node-1 still has pending messages after removal")
	}
	if tr.PendingCount("node-2") != 1 {
		t.Fatal("unrelated node's pending messages were affected")
	}
}

func TestOverflowDropsOldestAndReports(t *testing.T) {
	tr := NewTracker(2)
	t0 := time.Unix(1000, 0)

	var dropped []OverflowEvent
	dispose := tr.OnOverflow(func(ev OverflowEvent) { dropped = append(dropped, ev) })
	defer dispose()

	tr.Track("node-1", pm("m1", "node-1", t0))
	tr.Track("node-1", pm("m2", "node-1", t0.Add(time.Second)))
	tr.Track("node-1", pm("m3", "node-1", t0.Add(2*time.Second)))

	if len(dropped) != 1 || dropped[0].Message.MessageID != "m1" {
		t.Fatalf("expected m1 dropped, got %+v", dropped)
	}
	unacked := tr.Unacked("node-1")
	if len(unacked) != 2 || unacked[0].MessageID != "m2" || unacked[1].MessageID != "m3" {
		t.Fatalf("unacked = %+v, want [m2 m3]", unacked)
	}
}

func TestSweepReturnsOnlyTimedOutMessages(t *testing.T) {
	tr := NewTracker(0)
	t0 := time.Unix(1000, 0)
	tr.Track("node-1", pm("stale", "node-1", t0))
	tr.Track("node-1", pm("fresh", "node-1", t0.Add(8*time.Second)))

	due := tr.Sweep(t0.Add(10*time.Second), 10*time.Second)
	if len(due) != 1 || due[0].MessageID != "stale" {
		t.Fatalf("sweep = %+v, want [stale]", due)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	src := NewTracker(0)
	t0 := time.Unix(1000, 0)
	src.Track("node-1", pm("m1", "node-1", t0))
	src.Track("node-2", pm("m2", "node-2", t0))

	snap := src.Capture(42)

	dst := NewTracker(0)
	if err := dst.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if dst.PendingCount("node-1") != 1 || dst.PendingCount("node-2") != 1 {
		t.Fatalf("restored pending counts wrong: node-1=%d node-2=%d", dst.PendingCount("node-1"), dst.PendingCount("node-2"))
	}
}

func TestRestoreRejectsUnknownVersion(t *testing.T) {
	tr := NewTracker(0)
	if err := tr.Restore(Snapshot{Version: 2}); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}
