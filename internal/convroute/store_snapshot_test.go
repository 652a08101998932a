package convroute

import (
	"testing"
	"time"

	"github.com/relaytide/edgegateway/internal/clock"
)

func TestStoreSnapshotRestoreRoundTrip(t *testing.T) {
	src := NewStore(clock.Real{}, 0, 0)
	now := time.Unix(1000, 0)
	src.Bind("k1", "node-a", now)
	src.Bind("k2", "node-b", now)

	snap := src.Capture(123)

	dst := NewStore(clock.Real{}, 0, 0)
	if err := dst.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if dst.Size() != 2 {
		t.Fatalf("size after restore = %d, want 2", dst.Size())
	}
	b := dst.Get("k1")
	if b == nil || b.NodeID != "node-a" {
		t.Fatalf("k1 binding after restore = %+v", b)
	}

	rev := dst.ReverseIndexSnapshot()
	if len(rev["node-a"]) != 1 || len(rev["node-b"]) != 1 {
		t.Fatalf("reverse index after restore wrong: %+v", rev)
	}
}

func TestStoreRestoreRejectsUnknownVersion(t *testing.T) {
	s := NewStore(clock.Real{}, 0, 0)
	if err := s.Restore(Snapshot{Version: 99}); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}
