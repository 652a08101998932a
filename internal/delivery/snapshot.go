package delivery

import "github.com/relaytide/edgegateway/internal/gwerr"

// SnapshotVersion is the only schema version this package understands.
const SnapshotVersion = 1

// Snapshot is the versioned capture of every node's pending list.
type Snapshot struct {
	Version    int              `json:"version"`
	Pending    []PendingMessage `json:"pending"`
	CapturedAt int64            `json:"capturedAt"`
}

// Capture returns a Snapshot of every pending message across all nodes.
func (t *Tracker) Capture(capturedAt int64) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	var all []PendingMessage
	for _, list := range t.pending {
		all = append(all, list...)
	}
	return Snapshot{Version: SnapshotVersion, Pending: all, CapturedAt: capturedAt}
}

// Restore clears all current pending state and re-installs snap, grouping
// messages back under their nodeId in the order they appear in the
// snapshot.
func (t *Tracker) Restore(snap Snapshot) error {
	if snap.Version != SnapshotVersion {
		return gwerr.Wrap(gwerr.ErrInvalidArgument, "delivery: unsupported snapshot version %d", snap.Version)
	}
	for _, p := range snap.Pending {
		if p.NodeID == "" || p.MessageID == "" {
			return gwerr.Wrap(gwerr.ErrInvalidArgument, "delivery: snapshot pending message missing nodeId or messageId")
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = make(map[string][]PendingMessage)
	for _, p := range snap.Pending {
		t.pending[p.NodeID] = append(t.pending[p.NodeID], p)
	}
	return nil
}
