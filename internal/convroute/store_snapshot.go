package convroute

import "github.com/relaytide/edgegateway/internal/gwerr"

// SnapshotVersion is the only schema version this package understands.
const SnapshotVersion = 1

// Snapshot is the versioned capture of every current binding.
type Snapshot struct {
	Version    int       `json:"version"`
	Bindings   []Binding `json:"bindings"`
	CapturedAt int64     `json:"capturedAt"`
}

// Capture returns a Snapshot of every current binding.
func (s *Store) Capture(capturedAt int64) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	bindings := make([]Binding, 0, len(s.forward))
	for _, b := range s.forward {
		bindings = append(bindings, *b)
	}
	return Snapshot{Version: SnapshotVersion, Bindings: bindings, CapturedAt: capturedAt}
}

// Restore clears both indices and rebuilds them from snap.
func (s *Store) Restore(snap Snapshot) error {
	if snap.Version != SnapshotVersion {
		return gwerr.Wrap(gwerr.ErrInvalidArgument, "convroute: unsupported snapshot version %d", snap.Version)
	}
	for _, b := range snap.Bindings {
		if b.Key == "" || b.NodeID == "" {
			return gwerr.Wrap(gwerr.ErrInvalidArgument, "convroute: snapshot binding missing key or nodeId")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.forward = make(map[Key]*Binding, len(snap.Bindings))
	s.reverse = make(map[string]map[Key]struct{})
	for _, b := range snap.Bindings {
		binding := b
		s.forward[b.Key] = &binding
		s.indexReverseLocked(b.NodeID, b.Key)
	}
	s.aboveHighWatermark = false
	s.checkCapacityLocked()
	return nil
}
