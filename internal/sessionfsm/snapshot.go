package sessionfsm

import (
	"github.com/relaytide/edgegateway/internal/gwerr"
)

// SnapshotVersion is the only schema version this package understands.
const SnapshotVersion = 1

// Snapshot is the versioned, point-in-time capture of every non-disconnected
// session. capturedAt is stamped by the caller (the snapshot engine owns
// wall-clock reads at the composite level, per spec §4.I).
type Snapshot struct {
	Version    int       `json:"version"`
	Sessions   []Session `json:"sessions"`
	CapturedAt int64     `json:"capturedAt"`
}

// Capture returns a Snapshot of every session whose state is not
// disconnected. Disconnected sessions are terminal and carry no useful
// lifecycle state to restore.
func (m *Manager) Capture(capturedAt int64) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions := make([]Session, 0, len(m.sessions))
	for _, r := range m.sessions {
		if r.session.State == StateDisconnected {
			continue
		}
		sessions = append(sessions, r.session)
	}
	return Snapshot{Version: SnapshotVersion, Sessions: sessions, CapturedAt: capturedAt}
}

// Restore clears every currently tracked session and re-installs the ones
// in snap. No timers are armed by Restore — they start only on the next
// observed event for a node (spec §4.E rationale: a snapshot loaded after
// long downtime must not synthesize an immediate wall-clock expiry).
func (m *Manager) Restore(snap Snapshot) error {
	if snap.Version != SnapshotVersion {
		return gwerr.Wrap(gwerr.ErrInvalidArgument, "sessionfsm: unsupported snapshot version %d", snap.Version)
	}
	for _, s := range snap.Sessions {
		if s.NodeID == "" {
			return gwerr.Wrap(gwerr.ErrInvalidArgument, "sessionfsm: snapshot session missing nodeId")
		}
		if s.State == StateDisconnected {
			return gwerr.Wrap(gwerr.ErrInvalidArgument, "sessionfsm: snapshot must not contain disconnected session for node %q", s.NodeID)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.sessions {
		m.stopTimersLocked(r)
	}
	m.sessions = make(map[string]*record, len(snap.Sessions))
	for _, s := range snap.Sessions {
		m.sessions[s.NodeID] = &record{session: s}
	}
	return nil
}
