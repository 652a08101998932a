// Package delivery implements the per-node unacked message tracker
// (spec §4.F): an ordered pending list per node, ack-by-id removal, and a
// sweep for timed-out sends that feeds the circuit breaker.
// Structurally it mirrors the capacity/overflow shape of internal/lanebuffer
// (spec calls it "identical in spirit to 4.B") but keyed by node instead of
// lane, and grounded on the same map+mutex discipline as the teacher's
// internal/sessions.Manager.
package delivery

import (
	"sync"
	"time"

	"github.com/relaytide/edgegateway/internal/bus"
)

// PendingMessage is a sent-but-unacked message awaiting an ack or timeout.
type PendingMessage struct {
	MessageID string          `json:"messageId"`
	NodeID    string          `json:"nodeId"`
	SentAt    time.Time       `json:"sentAt"`
	Message   bus.LaneMessage `json:"message"`
}

// OverflowEvent reports a pending message dropped to satisfy maxPerNode.
type OverflowEvent struct {
	NodeID  string
	Message PendingMessage
	Reason  string
}

// OverflowHandler receives OverflowEvent notifications.
type OverflowHandler func(OverflowEvent)

// Disposer removes a previously registered handler.
type Disposer func()

// Tracker holds, per node, an ordered list of pending messages.
type Tracker struct {
	mu         sync.Mutex
	maxPerNode int
	pending    map[string][]PendingMessage

	overflowMu  sync.RWMutex
	overflow    map[int]OverflowHandler
	overflowSeq int
}

// NewTracker constructs a Tracker. maxPerNode <= 0 means unbounded.
func NewTracker(maxPerNode int) *Tracker {
	return &Tracker{
		maxPerNode: maxPerNode,
		pending:    make(map[string][]PendingMessage),
		overflow:   make(map[int]OverflowHandler),
	}
}

// UpdateConfig atomically replaces maxPerNode. Existing nodes are not
// trimmed retroactively; the new limit applies on the next Track call.
func (t *Tracker) UpdateConfig(maxPerNode int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxPerNode = maxPerNode
}

// Track appends message to nodeId's pending list. If that would exceed
// maxPerNode, the oldest pending message for that node is dropped and
// reported via the overflow handlers first.
func (t *Tracker) Track(nodeID string, message PendingMessage) {
	t.mu.Lock()
	list := t.pending[nodeID]
	var victim PendingMessage
	var evicted bool
	if t.maxPerNode > 0 && len(list) >= t.maxPerNode {
		victim = list[0]
		list = list[1:]
		evicted = true
	}
	t.pending[nodeID] = append(list, message)
	t.mu.Unlock()

	if evicted {
		t.fireOverflow(OverflowEvent{NodeID: nodeID, Message: victim, Reason: "capacity"})
	}
}

// Ack removes the first pending message matching messageId for nodeId and
// reports whether one was found.
func (t *Tracker) Ack(nodeID, messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.pending[nodeID]
	for i, p := range list {
		if p.MessageID == messageID {
			t.pending[nodeID] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Unacked returns a copy of the current pending list for nodeId.
func (t *Tracker) Unacked(nodeID string) []PendingMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.pending[nodeID]
	out := make([]PendingMessage, len(list))
	copy(out, list)
	return out
}

// PendingCount returns the number of unacked messages for nodeId.
func (t *Tracker) PendingCount(nodeID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[nodeID])
}

// RemoveNode discards every pending message for nodeId and returns how many
// were discarded. Per spec §4.J, evicted nodes' pending messages are never
// re-routed.
func (t *Tracker) RemoveNode(nodeID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.pending[nodeID])
	delete(t.pending, nodeID)
	return n
}

// Sweep returns every pending message, across all nodes, whose age is at
// least timeout relative to now. It does not remove them — callers decide
// whether a timed-out send becomes a retry, a circuit failure, or an ack-
// abandonment.
func (t *Tracker) Sweep(now time.Time, timeout time.Duration) []PendingMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []PendingMessage
	for _, list := range t.pending {
		for _, p := range list {
			if now.Sub(p.SentAt) >= timeout {
				out = append(out, p)
			}
		}
	}
	return out
}

// OnOverflow registers fn to run whenever Track drops a message to respect
// maxPerNode.
func (t *Tracker) OnOverflow(fn OverflowHandler) Disposer {
	t.overflowMu.Lock()
	t.overflowSeq++
	id := t.overflowSeq
	t.overflow[id] = fn
	t.overflowMu.Unlock()

	return func() {
		t.overflowMu.Lock()
		delete(t.overflow, id)
		t.overflowMu.Unlock()
	}
}

func (t *Tracker) fireOverflow(ev OverflowEvent) {
	t.overflowMu.RLock()
	defer t.overflowMu.RUnlock()
	for _, fn := range t.overflow {
		fn(ev)
	}
}
