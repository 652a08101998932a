package convroute

import (
	"sync"
	"time"

	"github.com/relaytide/edgegateway/internal/clock"
)

// Binding is the current ownership of a conversation key by a node.
type Binding struct {
	Key          Key       `json:"key"`
	NodeID       string    `json:"nodeId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// CapacityHandler is notified once when the store's size crosses 80% of
// capacity upward. It does not re-fire until size falls below 70% and rises
// above 80% again (spec §4.D hysteresis).
type CapacityHandler func(size, capacity int)

// Store is the bounded, TTL-swept conversation-to-node binding table
// (spec §4.D). It keeps a reverse index from nodeId to the set of keys that
// node owns, so eviction of a node is O(owned-by-node) rather than a full
// table scan. Modeled on the teacher's sessions.Manager map+mutex shape
// (internal/sessions/manager.go), generalized with a reverse index and TTL
// sweep that the chat-history manager never needed.
type Store struct {
	mu sync.Mutex
	cl clock.Clock

	maxConversations int
	conversationTTL  time.Duration

	forward map[Key]*Binding
	reverse map[string]map[Key]struct{}

	aboveHighWatermark bool
	onCapacity         []CapacityHandler
}

// NewStore constructs a Store. maxConversations <= 0 means unbounded.
func NewStore(cl clock.Clock, maxConversations int, conversationTTL time.Duration) *Store {
	return &Store{
		cl:               cl,
		maxConversations: maxConversations,
		conversationTTL:  conversationTTL,
		forward:          make(map[Key]*Binding),
		reverse:          make(map[string]map[Key]struct{}),
	}
}

// UpdateConfig atomically replaces the capacity and TTL. It does not evict
// or sweep by itself — the next Bind/sweep call enforces the new limits.
func (s *Store) UpdateConfig(maxConversations int, conversationTTL time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxConversations = maxConversations
	s.conversationTTL = conversationTTL
}

// OnCapacityWarning registers a hysteresis-gated capacity callback.
func (s *Store) OnCapacityWarning(fn CapacityHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCapacity = append(s.onCapacity, fn)
}

// Bind assigns key to nodeId, creating the binding if it doesn't exist yet.
// Idempotent: re-binding the same (key, nodeId) just refreshes lastActiveAt.
// Re-binding to a different node overwrites nodeId and preserves createdAt.
// A brand-new key at capacity evicts the globally least-recently-active
// bindings first, until there is room for it.
func (s *Store) Bind(key Key, nodeID string, now time.Time) *Binding {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.forward[key]; ok {
		if existing.NodeID == nodeID {
			existing.LastActiveAt = now
			return cloneBinding(existing)
		}
		s.unindexReverseLocked(existing.NodeID, key)
		existing.NodeID = nodeID
		existing.LastActiveAt = now
		s.indexReverseLocked(nodeID, key)
		return cloneBinding(existing)
	}

	for s.maxConversations > 0 && len(s.forward) >= s.maxConversations {
		s.evictOldestLocked()
	}

	b := &Binding{Key: key, NodeID: nodeID, CreatedAt: now, LastActiveAt: now}
	s.forward[key] = b
	s.indexReverseLocked(nodeID, key)
	s.checkCapacityLocked()
	return cloneBinding(b)
}

// Get returns the binding for key, or nil if none exists.
func (s *Store) Get(key Key) *Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.forward[key]
	if !ok {
		return nil
	}
	return cloneBinding(b)
}

// RemoveNode deletes every binding currently owned by nodeID and returns how
// many were removed.
func (s *Store) RemoveNode(nodeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, ok := s.reverse[nodeID]
	if !ok {
		return 0
	}
	count := len(keys)
	for key := range keys {
		delete(s.forward, key)
	}
	delete(s.reverse, nodeID)
	s.checkCapacityLocked()
	return count
}

// Sweep removes every binding whose lastActiveAt is at least conversationTTL
// old relative to now, and returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationTTL <= 0 {
		return 0
	}
	removed := 0
	for key, b := range s.forward {
		if now.Sub(b.LastActiveAt) >= s.conversationTTL {
			s.unindexReverseLocked(b.NodeID, key)
			delete(s.forward, key)
			removed++
		}
	}
	if removed > 0 {
		s.checkCapacityLocked()
	}
	return removed
}

// Clear removes every binding.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forward = make(map[Key]*Binding)
	s.reverse = make(map[string]map[Key]struct{})
	s.aboveHighWatermark = false
}

// Size returns the current number of bindings.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.forward)
}

func (s *Store) evictOldestLocked() {
	var (
		oldestKey   Key
		oldestTime  time.Time
		found       bool
	)
	for key, b := range s.forward {
		if !found || b.LastActiveAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = b.LastActiveAt
			found = true
		}
	}
	if found {
		b := s.forward[oldestKey]
		s.unindexReverseLocked(b.NodeID, oldestKey)
		delete(s.forward, oldestKey)
	}
}

func (s *Store) indexReverseLocked(nodeID string, key Key) {
	set, ok := s.reverse[nodeID]
	if !ok {
		set = make(map[Key]struct{})
		s.reverse[nodeID] = set
	}
	set[key] = struct{}{}
}

func (s *Store) unindexReverseLocked(nodeID string, key Key) {
	set, ok := s.reverse[nodeID]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(s.reverse, nodeID)
	}
}

func (s *Store) checkCapacityLocked() {
	if s.maxConversations <= 0 {
		return
	}
	size := len(s.forward)
	high := float64(s.maxConversations) * 0.8
	low := float64(s.maxConversations) * 0.7

	if !s.aboveHighWatermark && float64(size) >= high {
		s.aboveHighWatermark = true
		for _, fn := range s.onCapacity {
			fn(size, s.maxConversations)
		}
	} else if s.aboveHighWatermark && float64(size) < low {
		s.aboveHighWatermark = false
	}
}

func cloneBinding(b *Binding) *Binding {
	clone := *b
	return &clone
}

// ReverseIndexSnapshot exposes the reverse index for invariant testing only
// (spec §8 property 2: reverse index must always equal the multimap induced
// by the forward index).
func (s *Store) ReverseIndexSnapshot() map[string][]Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Key, len(s.reverse))
	for nodeID, set := range s.reverse {
		keys := make([]Key, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		out[nodeID] = keys
	}
	return out
}
