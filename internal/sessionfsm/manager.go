// Package sessionfsm tracks one Session per node as a small state machine
// with timer-driven transitions (spec §4.E). It generalizes the teacher's
// map+mutex session manager (internal/sessions/manager.go) — same
// "sync.RWMutex guarding map[string]*T" shape — but replaces chat-history
// bookkeeping with connect/suspend/reconnect/disconnect lifecycle state and
// clock-driven timeouts instead of disk persistence.
package sessionfsm

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaytide/edgegateway/internal/clock"
	"github.com/relaytide/edgegateway/internal/gwerr"
)

// State is one of the four lifecycle states a Session can be in.
type State string

const (
	StateConnected    State = "connected"
	StateSuspended    State = "suspended"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
)

// Event is a lifecycle input delivered to HandleEvent.
type Event string

const (
	EventConnect    Event = "connect"
	EventDisconnect Event = "disconnect"
	EventSuspend    Event = "suspend"
	EventResume     Event = "resume"
	EventActivity   Event = "activity"
	EventTimeout    Event = "timeout"
)

// transitions[state][event] = next state. A missing entry means no
// transition (the event is a no-op in that state).
var transitions = map[State]map[Event]State{
	StateConnected: {
		EventDisconnect: StateDisconnected,
		EventSuspend:    StateSuspended,
		EventActivity:   StateConnected,
		EventTimeout:    StateSuspended,
	},
	StateSuspended: {
		EventDisconnect: StateDisconnected,
		EventResume:     StateReconnecting,
		EventActivity:   StateConnected,
		EventTimeout:    StateDisconnected,
	},
	StateReconnecting: {
		EventConnect:    StateConnected,
		EventDisconnect: StateDisconnected,
		EventActivity:   StateConnected,
		EventTimeout:    StateDisconnected,
	},
	// StateDisconnected is absorbing: no entry, no transitions.
}

// IdentityContext carries adapter-supplied identity metadata opaque to the
// state machine.
type IdentityContext map[string]string

// Session is the lifecycle record of one connected node.
type Session struct {
	SessionID       string          `json:"sessionId"`
	NodeID          string          `json:"nodeId"`
	State           State           `json:"state"`
	ConnectedAt     time.Time       `json:"connectedAt"`
	LastActivityAt  time.Time       `json:"lastActivityAt"`
	ReconnectCount  int             `json:"reconnectCount"`
	IdentityContext IdentityContext `json:"identityContext,omitempty"`
}

// StateChange is emitted by HandleEvent whenever a transition actually
// occurs.
type StateChange struct {
	NodeID string
	From   State
	To     State
}

// StateChangeHandler receives StateChange events.
type StateChangeHandler func(StateChange)

// Disposer removes a previously registered handler.
type Disposer func()

type record struct {
	session       Session
	sessionTimer  clock.Timer
	suspendTimer  clock.Timer
}

// Manager owns every node's Session and the timers driving its timeouts.
type Manager struct {
	mu sync.Mutex
	cl clock.Clock

	sessionTimeout time.Duration
	suspendTimeout time.Duration

	sessions map[string]*record

	handlersMu sync.RWMutex
	handlers   map[int]StateChangeHandler
	handlerSeq int

	disposed bool
}

// NewManager constructs a Manager. sessionTimeout gates idle time in
// connected; suspendTimeout gates time spent in suspended.
func NewManager(cl clock.Clock, sessionTimeout, suspendTimeout time.Duration) *Manager {
	return &Manager{
		cl:             cl,
		sessionTimeout: sessionTimeout,
		suspendTimeout: suspendTimeout,
		sessions:       make(map[string]*record),
		handlers:       make(map[int]StateChangeHandler),
	}
}

// UpdateConfig atomically replaces the timeout durations. Already-running
// timers are not rescheduled; the new durations apply to the next timer
// armed for a node.
func (m *Manager) UpdateConfig(sessionTimeout, suspendTimeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionTimeout = sessionTimeout
	m.suspendTimeout = suspendTimeout
}

// CreateSession starts tracking nodeId in the connected state. Fails with
// AlreadyExists if a non-disconnected session already exists for nodeId.
func (m *Manager) CreateSession(nodeID string, identity IdentityContext) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[nodeID]; ok && existing.session.State != StateDisconnected {
		return Session{}, gwerr.Wrap(gwerr.ErrAlreadyExists, "sessionfsm: session already exists for node %q", nodeID)
	}

	now := m.cl.Now()
	s := Session{
		SessionID:       uuid.NewString(),
		NodeID:          nodeID,
		State:           StateConnected,
		ConnectedAt:     now,
		LastActivityAt:  now,
		IdentityContext: identity,
	}
	r := &record{session: s}
	m.sessions[nodeID] = r
	m.armSessionTimerLocked(nodeID, r)
	return s, nil
}

// HandleEvent applies event to nodeId's current state per the transition
// table. It returns the new state, or ("", false) if there was no session or
// the event caused no transition. A genuine transition updates
// lastActivityAt, re-arms the relevant timer, and notifies state-change
// subscribers.
func (m *Manager) HandleEvent(nodeID string, event Event) (State, bool) {
	m.mu.Lock()
	r, ok := m.sessions[nodeID]
	if !ok {
		m.mu.Unlock()
		return "", false
	}

	from := r.session.State
	next, transitioned := transitions[from][event]
	if !transitioned {
		m.mu.Unlock()
		return "", false
	}

	r.session.State = next
	r.session.LastActivityAt = m.cl.Now()
	if from == StateSuspended && next == StateReconnecting {
		r.session.ReconnectCount++
	}
	m.stopTimersLocked(r)
	switch next {
	case StateConnected:
		m.armSessionTimerLocked(nodeID, r)
	case StateSuspended:
		m.armSuspendTimerLocked(nodeID, r)
	case StateDisconnected:
		// absorbing; no timers
	}
	m.mu.Unlock()

	m.notify(StateChange{NodeID: nodeID, From: from, To: next})
	return next, true
}

// GetSession returns the current session for nodeId, or (Session{}, false).
func (m *Manager) GetSession(nodeID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.sessions[nodeID]
	if !ok {
		return Session{}, false
	}
	return r.session, true
}

// GetAllSessions returns a snapshot of every tracked session, including
// disconnected ones still held in memory.
func (m *Manager) GetAllSessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, r := range m.sessions {
		out = append(out, r.session)
	}
	return out
}

// OnStateChange registers fn to be called for every transition across all
// nodes. The returned Disposer removes it.
func (m *Manager) OnStateChange(fn StateChangeHandler) Disposer {
	m.handlersMu.Lock()
	m.handlerSeq++
	id := m.handlerSeq
	m.handlers[id] = fn
	m.handlersMu.Unlock()

	return func() {
		m.handlersMu.Lock()
		delete(m.handlers, id)
		m.handlersMu.Unlock()
	}
}

func (m *Manager) notify(change StateChange) {
	m.handlersMu.RLock()
	defer m.handlersMu.RUnlock()
	for _, fn := range m.handlers {
		fn(change)
	}
}

// Dispose cancels every outstanding timer. The Manager remains readable
// afterward but will never fire another timeout.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.disposed = true
	for _, r := range m.sessions {
		m.stopTimersLocked(r)
	}
}

func (m *Manager) stopTimersLocked(r *record) {
	if r.sessionTimer != nil {
		r.sessionTimer.Stop()
		r.sessionTimer = nil
	}
	if r.suspendTimer != nil {
		r.suspendTimer.Stop()
		r.suspendTimer = nil
	}
}

func (m *Manager) armSessionTimerLocked(nodeID string, r *record) {
	if m.disposed || m.sessionTimeout <= 0 {
		return
	}
	r.sessionTimer = m.cl.AfterFunc(m.sessionTimeout, func() {
		m.HandleEvent(nodeID, EventTimeout)
	})
}

func (m *Manager) armSuspendTimerLocked(nodeID string, r *record) {
	if m.disposed || m.suspendTimeout <= 0 {
		return
	}
	r.suspendTimer = m.cl.AfterFunc(m.suspendTimeout, func() {
		m.HandleEvent(nodeID, EventTimeout)
	})
}
