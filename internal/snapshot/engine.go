package snapshot

import (
	"encoding/json"

	"github.com/relaytide/edgegateway/internal/convroute"
	"github.com/relaytide/edgegateway/internal/delivery"
	"github.com/relaytide/edgegateway/internal/gwerr"
	"github.com/relaytide/edgegateway/internal/sessionfsm"
)

// Version is the only composite envelope version this engine understands.
const Version = 1

// Envelope is the composite snapshot bundling 4.D, 4.E, and 4.F.
type Envelope struct {
	Version       int                  `json:"version"`
	Conversations convroute.Snapshot   `json:"conversations"`
	Sessions      sessionfsm.Snapshot  `json:"sessions"`
	Delivery      delivery.Snapshot    `json:"delivery"`
	CapturedAt    int64                `json:"capturedAt"`
}

// Engine composes the three restorable components into one capture/restore
// surface.
type Engine struct {
	conversations *convroute.Store
	sessions      *sessionfsm.Manager
	delivery      *delivery.Tracker
	validator     *SchemaValidator
}

// NewEngine constructs an Engine over the given component instances. A nil
// validator disables schema validation (tests may prefer that); production
// wiring always supplies one.
func NewEngine(conversations *convroute.Store, sessions *sessionfsm.Manager, tracker *delivery.Tracker, validator *SchemaValidator) *Engine {
	return &Engine{conversations: conversations, sessions: sessions, delivery: tracker, validator: validator}
}

// Capture clone-under-locks each component's state and bundles the result
// into one versioned envelope.
func (e *Engine) Capture(capturedAt int64) Envelope {
	return Envelope{
		Version:       Version,
		Conversations: e.conversations.Capture(capturedAt),
		Sessions:      e.sessions.Capture(capturedAt),
		Delivery:      e.delivery.Capture(capturedAt),
		CapturedAt:    capturedAt,
	}
}

// Restore validates env against the composite schema, then restores each
// component in the mandated order: Conversation Store, Session Manager,
// Delivery Tracker. The schema and envelope-version checks run before any
// component is touched, so an envelope they reject leaves all three
// unchanged. The three components are not restored as one atomic unit: if
// a later component's own Restore rejects its part, the components restored
// before it keep their new state and are not rolled back.
func (e *Engine) Restore(data []byte) error {
	if e.validator != nil {
		if err := e.validator.Validate(data); err != nil {
			return err
		}
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return gwerr.Wrap(gwerr.ErrInvalidArgument, "snapshot: invalid envelope JSON: %v", err)
	}
	if env.Version != Version {
		return gwerr.Wrap(gwerr.ErrInvalidArgument, "snapshot: unsupported envelope version %d", env.Version)
	}

	if err := e.conversations.Restore(env.Conversations); err != nil {
		return err
	}
	if err := e.sessions.Restore(env.Sessions); err != nil {
		return err
	}
	if err := e.delivery.Restore(env.Delivery); err != nil {
		return err
	}
	return nil
}
