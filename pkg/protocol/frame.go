// Package protocol defines the wire frames exchanged between the gateway
// and a connected edge node (spec §6), plus the minimal control-surface
// method names for a management client.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/relaytide/edgegateway/internal/bus"
)

// ProtocolVersion is reported by the /health endpoint and the version
// command, and bumped whenever a frame kind's shape changes incompatibly.
const ProtocolVersion = 1

// Kind identifies one of the fixed frame shapes a node connection carries.
type Kind string

const (
	KindDispatch     Kind = "dispatch"      // server -> node: a LaneMessage to process
	KindAck          Kind = "ack"           // either direction: acknowledges a message id
	KindInbound      Kind = "inbound"       // node -> server: a reply
	KindSessionEvent Kind = "session_event" // either direction: suspend/resume/disconnect
	KindPing         Kind = "ping"          // heartbeat
	KindPong         Kind = "pong"          // heartbeat reply
)

// Frame is the envelope every transport message is wrapped in. Exactly one
// of the payload fields is populated, selected by Kind.
type Frame struct {
	Kind      Kind             `json:"kind"`
	Dispatch  *DispatchPayload `json:"dispatch,omitempty"`
	Ack       *AckPayload      `json:"ack,omitempty"`
	Inbound   *InboundPayload  `json:"inbound,omitempty"`
	Session   *SessionPayload  `json:"session,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// DispatchPayload carries one LaneMessage from the gateway to a node.
type DispatchPayload struct {
	Message bus.LaneMessage `json:"message"`
}

// AckPayload acknowledges receipt or processing of a message id.
type AckPayload struct {
	MessageID string `json:"messageId"`
}

// InboundPayload is a node's reply, addressed back to a conversation key.
type InboundPayload struct {
	ChannelID      string             `json:"channelId"`
	RoutingContext *bus.RoutingContext `json:"routingContext,omitempty"`
	Payload        []byte             `json:"payload"`
}

// SessionEventKind names one of the lifecycle events carried in a
// SessionPayload frame, mirroring internal/sessionfsm.Event's wire-facing
// subset.
type SessionEventKind string

const (
	SessionEventSuspend    SessionEventKind = "suspend"
	SessionEventResume     SessionEventKind = "resume"
	SessionEventDisconnect SessionEventKind = "disconnect"
)

// SessionPayload carries a session lifecycle event in either direction.
type SessionPayload struct {
	Event  SessionEventKind `json:"event"`
	NodeID string           `json:"nodeId"`
}

// NewDispatchFrame builds a Dispatch frame for m.
func NewDispatchFrame(m bus.LaneMessage, now time.Time) Frame {
	return Frame{Kind: KindDispatch, Dispatch: &DispatchPayload{Message: m}, Timestamp: now}
}

// NewAckFrame builds an Ack frame for messageID.
func NewAckFrame(messageID string, now time.Time) Frame {
	return Frame{Kind: KindAck, Ack: &AckPayload{MessageID: messageID}, Timestamp: now}
}

// NewPingFrame builds a heartbeat Ping frame.
func NewPingFrame(now time.Time) Frame {
	return Frame{Kind: KindPing, Timestamp: now}
}

// NewPongFrame builds a heartbeat Pong frame.
func NewPongFrame(now time.Time) Frame {
	return Frame{Kind: KindPong, Timestamp: now}
}

// Marshal encodes f as newline-delimited JSON (a trailing "\n" is not
// appended here; transports that need delimiting add it at the write site).
func (f Frame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

// Unmarshal decodes a Frame from data.
func Unmarshal(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}
