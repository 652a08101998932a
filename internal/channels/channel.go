// Package channels provides the channel adapter abstraction referenced as
// an out-of-core collaborator in §1: a real producer of bus.LaneMessage
// values so the Connection Dispatcher (internal/gateway) has something to
// exercise end-to-end. Slimmed from the teacher's multi-platform messaging
// layer down to exactly what 4.B/4.C need: a lane, a channel id, and
// routing context — no agent-runtime, session-history, or TTS/STT
// concerns survive here.
package channels

import (
	"context"
	"strings"
	"time"

	"github.com/relaytide/edgegateway/internal/bus"
)

// DMPolicy controls how direct messages from unknown senders are handled.
type DMPolicy string

const (
	DMPolicyPairing   DMPolicy = "pairing"
	DMPolicyAllowlist DMPolicy = "allowlist"
	DMPolicyOpen      DMPolicy = "open"
	DMPolicyDisabled  DMPolicy = "disabled"
)

// GroupPolicy controls how group messages are handled.
type GroupPolicy string

const (
	GroupPolicyOpen      GroupPolicy = "open"
	GroupPolicyAllowlist GroupPolicy = "allowlist"
	GroupPolicyDisabled  GroupPolicy = "disabled"
)

// EmitFunc hands one normalized LaneMessage to the gateway's Connection
// Dispatcher. Channels never talk to internal/gateway directly — they only
// know this callback, matching the spec's "adapters are collaborators, not
// core" framing.
type EmitFunc func(bus.LaneMessage)

// Channel is the interface every platform adapter implements.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord", "telegram").
	Name() string
	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error
	// Stop gracefully shuts the channel down.
	Stop(ctx context.Context) error
	// IsRunning reports whether the channel is actively processing messages.
	IsRunning() bool
}

// BaseChannel provides the allow-list/policy machinery shared by every
// adapter. Adapters embed this and call HandleMessage for each inbound
// platform event.
type BaseChannel struct {
	name    string
	emit    EmitFunc
	allowed []string
	running bool
	limiter *SenderRateLimiter
}

// NewBaseChannel constructs a BaseChannel. emit is called once per accepted
// inbound message. A per-sender rate limiter guards against one chatty
// external user flooding the dispatcher before a node connection even
// enters the picture. rateLimitPerMinute is the adapter's configured
// RateLimitPerMinute (0 uses SenderRateLimiter's built-in default).
func NewBaseChannel(name string, emit EmitFunc, allowFrom []string, rateLimitPerMinute int) *BaseChannel {
	return &BaseChannel{
		name:    name,
		emit:    emit,
		allowed: allowFrom,
		limiter: NewSenderRateLimiter(defaultRateLimitWindow, rateLimitPerMinute),
	}
}

func (c *BaseChannel) Name() string           { return c.name }
func (c *BaseChannel) IsRunning() bool        { return c.running }
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// HasAllowList reports whether a non-empty allow-list is configured.
func (c *BaseChannel) HasAllowList() bool { return len(c.allowed) > 0 }

// IsAllowed checks senderID against the configured allow-list. An empty
// allow-list allows everyone. Supports the compound "id|username" form the
// teacher's Telegram adapter produces.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowed) == 0 {
		return true
	}

	idPart, userPart := splitSenderID(senderID)
	for _, allowed := range c.allowed {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID, allowedUser := splitSenderID(trimmed)

		if senderID == allowed || senderID == trimmed ||
			idPart == allowed || idPart == trimmed || idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}
	return false
}

func splitSenderID(senderID string) (id, user string) {
	if idx := strings.Index(senderID, "|"); idx > 0 {
		return senderID[:idx], senderID[idx+1:]
	}
	return senderID, ""
}

// CheckPolicy evaluates a DM/group policy for a message. peerKind is "dm"
// or "group".
func (c *BaseChannel) CheckPolicy(peerKind string, dmPolicy DMPolicy, groupPolicy GroupPolicy, senderID string) bool {
	if peerKind == "group" {
		switch groupPolicy {
		case GroupPolicyDisabled:
			return false
		case GroupPolicyAllowlist:
			return c.IsAllowed(senderID)
		default:
			return true
		}
	}
	switch dmPolicy {
	case DMPolicyDisabled:
		return false
	case DMPolicyAllowlist, DMPolicyPairing:
		return c.IsAllowed(senderID)
	default:
		return true
	}
}

// HandleMessage normalizes one inbound platform event into a LaneMessage
// and emits it, after the allow-list check. lane defaults to LaneCollect
// when unset; the Discord and Telegram adapters pass LaneCollect for every
// message.
func (c *BaseChannel) HandleMessage(senderID string, routing bus.RoutingContext, lane bus.Lane, payload []byte) {
	if !c.IsAllowed(senderID) {
		return
	}
	if !c.limiter.Allow(c.name + ":" + senderID) {
		return
	}
	if lane == "" {
		lane = bus.LaneCollect
	}
	c.emit(bus.LaneMessage{
		ID:             senderID + ":" + routing.PeerID + ":" + time.Now().UTC().Format(time.RFC3339Nano),
		Lane:           lane,
		ChannelID:      c.name,
		Timestamp:      time.Now(),
		RoutingContext: &routing,
		Payload:        payload,
	})
}

// Truncate shortens s to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
