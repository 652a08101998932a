// Package convroute resolves conversation keys from routing context
// (spec §4.C) and maintains the bounded conversation-to-node binding store
// (spec §4.D). The key format and its strict-error/degrade rules are a
// generalization of the session-key builder in the teacher's
// internal/sessions/key.go, adapted from its "direct" literal to this
// spec's "dm" literal and extended with explicit degrade reporting instead
// of the teacher's silent scope fallback.
package convroute

import (
	"fmt"
	"strings"

	"github.com/relaytide/edgegateway/internal/bus"
	"github.com/relaytide/edgegateway/internal/gwerr"
)

// Scope is the conversation scope requested by a caller before resolution.
type Scope string

const (
	ScopeMain                 Scope = "main"
	ScopePerPeer              Scope = "per-peer"
	ScopePerChannelPeer       Scope = "per-channel-peer"
	ScopePerAccountChannelPeer Scope = "per-account-channel-peer"
	// ScopeGroup is never requested directly; it is the effective scope
	// reported whenever messageType == group, regardless of Scope.
	ScopeGroup Scope = "group"
)

// Key is the branded conversation key string. Resolve produces exactly one
// of these formats:
//
//	agent:<agentId>:main
//	agent:<agentId>:dm:<peerId>
//	agent:<agentId>:<channelId>:dm:<peerId>
//	agent:<agentId>:<channelId>:<accountId>:dm:<peerId>
//	agent:<agentId>:<channelId>:group:<groupId>
type Key string

// ResolveInput carries everything Resolve needs to compute a Key.
type ResolveInput struct {
	Scope       Scope
	AgentID     string
	ChannelID   string
	PeerID      string
	AccountID   string
	GroupID     string
	MessageType bus.MessageType
}

// ResolveResult is the outcome of a successful Resolve call.
type ResolveResult struct {
	Key             Key
	RequestedScope  Scope
	EffectiveScope  Scope
	Degraded        bool
	Warnings        []string
}

// Resolve computes a deterministic ConversationKey from routing context.
// It never blocks and never mutates shared state.
func Resolve(in ResolveInput) (ResolveResult, error) {
	for _, part := range []string{in.AgentID, in.ChannelID, in.PeerID, in.AccountID, in.GroupID} {
		if strings.Contains(part, ":") {
			return ResolveResult{}, gwerr.Wrap(gwerr.ErrInvalidArgument, "convroute: component id must not contain ':': %q", part)
		}
	}

	if in.MessageType == bus.MessageTypeGroup {
		if in.GroupID == "" {
			return ResolveResult{}, gwerr.Wrap(gwerr.ErrInvalidArgument, "convroute: messageType=group requires groupId")
		}
		return ResolveResult{
			Key:            Key(fmt.Sprintf("agent:%s:%s:group:%s", in.AgentID, in.ChannelID, in.GroupID)),
			RequestedScope: in.Scope,
			EffectiveScope: ScopeGroup,
		}, nil
	}

	switch in.Scope {
	case ScopeMain:
		return ResolveResult{
			Key:            Key(fmt.Sprintf("agent:%s:main", in.AgentID)),
			RequestedScope: ScopeMain,
			EffectiveScope: ScopeMain,
		}, nil

	case ScopePerPeer:
		if in.PeerID == "" {
			return ResolveResult{}, gwerr.Wrap(gwerr.ErrInvalidArgument, "convroute: scope=per-peer requires peerId")
		}
		return ResolveResult{
			Key:            Key(fmt.Sprintf("agent:%s:dm:%s", in.AgentID, in.PeerID)),
			RequestedScope: ScopePerPeer,
			EffectiveScope: ScopePerPeer,
		}, nil

	case ScopePerChannelPeer:
		if in.PeerID == "" {
			return ResolveResult{}, gwerr.Wrap(gwerr.ErrInvalidArgument, "convroute: scope=per-channel-peer requires peerId")
		}
		return ResolveResult{
			Key:            Key(fmt.Sprintf("agent:%s:%s:dm:%s", in.AgentID, in.ChannelID, in.PeerID)),
			RequestedScope: ScopePerChannelPeer,
			EffectiveScope: ScopePerChannelPeer,
		}, nil

	case ScopePerAccountChannelPeer:
		if in.PeerID == "" {
			return ResolveResult{}, gwerr.Wrap(gwerr.ErrInvalidArgument, "convroute: scope=per-account-channel-peer requires peerId")
		}
		if in.AccountID == "" {
			warning := fmt.Sprintf("conversation scope degraded from per-account-channel-peer to per-channel-peer: accountId missing for agent=%s channel=%s", in.AgentID, in.ChannelID)
			return ResolveResult{
				Key:            Key(fmt.Sprintf("agent:%s:%s:dm:%s", in.AgentID, in.ChannelID, in.PeerID)),
				RequestedScope: ScopePerAccountChannelPeer,
				EffectiveScope: ScopePerChannelPeer,
				Degraded:       true,
				Warnings:       []string{warning},
			}, nil
		}
		return ResolveResult{
			Key:            Key(fmt.Sprintf("agent:%s:%s:%s:dm:%s", in.AgentID, in.ChannelID, in.AccountID, in.PeerID)),
			RequestedScope: ScopePerAccountChannelPeer,
			EffectiveScope: ScopePerAccountChannelPeer,
		}, nil

	default:
		return ResolveResult{}, gwerr.Wrap(gwerr.ErrInvalidArgument, "convroute: unknown scope %q", in.Scope)
	}
}

// ParsedKey is the component breakdown returned by Parse. It is a debugging
// aid, never used on the dispatch hot path.
type ParsedKey struct {
	AgentID   string
	ChannelID string
	AccountID string
	PeerID    string
	GroupID   string
	Scope     Scope
}

// Parse reverse-engineers the component parts of a Key produced by Resolve.
// It returns ok=false for anything it doesn't recognize rather than erroring
// — it is observability tooling, not a validator.
func Parse(key Key) (ParsedKey, bool) {
	parts := strings.Split(string(key), ":")
	if len(parts) < 2 || parts[0] != "agent" {
		return ParsedKey{}, false
	}
	agentID := parts[1]

	switch {
	case len(parts) == 3 && parts[2] == "main":
		return ParsedKey{AgentID: agentID, Scope: ScopeMain}, true

	case len(parts) == 4 && parts[2] == "dm":
		return ParsedKey{AgentID: agentID, PeerID: parts[3], Scope: ScopePerPeer}, true

	case len(parts) == 5 && parts[3] == "dm":
		return ParsedKey{AgentID: agentID, ChannelID: parts[2], PeerID: parts[4], Scope: ScopePerChannelPeer}, true

	case len(parts) == 6 && parts[4] == "dm":
		return ParsedKey{AgentID: agentID, ChannelID: parts[2], AccountID: parts[3], PeerID: parts[5], Scope: ScopePerAccountChannelPeer}, true

	case len(parts) == 5 && parts[3] == "group":
		return ParsedKey{AgentID: agentID, ChannelID: parts[2], GroupID: parts[4], Scope: ScopeGroup}, true

	default:
		return ParsedKey{}, false
	}
}
