// Package bus defines the wire-level data model shared between channel
// adapters and the gateway core: lanes, routing context, and the handler
// callback types used to subscribe to gateway events.
package bus

import "time"

// Lane is a fixed priority class for dispatch on one node connection.
// Lower numeric priority drains first; Interrupt bypasses the queue entirely.
type Lane string

const (
	LaneSteer     Lane = "steer"
	LaneCollect   Lane = "collect"
	LaneFollowup  Lane = "followup"
	LaneInterrupt Lane = "interrupt"
)

// LanePriority maps a queued lane to its strict drain priority.
// Interrupt has no entry here — it never queues, see LaneBuffer.Dispatch.
var LanePriority = map[Lane]int{
	LaneSteer:    0,
	LaneCollect:  1,
	LaneFollowup: 2,
}

// QueuedLanes lists every lane except interrupt, ascending by priority.
var QueuedLanes = []Lane{LaneSteer, LaneCollect, LaneFollowup}

// MessageType distinguishes a direct message from a group conversation.
type MessageType string

const (
	MessageTypeDM    MessageType = "dm"
	MessageTypeGroup MessageType = "group"
)

// RoutingContext carries the optional routing fields a channel adapter knows
// about a given event. Any subset may be present depending on scope.
type RoutingContext struct {
	PeerID      string      `json:"peerId,omitempty"`
	AccountID   string      `json:"accountId,omitempty"`
	GroupID     string      `json:"groupId,omitempty"`
	MessageType MessageType `json:"messageType,omitempty"`
}

// LaneMessage is the unit of work dispatched from an adapter into the
// gateway. Once handed to Dispatch it is treated as immutable.
type LaneMessage struct {
	ID              string           `json:"id"`
	Lane            Lane             `json:"lane"`
	ChannelID       string           `json:"channelId"`
	Timestamp       time.Time        `json:"timestamp"`
	RoutingContext  *RoutingContext  `json:"routingContext,omitempty"`
	Payload         []byte           `json:"payload"`
}

// OverflowEvent is reported to an onOverflow handler when the priority lane
// buffer drops a message to respect capacity. The delivery tracker reports
// its own drops through delivery.OverflowEvent.
type OverflowEvent struct {
	NodeID  string      `json:"nodeId"`
	Message LaneMessage `json:"message"`
	Reason  string      `json:"reason"`
}

// InterruptHandler is invoked synchronously for every interrupt-lane message;
// it never touches the queue.
type InterruptHandler func(LaneMessage)

// OverflowHandler is invoked whenever a drop-oldest eviction occurs.
type OverflowHandler func(OverflowEvent)

// Disposer cancels a single subscription registered via an onXxx method.
// Calling it more than once is a no-op.
type Disposer func()
