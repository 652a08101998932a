package gateway

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/relaytide/edgegateway/internal/breaker"
	"github.com/relaytide/edgegateway/internal/delivery"
	"github.com/relaytide/edgegateway/internal/lanebuffer"
	"github.com/relaytide/edgegateway/internal/sessionfsm"
	"github.com/relaytide/edgegateway/pkg/protocol"
)

// nodeConn is everything the dispatcher tracks for one connected node: its
// transport, its priority buffer (one per connection per spec §4.B), and
// its own circuit breaker (one per destination per spec §4.G).
type nodeConn struct {
	nodeID    string
	transport Transport
	buffer    *lanebuffer.Buffer
	breaker   *breaker.Breaker
	wake      chan struct{}
	cancel    context.CancelFunc
}

func newNodeConn(nodeID string, t Transport, laneCapacity int, br *breaker.Breaker, cancel context.CancelFunc) *nodeConn {
	return &nodeConn{
		nodeID:    nodeID,
		transport: t,
		buffer:    lanebuffer.New(laneCapacity),
		breaker:   br,
		wake:      make(chan struct{}, 1),
		cancel:    cancel,
	}
}

// notify wakes the writer loop without blocking; a pending wake that hasn't
// been consumed yet already covers the new arrival.
func (nc *nodeConn) notify() {
	select {
	case nc.wake <- struct{}{}:
	default:
	}
}

// runWriter drains nc's priority buffer to the transport whenever woken,
// tracking every dispatched message for at-least-once delivery and feeding
// transport failures to the node's circuit breaker. It exits on context
// cancellation or on a transport write failure that should end the
// connection.
func (s *Server) runWriter(ctx context.Context, nc *nodeConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-nc.wake:
			if !s.flushOnce(ctx, nc) {
				s.evictNode(nc.nodeID, "transport_error")
				return
			}
		}
	}
}

// flushOnce drains whatever is currently queued and writes it out in order.
// It returns false if a write failed and the connection should be torn
// down.
func (s *Server) flushOnce(ctx context.Context, nc *nodeConn) bool {
	msgs := nc.buffer.Drain()
	if len(msgs) == 0 {
		return true
	}

	ctx, span := s.tracer.Start(ctx, "gateway.writer.flush")
	span.SetAttributes(attribute.String("node_id", nc.nodeID), attribute.Int("count", len(msgs)))
	defer span.End()

	for _, m := range msgs {
		now := s.clock.Now()
		frame := protocol.NewDispatchFrame(m, now)
		if err := nc.transport.WriteFrame(frame); err != nil {
			span.SetStatus(codes.Error, err.Error())
			nc.breaker.RecordFailure()
			slog.Warn("gateway.dispatch_write_failed", "node_id", nc.nodeID, "message_id", m.ID, "error", err)
			if nc.breaker.IsOpen() {
				s.sessions.HandleEvent(nc.nodeID, sessionfsm.EventDisconnect)
			}
			return false
		}
		nc.breaker.RecordSuccess()
		s.delivery.Track(nc.nodeID, delivery.PendingMessage{MessageID: m.ID, NodeID: nc.nodeID, SentAt: now, Message: m})
	}
	return true
}

// runReader pumps inbound frames from the transport: acks feed the
// delivery tracker, inbound replies feed the caller's handler, session
// events and heartbeats feed the session manager. It exits on read error or
// context cancellation, evicting the node in either case.
func (s *Server) runReader(ctx context.Context, nc *nodeConn) {
	defer s.evictNode(nc.nodeID, "reader_closed")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := nc.transport.ReadFrame()
		if err != nil {
			return
		}
		if !s.limiters.Allow(nc.nodeID) {
			slog.Warn("gateway.frame_rate_limited", "node_id", nc.nodeID, "kind", frame.Kind)
			continue
		}
		s.handleInboundFrame(ctx, nc, frame)
	}
}

func (s *Server) handleInboundFrame(ctx context.Context, nc *nodeConn, frame protocol.Frame) {
	_, span := s.tracer.Start(ctx, "gateway.inbound_frame")
	span.SetAttributes(attribute.String("node_id", nc.nodeID), attribute.String("kind", string(frame.Kind)))
	defer span.End()

	switch frame.Kind {
	case protocol.KindAck:
		if frame.Ack == nil {
			return
		}
		s.delivery.Ack(nc.nodeID, frame.Ack.MessageID)
		s.sessions.HandleEvent(nc.nodeID, sessionfsm.EventActivity)

	case protocol.KindInbound:
		s.sessions.HandleEvent(nc.nodeID, sessionfsm.EventActivity)
		if frame.Inbound != nil && s.inboundHandler != nil {
			s.inboundHandler(nc.nodeID, *frame.Inbound)
		}

	case protocol.KindSessionEvent:
		if frame.Session == nil {
			return
		}
		ev, ok := sessionEventFromWire(frame.Session.Event)
		if ok {
			s.sessions.HandleEvent(nc.nodeID, ev)
		}

	case protocol.KindPing:
		_ = nc.transport.WriteFrame(protocol.NewPongFrame(s.clock.Now()))
		s.sessions.HandleEvent(nc.nodeID, sessionfsm.EventActivity)

	case protocol.KindPong:
		s.sessions.HandleEvent(nc.nodeID, sessionfsm.EventActivity)

	default:
		slog.Debug("gateway.unhandled_frame_kind", "node_id", nc.nodeID, "kind", frame.Kind)
	}
}

func sessionEventFromWire(k protocol.SessionEventKind) (sessionfsm.Event, bool) {
	switch k {
	case protocol.SessionEventSuspend:
		return sessionfsm.EventSuspend, true
	case protocol.SessionEventResume:
		return sessionfsm.EventResume, true
	case protocol.SessionEventDisconnect:
		return sessionfsm.EventDisconnect, true
	default:
		return "", false
	}
}
