package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/relaytide/edgegateway/internal/bus"
	"github.com/relaytide/edgegateway/internal/clock"
	"github.com/relaytide/edgegateway/internal/config"
	"github.com/relaytide/edgegateway/internal/convroute"
	"github.com/relaytide/edgegateway/internal/delivery"
	"github.com/relaytide/edgegateway/internal/gwerr"
	"github.com/relaytide/edgegateway/internal/sessionfsm"
	"github.com/relaytide/edgegateway/internal/snapshot"
	"github.com/relaytide/edgegateway/pkg/protocol"
)

type fakeTransport struct {
	mu        sync.Mutex
	out       []protocol.Frame
	in        chan protocol.Frame
	closed    bool
	failWrite bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan protocol.Frame, 8)}
}

func (f *fakeTransport) WriteFrame(fr protocol.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite {
		return errors.New("simulated write failure")
	}
	f.out = append(f.out, fr)
	return nil
}

func (f *fakeTransport) ReadFrame() (protocol.Frame, error) {
	fr, ok := <-f.in
	if !ok {
		return protocol.Frame{}, io.EOF
	}
	return fr, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.in)
	}
	return nil
}

func (f *fakeTransport) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.out)
}

func newTestServer(t *testing.T) (*Server, clock.Clock) {
	t.Helper()
	cl := clock.NewFake(time.Unix(0, 0))
	cfg := config.Default()
	sessions := sessionfsm.NewManager(cl, cfg.Gateway.SessionTimeout.AsDuration(), cfg.Gateway.SuspendTimeout.AsDuration())
	convs := convroute.NewStore(cl, cfg.Gateway.MaxConversations, cfg.Gateway.ConversationTTL.AsDuration())
	dt := delivery.NewTracker(0)
	validator, err := snapshot.NewSchemaValidator()
	if err != nil {
		t.Fatalf("NewSchemaValidator: %v", err)
	}
	eng := snapshot.NewEngine(convs, sessions, dt, validator)
	return NewServer(cl, cfg, sessions, convs, dt, eng, nil), cl
}

func registerFakeNode(s *Server, nodeID string) (*nodeConn, *fakeTransport) {
	ft := newFakeTransport()
	_, cancel := context.WithCancel(context.Background())
	nc := newNodeConn(nodeID, ft, 10, s.breakerFor(nodeID), cancel)
	s.registerNode(nc)
	return nc, ft
}

func TestDispatchBindsAndQueuesOnOneOfTheConnectedNodes(t *testing.T) {
	s, _ := newTestServer(t)
	registerFakeNode(s, "node-1")
	registerFakeNode(s, "node-2")

	in := convroute.ResolveInput{
		Scope: convroute.ScopePerPeer, AgentID: "agent-1", ChannelID: "discord",
		PeerID: "peer-1", MessageType: bus.MessageTypeDM,
	}
	msg := bus.LaneMessage{ID: "m1", Lane: bus.LaneSteer, ChannelID: "discord"}

	if err := s.Dispatch(context.Background(), in, msg); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	result, err := convroute.Resolve(in)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	binding := s.conversations.Get(result.Key)
	if binding == nil {
		t.Fatal("expected binding after dispatch")
	}

	s.nodesMu.RLock()
	nc := s.nodes[binding.NodeID]
	s.nodesMu.RUnlock()
	if nc == nil {
		t.Fatalf("bound node %q not registered", binding.NodeID)
	}
	if nc.buffer.TotalQueued() != 1 {
		t.Fatalf("queued count on bound node = %d, want 1", nc.buffer.TotalQueued())
	}

	// Repeated dispatch for the same conversation key must stick to the same node.
	if err := s.Dispatch(context.Background(), in, bus.LaneMessage{ID: "m2", Lane: bus.LaneCollect, ChannelID: "discord"}); err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	second := s.conversations.Get(result.Key)
	if second.NodeID != binding.NodeID {
		t.Fatalf("conversation rebound to %q, want sticky %q", second.NodeID, binding.NodeID)
	}
}

func TestDispatchWithNoConnectedNodesReturnsUnavailable(t *testing.T) {
	s, _ := newTestServer(t)
	in := convroute.ResolveInput{Scope: convroute.ScopeMain, AgentID: "agent-1"}
	err := s.Dispatch(context.Background(), in, bus.LaneMessage{ID: "m1", Lane: bus.LaneSteer})
	if !errors.Is(err, gwerr.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable with no connected nodes, got %v", err)
	}
}

func TestFlushOnceWritesAndTracksDelivery(t *testing.T) {
	s, _ := newTestServer(t)
	nc, ft := registerFakeNode(s, "node-1")
	nc.buffer.Dispatch(bus.LaneMessage{ID: "m1", Lane: bus.LaneSteer})

	if !s.flushOnce(context.Background(), nc) {
		t.Fatal("flushOnce reported failure on a healthy transport")
	}
	if ft.writtenCount() != 1 {
		t.Fatalf("frames written = %d, want 1", ft.writtenCount())
	}
	if s.delivery.PendingCount("node-1") != 1 {
		t.Fatalf("pending count after flush = %d, want 1", s.delivery.PendingCount("node-1"))
	}
}

func TestFlushOnceOpensBreakerAfterThresholdFailuresAndDisconnects(t *testing.T) {
	s, _ := newTestServer(t)
	nc, ft := registerFakeNode(s, "node-1")
	ft.failWrite = true
	if _, err := s.sessions.CreateSession("node-1", nil); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	for i := 0; i < breakerFailureThreshold; i++ {
		nc.buffer.Dispatch(bus.LaneMessage{ID: "m", Lane: bus.LaneSteer})
		if ok := s.flushOnce(context.Background(), nc); ok {
			t.Fatalf("flushOnce %d: expected failure with failWrite=true", i)
		}
	}

	sess, ok := s.sessions.GetSession("node-1")
	if !ok {
		t.Fatal("expected session to still be tracked")
	}
	if sess.State != sessionfsm.StateDisconnected {
		t.Fatalf("session state after breaker trip = %s, want disconnected", sess.State)
	}
}

func TestEvictNodeClearsConversationAndDeliveryState(t *testing.T) {
	s, _ := newTestServer(t)
	nc, _ := registerFakeNode(s, "node-1")
	s.conversations.Bind("agent:a:main", "node-1", time.Unix(0, 0))
	s.delivery.Track("node-1", delivery.PendingMessage{MessageID: "m1", NodeID: "node-1"})
	_ = nc

	s.evictNode("node-1", "test")

	if s.ActiveConnections() != 0 {
		t.Fatalf("active connections after eviction = %d, want 0", s.ActiveConnections())
	}
	if s.conversations.Get("agent:a:main") != nil {
		t.Fatal("expected conversation binding removed after eviction")
	}
	if s.delivery.PendingCount("node-1") != 0 {
		t.Fatal("expected pending deliveries dropped, not re-routed, after eviction")
	}
}

func TestHandleInboundAckUpdatesDeliveryAndActivity(t *testing.T) {
	s, cl := newTestServer(t)
	nc, _ := registerFakeNode(s, "node-1")
	if _, err := s.sessions.CreateSession("node-1", nil); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	s.delivery.Track("node-1", delivery.PendingMessage{MessageID: "m1", NodeID: "node-1", SentAt: cl.Now()})

	s.handleInboundFrame(context.Background(), nc, protocol.NewAckFrame("m1", cl.Now()))

	if s.delivery.PendingCount("node-1") != 0 {
		t.Fatal("expected ack to remove the pending message")
	}
	sess, _ := s.sessions.GetSession("node-1")
	if sess.State != sessionfsm.StateConnected {
		t.Fatalf("session state after activity = %s, want connected", sess.State)
	}
}

func TestIdentityFromHeadersExtractsPrefixedKeys(t *testing.T) {
	r, err := http.NewRequest(http.MethodGet, "http://example.invalid/ws", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	r.Header.Set("X-Identity-Tenant", "acme")
	r.Header.Set("X-Node-Id", "node-1")

	identity := identityFromHeaders(r)
	if identity["Tenant"] != "acme" {
		t.Fatalf("identity = %+v, want Tenant=acme", identity)
	}
	if _, ok := identity["Node-Id"]; ok {
		t.Fatal("non-identity header leaked into identity context")
	}
}
