// Package gateway wires together the priority lane buffer, conversation
// store, session manager, delivery tracker, and circuit breaker into the
// Connection Dispatcher (spec §4.J): the WebSocket-facing component that
// accepts node connections, routes adapter events to the right node, and
// drives every other component's clock-based upkeep.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaytide/edgegateway/internal/breaker"
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

// breakerFailureThreshold and breakerCooldown size every per-node circuit
// breaker the dispatcher creates. They are not hot-reloadable: the spec
// names maxFramesPerSecond et al as the hot set and leaves breaker tuning
// out of §6's recognized keys entirely.
const (
	breakerFailureThreshold = 3
	breakerCooldown         = 30 * time.Second
)

// InboundHandler receives every Inbound-frame reply from a node, already
// attributed to its session. It is the "runHandler callback for inbound
// traffic" named in §1.
type InboundHandler func(nodeID string, in protocol.InboundPayload)

// Server is the Connection Dispatcher: one process-wide instance owning
// every connected node, the shared core components, and the control
// surface named in §6.
type Server struct {
	clock clock.Clock
	cfg   *config.Config

	sessions      *sessionfsm.Manager
	conversations *convroute.Store
	delivery      *delivery.Tracker
	snapshots     *snapshot.Engine

	acceptSem *acceptSemaphore
	limiters  *connLimiters

	breakersMu sync.Mutex
	breakers   map[string]*breaker.Breaker

	nodesMu sync.RWMutex
	nodes   map[string]*nodeConn

	inboundHandler InboundHandler

	tracer trace.Tracer

	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	httpServer *http.Server

	sweepStop chan struct{}
	sweepWG   sync.WaitGroup
}

// NewServer constructs a Server from its core components. cfg is read live
// (UpdateConfig-style fields on the components themselves are pushed by the
// config watcher; NewServer only reads the restart-required fields once).
func NewServer(cl clock.Clock, cfg *config.Config, sessions *sessionfsm.Manager, conversations *convroute.Store, tracker *delivery.Tracker, snapshots *snapshot.Engine, handler InboundHandler) *Server {
	s := &Server{
		clock:          cl,
		cfg:            cfg,
		sessions:       sessions,
		conversations:  conversations,
		delivery:       tracker,
		snapshots:      snapshots,
		acceptSem:      newAcceptSemaphore(cfg.Gateway.MaxConnections),
		limiters:       newConnLimiters(cfg.Gateway.MaxFramesPerSecond),
		breakers:       make(map[string]*breaker.Breaker),
		nodes:          make(map[string]*nodeConn),
		inboundHandler: handler,
		tracer:         otel.Tracer("github.com/relaytide/edgegateway/internal/gateway"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	s.sessions.OnStateChange(func(change sessionfsm.StateChange) {
		if change.To == sessionfsm.StateDisconnected {
			s.evictNode(change.NodeID, "session_disconnected")
		}
	})
	return s
}

// laneCapacity reads the current hot-reloadable lane capacity.
func (s *Server) laneCapacity() int {
	snap := s.cfg.Snapshot()
	if snap.Gateway.LaneCapacity <= 0 {
		return 1
	}
	return snap.Gateway.LaneCapacity
}

func (s *Server) breakerFor(nodeID string) *breaker.Breaker {
	s.breakersMu.Lock()
	defer s.breakersMu.Unlock()
	b, ok := s.breakers[nodeID]
	if !ok {
		b = breaker.New(s.clock, breakerFailureThreshold, breakerCooldown)
		s.breakers[nodeID] = b
	}
	return b
}

func (s *Server) forgetBreaker(nodeID string) {
	s.breakersMu.Lock()
	defer s.breakersMu.Unlock()
	delete(s.breakers, nodeID)
}

// BuildMux constructs the HTTP mux, registering the node WebSocket endpoint
// and a liveness probe.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.mux = mux
	return mux
}

// Start begins accepting node connections and runs the background sweep
// loop (TTL eviction, pending-message timeout, breaker upkeep) until ctx is
// canceled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf(":%d", s.cfg.Snapshot().Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	s.sweepStop = make(chan struct{})
	s.sweepWG.Add(1)
	go s.sweepLoop()

	slog.Info("gateway.starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return gwerr.Wrap(gwerr.ErrInternal, "gateway: listen: %v", err)
	}
	return nil
}

// Stop gracefully shuts the server down: the sweep loop, every node
// connection, and the session manager's timers.
func (s *Server) Stop() error {
	if s.sweepStop != nil {
		close(s.sweepStop)
		s.sweepWG.Wait()
	}
	s.nodesMu.Lock()
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	s.nodesMu.Unlock()
	for _, id := range ids {
		s.evictNode(id, "shutdown")
	}
	s.sessions.Dispose()
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
	return nil
}

// sweepLoop periodically runs the TTL/timeout sweeps named in §5's
// "suspend between batches to yield" model: a fixed cadence independent of
// healthCheckInterval, since that field governs node heartbeats, not
// core-component sweeps.
func (s *Server) sweepLoop() {
	defer s.sweepWG.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			now := s.clock.Now()
			s.conversations.Sweep(now)
			for _, p := range s.delivery.Sweep(now, 60*time.Second) {
				s.breakerFor(p.NodeID).RecordFailure()
			}
		}
	}
}

// handleWebSocket upgrades the HTTP request to a node connection, subject
// to the process-wide accept semaphore (§4.J: "overflow returns
// 503-equivalent to the handshake layer").
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.acceptSem.TryAcquire() {
		http.Error(w, "gateway overloaded", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.acceptSem.Release()
		slog.Error("gateway.upgrade_failed", "error", err)
		return
	}

	nodeID := r.Header.Get("X-Node-Id")
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	identity := identityFromHeaders(r)

	if _, err := s.sessions.CreateSession(nodeID, identity); err != nil {
		conn.Close()
		s.acceptSem.Release()
		slog.Warn("gateway.session_create_failed", "node_id", nodeID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	nc := newNodeConn(nodeID, newWSTransport(conn), s.laneCapacity(), s.breakerFor(nodeID), cancel)
	s.registerNode(nc)

	go s.runWriter(ctx, nc)
	go s.runReader(ctx, nc)

	slog.Info("gateway.node_connected", "node_id", nodeID)
}

func identityFromHeaders(r *http.Request) sessionfsm.IdentityContext {
	const prefix = "X-Identity-"
	identity := sessionfsm.IdentityContext{}
	for k, v := range r.Header {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix && len(v) > 0 {
			identity[k[len(prefix):]] = v[0]
		}
	}
	if len(identity) == 0 {
		return nil
	}
	return identity
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","protocolVersion":%d,"activeConnections":%d}`, protocol.ProtocolVersion, s.ActiveConnections())
}

func (s *Server) registerNode(nc *nodeConn) {
	s.nodesMu.Lock()
	defer s.nodesMu.Unlock()
	s.nodes[nc.nodeID] = nc
}

// evictNode tears down nodeID's connection and discards its state from
// every component per §4.J: pending deliveries are dropped, never
// re-routed.
func (s *Server) evictNode(nodeID string, reason string) {
	s.nodesMu.Lock()
	nc, ok := s.nodes[nodeID]
	if ok {
		delete(s.nodes, nodeID)
	}
	s.nodesMu.Unlock()
	if !ok {
		return
	}

	nc.cancel()
	nc.transport.Close()
	s.acceptSem.Release()
	s.limiters.Forget(nodeID)
	s.forgetBreaker(nodeID)

	removedConv := s.conversations.RemoveNode(nodeID)
	removedPending := s.delivery.RemoveNode(nodeID)
	s.sessions.HandleEvent(nodeID, sessionfsm.EventDisconnect)

	slog.Info("gateway.node_evicted", "node_id", nodeID, "reason", reason,
		"conversations_removed", removedConv, "pending_dropped", removedPending)
}

// Dispatch routes one adapter-produced message to the node owning its
// conversation, binding a node for previously-unseen conversations via a
// load-aware, deterministic-tie-break policy (§4.J).
func (s *Server) Dispatch(ctx context.Context, in convroute.ResolveInput, msg bus.LaneMessage) error {
	_, span := s.tracer.Start(ctx, "gateway.dispatch")
	defer span.End()

	result, err := convroute.Resolve(in)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	nodeID := ""
	if binding := s.conversations.Get(result.Key); binding != nil {
		nodeID = binding.NodeID
	}

	s.nodesMu.RLock()
	_, stillConnected := s.nodes[nodeID]
	s.nodesMu.RUnlock()

	if nodeID == "" || !stillConnected {
		nodeID, err = s.selectNodeForKey(result.Key)
		if err != nil {
			return err
		}
	}

	s.conversations.Bind(result.Key, nodeID, now)

	s.nodesMu.RLock()
	nc, ok := s.nodes[nodeID]
	s.nodesMu.RUnlock()
	if !ok {
		return gwerr.Wrap(gwerr.ErrUnavailable, "gateway: node %q not connected", nodeID)
	}

	nc.buffer.Dispatch(msg)
	nc.notify()
	return nil
}

// selectNodeForKey picks the least-loaded connected node for a
// previously-unbound conversation key, breaking ties deterministically by
// hashing the key over the sorted candidate set so repeated calls with the
// same key and the same connected set always agree.
func (s *Server) selectNodeForKey(key convroute.Key) (string, error) {
	s.nodesMu.RLock()
	defer s.nodesMu.RUnlock()

	if len(s.nodes) == 0 {
		return "", gwerr.Wrap(gwerr.ErrUnavailable, "gateway: no connected nodes")
	}

	minLoad := -1
	var candidates []string
	for id, nc := range s.nodes {
		load := nc.buffer.TotalQueued()
		switch {
		case minLoad == -1 || load < minLoad:
			minLoad = load
			candidates = []string{id}
		case load == minLoad:
			candidates = append(candidates, id)
		}
	}
	sort.Strings(candidates)

	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := int(h.Sum32() % uint32(len(candidates)))
	return candidates[idx], nil
}

// ActiveConnections returns the number of currently connected nodes.
func (s *Server) ActiveConnections() int {
	s.nodesMu.RLock()
	defer s.nodesMu.RUnlock()
	return len(s.nodes)
}

// ActiveSessions returns the number of sessions the manager is tracking,
// including suspended/reconnecting ones not currently connected.
func (s *Server) ActiveSessions() int {
	return len(s.sessions.GetAllSessions())
}

// Diagnostics is the per-component size/diagnostics reading named in §6's
// control surface.
type Diagnostics struct {
	ActiveConnections  int `json:"activeConnections"`
	ActiveSessions     int `json:"activeSessions"`
	TrackedConversations int `json:"trackedConversations"`
	AcceptSlotsInUse   int `json:"acceptSlotsInUse"`
}

// Diagnostics reports a point-in-time view across every core component.
func (s *Server) Diagnostics() Diagnostics {
	return Diagnostics{
		ActiveConnections:    s.ActiveConnections(),
		ActiveSessions:       s.ActiveSessions(),
		TrackedConversations: s.conversations.Size(),
		AcceptSlotsInUse:     s.acceptSem.InUse(),
	}
}

// Snapshot captures the composite versioned state across the conversation
// store, session manager, and delivery tracker, returning it marshaled as
// the JSON blob named in §6.
func (s *Server) Snapshot() ([]byte, error) {
	env := s.snapshots.Capture(s.clock.Now().UnixMilli())
	data, err := json.Marshal(env)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.ErrInternal, "gateway: marshal snapshot: %v", err)
	}
	return data, nil
}

// Restore replaces conversation/session/delivery state from a previously
// captured snapshot blob.
func (s *Server) Restore(data []byte) error {
	return s.snapshots.Restore(data)
}

// ApplyHotConfig is registered with the config watcher (internal/config) so
// live-reloaded fields immediately affect already-running components.
func (s *Server) ApplyHotConfig(cfg *config.Config, changedFields []string) {
	g := cfg.Gateway
	s.sessions.UpdateConfig(g.SessionTimeout.AsDuration(), g.SuspendTimeout.AsDuration())
	s.conversations.UpdateConfig(g.MaxConversations, g.ConversationTTL.AsDuration())
	s.limiters.UpdateRate(g.MaxFramesPerSecond)
	slog.Info("gateway.config_applied", "changed_fields", changedFields)
}
