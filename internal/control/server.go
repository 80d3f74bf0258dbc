package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/degenduel/supervisor/internal/orchestrator"
	"github.com/degenduel/supervisor/internal/realtime"
)

// Authenticator validates an inbound connection and returns the identity
// behind it. Only fully-privileged identities are accepted; anything else
// must return an error.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// ConnectionAuditor records a control-surface connection attempt,
// successful or not. internal/audit.Logger implements this; kept as a
// narrow local interface so this package never imports internal/audit.
type ConnectionAuditor interface {
	RecordControlSurfaceConnection(adminID, ip, userAgent string, authenticated bool, reason string)
}

// Server upgrades HTTP connections to the Supervisory Control Surface
// websocket protocol and drives the periodic state/heartbeat broadcasters.
// Grounded on the teacher's websocket transport (reconnect posture)
// adapted to the server side with gorilla/websocket's Upgrader, plus its
// HTTP server's mux-registration style. Session liveness comes from client
// heartbeat frames only; the server sends no websocket ping frames.
type Server struct {
	orch     *orchestrator.Orchestrator
	auth     Authenticator
	bus      *realtime.Bus
	connAudit ConnectionAuditor
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session

	stop chan struct{}
}

// New constructs a control Server. auth must reject any identity that is
// not fully privileged. connAudit may be nil, in which case connection
// attempts are not audited.
func New(orch *orchestrator.Orchestrator, auth Authenticator, bus *realtime.Bus, connAudit ConnectionAuditor, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		orch:      orch,
		auth:      auth,
		bus:       bus,
		connAudit: connAudit,
		log:       log,
		upgrader:  websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		sessions:  make(map[string]*session),
		stop:      make(chan struct{}),
	}
	orch.SetForwarder(s)
	return s
}

// ServeHTTP upgrades the request to a websocket connection and runs the
// session until it disconnects or is evicted.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := s.auth.Authenticate(r)
	if err != nil || !identity.IsPrivileged {
		reason := "not privileged"
		if err != nil {
			reason = err.Error()
		}
		if s.connAudit != nil {
			s.connAudit.RecordControlSurfaceConnection(identity.AdminID, clientIP(r), r.UserAgent(), false, reason)
		}
		conn, upgradeErr := s.upgrader.Upgrade(w, r, nil)
		if upgradeErr != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		s.writeFrame(conn, errorFrame(ErrUnauthorized, "session is not fully privileged"))
		conn.Close()
		return
	}

	if s.connAudit != nil {
		s.connAudit.RecordControlSurfaceConnection(identity.AdminID, identity.IP, identity.UserAgent, true, "")
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("control: upgrade failed", "error", err)
		return
	}

	sess := s.registerSession(identity)
	defer s.unregisterSession(sess)

	// Eviction closes sess.done; closing the connection then ends readLoop.
	go func() {
		<-sess.done
		conn.Close()
	}()

	s.sendWelcome(conn, sess)

	go s.writeLoop(conn, sess)
	s.readLoop(conn, sess)
}

func (s *Server) registerSession(identity Identity) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	sess := newSession(id, identity)
	s.sessions[id] = sess
	return sess
}

func (s *Server) unregisterSession(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	sess.close()
}

// sendWelcome sends the full connect sequence: welcome, the service
// catalog, every current state, and the dependency graph.
func (s *Server) sendWelcome(conn *websocket.Conn, sess *session) {
	s.writeFrame(conn, mustFrame(OutWelcome, WelcomePayload{SessionID: sess.id}))
	s.writeFrame(conn, mustFrame(OutServiceCatalog, s.orch.Catalog()))
	s.writeFrame(conn, mustFrame(OutAllStates, s.orch.AllStates()))
	s.writeFrame(conn, mustFrame(OutDependencyGraph, s.orch.DependencyGraph()))
}

func (s *Server) readLoop(conn *websocket.Conn, sess *session) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			sess.send <- errorFrame(ErrUnknownCommand, "malformed frame")
			continue
		}
		s.handleFrame(context.Background(), sess, frame)
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, sess *session) {
	for {
		select {
		case frame := <-sess.send:
			if err := s.writeFrame(conn, frame); err != nil {
				return
			}
		case <-sess.done:
			return
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, frame Frame) error {
	body, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, body)
}

func mustFrame(typ string, payload any) Frame {
	body, err := json.Marshal(payload)
	if err != nil {
		return Frame{Type: typ}
	}
	return Frame{Type: typ, Payload: body}
}

func errorFrame(code, message string) Frame {
	return mustFrame(OutError, ErrorPayload{Code: code, Message: message, Timestamp: time.Now()})
}

// ForwardServiceUpdate implements orchestrator.StateForwarder: it fans a
// persisted-state update out to every session subscribed to name.
func (s *Server) ForwardServiceUpdate(name string, state orchestrator.PersistedState) {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.isSubscribed(name) {
			sessions = append(sessions, sess)
		}
	}
	s.mu.Unlock()

	frame := mustFrame(OutServiceUpdate, serviceUpdatePayload(name, state))
	for _, sess := range sessions {
		select {
		case sess.send <- frame:
		default:
			// Slow consumer: best-effort delivery, never block the forwarder.
		}
	}
}

func serviceUpdatePayload(name string, state orchestrator.PersistedState) map[string]any {
	return map[string]any{
		"service": name,
		"status":  state.Status,
		"running": state.Running,
		"config":  state.Config,
		"stats":   state.Stats,
	}
}

// RunBroadcasters starts the periodic per-service state push (every 3s)
// and global heartbeat (every 5s), returning once ctx is cancelled.
func (s *Server) RunBroadcasters(ctx context.Context) {
	stateTicker := time.NewTicker(stateBroadcastInterval)
	heartbeatTicker := time.NewTicker(globalHeartbeatInterval)
	evictTicker := time.NewTicker(heartbeatCheckInterval)
	defer stateTicker.Stop()
	defer heartbeatTicker.Stop()
	defer evictTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stateTicker.C:
			s.broadcastSubscribedStates()
		case <-heartbeatTicker.C:
			s.broadcastGlobalHeartbeat(ctx)
		case <-evictTicker.C:
			s.evictExpiredSessions()
		}
	}
}

func (s *Server) broadcastSubscribedStates() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		for _, name := range sess.subscribedNames() {
			state, ok := s.orch.State(name)
			if !ok {
				continue
			}
			frame := mustFrame(OutServiceUpdate, serviceUpdatePayload(name, state))
			select {
			case sess.send <- frame:
			default:
			}
		}
	}
}

func (s *Server) broadcastGlobalHeartbeat(ctx context.Context) {
	if s.bus != nil {
		_ = s.bus.PublishSystemHeartbeat(ctx, map[string]any{"timestamp": time.Now()})
	}
}

func (s *Server) evictExpiredSessions() {
	now := time.Now()
	s.mu.Lock()
	var expired []*session
	for id, sess := range s.sessions {
		if sess.isExpired(now) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.close()
	}
}
