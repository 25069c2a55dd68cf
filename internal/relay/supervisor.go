package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/camrelay/camrelay/internal/capture"
)

// ImageSaver persists a captured image payload sent by senderID.
type ImageSaver interface {
	Save(ctx context.Context, senderID, encoded string) (capture.Record, error)
}

// State is the lifecycle position of a single connection.
type State int

const (
	StateUnidentified State = iota
	StateBoundController
	StateBoundCapture
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnidentified:
		return "unidentified"
	case StateBoundController:
		return "bound-controller"
	case StateBoundCapture:
		return "bound-capture"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session tracks one connection from connect to disconnect.
type Session struct {
	peer        Peer
	connectedAt time.Time

	mu      sync.Mutex
	state   State
	dropped int // relayed messages dropped since the last state change
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnectedAt returns the time the session was created.
func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// Dropped returns how many of the session's messages were dropped by the
// router since it last changed state.
func (s *Session) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Session) setState(state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return false
	}
	s.state = state
	s.dropped = 0
	return true
}

// noteDrop counts a dropped message and reports whether it is the first
// since the last state change.
func (s *Session) noteDrop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped++
	return s.dropped == 1
}

// Supervisor binds the registry, router and image store to connection
// lifecycles. It dispatches each inbound message by type and contains every
// failure: nothing it handles is reported back to peers.
type Supervisor struct {
	registry *Registry
	router   *Router
	images   ImageSaver

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSupervisor returns a supervisor owning registry. images may be nil, in
// which case captured-image messages are dropped.
func NewSupervisor(registry *Registry, images ImageSaver) *Supervisor {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Supervisor{
		registry: registry,
		router:   NewRouter(registry),
		images:   images,
		sessions: make(map[string]*Session),
	}
}

// Registry exposes the binding registry for status reporting.
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// Connect starts tracking p. The session is unidentified until p sends an identify message.
func (s *Supervisor) Connect(p Peer) *Session {
	sess := &Session{peer: p, connectedAt: time.Now(), state: StateUnidentified}

	s.mu.Lock()
	s.sessions[p.ID()] = sess
	s.mu.Unlock()

	log.Printf("[Relay] connection %s opened", p.ID())
	return sess
}

// Handle dispatches one inbound message. Messages for a single session must
// be handled sequentially to keep per-connection ordering.
func (s *Supervisor) Handle(ctx context.Context, sess *Session, msg Message) {
	if sess == nil || sess.State() == StateTerminated {
		return
	}
	peer := sess.peer

	switch msg.Type {
	case TypeIdentify:
		s.identify(sess, msg.Data)

	case TypeStream:
		if outcome := s.router.RouteStream(peer, msg); outcome != Delivered && outcome != DroppedNoRecipient {
			s.logDrop(sess, "stream", outcome)
		}

	case TypeCommand:
		if outcome := s.router.RouteCommand(peer, msg); outcome != Delivered {
			s.logDrop(sess, "command", outcome)
		}

	case TypeCapturedImage:
		s.saveImage(ctx, peer, msg.Data)

	default:
		log.Printf("[Relay] connection %s sent unknown message type %q", peer.ID(), msg.Type)
	}
}

// Disconnect releases any slot held by the session's connection. It is safe to call more than once.
func (s *Supervisor) Disconnect(sess *Session) {
	if sess == nil {
		return
	}
	role, bound := s.registry.RoleOf(sess.peer)
	dropped := sess.Dropped()
	if !sess.setState(StateTerminated) {
		return
	}

	s.mu.Lock()
	if s.sessions[sess.peer.ID()] == sess {
		delete(s.sessions, sess.peer.ID())
	}
	s.mu.Unlock()

	uptime := time.Since(sess.ConnectedAt()).Round(time.Millisecond)
	if dropped > 0 {
		log.Printf("[Relay] connection %s dropped %d messages since its last identify", sess.peer.ID(), dropped)
	}
	if s.registry.Release(sess.peer) && bound {
		log.Printf("[Relay] %s %s disconnected after %s, slot released", role, sess.peer.ID(), uptime)
		return
	}
	log.Printf("[Relay] connection %s closed after %s", sess.peer.ID(), uptime)
}

// logDrop logs only the first drop per session state; the total is
// reported at disconnect.
func (s *Supervisor) logDrop(sess *Session, kind string, outcome Outcome) {
	if sess.noteDrop() {
		log.Printf("[Relay] %s from %s %s (further drops not logged)", kind, sess.peer.ID(), outcome)
	}
}

func (s *Supervisor) identify(sess *Session, data json.RawMessage) {
	role, ok := identifyRole(data)
	if !ok {
		log.Printf("[Relay] connection %s sent identify with unknown role %s", sess.peer.ID(), string(data))
		return
	}

	state := StateBoundCapture
	if role == RoleController {
		state = StateBoundController
	}

	// Binding and session states change together so a displaced session
	// never reports a slot it no longer holds.
	s.mu.Lock()
	displaced := s.registry.Identify(sess.peer, role)
	sess.setState(state)
	if displaced != nil {
		if prev := s.sessions[displaced.ID()]; prev != nil && prev != sess {
			prev.setState(StateUnidentified)
		}
	}
	s.mu.Unlock()

	if displaced != nil {
		log.Printf("[Relay] %s %s displaced by %s", role, displaced.ID(), sess.peer.ID())
	}
	log.Printf("[Relay] %s bound: %s", role, sess.peer.ID())
}

func (s *Supervisor) saveImage(ctx context.Context, peer Peer, data json.RawMessage) {
	if !samePeer(s.registry.BoundCapture(), peer) {
		log.Printf("[Relay] captured-image from %s %s", peer.ID(), DroppedUnbound)
		return
	}
	if s.images == nil {
		log.Printf("[Relay] captured-image from %s dropped: no image store", peer.ID())
		return
	}

	var payload CapturedImage
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Printf("[Relay] captured-image from %s: malformed payload: %v", peer.ID(), err)
		return
	}

	rec, err := s.images.Save(ctx, peer.ID(), payload.Image)
	if err != nil {
		log.Printf("[Relay] captured-image from %s not saved: %v", peer.ID(), err)
		return
	}
	log.Printf("[Relay] image saved: %s (%d bytes)", rec.Filename, rec.Size)

	outcome, err := s.router.Acknowledge(ImageCaptured{Filename: rec.Filename, Timestamp: rec.Timestamp})
	if err != nil {
		log.Printf("[Relay] acknowledge %s: %v", rec.Filename, err)
		return
	}
	if outcome != Delivered {
		log.Printf("[Relay] acknowledgment for %s %s", rec.Filename, outcome)
	}
}
