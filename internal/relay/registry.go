package relay

import "sync"

// Peer is a live bidirectional connection. ID is assigned at connect time
// and is unique for the lifetime of the process; the registry compares
// peers by ID only.
type Peer interface {
	ID() string
	Send(Message) error
}

// Binding is a point-in-time copy of both slots. Either field may be nil.
type Binding struct {
	Controller Peer
	Capture    Peer
}

// Registry tracks at most one controller and one capture connection.
// Identify is last-writer-wins: a second connection declaring an occupied
// role displaces the occupant, which stays connected but unbound.
type Registry struct {
	mu         sync.RWMutex
	controller Peer
	capture    Peer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Identify binds p into the slot for role and returns the peer it
// displaced, if any. A peer holding the other slot vacates it first, so a
// connection never occupies both slots. Unknown roles are ignored.
func (r *Registry) Identify(p Peer, role Role) Peer {
	if p == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var slot, other *Peer
	switch role {
	case RoleController:
		slot, other = &r.controller, &r.capture
	case RoleCapture:
		slot, other = &r.capture, &r.controller
	default:
		return nil
	}

	if samePeer(*other, p) {
		*other = nil
	}

	var displaced Peer
	if *slot != nil && !samePeer(*slot, p) {
		displaced = *slot
	}
	*slot = p
	return displaced
}

// Release clears whichever slot holds p and reports whether one did.
func (r *Registry) Release(p Peer) bool {
	if p == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	released := false
	if samePeer(r.controller, p) {
		r.controller = nil
		released = true
	}
	if samePeer(r.capture, p) {
		r.capture = nil
		released = true
	}
	return released
}

// BoundController returns the controller slot occupant or nil.
func (r *Registry) BoundController() Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.controller
}

// BoundCapture returns the capture slot occupant or nil.
func (r *Registry) BoundCapture() Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.capture
}

// Snapshot returns both slots read under one lock.
func (r *Registry) Snapshot() Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Binding{Controller: r.controller, Capture: r.capture}
}

// RoleOf returns the role whose slot p currently occupies.
func (r *Registry) RoleOf(p Peer) (Role, bool) {
	b := r.Snapshot()
	switch {
	case samePeer(b.Controller, p):
		return RoleController, true
	case samePeer(b.Capture, p):
		return RoleCapture, true
	default:
		return "", false
	}
}

func samePeer(a, b Peer) bool {
	if a == nil || b == nil {
		return false
	}
	return a.ID() == b.ID()
}
