package relay

// Outcome describes what happened to a routed message.
type Outcome int

const (
	// Delivered means the message was handed to the recipient's connection.
	Delivered Outcome = iota
	// DroppedUnbound means the sender does not hold the slot required to send this message.
	DroppedUnbound
	// DroppedNoRecipient means the opposite slot is empty.
	DroppedNoRecipient
	// DroppedSendFailed means the recipient rejected the message (closed or backlogged).
	DroppedSendFailed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case DroppedUnbound:
		return "dropped: sender not bound"
	case DroppedNoRecipient:
		return "dropped: no recipient"
	case DroppedSendFailed:
		return "dropped: send failed"
	default:
		return "unknown"
	}
}

// Router forwards stream frames capture→controller and commands
// controller→capture. Authority is checked against a single registry
// snapshot taken at call time; payloads are forwarded unchanged.
type Router struct {
	registry *Registry
}

// NewRouter returns a router reading bindings from registry.
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// RouteStream forwards msg to the bound controller iff sender is the bound capture peer.
func (r *Router) RouteStream(sender Peer, msg Message) Outcome {
	b := r.registry.Snapshot()
	if !samePeer(b.Capture, sender) {
		return DroppedUnbound
	}
	return deliver(b.Controller, Message{Type: TypeStream, Data: msg.Data, Binary: msg.Binary})
}

// RouteCommand forwards msg to the bound capture peer iff sender is the bound controller.
func (r *Router) RouteCommand(sender Peer, msg Message) Outcome {
	b := r.registry.Snapshot()
	if !samePeer(b.Controller, sender) {
		return DroppedUnbound
	}
	return deliver(b.Capture, Message{Type: TypeCommand, Data: msg.Data})
}

// Acknowledge sends an image-captured notification to the bound
// controller, if any. Nothing is queued when no controller is bound.
func (r *Router) Acknowledge(ack ImageCaptured) (Outcome, error) {
	msg, err := NewMessage(TypeImageCaptured, ack)
	if err != nil {
		return DroppedSendFailed, err
	}
	return deliver(r.registry.BoundController(), msg), nil
}

func deliver(to Peer, msg Message) Outcome {
	if to == nil {
		return DroppedNoRecipient
	}
	if err := to.Send(msg); err != nil {
		return DroppedSendFailed
	}
	return Delivered
}
