package relay

import (
	"encoding/json"
	"fmt"
)

// Role is the slot a connection declares via an identify message. The wire
// values are the names the front-end pages send.
type Role string

const (
	RoleController Role = "admin"
	RoleCapture    Role = "client"
)

// ParseRole maps a wire role to a Role. Matching is exact; unknown roles are rejected.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleController:
		return RoleController, true
	case RoleCapture:
		return RoleCapture, true
	default:
		return "", false
	}
}

func (r Role) String() string {
	switch r {
	case RoleController:
		return "controller"
	case RoleCapture:
		return "capture"
	default:
		return "unknown"
	}
}

// Message types carried in the envelope.
const (
	TypeIdentify      = "identify"
	TypeStream        = "stream"
	TypeCommand       = "command"
	TypeCapturedImage = "captured-image"
	TypeImageCaptured = "image-captured"
)

// Message is the envelope exchanged with peers. Text frames carry it as
// JSON; binary frames populate Binary and are only valid as stream frames.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`

	Binary []byte `json:"-"`
}

// IsBinary reports whether the message arrived as (or must be written as) a binary frame.
func (m Message) IsBinary() bool {
	return m.Binary != nil
}

// CapturedImage is the payload of a captured-image message.
type CapturedImage struct {
	Image string `json:"image"`
}

// ImageCaptured is the acknowledgment sent to the controller after a save.
type ImageCaptured struct {
	Filename  string `json:"filename"`
	Timestamp string `json:"timestamp"`
}

// NewMessage builds a text message with data encoded as JSON.
func NewMessage(msgType string, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("relay: encode %s: %w", msgType, err)
	}
	return Message{Type: msgType, Data: raw}, nil
}

// identifyRole extracts the declared role from an identify payload. Both a
// bare string ("admin") and an object ({"role":"admin"}) are accepted.
func identifyRole(data json.RawMessage) (Role, bool) {
	var role string
	if err := json.Unmarshal(data, &role); err != nil {
		var obj struct {
			Role string `json:"role"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", false
		}
		role = obj.Role
	}
	return ParseRole(role)
}
