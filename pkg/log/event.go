package log

import (
	"fmt"
	"strings"
	"time"

	"github.com/shipproto/ship-go/pkg/wire"
)

// Event is one captured protocol event. Exactly one of the payload
// pointers is set, matching Category. Keys are small integers on the wire.
type Event struct {
	Timestamp    time.Time `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint"`
	Direction    Direction `cbor:"3,keyasint"`
	Layer        Layer     `cbor:"4,keyasint"`
	Category     Category  `cbor:"5,keyasint"`
	LocalRole    Role      `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is host:port, PeerID the normalized peer SKI.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`
	PeerID     string `cbor:"8,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction is the flow of a message relative to the local side.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

// Layer is the protocol layer that produced an event.
type Layer uint8

const (
	LayerTransport Layer = iota
	LayerModeInit
	LayerHello
	LayerHandshake
	LayerGate
	LayerData
)

// Category classifies events.
type Category uint8

const (
	CategoryMessage Category = iota
	// CategoryControl covers transport ping, pong and close.
	CategoryControl
	CategoryState
	CategoryError
)

// Role is the local side's connection role.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleInitiator
	RoleResponder
)

var (
	directionNames = []string{"IN", "OUT"}
	layerNames     = []string{"TRANSPORT", "MODE_INIT", "HELLO", "HANDSHAKE", "GATE", "DATA"}
	categoryNames  = []string{"MESSAGE", "CONTROL", "STATE", "ERROR"}
	roleNames      = []string{"UNKNOWN", "INITIATOR", "RESPONDER"}
	entityNames    = []string{"CONNECTION", "TRUST"}
	controlNames   = []string{"PING", "PONG", "CLOSE"}
)

func name[T ~uint8](names []string, v T) string {
	if int(v) < len(names) {
		return names[v]
	}
	return "UNKNOWN"
}

// parseName matches s case-insensitively against names, treating '-' as '_'.
func parseName[T ~uint8](names []string, kind, s string) (T, error) {
	want := strings.ReplaceAll(strings.ToUpper(s), "-", "_")
	for i, n := range names {
		if n == want {
			return T(i), nil
		}
	}
	return 0, fmt.Errorf("invalid %s %q (want one of %s)", kind, s, strings.ToLower(strings.Join(names, ", ")))
}

func (d Direction) String() string      { return name(directionNames, d) }
func (l Layer) String() string          { return name(layerNames, l) }
func (c Category) String() string       { return name(categoryNames, c) }
func (r Role) String() string           { return name(roleNames, r) }
func (s StateEntity) String() string    { return name(entityNames, s) }
func (c ControlMsgType) String() string { return name(controlNames, c) }

// ParseDirection parses "in" or "out".
func ParseDirection(s string) (Direction, error) {
	return parseName[Direction](directionNames, "direction", s)
}

// ParseLayer parses a layer name such as "hello" or "mode-init".
func ParseLayer(s string) (Layer, error) {
	return parseName[Layer](layerNames, "layer", s)
}

// ParseCategory parses a category name such as "state".
func ParseCategory(s string) (Category, error) {
	return parseName[Category](categoryNames, "category", s)
}

// FrameEvent holds raw bytes seen by the transport. Size includes the
// length prefix; Data is cut at MaxFrameDataSize.
type FrameEvent struct {
	Size      int    `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`
}

// MessageEvent is a decoded frame. Summary renders it, e.g. "HELLO(approved)".
type MessageEvent struct {
	Type        wire.FrameType `cbor:"1,keyasint"`
	Summary     string         `cbor:"2,keyasint,omitempty"`
	PayloadSize int            `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent records a phase or trust transition.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

type StateEntity uint8

const (
	StateEntityConnection StateEntity = iota
	// StateEntityTrust is a local or remote trust decision.
	StateEntityTrust
)

// ControlMsgEvent records a transport control message.
type ControlMsgEvent struct {
	Type      ControlMsgType `cbor:"1,keyasint"`
	CloseCode *int           `cbor:"2,keyasint,omitempty"`
}

type ControlMsgType uint8

const (
	ControlMsgPing ControlMsgType = iota
	ControlMsgPong
	ControlMsgClose
)

// ErrorEventData records the error that ended a connection. Kind is the
// error classification, e.g. "TRUST_REJECTED".
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
	Kind    string `cbor:"3,keyasint,omitempty"`
	Context string `cbor:"4,keyasint,omitempty"`
}
