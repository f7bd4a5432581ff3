package node

import (
	"errors"
	"time"

	"github.com/shipproto/ship-go/pkg/ship"
)

// Node errors.
var (
	ErrNotStarted         = errors.New("node not started")
	ErrAlreadyStarted     = errors.New("node already started")
	ErrUnknownConnection  = errors.New("unknown connection")
	ErrTooManyConnections = errors.New("too many connections")
	ErrNoIdentity         = errors.New("identity is required")
)

// EventType identifies a node event.
type EventType uint8

const (
	// EventConnected - transport established, SHIP lifecycle starting.
	EventConnected EventType = iota

	// EventReady - connection reached the data phase.
	EventReady

	// EventData - payload received in the data phase.
	EventData

	// EventClosed - connection terminated. Err is nil after a graceful close.
	EventClosed
)

// String returns the event type name.
func (e EventType) String() string {
	switch e {
	case EventConnected:
		return "CONNECTED"
	case EventReady:
		return "READY"
	case EventData:
		return "DATA"
	case EventClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered to handlers registered with OnEvent.
type Event struct {
	Type EventType

	// ConnID is the connection identifier.
	ConnID string

	// PeerID is the peer SKI.
	PeerID string

	RemoteAddr string
	Role       ship.Role

	// Data is the payload of EventData.
	Data []byte

	// Err is the terminal error of EventClosed.
	Err error
}

// EventHandler handles node events. Handlers run on the connection's
// goroutine; a slow handler stalls that connection only.
type EventHandler func(Event)

// ConnectionInfo describes a tracked connection.
type ConnectionInfo struct {
	ID         string
	PeerID     string
	RemoteAddr string
	Role       ship.Role
	Phase      ship.Phase
	Since      time.Time
}
