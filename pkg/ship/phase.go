package ship

import (
	"fmt"

	"github.com/shipproto/ship-go/pkg/log"
)

// Role is the fixed role of the local side for the lifetime of a connection.
type Role uint8

const (
	// RoleInitiator opened the transport and speaks first.
	RoleInitiator Role = iota + 1
	// RoleResponder accepted the transport.
	RoleResponder
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

func (r Role) logRole() log.Role {
	switch r {
	case RoleInitiator:
		return log.RoleInitiator
	case RoleResponder:
		return log.RoleResponder
	default:
		return log.RoleUnknown
	}
}

// Phase is the position of a connection in the layer sequence.
// Phases only move forward.
type Phase int32

const (
	PhaseModeInit Phase = iota
	PhaseHello
	PhaseHandshake
	PhaseGate
	PhaseData
	PhaseClosed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseModeInit:
		return "MODE_INIT"
	case PhaseHello:
		return "HELLO"
	case PhaseHandshake:
		return "HANDSHAKE"
	case PhaseGate:
		return "GATE"
	case PhaseData:
		return "DATA"
	case PhaseClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("PHASE(%d)", int32(p))
	}
}

func (p Phase) logLayer() log.Layer {
	switch p {
	case PhaseModeInit:
		return log.LayerModeInit
	case PhaseHello:
		return log.LayerHello
	case PhaseHandshake:
		return log.LayerHandshake
	case PhaseGate:
		return log.LayerGate
	default:
		return log.LayerData
	}
}
