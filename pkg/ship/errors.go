package ship

import (
	"errors"
	"fmt"

	"github.com/shipproto/ship-go/pkg/timer"
)

// Error kind sentinels, matched by errors.Is against an *Error.
var (
	ErrTransport         = errors.New("transport error")
	ErrDecode            = errors.New("decode error")
	ErrTimeout           = errors.New("timeout")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrHandshakeFailed   = errors.New("handshake failed")
	ErrTrustRejected     = errors.New("trust rejected")
	ErrGateUnsupported   = errors.New("unsupported access gate required")
	ErrAborted           = errors.New("connection aborted")
)

// API errors.
var (
	// ErrNotInDataPhase is returned by Send before the Data phase or after close.
	ErrNotInDataPhase = errors.New("not in data phase")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("connection already running")

	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("invalid connection config")
)

// Causes wrapped inside an *Error.
var (
	ErrPeerRejected     = errors.New("peer rejected trust")
	ErrLocalRejected    = errors.New("trust policy rejected peer")
	ErrNoCommonFormat   = errors.New("no common format")
	ErrSelectionInvalid = errors.New("selected format was not proposed")
	ErrPeerAborted      = errors.New("peer aborted handshake")
	ErrAbortRequested   = errors.New("abort requested")
	ErrCloseBeforeData  = errors.New("closed before data phase")
)

// Kind classifies a terminal connection error.
type Kind uint8

const (
	KindTransport Kind = iota + 1
	KindDecode
	KindTimeout
	KindProtocolViolation
	KindHandshakeFailed
	KindTrustRejected
	KindGateUnsupported
	KindAborted
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "TRANSPORT_ERROR"
	case KindDecode:
		return "DECODE_ERROR"
	case KindTimeout:
		return "TIMEOUT"
	case KindProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case KindHandshakeFailed:
		return "HANDSHAKE_FAILED"
	case KindTrustRejected:
		return "TRUST_REJECTED"
	case KindGateUnsupported:
		return "GATE_UNSUPPORTED"
	case KindAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindDecode:
		return ErrDecode
	case KindTimeout:
		return ErrTimeout
	case KindProtocolViolation:
		return ErrProtocolViolation
	case KindHandshakeFailed:
		return ErrHandshakeFailed
	case KindTrustRejected:
		return ErrTrustRejected
	case KindGateUnsupported:
		return ErrGateUnsupported
	case KindAborted:
		return ErrAborted
	default:
		return nil
	}
}

// Error is the single terminal error of a connection.
type Error struct {
	// Phase in which the connection failed.
	Phase Phase

	// Kind classifies the failure.
	Kind Kind

	// Purpose names the deadline that elapsed, if a timer caused the failure.
	Purpose timer.Purpose

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("ship: %s in %s", e.Kind.sentinel(), e.Phase)
	if e.Purpose != "" {
		msg += fmt.Sprintf(" (%s)", e.Purpose)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// newError builds the terminal error for a failure in phase. Mode-init and
// handshake failures other than transport errors and aborts surface as
// KindHandshakeFailed, keeping the underlying kind reachable through Unwrap.
func newError(phase Phase, kind Kind, purpose timer.Purpose, cause error) *Error {
	if phase == PhaseModeInit || phase == PhaseHandshake {
		switch kind {
		case KindTimeout, KindDecode, KindProtocolViolation:
			if cause == nil {
				cause = kind.sentinel()
			} else {
				cause = fmt.Errorf("%w: %w", kind.sentinel(), cause)
			}
			kind = KindHandshakeFailed
		}
	}
	return &Error{Phase: phase, Kind: kind, Purpose: purpose, Err: cause}
}

// KindOf returns the kind of a connection error, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
