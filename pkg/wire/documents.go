package wire

import (
	"errors"
	"fmt"
)

// MaxFormats is the maximum number of entries in a HandshakePropose.
const MaxFormats = 16

// MaxFormatNameLength bounds the format name length.
const MaxFormatNameLength = 64

// TrustDecision is the trust state a peer announces in a Hello frame.
// The zero value is invalid on the wire so that a missing key is rejected.
type TrustDecision uint8

const (
	// TrustUndecided means the local decision is still pending.
	TrustUndecided TrustDecision = 1
	// TrustApproved means the sender trusts its peer.
	TrustApproved TrustDecision = 2
	// TrustRejected means the sender refuses its peer.
	TrustRejected TrustDecision = 3
)

// String returns the decision name.
func (d TrustDecision) String() string {
	switch d {
	case TrustUndecided:
		return "undecided"
	case TrustApproved:
		return "approved"
	case TrustRejected:
		return "rejected"
	default:
		return fmt.Sprintf("decision(%d)", uint8(d))
	}
}

// Hello carries one side's trust decision.
type Hello struct {
	Decision TrustDecision `cbor:"1,keyasint"`

	// ProlongationRequest asks the peer to extend its wait for our decision.
	// Only valid together with TrustUndecided.
	ProlongationRequest bool `cbor:"2,keyasint,omitempty"`

	// Waiting is how long the sender is still willing to wait, in milliseconds.
	Waiting uint32 `cbor:"3,keyasint,omitempty"`
}

// Validate checks the structural rules of a Hello document.
func (h *Hello) Validate() error {
	switch h.Decision {
	case TrustUndecided, TrustApproved, TrustRejected:
	default:
		return fmt.Errorf("unknown trust decision %d", h.Decision)
	}
	if h.ProlongationRequest && h.Decision != TrustUndecided {
		return fmt.Errorf("prolongation request with decision %s", h.Decision)
	}
	return nil
}

// Format identifies a message representation and its version.
type Format struct {
	Name  string `cbor:"1,keyasint"`
	Major uint16 `cbor:"2,keyasint"`
	Minor uint16 `cbor:"3,keyasint"`
}

// String returns the format as "name/major.minor".
func (f Format) String() string {
	return fmt.Sprintf("%s/%d.%d", f.Name, f.Major, f.Minor)
}

// Validate checks that the format has a usable name.
func (f Format) Validate() error {
	if f.Name == "" {
		return errors.New("empty format name")
	}
	if len(f.Name) > MaxFormatNameLength {
		return fmt.Errorf("format name too long: %d", len(f.Name))
	}
	return nil
}

// HandshakePropose lists the initiator's formats, most preferred first.
type HandshakePropose struct {
	Formats []Format `cbor:"1,keyasint"`
}

// Validate checks the proposal is non-empty, bounded and well-formed.
func (p *HandshakePropose) Validate() error {
	if len(p.Formats) == 0 {
		return errors.New("empty format list")
	}
	if len(p.Formats) > MaxFormats {
		return fmt.Errorf("too many formats: %d > %d", len(p.Formats), MaxFormats)
	}
	for i, f := range p.Formats {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("format %d: %w", i, err)
		}
	}
	return nil
}

// HandshakeSelect carries the responder's choice.
type HandshakeSelect struct {
	Format Format `cbor:"1,keyasint"`
}

// Validate checks the selected format.
func (s *HandshakeSelect) Validate() error {
	return s.Format.Validate()
}

// HandshakeErrorCode explains why a handshake was aborted.
type HandshakeErrorCode uint8

const (
	HandshakeErrTimeout           HandshakeErrorCode = 1
	HandshakeErrUnexpectedMessage HandshakeErrorCode = 2
	HandshakeErrSelectionMismatch HandshakeErrorCode = 3
	HandshakeErrNoCommonFormat    HandshakeErrorCode = 4
)

// String returns the code name.
func (c HandshakeErrorCode) String() string {
	switch c {
	case HandshakeErrTimeout:
		return "timeout"
	case HandshakeErrUnexpectedMessage:
		return "unexpected message"
	case HandshakeErrSelectionMismatch:
		return "selection mismatch"
	case HandshakeErrNoCommonFormat:
		return "no common format"
	default:
		return fmt.Sprintf("code(%d)", uint8(c))
	}
}

// HandshakeError aborts the handshake.
type HandshakeError struct {
	Code HandshakeErrorCode `cbor:"1,keyasint"`
}

// Validate requires a non-zero code. Unknown codes are accepted.
func (e *HandshakeError) Validate() error {
	if e.Code == 0 {
		return errors.New("missing error code")
	}
	return nil
}

// GateLevel is the access-gate requirement a side announces.
// Only GateNone can be completed; every other value is opaque.
type GateLevel uint8

const (
	GateNone     GateLevel = 1
	GateRequired GateLevel = 2
	GateOptional GateLevel = 3
	GateOK       GateLevel = 4
)

// String returns the level name.
func (l GateLevel) String() string {
	switch l {
	case GateNone:
		return "none"
	case GateRequired:
		return "required"
	case GateOptional:
		return "optional"
	case GateOK:
		return "ok"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// Gate announces the sender's access-gate level.
type Gate struct {
	Level GateLevel `cbor:"1,keyasint"`
}

// Validate requires the level key to be present.
func (g *Gate) Validate() error {
	if g.Level == 0 {
		return errors.New("missing gate level")
	}
	return nil
}

// Close is the optional document of a Close frame.
type Close struct {
	Reason string `cbor:"1,keyasint,omitempty"`
}

// Validate always succeeds.
func (c *Close) Validate() error {
	return nil
}
