package ship

import (
	"fmt"
	"time"

	"github.com/shipproto/ship-go/pkg/timer"
	"github.com/shipproto/ship-go/pkg/wire"
)

// PurposeHandshakeWait bounds the format handshake.
const PurposeHandshakeWait timer.Purpose = "handshake.wait"

// Negotiate returns the first entry of proposal that supported contains.
// The proposer's order always wins.
func Negotiate(proposal, supported []wire.Format) (wire.Format, bool) {
	for _, p := range proposal {
		if containsFormat(supported, p) {
			return p, true
		}
	}
	return wire.Format{}, false
}

func containsFormat(list []wire.Format, f wire.Format) bool {
	for _, x := range list {
		if x == f {
			return true
		}
	}
	return false
}

// handshakeLayer agrees on one format. The initiator proposes its formats
// and verifies the responder's selection; the responder selects.
type handshakeLayer struct {
	env     env
	role    Role
	formats []wire.Format
	timeout time.Duration
}

func (h *handshakeLayer) start() (bool, error) {
	h.env.arm(PurposeHandshakeWait, h.timeout)
	if h.role == RoleInitiator {
		if err := h.env.send(wire.NewProposeFrame(h.formats)); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (h *handshakeLayer) onFrame(f wire.Frame) (bool, error) {
	switch {
	case f.Type == wire.FrameHandshakeError:
		msg, _ := f.HandshakeError()
		return false, h.env.fail(KindHandshakeFailed, "", fmt.Errorf("%w: %s", ErrPeerAborted, msg.Code))

	case h.role == RoleResponder && f.Type == wire.FrameHandshakePropose:
		msg, _ := f.Propose()
		choice, ok := Negotiate(msg.Formats, h.formats)
		if !ok {
			return false, h.abort(wire.HandshakeErrNoCommonFormat, KindHandshakeFailed, ErrNoCommonFormat)
		}
		if err := h.env.send(wire.NewSelectFrame(choice)); err != nil {
			return false, err
		}
		h.env.setFormat(choice)
		return true, nil

	case h.role == RoleInitiator && f.Type == wire.FrameHandshakeSelect:
		msg, _ := f.Select()
		if !containsFormat(h.formats, msg.Format) {
			return false, h.abort(wire.HandshakeErrSelectionMismatch, KindHandshakeFailed,
				fmt.Errorf("%w: %s", ErrSelectionInvalid, msg.Format))
		}
		h.env.setFormat(msg.Format)
		return true, nil
	}

	return false, h.abort(wire.HandshakeErrUnexpectedMessage, KindProtocolViolation,
		fmt.Errorf("unexpected %s frame", f.Type))
}

func (h *handshakeLayer) onTimer(p timer.Purpose) (bool, error) {
	if p != PurposeHandshakeWait {
		return false, nil
	}
	return false, h.abortTimeout(p)
}

// abort tells the peer why the handshake ends, then fails.
func (h *handshakeLayer) abort(code wire.HandshakeErrorCode, kind Kind, cause error) error {
	if err := h.env.send(wire.NewHandshakeErrorFrame(code)); err != nil {
		return err
	}
	return h.env.fail(kind, "", cause)
}

func (h *handshakeLayer) abortTimeout(p timer.Purpose) error {
	if err := h.env.send(wire.NewHandshakeErrorFrame(wire.HandshakeErrTimeout)); err != nil {
		return err
	}
	return h.env.fail(KindTimeout, p, nil)
}
