package ship

import (
	"fmt"
	"time"

	"github.com/shipproto/ship-go/pkg/timer"
	"github.com/shipproto/ship-go/pkg/wire"
)

// PurposeModeInitWait bounds the wait for the peer's mode-init frame.
const PurposeModeInitWait timer.Purpose = "mode-init.wait"

// modeInitLayer confirms both peers speak the protocol. The initiator
// announces and waits for the acknowledgement; the responder waits for the
// announcement and acknowledges it.
type modeInitLayer struct {
	env     env
	role    Role
	timeout time.Duration
}

func (m *modeInitLayer) start() (bool, error) {
	m.env.arm(PurposeModeInitWait, m.timeout)
	if m.role == RoleInitiator {
		if err := m.env.send(wire.ModeInitFrame()); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (m *modeInitLayer) onFrame(f wire.Frame) (bool, error) {
	switch {
	case m.role == RoleInitiator && f.Type == wire.FrameModeInitAck:
		return true, nil
	case m.role == RoleResponder && f.Type == wire.FrameModeInit:
		if err := m.env.send(wire.ModeInitAckFrame()); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, m.env.fail(KindProtocolViolation, "", fmt.Errorf("unexpected %s frame", f.Type))
}

func (m *modeInitLayer) onTimer(p timer.Purpose) (bool, error) {
	if p != PurposeModeInitWait {
		return false, nil
	}
	return false, m.env.fail(KindTimeout, p, nil)
}
