package ship

import (
	"fmt"
	"time"

	"github.com/shipproto/ship-go/pkg/timer"
	"github.com/shipproto/ship-go/pkg/wire"
)

// PurposeGateWait bounds the wait for the peer's gate announcement.
const PurposeGateWait timer.Purpose = "gate.wait"

// gateLayer exchanges access-gate levels. Only GateNone on both sides
// clears the gate; anything else fails with KindGateUnsupported.
type gateLayer struct {
	env     env
	level   wire.GateLevel
	timeout time.Duration
}

func (g *gateLayer) start() (bool, error) {
	if err := g.env.send(wire.NewGateFrame(g.level)); err != nil {
		return false, err
	}
	if g.level != wire.GateNone {
		return false, g.env.fail(KindGateUnsupported, "", fmt.Errorf("local side requires gate %s", g.level))
	}
	g.env.arm(PurposeGateWait, g.timeout)
	return false, nil
}

func (g *gateLayer) onFrame(f wire.Frame) (bool, error) {
	msg, ok := f.Gate()
	if !ok {
		return false, g.env.fail(KindProtocolViolation, "", fmt.Errorf("unexpected %s frame", f.Type))
	}
	g.env.setPeerGate(msg.Level)
	if msg.Level != wire.GateNone {
		return false, g.env.fail(KindGateUnsupported, "", fmt.Errorf("peer requires gate %s", msg.Level))
	}
	return true, nil
}

func (g *gateLayer) onTimer(p timer.Purpose) (bool, error) {
	if p != PurposeGateWait {
		return false, nil
	}
	return false, g.env.fail(KindTimeout, p, nil)
}
