package ship

import (
	"time"

	"github.com/shipproto/ship-go/pkg/log"
	"github.com/shipproto/ship-go/pkg/timer"
	"github.com/shipproto/ship-go/pkg/wire"
)

// layer is one phase of the lifecycle. The connection routes every frame
// and claimed timer expiry to the layer of the current phase. A layer
// returns done when its phase is complete; it never refers to other layers.
type layer interface {
	start() (done bool, err error)
	onFrame(f wire.Frame) (done bool, err error)
	onTimer(p timer.Purpose) (done bool, err error)
}

// env is what a layer may do to its connection.
type env interface {
	send(f wire.Frame) error
	arm(p timer.Purpose, d time.Duration)
	cancel(p timer.Purpose)
	remaining(p timer.Purpose) time.Duration
	fail(kind Kind, purpose timer.Purpose, cause error) error
	trace(entity log.StateEntity, oldState, newState string)
	setFormat(f wire.Format)
	setPeerGate(l wire.GateLevel)
	deliver(payload []byte) error
}

var _ env = (*Connection)(nil)
