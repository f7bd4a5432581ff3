package ship

import (
	"fmt"

	"github.com/shipproto/ship-go/pkg/timer"
	"github.com/shipproto/ship-go/pkg/wire"
)

// dataLayer relays payloads unchanged. A Close frame from the peer
// completes the phase, which the connection treats as a graceful close.
type dataLayer struct {
	env env
}

func (d *dataLayer) start() (bool, error) {
	return false, nil
}

func (d *dataLayer) onFrame(f wire.Frame) (bool, error) {
	switch f.Type {
	case wire.FrameData:
		return false, d.env.deliver(f.Payload)
	case wire.FrameClose:
		return true, nil
	}
	return false, d.env.fail(KindProtocolViolation, "", fmt.Errorf("unexpected %s frame", f.Type))
}

func (d *dataLayer) onTimer(timer.Purpose) (bool, error) {
	return false, nil
}
