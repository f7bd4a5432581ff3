package ship

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shipproto/ship-go/pkg/log"
	"github.com/shipproto/ship-go/pkg/timer"
	"github.com/shipproto/ship-go/pkg/trust"
	"github.com/shipproto/ship-go/pkg/wire"
)

// Hello deadlines.
const (
	// PurposeHelloMaxWait bounds the whole negotiation and is armed once.
	PurposeHelloMaxWait timer.Purpose = "hello.max-wait"

	// PurposeHelloPeerWait bounds the wait for the peer's decision and is
	// re-armed on every prolongation request from the peer.
	PurposeHelloPeerWait timer.Purpose = "hello.peer-wait"

	// PurposeHelloProlong schedules our next prolongation request.
	PurposeHelloProlong timer.Purpose = "hello.prolong"

	// PurposeHelloTrustPoll schedules the next trust policy evaluation.
	PurposeHelloTrustPoll timer.Purpose = "hello.trust-poll"
)

// Bounds for deriving our prolongation cadence from the peer's Waiting.
const (
	prolongThreshold = 30 * time.Second
	prolongGap       = 15 * time.Second
	prolongMin       = time.Second
)

var errWithdrawn = errors.New("peer withdrew its approval")

// helloLayer negotiates mutual trust. It completes once both sides have
// sent and received approved. While the local decision is pending it sends
// prolongation requests and re-polls the trust policy; the max-wait
// deadline ends the negotiation regardless of prolongations.
type helloLayer struct {
	env    env
	cfg    *Config
	peer   trust.Peer
	local  wire.TrustDecision
	remote wire.TrustDecision // zero until the peer's first Hello
}

func newHelloLayer(e env, cfg *Config, peer trust.Peer) *helloLayer {
	return &helloLayer{env: e, cfg: cfg, peer: peer}
}

func (h *helloLayer) start() (bool, error) {
	h.env.arm(PurposeHelloMaxWait, h.cfg.HelloMaxWait)
	h.env.arm(PurposeHelloPeerWait, h.cfg.HelloPeerWait)
	h.setLocal(wire.TrustUndecided)
	return h.evaluate(true)
}

// evaluate consults the trust policy. The first evaluation also announces
// a pending decision and starts the prolongation cadence.
func (h *helloLayer) evaluate(first bool) (bool, error) {
	switch h.cfg.Trust.Evaluate(h.peer) {
	case trust.Approved:
		h.env.cancel(PurposeHelloProlong)
		h.env.cancel(PurposeHelloTrustPoll)
		h.setLocal(wire.TrustApproved)
		if err := h.announce(false); err != nil {
			return false, err
		}
		return h.complete(), nil

	case trust.Rejected:
		return false, h.reject("", ErrLocalRejected)
	}

	if first {
		if err := h.announce(true); err != nil {
			return false, err
		}
		h.env.arm(PurposeHelloProlong, h.cfg.HelloProlongInterval)
	}
	h.env.arm(PurposeHelloTrustPoll, h.cfg.TrustPollInterval)
	return false, nil
}

func (h *helloLayer) onFrame(f wire.Frame) (bool, error) {
	msg, ok := f.Hello()
	if !ok {
		return false, h.env.fail(KindProtocolViolation, "", fmt.Errorf("unexpected %s frame", f.Type))
	}

	if msg.Waiting > 0 && h.local == wire.TrustUndecided {
		h.env.arm(PurposeHelloProlong, prolongDelay(time.Duration(msg.Waiting)*time.Millisecond))
	}

	switch msg.Decision {
	case wire.TrustRejected:
		h.setRemote(wire.TrustRejected)
		return false, h.env.fail(KindTrustRejected, "", ErrPeerRejected)

	case wire.TrustApproved:
		h.setRemote(wire.TrustApproved)
		h.env.cancel(PurposeHelloPeerWait)
		return h.complete(), nil
	}

	if h.remote == wire.TrustApproved {
		return false, h.env.fail(KindProtocolViolation, "", errWithdrawn)
	}
	h.setRemote(wire.TrustUndecided)

	if msg.ProlongationRequest {
		// Granted: the reply carries the renewed wait.
		h.env.arm(PurposeHelloPeerWait, h.cfg.HelloPeerWait)
		if err := h.announce(false); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (h *helloLayer) onTimer(p timer.Purpose) (bool, error) {
	switch p {
	case PurposeHelloMaxWait, PurposeHelloPeerWait:
		return false, h.reject(p, ErrTimeout)

	case PurposeHelloProlong:
		if h.local != wire.TrustUndecided {
			return false, nil
		}
		if err := h.announce(true); err != nil {
			return false, err
		}
		h.env.arm(PurposeHelloProlong, h.cfg.HelloProlongInterval)
		return false, nil

	case PurposeHelloTrustPoll:
		if h.local != wire.TrustUndecided {
			return false, nil
		}
		return h.evaluate(false)
	}
	return false, nil
}

// reject notifies the peer and fails the connection.
func (h *helloLayer) reject(p timer.Purpose, cause error) error {
	h.setLocal(wire.TrustRejected)
	if err := h.env.send(wire.NewHelloFrame(wire.Hello{Decision: wire.TrustRejected})); err != nil {
		return err
	}
	return h.env.fail(KindTrustRejected, p, cause)
}

func (h *helloLayer) announce(prolong bool) error {
	return h.env.send(wire.NewHelloFrame(wire.Hello{
		Decision:            h.local,
		ProlongationRequest: prolong,
		Waiting:             millis(h.waiting()),
	}))
}

// waiting is how long the peer has left before we give up on it.
func (h *helloLayer) waiting() time.Duration {
	w := h.env.remaining(PurposeHelloMaxWait)
	if pw := h.env.remaining(PurposeHelloPeerWait); pw > 0 {
		w = min(w, pw)
	}
	return w
}

// prolongDelay schedules the next prolongation request well before the
// peer's advertised wait runs out.
func prolongDelay(waiting time.Duration) time.Duration {
	d := waiting - prolongGap
	if waiting < prolongThreshold {
		d = waiting / 2
	}
	return max(d, prolongMin)
}

func (h *helloLayer) complete() bool {
	return h.local == wire.TrustApproved && h.remote == wire.TrustApproved
}

func (h *helloLayer) setLocal(d wire.TrustDecision) {
	if h.local != d {
		h.env.trace(log.StateEntityTrust, "local:"+decisionName(h.local), "local:"+d.String())
		h.local = d
	}
}

func (h *helloLayer) setRemote(d wire.TrustDecision) {
	if h.remote != d {
		h.env.trace(log.StateEntityTrust, "remote:"+decisionName(h.remote), "remote:"+d.String())
		h.remote = d
	}
}

func decisionName(d wire.TrustDecision) string {
	if d == 0 {
		return "init"
	}
	return d.String()
}

func millis(d time.Duration) uint32 {
	ms := d.Milliseconds()
	switch {
	case ms <= 0:
		return 0
	case ms > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(ms)
}
