package ship

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipproto/ship-go/pkg/transport"
	"github.com/shipproto/ship-go/pkg/trust"
	"github.com/shipproto/ship-go/pkg/wire"
)

// switchPolicy returns a stored decision, changeable while running.
type switchPolicy struct {
	decision atomic.Int32
	calls    atomic.Int32
}

func (p *switchPolicy) Evaluate(trust.Peer) trust.Decision {
	p.calls.Add(1)
	return trust.Decision(p.decision.Load())
}

func (p *switchPolicy) set(d trust.Decision) {
	p.decision.Store(int32(d))
}

// expectFrame reads the next frame from a scripted peer and checks its type.
func expectFrame(t *testing.T, tr transport.Conn, want wire.FrameType) wire.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	data, err := tr.ReceiveFrame(ctx)
	require.NoError(t, err)
	f, err := wire.Decode(data)
	require.NoError(t, err)
	require.Equal(t, want, f.Type, "got %s", f)
	return f
}

func sendFrame(t *testing.T, tr transport.Conn, f wire.Frame) {
	t.Helper()
	require.NoError(t, tr.SendFrame(wire.Encode(f)))
}

func TestHelloBothApproved(t *testing.T) {
	a, b, _ := startPair(t, nil)
	a.waitReady(t)
	b.waitReady(t)
}

func TestHelloLocalReject(t *testing.T) {
	tests := []struct {
		name     string
		rejecter Role
	}{
		{name: "responder rejects", rejecter: RoleResponder},
		{name: "initiator rejects", rejecter: RoleInitiator},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b, _ := startPair(t, func(init, resp *Config) {
				if tt.rejecter == RoleInitiator {
					init.Trust = trust.DenyAll()
				} else {
					resp.Trust = trust.DenyAll()
				}
			})

			rejecter, other := b, a
			if tt.rejecter == RoleInitiator {
				rejecter, other = a, b
			}

			err := rejecter.result(t)
			assert.ErrorIs(t, err, ErrTrustRejected)
			assert.ErrorIs(t, err, ErrLocalRejected)

			err = other.result(t)
			assert.ErrorIs(t, err, ErrTrustRejected)
			assert.ErrorIs(t, err, ErrPeerRejected)

			var e *Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, PhaseHello, e.Phase)
		})
	}
}

func TestHelloProlongationThenApproval(t *testing.T) {
	policy := &switchPolicy{}
	a, b, clk := startPair(t, func(_, resp *Config) { resp.Trust = policy })

	b.waitTimer(t, PurposeHelloProlong)
	a.waitTimer(t, PurposeHelloMaxWait)

	// Well past the peer wait; the responder's prolongation requests keep
	// the initiator waiting.
	advance(clk, 50*time.Second, time.Second)
	assert.Equal(t, PhaseHello, a.Status())
	assert.Equal(t, PhaseHello, b.Status())
	assert.Greater(t, policy.calls.Load(), int32(10), "policy should be polled")

	policy.set(trust.Approved)
	advance(clk, 2*time.Second, time.Second)

	a.waitReady(t)
	b.waitReady(t)
}

func TestHelloMaxWaitNeverExtended(t *testing.T) {
	policy := &switchPolicy{}
	a, b, clk := startPair(t, func(init, resp *Config) {
		init.HelloMaxWait = 2 * DefaultHelloMaxWait
		resp.Trust = policy
	})

	b.waitTimer(t, PurposeHelloMaxWait)
	a.waitTimer(t, PurposeHelloMaxWait)

	advance(clk, DefaultHelloMaxWait-time.Second, time.Second)
	assert.Equal(t, PhaseHello, b.Status())

	advance(clk, 2*time.Second, time.Second)

	err := b.result(t)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindTrustRejected, e.Kind)
	assert.Equal(t, PurposeHelloMaxWait, e.Purpose)
	assert.ErrorIs(t, err, ErrTimeout)

	err = a.result(t)
	assert.ErrorIs(t, err, ErrTrustRejected)
	assert.ErrorIs(t, err, ErrPeerRejected)

	// Approval after the deadline changes nothing.
	policy.set(trust.Approved)
	assert.Equal(t, PhaseClosed, b.Status())
}

func TestHelloPeerWaitTimeout(t *testing.T) {
	clk := clock.NewMock()
	local, remote := transport.Pipe()
	a := run(t, local, testConfig(RoleInitiator, clk))

	expectFrame(t, remote, wire.FrameModeInit)
	sendFrame(t, remote, wire.ModeInitAckFrame())

	hello := expectFrame(t, remote, wire.FrameHello)
	msg, _ := hello.Hello()
	assert.Equal(t, wire.TrustApproved, msg.Decision)

	// A pending peer that never asks for more time.
	sendFrame(t, remote, wire.NewHelloFrame(wire.Hello{Decision: wire.TrustUndecided}))
	a.waitTimer(t, PurposeHelloPeerWait)
	advance(clk, DefaultHelloPeerWait, time.Second)

	rejected := expectFrame(t, remote, wire.FrameHello)
	msg, _ = rejected.Hello()
	assert.Equal(t, wire.TrustRejected, msg.Decision)

	err := a.result(t)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindTrustRejected, e.Kind)
	assert.Equal(t, PurposeHelloPeerWait, e.Purpose)
}

var prolongRequest = wire.NewHelloFrame(wire.Hello{Decision: wire.TrustUndecided, ProlongationRequest: true})

func TestHelloApprovedSideAnswersProlongation(t *testing.T) {
	clk := clock.NewMock()
	local, remote := transport.Pipe()
	a := run(t, local, testConfig(RoleInitiator, clk))

	expectFrame(t, remote, wire.FrameModeInit)
	sendFrame(t, remote, wire.ModeInitAckFrame())
	hello := expectFrame(t, remote, wire.FrameHello)
	msg, _ := hello.Hello()
	require.Equal(t, wire.TrustApproved, msg.Decision)
	a.waitTimer(t, PurposeHelloPeerWait)

	// A pending peer that prolongs within the advertised wait is never cut
	// off, well past a single peer wait.
	for i := 0; i < 4; i++ {
		waiting := time.Duration(msg.Waiting) * time.Millisecond
		require.Equal(t, DefaultHelloPeerWait, waiting)
		advance(clk, prolongDelay(waiting), time.Second)

		sendFrame(t, remote, prolongRequest)
		reply := expectFrame(t, remote, wire.FrameHello)
		msg, _ = reply.Hello()
		assert.Equal(t, wire.TrustApproved, msg.Decision)
		assert.False(t, msg.ProlongationRequest)
	}
	assert.Equal(t, PhaseHello, a.Status())

	sendFrame(t, remote, wire.NewHelloFrame(wire.Hello{Decision: wire.TrustApproved}))
	expectFrame(t, remote, wire.FrameHandshakePropose)
	a.waitTimer(t, PurposeHandshakeWait)
}

func TestProlongDelay(t *testing.T) {
	tests := []struct {
		waiting time.Duration
		want    time.Duration
	}{
		{waiting: 120 * time.Second, want: 105 * time.Second},
		{waiting: 30 * time.Second, want: 15 * time.Second},
		{waiting: 20 * time.Second, want: 10 * time.Second},
		{waiting: 1500 * time.Millisecond, want: time.Second},
		{waiting: time.Millisecond, want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.waiting.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, prolongDelay(tt.waiting))
		})
	}
}

func TestHelloPeerWaitingSchedulesProlongation(t *testing.T) {
	clk := clock.NewMock()
	local, remote := transport.Pipe()
	cfg := testConfig(RoleResponder, clk)
	cfg.Trust = &switchPolicy{}
	b := run(t, local, cfg)

	sendFrame(t, remote, wire.ModeInitFrame())
	expectFrame(t, remote, wire.FrameModeInitAck)
	expectFrame(t, remote, wire.FrameHello)
	require.Eventually(t, func() bool {
		return b.timers.Remaining(PurposeHelloProlong) == DefaultHelloProlongInterval
	}, waitFor, time.Millisecond)

	for _, waiting := range []time.Duration{40 * time.Second, 20 * time.Second, 1500 * time.Millisecond} {
		sendFrame(t, remote, wire.NewHelloFrame(wire.Hello{
			Decision: wire.TrustApproved,
			Waiting:  uint32(waiting.Milliseconds()),
		}))
		want := prolongDelay(waiting)
		require.Eventually(t, func() bool {
			return b.timers.Remaining(PurposeHelloProlong) == want
		}, waitFor, time.Millisecond, "waiting %v", waiting)
	}
}

func TestHelloMaxWaitIgnoresLateApproval(t *testing.T) {
	clk := clock.NewMock()
	local, remote := transport.Pipe()
	a := run(t, local, testConfig(RoleInitiator, clk))

	expectFrame(t, remote, wire.FrameModeInit)
	sendFrame(t, remote, wire.ModeInitAckFrame())
	expectFrame(t, remote, wire.FrameHello)
	a.waitTimer(t, PurposeHelloMaxWait)

	// The peer keeps prolonging until max-wait runs out.
	step := DefaultHelloProlongInterval
	for elapsed := time.Duration(0); elapsed < DefaultHelloMaxWait; elapsed += step {
		sendFrame(t, remote, prolongRequest)
		reply := expectFrame(t, remote, wire.FrameHello)
		msg, _ := reply.Hello()
		require.Equal(t, wire.TrustApproved, msg.Decision)
		advance(clk, step, time.Second)
	}

	rejected := expectFrame(t, remote, wire.FrameHello)
	msg, _ := rejected.Hello()
	assert.Equal(t, wire.TrustRejected, msg.Decision)

	sendFrame(t, remote, wire.NewHelloFrame(wire.Hello{Decision: wire.TrustApproved}))

	err := a.result(t)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindTrustRejected, e.Kind)
	assert.Equal(t, PhaseHello, e.Phase)
	assert.Equal(t, PurposeHelloMaxWait, e.Purpose)
	assert.ErrorIs(t, err, ErrTimeout)

	// Nothing follows the rejection, in particular no handshake proposal.
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err = remote.ReceiveFrame(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestHelloPendingReplyToProlongation(t *testing.T) {
	clk := clock.NewMock()
	local, remote := transport.Pipe()
	cfg := testConfig(RoleResponder, clk)
	policy := &switchPolicy{}
	cfg.Trust = policy
	b := run(t, local, cfg)

	sendFrame(t, remote, wire.ModeInitFrame())
	expectFrame(t, remote, wire.FrameModeInitAck)

	first := expectFrame(t, remote, wire.FrameHello)
	msg, _ := first.Hello()
	assert.Equal(t, wire.TrustUndecided, msg.Decision)
	assert.True(t, msg.ProlongationRequest)
	assert.Equal(t, uint32(DefaultHelloPeerWait.Milliseconds()), msg.Waiting)

	sendFrame(t, remote, wire.NewHelloFrame(wire.Hello{Decision: wire.TrustUndecided, ProlongationRequest: true}))
	reply := expectFrame(t, remote, wire.FrameHello)
	msg, _ = reply.Hello()
	assert.Equal(t, wire.TrustUndecided, msg.Decision)
	assert.False(t, msg.ProlongationRequest)

	// Approved then pending again is a violation.
	sendFrame(t, remote, wire.NewHelloFrame(wire.Hello{Decision: wire.TrustApproved}))
	sendFrame(t, remote, wire.NewHelloFrame(wire.Hello{Decision: wire.TrustUndecided}))

	err := b.result(t)
	assert.Equal(t, KindProtocolViolation, KindOf(err))
	assert.ErrorIs(t, err, errWithdrawn)
}
