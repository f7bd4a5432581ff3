package ship

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shipproto/ship-go/pkg/log"
	"github.com/shipproto/ship-go/pkg/timer"
	"github.com/shipproto/ship-go/pkg/trust"
	"github.com/shipproto/ship-go/pkg/wire"
)

type eventKind uint8

const (
	eventFrame eventKind = iota + 1
	eventReadError
	eventDecodeError
	eventTimer
	eventSend
)

// event is one item of the connection's serialized intake.
type event struct {
	kind    eventKind
	frame   wire.Frame
	err     error
	expiry  timer.Expiry
	payload []byte
	reply   chan error
}

// Connection drives one peer connection through its lifecycle.
type Connection struct {
	cfg    Config
	tr     Transport
	id     string
	logger *slog.Logger
	plog   *log.Emitter
	timers *timer.Manager

	events chan event
	sends  chan event
	recv   chan []byte
	ready  chan struct{}
	done   chan struct{}

	closeReq  chan struct{}
	abortReq  chan struct{}
	closeOnce sync.Once
	abortOnce sync.Once

	phase   atomic.Int32
	started atomic.Bool

	// runCtx is the context of Run, read only by the event loop.
	runCtx context.Context

	mu       sync.Mutex
	err      error
	format   wire.Format
	peerGate wire.GateLevel

	layers [PhaseData + 1]layer
}

// New creates a connection over t. The connection does nothing until Run.
func New(t Transport, cfg Config) (*Connection, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	c := &Connection{
		cfg:      cfg,
		tr:       t,
		id:       cfg.ID,
		logger:   cfg.Logger.With("conn_id", cfg.ID, "role", cfg.Role.String()),
		events:   make(chan event),
		sends:    make(chan event),
		recv:     make(chan []byte, cfg.ReceiveBuffer),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		closeReq: make(chan struct{}),
		abortReq: make(chan struct{}),
	}
	if cfg.ProtocolLogger != nil {
		c.plog = log.NewEmitter(cfg.ProtocolLogger, cfg.ID, cfg.Role.logRole()).WithPeer(cfg.PeerID, cfg.RemoteAddr)
	}
	c.timers = timer.NewManager(cfg.Clock, c.onExpiry)

	peer := trust.Peer{ID: cfg.PeerID, Addr: cfg.RemoteAddr}
	c.layers = [PhaseData + 1]layer{
		PhaseModeInit:  &modeInitLayer{env: c, role: cfg.Role, timeout: cfg.ModeInitTimeout},
		PhaseHello:     newHelloLayer(c, &c.cfg, peer),
		PhaseHandshake: &handshakeLayer{env: c, role: cfg.Role, formats: cfg.Formats, timeout: cfg.HandshakeTimeout},
		PhaseGate:      &gateLayer{env: c, level: cfg.GateLevel, timeout: cfg.GateTimeout},
		PhaseData:      &dataLayer{env: c},
	}
	c.phase.Store(int32(PhaseModeInit))
	return c, nil
}

// ID returns the connection identifier.
func (c *Connection) ID() string { return c.id }

// Role returns the fixed local role.
func (c *Connection) Role() Role { return c.cfg.Role }

// PeerID returns the peer identity the connection was created with.
func (c *Connection) PeerID() string { return c.cfg.PeerID }

// RemoteAddr returns the informational peer address.
func (c *Connection) RemoteAddr() string { return c.cfg.RemoteAddr }

// Status returns the current phase.
func (c *Connection) Status() Phase {
	return Phase(c.phase.Load())
}

// Ready is closed when the connection enters the Data phase.
func (c *Connection) Ready() <-chan struct{} { return c.ready }

// Done is closed when the connection reaches Closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns the terminal error once Done is closed. It is nil after a
// graceful close and before termination.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Format returns the negotiated format. ok is false before the handshake completed.
func (c *Connection) Format() (f wire.Format, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format, c.format.Name != ""
}

// GateOutcome returns the access gate the peer announced. ok is false
// before the peer's announcement arrived.
func (c *Connection) GateOutcome() (l wire.GateLevel, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerGate, c.peerGate != 0
}

// Receive returns the stream of received payloads in arrival order. The
// channel is closed when the connection closes. It must be drained: a full
// channel stops the connection from reading further frames.
func (c *Connection) Receive() <-chan []byte {
	return c.recv
}

// Send transmits payload as one data frame. It fails with ErrNotInDataPhase
// before the Data phase or after close. The payload is copied.
func (c *Connection) Send(payload []byte) error {
	if c.Status() != PhaseData {
		return ErrNotInDataPhase
	}

	reply := make(chan error, 1)
	ev := event{kind: eventSend, payload: append([]byte(nil), payload...), reply: reply}
	select {
	case c.sends <- ev:
	case <-c.done:
		return ErrNotInDataPhase
	}

	select {
	case err := <-reply:
		return err
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrNotInDataPhase
		}
	}
}

// Close ends the connection. In the Data phase a Close frame is sent and
// the connection terminates without error; before that, Close aborts.
// Calling Close more than once has no further effect.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() { close(c.closeReq) })
	return nil
}

// Abort immediately moves the connection to Closed from any phase without
// sending anything. The terminal error matches ErrAborted.
func (c *Connection) Abort() {
	c.abortOnce.Do(func() { close(c.abortReq) })
}

// Run drives the connection until it closes and returns the terminal error.
// A graceful close returns nil. Cancelling ctx aborts the connection.
func (c *Connection) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.runCtx = ctx

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.readLoop(gctx)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return c.loop(gctx)
	})
	return g.Wait()
}

// readLoop reads and decodes frames and hands them to the event loop.
// It stops at the first read or decode error.
func (c *Connection) readLoop(ctx context.Context) {
	for {
		data, err := c.tr.ReceiveFrame(ctx)
		if err != nil {
			c.enqueue(ctx, event{kind: eventReadError, err: err})
			return
		}
		f, err := wire.Decode(data)
		if err != nil {
			c.enqueue(ctx, event{kind: eventDecodeError, err: err})
			return
		}
		if !c.enqueue(ctx, event{kind: eventFrame, frame: f}) {
			return
		}
	}
}

func (c *Connection) enqueue(ctx context.Context, ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

func (c *Connection) onExpiry(x timer.Expiry) {
	select {
	case c.events <- event{kind: eventTimer, expiry: x}:
	case <-c.done:
	}
}

// loop is the single sequential state machine of the connection.
func (c *Connection) loop(ctx context.Context) error {
	if err := c.pending(ctx); err != nil {
		return c.terminate(err)
	}

	c.logger.Debug("connection started", "peer", c.cfg.PeerID)
	c.plog.State(log.LayerModeInit, log.StateEntityConnection, "", PhaseModeInit.String(), "")
	if finished, err := c.advance(c.layers[PhaseModeInit].start()); finished {
		return c.terminate(err)
	}

	for {
		// Close and abort requests take priority over queued events.
		if err := c.pending(ctx); err != nil {
			return c.terminate(err)
		}
		if c.closeRequested() {
			return c.terminate(c.closeLocally())
		}

		select {
		case <-ctx.Done():
		case <-c.abortReq:
		case <-c.closeReq:
		case ev := <-c.events:
			if finished, err := c.handle(ev); finished {
				return c.terminate(err)
			}
		case ev := <-c.sends:
			if err := c.sendData(ev); err != nil {
				return c.terminate(err)
			}
		}
	}
}

// pending returns the abort error if the connection was aborted or its
// context cancelled, or a close was requested before the Data phase.
func (c *Connection) pending(ctx context.Context) error {
	select {
	case <-c.abortReq:
		return c.fail(KindAborted, "", ErrAbortRequested)
	default:
	}
	if err := ctx.Err(); err != nil {
		return c.fail(KindAborted, "", err)
	}
	if c.closeRequested() && c.Status() != PhaseData {
		return c.fail(KindAborted, "", ErrCloseBeforeData)
	}
	return nil
}

func (c *Connection) closeRequested() bool {
	select {
	case <-c.closeReq:
		return true
	default:
		return false
	}
}

// closeLocally sends the Close frame of a local close in the Data phase.
func (c *Connection) closeLocally() error {
	return c.send(wire.NewCloseFrame(""))
}

// handle processes one event. finished reports that the connection must
// terminate with err (nil for a graceful close).
func (c *Connection) handle(ev event) (finished bool, err error) {
	phase := c.Status()

	switch ev.kind {
	case eventReadError:
		return true, c.fail(KindTransport, "", ev.err)

	case eventDecodeError:
		return true, c.fail(KindDecode, "", ev.err)

	case eventTimer:
		if !c.timers.Claim(ev.expiry) {
			return false, nil
		}
		c.logger.Debug("timer expired", "purpose", ev.expiry.Purpose, "phase", phase.String())
		return c.advance(c.layers[phase].onTimer(ev.expiry.Purpose))

	case eventFrame:
		c.plog.Message(log.DirectionIn, phase.logLayer(), ev.frame)
		return c.advance(c.layers[phase].onFrame(ev.frame))
	}
	return false, nil
}

// sendData answers a Send request.
func (c *Connection) sendData(ev event) error {
	if c.Status() != PhaseData {
		ev.reply <- ErrNotInDataPhase
		return nil
	}
	err := c.send(wire.Frame{Type: wire.FrameData, Payload: ev.payload})
	ev.reply <- err
	return err
}

// advance moves to the next phase while the active layer reports done.
// A layer finishing in the Data phase is a graceful close.
func (c *Connection) advance(done bool, err error) (finished bool, _ error) {
	if err != nil {
		return true, err
	}
	for done {
		phase := c.Status()
		if phase == PhaseData {
			return true, nil
		}
		c.timers.CancelAll()

		next := phase + 1
		c.setPhase(next, "")
		if next == PhaseData {
			close(c.ready)
		}
		done, err = c.layers[next].start()
		if err != nil {
			return true, err
		}
	}
	return false, nil
}

func (c *Connection) setPhase(next Phase, reason string) {
	prev := c.Status()
	c.phase.Store(int32(next))
	c.logger.Debug("phase changed", "from", prev.String(), "to", next.String())
	c.plog.State(next.logLayer(), log.StateEntityConnection, prev.String(), next.String(), reason)
}

// terminate performs the fatal path: stop timers, close the transport,
// record the single terminal error and release waiters.
func (c *Connection) terminate(err error) error {
	phase := c.Status()
	c.timers.Stop()
	c.phase.Store(int32(PhaseClosed))

	if cerr := c.tr.Close(); cerr != nil {
		c.logger.Debug("transport close", "error", cerr)
	}

	reason := "closed"
	if err != nil {
		reason = err.Error()
		c.logger.Warn("connection failed", "phase", phase.String(), "error", err)
		c.plog.Error(phase.logLayer(), KindOf(err).String(), err, phase.String())
	} else {
		c.logger.Debug("connection closed", "phase", phase.String())
	}
	c.plog.State(phase.logLayer(), log.StateEntityConnection, phase.String(), PhaseClosed.String(), reason)

	c.mu.Lock()
	c.err = err
	c.mu.Unlock()

	close(c.recv)
	close(c.done)
	return err
}

// The methods below form the env the layers work through.

func (c *Connection) send(f wire.Frame) error {
	if err := c.tr.SendFrame(wire.Encode(f)); err != nil {
		return c.fail(KindTransport, "", err)
	}
	c.plog.Message(log.DirectionOut, c.Status().logLayer(), f)
	return nil
}

func (c *Connection) arm(p timer.Purpose, d time.Duration) {
	c.timers.Arm(p, d)
}

func (c *Connection) cancel(p timer.Purpose) {
	c.timers.Cancel(p)
}

func (c *Connection) remaining(p timer.Purpose) time.Duration {
	return c.timers.Remaining(p)
}

func (c *Connection) fail(kind Kind, purpose timer.Purpose, cause error) error {
	return newError(c.Status(), kind, purpose, cause)
}

func (c *Connection) trace(entity log.StateEntity, oldState, newState string) {
	c.logger.Debug("state changed", "entity", entity.String(), "from", oldState, "to", newState)
	c.plog.State(c.Status().logLayer(), entity, oldState, newState, "")
}

func (c *Connection) setFormat(f wire.Format) {
	c.mu.Lock()
	c.format = f
	c.mu.Unlock()
	c.logger.Debug("format agreed", "format", f.String())
}

func (c *Connection) setPeerGate(l wire.GateLevel) {
	c.mu.Lock()
	c.peerGate = l
	c.mu.Unlock()
}

// deliver hands a payload to the receive stream. While the stream is full
// no further frames are read, but Send requests are still served so that a
// consumer may send from its receive loop.
func (c *Connection) deliver(payload []byte) error {
	for {
		select {
		case c.recv <- payload:
			return nil
		case ev := <-c.sends:
			if err := c.sendData(ev); err != nil {
				return err
			}
		case <-c.abortReq:
			return c.fail(KindAborted, "", ErrAbortRequested)
		case <-c.closeReq:
			// Dropped; the loop performs the local close next.
			return nil
		case <-c.runCtx.Done():
			return c.fail(KindAborted, "", c.runCtx.Err())
		}
	}
}
