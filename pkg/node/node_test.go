package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipproto/ship-go/pkg/cert"
	"github.com/shipproto/ship-go/pkg/ship"
	"github.com/shipproto/ship-go/pkg/transport"
	"github.com/shipproto/ship-go/pkg/trust"
)

const waitFor = 5 * time.Second

// eventLog collects node events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) of(typ EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) wait(t *testing.T, typ EventType, n int) []Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(l.of(typ)) >= n }, waitFor, time.Millisecond,
		"waiting for %d %s events", n, typ)
	return l.of(typ)
}

func newTestNode(t *testing.T, cfg Config) (*Node, *eventLog) {
	t.Helper()
	if cfg.Trust == nil {
		cfg.Trust = trust.AllowAll()
	}
	n, err := New(cfg)
	require.NoError(t, err)

	events := &eventLog{}
	n.OnEvent(events.handle)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() { _ = n.Stop() })
	return n, events
}

// attachPair runs one connection between two nodes over a pipe.
func attachPair(t *testing.T, a, b *Node) (*ship.Connection, *ship.Connection) {
	t.Helper()
	pa, pb := transport.Pipe()
	ca, err := a.Attach(pa, ship.RoleInitiator, "bb")
	require.NoError(t, err)
	cb, err := b.Attach(pb, ship.RoleResponder, "AA")
	require.NoError(t, err)
	return ca, cb
}

func waitReady(t *testing.T, c *ship.Connection) {
	t.Helper()
	select {
	case <-c.Ready():
	case <-c.Done():
		t.Fatalf("connection ended before data phase: %v", c.Err())
	case <-time.After(waitFor):
		t.Fatal("connection not ready")
	}
}

func TestNodeEventsAndData(t *testing.T) {
	a, aEvents := newTestNode(t, Config{})
	b, bEvents := newTestNode(t, Config{})

	ca, cb := attachPair(t, a, b)
	waitReady(t, ca)
	waitReady(t, cb)

	connected := bEvents.wait(t, EventConnected, 1)
	assert.Equal(t, cb.ID(), connected[0].ConnID)
	assert.Equal(t, "aa", connected[0].PeerID)
	assert.Equal(t, ship.RoleResponder, connected[0].Role)
	assert.Equal(t, "pipe-b", connected[0].RemoteAddr)
	aEvents.wait(t, EventReady, 1)

	require.NoError(t, a.Send(ca.ID(), []byte("one")))
	require.NoError(t, a.Send(ca.ID(), []byte("two")))

	data := bEvents.wait(t, EventData, 2)
	assert.Equal(t, "one", string(data[0].Data))
	assert.Equal(t, "two", string(data[1].Data))

	require.NoError(t, a.CloseConnection(ca.ID()))

	closedA := aEvents.wait(t, EventClosed, 1)
	assert.NoError(t, closedA[0].Err)
	closedB := bEvents.wait(t, EventClosed, 1)
	assert.NoError(t, closedB[0].Err)

	require.Eventually(t, func() bool {
		return len(a.Connections()) == 0 && len(b.Connections()) == 0
	}, waitFor, time.Millisecond)
}

func TestNodeHandlerEchoes(t *testing.T) {
	const burst = 100
	a, aEvents := newTestNode(t, Config{})
	b, _ := newTestNode(t, Config{Connection: ship.Config{ReceiveBuffer: 2}})
	b.OnEvent(func(ev Event) {
		if ev.Type == EventData {
			_ = b.Send(ev.ConnID, ev.Data)
		}
	})

	ca, cb := attachPair(t, a, b)
	waitReady(t, ca)
	waitReady(t, cb)

	for i := range burst {
		require.NoError(t, a.Send(ca.ID(), []byte{byte(i)}))
	}

	echoed := aEvents.wait(t, EventData, burst)
	for i, ev := range echoed {
		assert.Equal(t, []byte{byte(i)}, ev.Data)
	}
}

func TestNodeConnections(t *testing.T) {
	a, _ := newTestNode(t, Config{})
	b, _ := newTestNode(t, Config{})

	ca, _ := attachPair(t, a, b)
	waitReady(t, ca)

	infos := a.Connections()
	require.Len(t, infos, 1)
	assert.Equal(t, ca.ID(), infos[0].ID)
	assert.Equal(t, "bb", infos[0].PeerID)
	assert.Equal(t, ship.RoleInitiator, infos[0].Role)
	assert.Equal(t, ship.PhaseData, infos[0].Phase)

	got, ok := a.Connection(ca.ID())
	require.True(t, ok)
	assert.Same(t, ca, got)
}

func TestNodeAbort(t *testing.T) {
	a, aEvents := newTestNode(t, Config{})
	b, bEvents := newTestNode(t, Config{})

	ca, cb := attachPair(t, a, b)
	waitReady(t, cb)

	require.NoError(t, a.Abort(ca.ID()))

	closed := aEvents.wait(t, EventClosed, 1)
	assert.ErrorIs(t, closed[0].Err, ship.ErrAborted)

	closed = bEvents.wait(t, EventClosed, 1)
	assert.Equal(t, ship.KindTransport, ship.KindOf(closed[0].Err))
}

func TestNodeUnknownConnection(t *testing.T) {
	a, _ := newTestNode(t, Config{})

	assert.ErrorIs(t, a.Send("nope", []byte("x")), ErrUnknownConnection)
	assert.ErrorIs(t, a.CloseConnection("nope"), ErrUnknownConnection)
	assert.ErrorIs(t, a.Abort("nope"), ErrUnknownConnection)
}

func TestNodeSendBeforeReady(t *testing.T) {
	a, _ := newTestNode(t, Config{})
	b, _ := newTestNode(t, Config{Trust: trust.PolicyFunc(func(trust.Peer) trust.Decision { return trust.Undecided })})

	ca, _ := attachPair(t, a, b)
	assert.ErrorIs(t, a.Send(ca.ID(), []byte("early")), ship.ErrNotInDataPhase)
}

func TestNodeMaxConnections(t *testing.T) {
	a, _ := newTestNode(t, Config{MaxConnections: 1})
	b, _ := newTestNode(t, Config{})

	attachPair(t, a, b)

	pa, _ := transport.Pipe()
	_, err := a.Attach(pa, ship.RoleInitiator, "cc")
	assert.ErrorIs(t, err, ErrTooManyConnections)
	assert.Len(t, a.Connections(), 1)
}

func TestNodeStopAbortsConnections(t *testing.T) {
	a, err := New(Config{Trust: trust.AllowAll()})
	require.NoError(t, err)
	events := &eventLog{}
	a.OnEvent(events.handle)
	require.NoError(t, a.Start(context.Background()))
	b, _ := newTestNode(t, Config{})

	ca, _ := attachPair(t, a, b)
	waitReady(t, ca)

	require.NoError(t, a.Stop())

	closed := events.of(EventClosed)
	require.Len(t, closed, 1)
	assert.Error(t, closed[0].Err)
	assert.Empty(t, a.Connections())

	assert.ErrorIs(t, a.Stop(), ErrNotStarted)
	pa, _ := transport.Pipe()
	_, err = a.Attach(pa, ship.RoleInitiator, "cc")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestNodeLifecycleErrors(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ship.ErrInvalidConfig)

	n, err := New(Config{Trust: trust.AllowAll()})
	require.NoError(t, err)
	assert.ErrorIs(t, n.Stop(), ErrNotStarted)

	require.NoError(t, n.Start(context.Background()))
	assert.ErrorIs(t, n.Start(context.Background()), ErrAlreadyStarted)
	assert.Nil(t, n.Addr())

	_, err = n.Connect(context.Background(), "127.0.0.1:1", "")
	assert.ErrorIs(t, err, ErrNoIdentity)
	require.NoError(t, n.Stop())

	listener, err := New(Config{Trust: trust.AllowAll(), ListenAddress: "127.0.0.1:0"})
	require.NoError(t, err)
	assert.ErrorIs(t, listener.Start(context.Background()), ErrNoIdentity)
}

func TestNodeOverTLS(t *testing.T) {
	for _, ws := range []bool{false, true} {
		name := "stream"
		if ws {
			name = "websocket"
		}
		t.Run(name, func(t *testing.T) {
			serverID, err := cert.GenerateIdentity("server")
			require.NoError(t, err)
			clientID, err := cert.GenerateIdentity("client")
			require.NoError(t, err)

			server, serverEvents := newTestNode(t, Config{
				Identity:      serverID,
				ListenAddress: "127.0.0.1:0",
				WebSocket:     ws,
			})
			client, _ := newTestNode(t, Config{Identity: clientID, WebSocket: ws})

			ctx, cancel := context.WithTimeout(context.Background(), waitFor)
			defer cancel()
			c, err := client.Connect(ctx, server.Addr().String(), serverID.SKI())
			require.NoError(t, err)
			waitReady(t, c)
			assert.Equal(t, serverID.SKI(), c.PeerID())

			ready := serverEvents.wait(t, EventReady, 1)
			assert.Equal(t, clientID.SKI(), ready[0].PeerID)

			require.NoError(t, client.Send(c.ID(), []byte("hello")))
			data := serverEvents.wait(t, EventData, 1)
			assert.Equal(t, "hello", string(data[0].Data))

			require.NoError(t, client.CloseConnection(c.ID()))
			closed := serverEvents.wait(t, EventClosed, 1)
			assert.NoError(t, closed[0].Err)
		})
	}
}

func TestNodeConnectRejectsWrongSKI(t *testing.T) {
	serverID, err := cert.GenerateIdentity("server")
	require.NoError(t, err)
	clientID, err := cert.GenerateIdentity("client")
	require.NoError(t, err)

	server, _ := newTestNode(t, Config{Identity: serverID, ListenAddress: "127.0.0.1:0"})
	client, _ := newTestNode(t, Config{Identity: clientID})

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err = client.Connect(ctx, server.Addr().String(), clientID.SKI())
	assert.ErrorIs(t, err, transport.ErrSKIMismatch)
	assert.Empty(t, client.Connections())
}
