package node

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/shipproto/ship-go/pkg/cert"
	"github.com/shipproto/ship-go/pkg/log"
	"github.com/shipproto/ship-go/pkg/ship"
	"github.com/shipproto/ship-go/pkg/transport"
	"github.com/shipproto/ship-go/pkg/trust"
)

// Config configures a Node.
type Config struct {
	// Identity is the local certificate. Required for Start and Connect.
	Identity *cert.Identity

	// ListenAddress enables the listener when set (e.g. ":4712").
	ListenAddress string

	// WebSocket selects the websocket transport for listening and dialing.
	WebSocket bool

	// Path is the websocket path.
	Path string

	// KeepAlive enables ping/pong on websocket connections.
	KeepAlive *transport.KeepAliveConfig

	// Trust decides about peers. Shared by all connections.
	Trust trust.Policy

	// Connection is the template for every connection. Role, ID, PeerID,
	// RemoteAddr and Trust are set per connection.
	Connection ship.Config

	// MaxConnections limits concurrently running connections. Zero is unlimited.
	MaxConnections int

	// Clock is used for connection bookkeeping. Defaults to the wall clock.
	Clock clock.Clock

	// Logger is the operational logger. Defaults to slog.Default().
	Logger *slog.Logger

	// ProtocolLogger receives protocol capture events of transports and
	// connections. Optional.
	ProtocolLogger log.Logger
}

// Node hosts SHIP connections.
type Node struct {
	config Config
	logger *slog.Logger

	tracker *connTracker

	mu       sync.RWMutex
	handlers []EventHandler
	started  bool
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc
	server   *transport.Server
	group    errgroup.Group
}

// New creates a node. It does nothing until Start.
func New(config Config) (*Node, error) {
	if config.Trust == nil {
		return nil, fmt.Errorf("%w: trust policy is required", ship.ErrInvalidConfig)
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	n := &Node{
		config:  config,
		logger:  config.Logger.With("component", "node"),
		tracker: newConnTracker(config.Clock),
	}
	if config.MaxConnections > 0 {
		n.group.SetLimit(config.MaxConnections)
	}
	return n, nil
}

// OnEvent registers an event handler.
func (n *Node) OnEvent(handler EventHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, handler)
}

// Start starts the node and, when ListenAddress is set, the listener.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.started {
		return ErrAlreadyStarted
	}
	n.ctx, n.cancel = context.WithCancel(ctx)

	if n.config.ListenAddress != "" {
		if n.config.Identity == nil {
			n.cancel()
			return ErrNoIdentity
		}
		server, err := transport.NewServer(transport.ServerConfig{
			TLSConfig: &transport.TLSConfig{Certificate: n.config.Identity.TLSCertificate()},
			Address:   n.config.ListenAddress,
			WebSocket: n.config.WebSocket,
			Path:      n.config.Path,
			KeepAlive: n.config.KeepAlive,
			Logger:    n.config.ProtocolLogger,
			OnConnect: n.accept,
			OnError: func(err error) {
				n.logger.Warn("inbound connection failed", "error", err)
			},
		})
		if err != nil {
			n.cancel()
			return err
		}
		if err := server.Start(n.ctx); err != nil {
			n.cancel()
			return err
		}
		n.server = server
		n.logger.Info("listening", "addr", server.Addr().String(), "websocket", n.config.WebSocket)
	}

	n.started = true
	return nil
}

// Addr returns the listen address, or nil without a listener.
func (n *Node) Addr() net.Addr {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.server == nil {
		return nil
	}
	return n.server.Addr()
}

// accept runs an inbound connection. The server closes conn when it returns.
func (n *Node) accept(conn transport.Conn) {
	peerID, err := cert.PeerSKI(conn.TLSState())
	if err != nil {
		n.logger.Warn("inbound connection without identity", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	c, err := n.Attach(conn, ship.RoleResponder, peerID)
	if err != nil {
		n.logger.Warn("inbound connection refused", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	<-c.Done()
}

// Connect dials address and starts a connection as initiator. When
// expectedSKI is set the peer certificate must match it.
func (n *Node) Connect(ctx context.Context, address, expectedSKI string) (*ship.Connection, error) {
	if n.config.Identity == nil {
		return nil, ErrNoIdentity
	}

	client, err := transport.NewClient(transport.ClientConfig{
		TLSConfig: &transport.TLSConfig{
			Certificate: n.config.Identity.TLSCertificate(),
			ExpectedSKI: expectedSKI,
		},
		WebSocket: n.config.WebSocket,
		Path:      n.config.Path,
		KeepAlive: n.config.KeepAlive,
		Logger:    n.config.ProtocolLogger,
	})
	if err != nil {
		return nil, err
	}

	conn, err := client.Connect(ctx, address)
	if err != nil {
		return nil, err
	}

	peerID, err := cert.PeerSKI(conn.TLSState())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	c, err := n.Attach(conn, ship.RoleInitiator, peerID)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// Attach starts a connection over an established transport. The node owns
// conn afterwards and closes it when the connection ends.
func (n *Node) Attach(conn transport.Conn, role ship.Role, peerID string) (*ship.Connection, error) {
	// Held until the connection is scheduled so Stop cannot miss it.
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.started || n.stopped {
		return nil, ErrNotStarted
	}
	ctx := n.ctx

	cfg := n.config.Connection
	cfg.Role = role
	cfg.ID = conn.ID()
	cfg.PeerID = trust.NormalizeID(peerID)
	cfg.RemoteAddr = conn.RemoteAddr().String()
	cfg.Trust = n.config.Trust
	if cfg.Logger == nil {
		cfg.Logger = n.config.Logger
	}
	if cfg.ProtocolLogger == nil {
		cfg.ProtocolLogger = n.config.ProtocolLogger
	}

	c, err := ship.New(conn, cfg)
	if err != nil {
		return nil, err
	}

	n.tracker.Add(c)
	if !n.group.TryGo(func() error {
		n.run(ctx, c)
		return nil
	}) {
		n.tracker.Remove(c.ID())
		return nil, ErrTooManyConnections
	}
	return c, nil
}

func (n *Node) run(ctx context.Context, c *ship.Connection) {
	defer n.tracker.Remove(c.ID())

	base := Event{
		ConnID:     c.ID(),
		PeerID:     c.PeerID(),
		RemoteAddr: c.RemoteAddr(),
		Role:       c.Role(),
	}
	n.logger.Debug("connection started", "conn_id", c.ID(), "peer", c.PeerID(), "role", c.Role().String())
	n.emit(base, EventConnected, nil, nil)

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		select {
		case <-c.Ready():
			n.emit(base, EventReady, nil, nil)
		case <-c.Done():
		}
		for payload := range c.Receive() {
			n.emit(base, EventData, payload, nil)
		}
	}()

	err := c.Run(ctx)
	<-pumpDone

	if err != nil {
		n.logger.Warn("connection failed", "conn_id", c.ID(), "peer", c.PeerID(), "error", err)
	} else {
		n.logger.Debug("connection closed", "conn_id", c.ID())
	}
	n.emit(base, EventClosed, nil, err)
}

func (n *Node) emit(base Event, typ EventType, data []byte, err error) {
	n.mu.RLock()
	handlers := n.handlers
	n.mu.RUnlock()

	ev := base
	ev.Type = typ
	ev.Data = data
	ev.Err = err
	for _, h := range handlers {
		h(ev)
	}
}

// Connections returns the running connections ordered by start time.
func (n *Node) Connections() []ConnectionInfo {
	return n.tracker.List()
}

// Connection returns the running connection with id.
func (n *Node) Connection(id string) (*ship.Connection, bool) {
	return n.tracker.Get(id)
}

func (n *Node) lookup(id string) (*ship.Connection, error) {
	c, ok := n.tracker.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	return c, nil
}

// Send sends payload on connection id.
func (n *Node) Send(id string, payload []byte) error {
	c, err := n.lookup(id)
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// CloseConnection closes connection id gracefully.
func (n *Node) CloseConnection(id string) error {
	c, err := n.lookup(id)
	if err != nil {
		return err
	}
	return c.Close()
}

// Abort aborts connection id.
func (n *Node) Abort(id string) error {
	c, err := n.lookup(id)
	if err != nil {
		return err
	}
	c.Abort()
	return nil
}

// AbortStale aborts connections that have not reached the data phase
// within maxAge and returns how many were aborted.
func (n *Node) AbortStale(maxAge time.Duration) int {
	return n.tracker.AbortStale(maxAge)
}

// Stop aborts all connections, stops the listener and waits for every
// connection to finish.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.started || n.stopped {
		n.mu.Unlock()
		return ErrNotStarted
	}
	n.stopped = true
	server := n.server
	n.mu.Unlock()

	aborted := n.tracker.AbortAll()
	n.cancel()

	var err error
	if server != nil {
		err = multierr.Append(err, server.Stop())
	}
	err = multierr.Append(err, n.group.Wait())

	n.logger.Info("stopped", "aborted", aborted)
	return err
}
