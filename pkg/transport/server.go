package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/shipproto/ship-go/pkg/log"
)

// DefaultHandshakeTimeout bounds the TLS handshake of accepted streams.
const DefaultHandshakeTimeout = 10 * time.Second

// ServerConfig configures a Server. Zero values select DefaultPort,
// DefaultWebSocketPath, DefaultMaxMessageSize and DefaultHandshakeTimeout.
type ServerConfig struct {
	TLSConfig *TLSConfig

	// Address is host:port, e.g. ":4712" or "127.0.0.1:0".
	Address string

	// WebSocket serves upgrades on Path instead of raw TLS streams.
	WebSocket bool
	Path      string

	MaxMessageSize   uint32
	HandshakeTimeout time.Duration

	// KeepAlive enables ping/pong liveness checks on WebSocket connections.
	KeepAlive *KeepAliveConfig

	Logger log.Logger

	// OnConnect runs on its own goroutine per accepted connection, which
	// is closed once OnConnect returns.
	OnConnect func(conn Conn)
	OnError   func(err error)
}

// Server accepts SHIP connections.
type Server struct {
	config   ServerConfig
	tlsConf  *tls.Config
	listener net.Listener
	httpSrv  *http.Server

	conns   map[Conn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewServer(config ServerConfig) (*Server, error) {
	if config.TLSConfig == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.Path == "" {
		config.Path = DefaultWebSocketPath
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}

	tlsConf, err := NewServerTLSConfig(config.TLSConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}

	return &Server{
		config:  config,
		tlsConf: tlsConf,
		conns:   make(map[Conn]struct{}),
	}, nil
}

// Start listens on the configured address and accepts in the background
// until ctx is done or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	if s.config.WebSocket {
		handler := NewWebSocketHandler(s.config.MaxMessageSize, s.config.KeepAlive, s.config.Logger,
			func(c *WSConn) { s.serve(c) }, s.reportError)
		mux := http.NewServeMux()
		mux.Handle(s.config.Path, handler)
		s.httpSrv = &http.Server{
			Handler:     mux,
			BaseContext: func(net.Listener) context.Context { return s.ctx },
		}
		go s.serveWebSocket()
	} else {
		go s.acceptLoop()
	}
	return nil
}

// Stop stops the server and closes all connections.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()

	var err error
	if s.httpSrv != nil {
		err = multierr.Append(err, s.httpSrv.Close())
	} else if s.listener != nil {
		err = multierr.Append(err, s.listener.Close())
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		err = multierr.Append(err, conn.Close())
	}
	s.connsMu.Unlock()

	s.wg.Wait()

	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// acceptLoop runs until the listener is closed. Transient accept failures,
// such as running out of file descriptors, are retried with a growing pause.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	var pause time.Duration
	for {
		conn, err := s.listener.Accept()
		if err == nil {
			pause = 0
			s.wg.Add(1)
			go s.handleConnection(conn)
			continue
		}
		if !s.running.Load() || errors.Is(err, net.ErrClosed) {
			return
		}

		s.reportError(fmt.Errorf("accept error: %w", err))
		pause = min(max(2*pause, 5*time.Millisecond), time.Second)
		select {
		case <-time.After(pause):
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.config.HandshakeTimeout)
	defer cancel()

	tlsConn := tls.Server(conn, s.tlsConf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		s.reportError(fmt.Errorf("TLS handshake with %s failed: %w", conn.RemoteAddr(), err))
		return
	}

	state := tlsConn.ConnectionState()
	ski, err := VerifyConnection(state)
	if err != nil {
		tlsConn.Close()
		s.reportError(err)
		return
	}

	id := uuid.New().String()
	events := log.NewEmitter(s.config.Logger, id, log.RoleResponder).WithPeer(ski, conn.RemoteAddr().String())
	events.State(log.LayerTransport, log.StateEntityConnection, "", "CONNECTED", "")

	s.serve(newStreamConn(id, tlsConn, state, s.config.MaxMessageSize, events))
}

func (s *Server) serveWebSocket() {
	defer s.wg.Done()

	err := s.httpSrv.Serve(tls.NewListener(s.listener, s.tlsConf))
	if err != nil && !errors.Is(err, http.ErrServerClosed) && s.running.Load() {
		s.reportError(fmt.Errorf("serve error: %w", err))
	}
}

// serve tracks conn while OnConnect runs and closes it afterwards.
func (s *Server) serve(conn Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		conn.Close()
	}()

	if s.config.OnConnect != nil {
		s.config.OnConnect(conn)
	}
}

func (s *Server) reportError(err error) {
	if s.config.OnError != nil {
		s.config.OnError(err)
	}
}
