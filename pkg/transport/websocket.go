package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"github.com/shipproto/ship-go/pkg/log"
)

// WebSocket constants.
const (
	// Subprotocol is the WebSocket subprotocol negotiated by SHIP nodes.
	Subprotocol = "ship"

	// DefaultWebSocketPath is the default WebSocket request path.
	DefaultWebSocketPath = "/ship/"

	// controlWriteWait bounds writes of ping, pong and close control frames.
	controlWriteWait = 5 * time.Second
)

// WebSocket errors.
var (
	ErrSubprotocol     = errors.New("ship subprotocol not negotiated")
	ErrNonBinaryFrame  = errors.New("non-binary websocket message")
	ErrKeepAliveFailed = errors.New("keep-alive timeout")
)

// WSConn carries one frame per binary WebSocket message.
type WSConn struct {
	id       string
	ws       *websocket.Conn
	tlsState tls.ConnectionState
	events   *log.Emitter

	writeMu sync.Mutex
	readMu  sync.Mutex

	ka        *KeepAlive
	kaCancel  context.CancelFunc
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newWSConn(id string, ws *websocket.Conn, state tls.ConnectionState, maxSize uint32, events *log.Emitter) *WSConn {
	c := &WSConn{
		id:       id,
		ws:       ws,
		tlsState: state,
		events:   events,
		closeCh:  make(chan struct{}),
	}
	ws.SetReadLimit(int64(maxSize))
	ws.SetPingHandler(c.handlePing)
	ws.SetPongHandler(c.handlePong)
	return c
}

// dialWebSocket opens a WebSocket connection to address and verifies the
// TLS session and subprotocol.
func dialWebSocket(ctx context.Context, id, address, path string, tlsConf *tls.Config, maxSize uint32, events *log.Emitter) (*WSConn, error) {
	u := url.URL{Scheme: "wss", Host: address, Path: path}
	dialer := websocket.Dialer{
		TLSClientConfig: tlsConf,
		Subprotocols:    []string{Subprotocol},
	}

	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	state, ski, err := verifyWebSocket(ws)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("connection verification failed: %w", err)
	}

	events = events.WithPeer(ski, ws.RemoteAddr().String())
	events.State(log.LayerTransport, log.StateEntityConnection, "", "CONNECTED", "")
	return newWSConn(id, ws, state, maxSize, events), nil
}

func verifyWebSocket(ws *websocket.Conn) (tls.ConnectionState, string, error) {
	if ws.Subprotocol() != Subprotocol {
		return tls.ConnectionState{}, "", ErrSubprotocol
	}
	tlsConn, ok := ws.NetConn().(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, "", fmt.Errorf("websocket is not running over TLS")
	}
	state := tlsConn.ConnectionState()
	ski, err := VerifyConnection(state)
	if err != nil {
		return tls.ConnectionState{}, "", err
	}
	return state, ski, nil
}

// WebSocketHandler upgrades requests to SHIP WebSocket connections and
// passes each one to onConnect. The handler blocks until onConnect returns.
type WebSocketHandler struct {
	upgrader  websocket.Upgrader
	maxSize   uint32
	keepAlive *KeepAliveConfig
	logger    log.Logger
	onConnect func(*WSConn)
	onError   func(error)
}

// NewWebSocketHandler creates a handler that accepts the "ship" subprotocol only.
func NewWebSocketHandler(maxSize uint32, keepAlive *KeepAliveConfig, logger log.Logger, onConnect func(*WSConn), onError func(error)) *WebSocketHandler {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			Subprotocols: []string{Subprotocol},
			CheckOrigin:  func(*http.Request) bool { return true },
		},
		maxSize:   maxSize,
		keepAlive: keepAlive,
		logger:    logger,
		onConnect: onConnect,
		onError:   onError,
	}
}

// ServeHTTP implements http.Handler.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.reportError(fmt.Errorf("websocket upgrade failed: %w", err))
		return
	}

	state, ski, err := verifyWebSocket(ws)
	if err != nil {
		ws.Close()
		h.reportError(err)
		return
	}

	id := uuid.New().String()
	events := log.NewEmitter(h.logger, id, log.RoleResponder).WithPeer(ski, ws.RemoteAddr().String())
	events.State(log.LayerTransport, log.StateEntityConnection, "", "CONNECTED", "")

	conn := newWSConn(id, ws, state, h.maxSize, events)
	if h.keepAlive != nil {
		conn.startKeepAlive(*h.keepAlive)
	}
	defer conn.Close()

	if h.onConnect != nil {
		h.onConnect(conn)
	}
}

func (h *WebSocketHandler) reportError(err error) {
	if h.onError != nil {
		h.onError(err)
	}
}

// ID returns the connection identifier.
func (c *WSConn) ID() string {
	return c.id
}

// RemoteAddr returns the remote network address.
func (c *WSConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// TLSState returns the TLS connection state.
func (c *WSConn) TLSState() tls.ConnectionState {
	return c.tlsState
}

// SendFrame writes one frame as a binary message.
func (c *WSConn) SendFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return err
	}
	c.events.Frame(log.DirectionOut, data, 0)
	return nil
}

// ReceiveFrame reads one binary message.
func (c *WSConn) ReceiveFrame(ctx context.Context) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		select {
		case <-c.closeCh:
			return nil, ErrConnectionClosed
		default:
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			code := ce.Code
			c.events.Control(log.DirectionIn, log.ControlMsgClose, &code)
		}
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, ErrNonBinaryFrame
	}
	if len(data) == 0 {
		return nil, ErrMessageEmpty
	}
	c.events.Frame(log.DirectionIn, data, 0)
	return data, nil
}

// Close sends a normal-closure control frame and closes the connection.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		if c.ka != nil {
			c.ka.Stop()
			c.kaCancel()
		}

		code := websocket.CloseNormalClosure
		msg := websocket.FormatCloseMessage(code, "")
		werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWriteWait))
		if errors.Is(werr, websocket.ErrCloseSent) {
			werr = nil
		}
		if werr == nil {
			c.events.Control(log.DirectionOut, log.ControlMsgClose, &code)
		}
		err = multierr.Append(werr, c.ws.Close())
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
		c.events.State(log.LayerTransport, log.StateEntityConnection, "CONNECTED", "DISCONNECTED", "")
	})
	return err
}

// startKeepAlive begins ping/pong liveness checks. A dead peer closes the connection.
func (c *WSConn) startKeepAlive(config KeepAliveConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	c.kaCancel = cancel
	c.ka = NewKeepAlive(config, c.sendPing, func() {
		c.events.Error(log.LayerTransport, "TRANSPORT", ErrKeepAliveFailed, "")
		c.Close()
	})
	c.ka.Start(ctx)
}

func (c *WSConn) sendPing(seq uint32) error {
	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], seq)
	if err := c.ws.WriteControl(websocket.PingMessage, payload[:], time.Now().Add(controlWriteWait)); err != nil {
		return err
	}
	c.events.Control(log.DirectionOut, log.ControlMsgPing, nil)
	return nil
}

func (c *WSConn) handlePing(appData string) error {
	c.events.Control(log.DirectionIn, log.ControlMsgPing, nil)
	err := c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlWriteWait))
	if err == nil {
		c.events.Control(log.DirectionOut, log.ControlMsgPong, nil)
		return nil
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil
	}
	return err
}

func (c *WSConn) handlePong(appData string) error {
	c.events.Control(log.DirectionIn, log.ControlMsgPong, nil)
	if c.ka != nil && len(appData) == 4 {
		c.ka.PongReceived(binary.BigEndian.Uint32([]byte(appData)))
	}
	return nil
}
