package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/shipproto/ship-go/pkg/log"
)

// DefaultConnectTimeout bounds dialing plus the TLS handshake.
const DefaultConnectTimeout = 30 * time.Second

// ClientConfig configures a Client. It mirrors ServerConfig; zero values
// select the same defaults plus DefaultConnectTimeout.
type ClientConfig struct {
	TLSConfig *TLSConfig

	WebSocket bool
	Path      string

	MaxMessageSize uint32
	ConnectTimeout time.Duration
	KeepAlive      *KeepAliveConfig

	Logger log.Logger
}

// Client dials SHIP nodes.
type Client struct {
	config  ClientConfig
	tlsConf *tls.Config
}

func NewClient(config ClientConfig) (*Client, error) {
	if config.TLSConfig == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.Path == "" {
		config.Path = DefaultWebSocketPath
	}

	tlsConf, err := NewClientTLSConfig(config.TLSConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}

	return &Client{
		config:  config,
		tlsConf: tlsConf,
	}, nil
}

// Connect establishes a connection to the specified host:port address.
func (c *Client) Connect(ctx context.Context, address string) (Conn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	id := uuid.New().String()
	events := log.NewEmitter(c.config.Logger, id, log.RoleInitiator)

	if c.config.WebSocket {
		conn, err := dialWebSocket(ctx, id, address, c.config.Path, c.tlsConf, c.config.MaxMessageSize, events)
		if err != nil {
			return nil, err
		}
		if c.config.KeepAlive != nil {
			conn.startKeepAlive(*c.config.KeepAlive)
		}
		return conn, nil
	}

	dialer := &net.Dialer{}
	raw, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	tlsConn := tls.Client(raw, c.tlsConf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}

	state := tlsConn.ConnectionState()
	ski, err := VerifyConnection(state)
	if err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("connection verification failed: %w", err)
	}

	events = events.WithPeer(ski, raw.RemoteAddr().String())
	events.State(log.LayerTransport, log.StateEntityConnection, "", "CONNECTED", "")

	return newStreamConn(id, tlsConn, state, c.config.MaxMessageSize, events), nil
}
