package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
)

// ErrConnectionClosed is returned by operations on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// Conn is an authenticated duplex channel that carries whole frames.
// Implemented by StreamConn, WSConn and PipeConn.
type Conn interface {
	// ID returns a unique connection identifier used in logs.
	ID() string

	// SendFrame sends one frame. Safe for concurrent use.
	SendFrame(data []byte) error

	// ReceiveFrame blocks until one whole frame arrives, the context is
	// done or the connection fails. Only one caller may receive at a time.
	ReceiveFrame(ctx context.Context) ([]byte, error)

	// Close closes the connection. Subsequent calls are no-ops.
	Close() error

	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr

	// TLSState returns the TLS connection state. Zero for in-memory pipes.
	TLSState() tls.ConnectionState
}

// TransportServer accepts connections.
// Implemented by Server.
type TransportServer interface {
	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop closes the listener and all open connections.
	Stop() error

	// Addr returns the server's listen address.
	Addr() net.Addr

	// ConnectionCount returns the number of open connections.
	ConnectionCount() int
}

// Compile-time interface satisfaction checks.
var (
	_ Conn            = (*StreamConn)(nil)
	_ Conn            = (*WSConn)(nil)
	_ Conn            = (*PipeConn)(nil)
	_ TransportServer = (*Server)(nil)
)
