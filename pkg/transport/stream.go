package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/shipproto/ship-go/pkg/log"
)

// StreamConn carries length-prefixed frames over a TLS byte stream.
type StreamConn struct {
	id       string
	conn     net.Conn
	framer   *Framer
	tlsState tls.ConnectionState
	events   *log.Emitter

	closeCh   chan struct{}
	closeOnce sync.Once
	readMu    sync.Mutex
}

func newStreamConn(id string, conn net.Conn, state tls.ConnectionState, maxSize uint32, events *log.Emitter) *StreamConn {
	framer := NewFramer(conn, maxSize)
	framer.SetEmitter(events)

	return &StreamConn{
		id:       id,
		conn:     conn,
		framer:   framer,
		tlsState: state,
		events:   events,
		closeCh:  make(chan struct{}),
	}
}

// ID returns the connection identifier.
func (c *StreamConn) ID() string {
	return c.id
}

// RemoteAddr returns the remote network address.
func (c *StreamConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local network address.
func (c *StreamConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// TLSState returns the TLS connection state.
func (c *StreamConn) TLSState() tls.ConnectionState {
	return c.tlsState
}

// SendFrame writes one length-prefixed frame.
func (c *StreamConn) SendFrame(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

// ReceiveFrame reads one length-prefixed frame. A done context aborts the
// read and leaves the connection unusable for further reads.
func (c *StreamConn) ReceiveFrame(ctx context.Context) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	data, err := c.framer.ReadFrame()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		select {
		case <-c.closeCh:
			return nil, ErrConnectionClosed
		default:
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrConnectionClosed
		}
		return nil, err
	}
	return data, nil
}

// Close closes the connection.
func (c *StreamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
		c.events.State(log.LayerTransport, log.StateEntityConnection, "CONNECTED", "DISCONNECTED", "")
	})
	return err
}
