package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
)

// PipeConn is one end of an in-memory connection created by Pipe.
// Frames are queued without bound. After the peer closes, queued frames
// are still delivered before ReceiveFrame returns io.EOF, and frames sent
// to it are discarded.
type PipeConn struct {
	id   string
	in   *frameQueue
	out  *frameQueue
	addr pipeAddr

	closeCh   chan struct{}
	closeOnce sync.Once
}

// Pipe creates a connected pair of in-memory connections.
func Pipe() (*PipeConn, *PipeConn) {
	ab, ba := newFrameQueue(), newFrameQueue()
	a := &PipeConn{id: uuid.New().String(), in: ba, out: ab, addr: "pipe-a", closeCh: make(chan struct{})}
	b := &PipeConn{id: uuid.New().String(), in: ab, out: ba, addr: "pipe-b", closeCh: make(chan struct{})}
	return a, b
}

// ID returns the connection identifier.
func (p *PipeConn) ID() string {
	return p.id
}

// RemoteAddr returns a placeholder address.
func (p *PipeConn) RemoteAddr() net.Addr {
	return p.addr
}

// TLSState returns the zero state.
func (p *PipeConn) TLSState() tls.ConnectionState {
	return tls.ConnectionState{}
}

// SendFrame queues a copy of data for the peer.
func (p *PipeConn) SendFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	select {
	case <-p.closeCh:
		return ErrConnectionClosed
	default:
	}
	return p.out.push(data)
}

// ReceiveFrame returns the next queued frame.
func (p *PipeConn) ReceiveFrame(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-p.closeCh:
			return nil, ErrConnectionClosed
		default:
		}

		data, ok, err := p.in.pop()
		if ok || err != nil {
			return data, err
		}

		select {
		case <-p.in.notify:
		case <-p.in.done:
		case <-p.closeCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close closes both directions.
func (p *PipeConn) Close() error {
	p.closeOnce.Do(func() {
		close(p.closeCh)
		p.out.close()
		p.in.close()
	})
	return nil
}

type frameQueue struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newFrameQueue() *frameQueue {
	return &frameQueue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *frameQueue) push(data []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.frames = append(q.frames, append([]byte(nil), data...))
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// pop returns the oldest frame. ok is false when the queue is empty and
// still open. A closed, drained queue yields io.EOF.
func (q *frameQueue) pop() (data []byte, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) > 0 {
		data = q.frames[0]
		q.frames[0] = nil
		q.frames = q.frames[1:]
		return data, true, nil
	}
	if q.closed {
		return nil, false, io.EOF
	}
	return nil, false, nil
}

func (q *frameQueue) close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
	})
}

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }
