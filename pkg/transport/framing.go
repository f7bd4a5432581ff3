package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/shipproto/ship-go/pkg/log"
)

// Stream framing: every SHIP frame is preceded by its length as a 4-byte
// big-endian integer.
const (
	LengthPrefixSize = 4

	// DefaultMaxMessageSize bounds a single frame (64 KB).
	DefaultMaxMessageSize = 65536
)

// Framing errors.
var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrMessageEmpty    = errors.New("message is empty")
	ErrFrameTruncated  = errors.New("frame truncated")
)

// Framer reads and writes length-prefixed frames on a byte stream.
// WriteFrame is safe for concurrent use; ReadFrame is not.
type Framer struct {
	r   io.Reader
	w   io.Writer
	max uint32

	wmu    sync.Mutex
	hdr    [LengthPrefixSize]byte
	events *log.Emitter
}

// NewFramer creates a framer on rw. A zero maxSize selects
// DefaultMaxMessageSize.
func NewFramer(rw io.ReadWriter, maxSize uint32) *Framer {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Framer{r: rw, w: rw, max: maxSize}
}

// SetEmitter enables frame capture. Pass nil to disable.
func (f *Framer) SetEmitter(e *log.Emitter) {
	f.events = e
}

// WriteFrame writes data as one frame. Prefix and payload go out in a
// single write.
func (f *Framer) WriteFrame(data []byte) error {
	if err := f.check(uint32(len(data))); err != nil {
		return err
	}

	buf := make([]byte, LengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[LengthPrefixSize:], data)

	f.wmu.Lock()
	_, err := f.w.Write(buf)
	f.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	f.events.Frame(log.DirectionOut, data, LengthPrefixSize)
	return nil
}

// ReadFrame reads the next frame. A clean end of stream between frames is
// io.EOF; an end inside a frame is ErrFrameTruncated.
func (f *Framer) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(f.r, f.hdr[:]); err != nil {
		return nil, readErr(err)
	}

	n := binary.BigEndian.Uint32(f.hdr[:])
	if err := f.check(n); err != nil {
		return nil, err
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		if err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, readErr(err)
	}

	f.events.Frame(log.DirectionIn, payload, LengthPrefixSize)
	return payload, nil
}

func (f *Framer) check(n uint32) error {
	if n == 0 {
		return ErrMessageEmpty
	}
	if n > f.max {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, f.max)
	}
	return nil
}

func readErr(err error) error {
	switch {
	case err == io.EOF:
		return io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return ErrFrameTruncated
	default:
		return fmt.Errorf("read frame: %w", err)
	}
}
