package wire

import (
	"errors"
	"fmt"
	"io"
)

// FrameType is the one-byte tag at the start of every frame.
type FrameType uint8

const (
	FrameModeInit         FrameType = 0x00
	FrameModeInitAck      FrameType = 0x01
	FrameHello            FrameType = 0x10
	FrameHandshakePropose FrameType = 0x20
	FrameHandshakeSelect  FrameType = 0x21
	FrameHandshakeError   FrameType = 0x22
	FrameGate             FrameType = 0x30
	FrameClose            FrameType = 0x3F
	FrameData             FrameType = 0x80
)

// String returns the frame type name.
func (t FrameType) String() string {
	switch t {
	case FrameModeInit:
		return "MODE_INIT"
	case FrameModeInitAck:
		return "MODE_INIT_ACK"
	case FrameHello:
		return "HELLO"
	case FrameHandshakePropose:
		return "HANDSHAKE_PROPOSE"
	case FrameHandshakeSelect:
		return "HANDSHAKE_SELECT"
	case FrameHandshakeError:
		return "HANDSHAKE_ERROR"
	case FrameGate:
		return "GATE"
	case FrameClose:
		return "CLOSE"
	case FrameData:
		return "DATA"
	default:
		return fmt.Sprintf("0x%02X", uint8(t))
	}
}

// IsControl reports whether the frame is a control frame.
func (t FrameType) IsControl() bool {
	return t != FrameData
}

// Frame is one discrete unit on the wire. Frames are values; the payload
// slice is never modified after construction.
type Frame struct {
	Type    FrameType
	Payload []byte

	// doc is the validated document of negotiation frames.
	doc any
}

// Encode returns the wire bytes of the frame.
func Encode(f Frame) []byte {
	out := make([]byte, 1+len(f.Payload))
	out[0] = byte(f.Type)
	copy(out[1:], f.Payload)
	return out
}

// Decode parses exactly one frame. The returned frame does not alias data.
func Decode(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, decodeError(0, ErrTruncated, "empty input")
	}

	t := FrameType(data[0])
	payload := append([]byte(nil), data[1:]...)
	f := Frame{Type: t, Payload: payload}

	switch t {
	case FrameModeInit, FrameModeInitAck:
		if len(payload) != 0 {
			return Frame{}, decodeError(t, ErrInvalidDocument, "unexpected %d byte payload", len(payload))
		}
		return f, nil

	case FrameData:
		return f, nil

	case FrameClose:
		if len(payload) == 0 {
			f.doc = &Close{}
			return f, nil
		}
		var c Close
		return decodeDocument(f, &c)

	case FrameHello:
		var h Hello
		return decodeDocument(f, &h)

	case FrameHandshakePropose:
		var p HandshakePropose
		return decodeDocument(f, &p)

	case FrameHandshakeSelect:
		var s HandshakeSelect
		return decodeDocument(f, &s)

	case FrameHandshakeError:
		var e HandshakeError
		return decodeDocument(f, &e)

	case FrameGate:
		var g Gate
		return decodeDocument(f, &g)

	default:
		return Frame{}, decodeError(t, ErrUnknownTag, "unknown tag")
	}
}

type document interface {
	Validate() error
}

func decodeDocument(f Frame, doc document) (Frame, error) {
	if len(f.Payload) == 0 {
		return Frame{}, decodeError(f.Type, ErrTruncated, "missing document")
	}
	if err := Unmarshal(f.Payload, doc); err != nil {
		cause := ErrInvalidDocument
		if errors.Is(err, io.ErrUnexpectedEOF) {
			cause = ErrTruncated
		}
		return Frame{}, decodeError(f.Type, fmt.Errorf("%w: %w", cause, err), "%v", err)
	}
	if err := doc.Validate(); err != nil {
		return Frame{}, decodeError(f.Type, ErrInvalidDocument, "%v", err)
	}
	f.doc = doc
	return f, nil
}

// ModeInitFrame returns the protocol presence announcement.
func ModeInitFrame() Frame {
	return Frame{Type: FrameModeInit}
}

// ModeInitAckFrame returns the acknowledgement of ModeInit.
func ModeInitAckFrame() Frame {
	return Frame{Type: FrameModeInitAck}
}

// NewHelloFrame builds a Hello frame.
func NewHelloFrame(h Hello) Frame {
	return newDocumentFrame(FrameHello, &h)
}

// NewProposeFrame builds a HandshakePropose frame. The slice is copied.
func NewProposeFrame(formats []Format) Frame {
	p := HandshakePropose{Formats: append([]Format(nil), formats...)}
	return newDocumentFrame(FrameHandshakePropose, &p)
}

// NewSelectFrame builds a HandshakeSelect frame.
func NewSelectFrame(f Format) Frame {
	return newDocumentFrame(FrameHandshakeSelect, &HandshakeSelect{Format: f})
}

// NewHandshakeErrorFrame builds a HandshakeError frame.
func NewHandshakeErrorFrame(code HandshakeErrorCode) Frame {
	return newDocumentFrame(FrameHandshakeError, &HandshakeError{Code: code})
}

// NewGateFrame builds a Gate frame.
func NewGateFrame(level GateLevel) Frame {
	return newDocumentFrame(FrameGate, &Gate{Level: level})
}

// NewCloseFrame builds a Close frame. An empty reason yields an empty payload.
func NewCloseFrame(reason string) Frame {
	if reason == "" {
		return Frame{Type: FrameClose, doc: &Close{}}
	}
	return newDocumentFrame(FrameClose, &Close{Reason: reason})
}

// NewDataFrame builds a Data frame. The payload is copied.
func NewDataFrame(payload []byte) Frame {
	return Frame{Type: FrameData, Payload: append([]byte(nil), payload...)}
}

func newDocumentFrame(t FrameType, doc any) Frame {
	return Frame{Type: t, Payload: mustMarshal(doc), doc: doc}
}

// Hello returns the Hello document of a Hello frame.
func (f Frame) Hello() (Hello, bool) {
	h, ok := f.doc.(*Hello)
	if !ok {
		return Hello{}, false
	}
	return *h, true
}

// Propose returns the document of a HandshakePropose frame.
func (f Frame) Propose() (HandshakePropose, bool) {
	p, ok := f.doc.(*HandshakePropose)
	if !ok {
		return HandshakePropose{}, false
	}
	return HandshakePropose{Formats: append([]Format(nil), p.Formats...)}, true
}

// Select returns the document of a HandshakeSelect frame.
func (f Frame) Select() (HandshakeSelect, bool) {
	s, ok := f.doc.(*HandshakeSelect)
	if !ok {
		return HandshakeSelect{}, false
	}
	return *s, true
}

// HandshakeError returns the document of a HandshakeError frame.
func (f Frame) HandshakeError() (HandshakeError, bool) {
	e, ok := f.doc.(*HandshakeError)
	if !ok {
		return HandshakeError{}, false
	}
	return *e, true
}

// Gate returns the document of a Gate frame.
func (f Frame) Gate() (Gate, bool) {
	g, ok := f.doc.(*Gate)
	if !ok {
		return Gate{}, false
	}
	return *g, true
}

// Close returns the document of a Close frame.
func (f Frame) Close() (Close, bool) {
	c, ok := f.doc.(*Close)
	if !ok {
		return Close{}, false
	}
	return *c, true
}

// String summarizes the frame for logs.
func (f Frame) String() string {
	switch doc := f.doc.(type) {
	case *Hello:
		if doc.ProlongationRequest {
			return fmt.Sprintf("%s(%s, prolong)", f.Type, doc.Decision)
		}
		return fmt.Sprintf("%s(%s)", f.Type, doc.Decision)
	case *HandshakeSelect:
		return fmt.Sprintf("%s(%s)", f.Type, doc.Format)
	case *HandshakeError:
		return fmt.Sprintf("%s(%s)", f.Type, doc.Code)
	case *Gate:
		return fmt.Sprintf("%s(%s)", f.Type, doc.Level)
	case *HandshakePropose:
		return fmt.Sprintf("%s(%d formats)", f.Type, len(doc.Formats))
	}
	if f.Type == FrameData {
		return fmt.Sprintf("%s(%d bytes)", f.Type, len(f.Payload))
	}
	return f.Type.String()
}
