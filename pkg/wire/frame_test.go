package wire

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{"mode init", ModeInitFrame()},
		{"mode init ack", ModeInitAckFrame()},
		{"hello approved", NewHelloFrame(Hello{Decision: TrustApproved})},
		{"hello prolong", NewHelloFrame(Hello{Decision: TrustUndecided, ProlongationRequest: true, Waiting: 60000})},
		{"hello rejected", NewHelloFrame(Hello{Decision: TrustRejected})},
		{"propose", NewProposeFrame([]Format{{Name: "cbor", Major: 1, Minor: 0}, {Name: "json", Major: 1, Minor: 2}})},
		{"select", NewSelectFrame(Format{Name: "json", Major: 1, Minor: 2})},
		{"handshake error", NewHandshakeErrorFrame(HandshakeErrNoCommonFormat)},
		{"gate none", NewGateFrame(GateNone)},
		{"gate required", NewGateFrame(GateRequired)},
		{"close", NewCloseFrame("")},
		{"close with reason", NewCloseFrame("shutdown")},
		{"data", NewDataFrame([]byte{0xDE, 0xAD, 0xBE, 0xEF})},
		{"empty data", NewDataFrame(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := Encode(tt.frame)
			if data[0] != byte(tt.frame.Type) {
				t.Fatalf("tag = 0x%02X, want 0x%02X", data[0], byte(tt.frame.Type))
			}

			decoded, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if decoded.Type != tt.frame.Type {
				t.Errorf("Type = %s, want %s", decoded.Type, tt.frame.Type)
			}
			if !bytes.Equal(decoded.Payload, tt.frame.Payload) {
				t.Errorf("Payload = %x, want %x", decoded.Payload, tt.frame.Payload)
			}
			if !reflect.DeepEqual(decoded.doc, tt.frame.doc) {
				t.Errorf("document = %#v, want %#v", decoded.doc, tt.frame.doc)
			}
		})
	}
}

func TestEncodeDeterministic(t *testing.T) {
	f := NewProposeFrame([]Format{{Name: "cbor", Major: 1}, {Name: "json", Major: 2, Minor: 1}})
	a := Encode(f)
	b := Encode(NewProposeFrame([]Format{{Name: "cbor", Major: 1}, {Name: "json", Major: 2, Minor: 1}}))
	if !bytes.Equal(a, b) {
		t.Fatalf("encodings differ: %x vs %x", a, b)
	}
}

func TestModeInitWireBytes(t *testing.T) {
	if got := Encode(ModeInitFrame()); !bytes.Equal(got, []byte{0x00}) {
		t.Errorf("ModeInit = %x, want 00", got)
	}
	if got := Encode(ModeInitAckFrame()); !bytes.Equal(got, []byte{0x01}) {
		t.Errorf("ModeInitAck = %x, want 01", got)
	}
}

func TestDecodeDoesNotAlias(t *testing.T) {
	data := Encode(NewDataFrame([]byte("hello")))
	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	data[1] = 'X'
	if string(f.Payload) != "hello" {
		t.Errorf("Payload = %q, modified through input", f.Payload)
	}
}

func TestDecodeErrors(t *testing.T) {
	hello := func(h any) []byte {
		data, err := Marshal(h)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		return append([]byte{byte(FrameHello)}, data...)
	}

	tests := []struct {
		name  string
		data  []byte
		cause error
	}{
		{"empty input", nil, ErrTruncated},
		{"unknown tag", []byte{0x7E, 0x01}, ErrUnknownTag},
		{"mode init with payload", []byte{0x00, 0x01}, ErrInvalidDocument},
		{"hello without document", []byte{byte(FrameHello)}, ErrTruncated},
		{"gate without document", []byte{byte(FrameGate)}, ErrTruncated},
		{"hello missing decision", hello(map[int]any{2: false}), ErrInvalidDocument},
		{"hello unknown decision", hello(map[int]any{1: 9}), ErrInvalidDocument},
		{"hello approved with prolongation", hello(map[int]any{1: 2, 2: true}), ErrInvalidDocument},
		{"hello not a map", hello([]int{1, 2}), ErrInvalidDocument},
		{"propose empty list", append([]byte{byte(FrameHandshakePropose)}, mustMarshal(HandshakePropose{})...), ErrInvalidDocument},
		{"select empty name", append([]byte{byte(FrameHandshakeSelect)}, mustMarshal(map[int]any{1: map[int]any{2: 1}})...), ErrInvalidDocument},
		{"gate missing level", append([]byte{byte(FrameGate)}, mustMarshal(map[int]any{})...), ErrInvalidDocument},
		{"handshake error missing code", append([]byte{byte(FrameHandshakeError)}, mustMarshal(map[int]any{})...), ErrInvalidDocument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("error %T is not *DecodeError", err)
			}
			if !errors.Is(err, tt.cause) {
				t.Errorf("error = %v, want cause %v", err, tt.cause)
			}
		})
	}
}

func TestDecodeTruncatedDocument(t *testing.T) {
	data := Encode(NewHelloFrame(Hello{Decision: TrustApproved}))
	_, err := Decode(data[:len(data)-1])
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if de.Type != FrameHello {
		t.Errorf("Type = %s, want HELLO", de.Type)
	}
}

func TestProposeTooManyFormats(t *testing.T) {
	formats := make([]Format, MaxFormats+1)
	for i := range formats {
		formats[i] = Format{Name: "f", Major: uint16(i)}
	}
	data := append([]byte{byte(FrameHandshakePropose)}, mustMarshal(HandshakePropose{Formats: formats})...)
	if _, err := Decode(data); err == nil {
		t.Fatal("expected error for oversized proposal")
	}
}

func TestUnknownGateLevelIsAccepted(t *testing.T) {
	data := append([]byte{byte(FrameGate)}, mustMarshal(map[int]any{1: 200})...)
	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	g, ok := f.Gate()
	if !ok {
		t.Fatal("Gate() returned false")
	}
	if g.Level == GateNone {
		t.Error("opaque level decoded as none")
	}
}

func TestAccessorsOnWrongType(t *testing.T) {
	f := NewDataFrame([]byte{1})
	if _, ok := f.Hello(); ok {
		t.Error("Hello() on data frame returned ok")
	}
	if _, ok := f.Gate(); ok {
		t.Error("Gate() on data frame returned ok")
	}
	if _, ok := NewGateFrame(GateNone).Select(); ok {
		t.Error("Select() on gate frame returned ok")
	}
}

func TestFrameString(t *testing.T) {
	tests := []struct {
		frame Frame
		want  string
	}{
		{ModeInitFrame(), "MODE_INIT"},
		{NewHelloFrame(Hello{Decision: TrustUndecided, ProlongationRequest: true}), "HELLO(undecided, prolong)"},
		{NewSelectFrame(Format{Name: "json", Major: 1, Minor: 0}), "HANDSHAKE_SELECT(json/1.0)"},
		{NewGateFrame(GateRequired), "GATE(required)"},
		{NewDataFrame([]byte{1, 2, 3}), "DATA(3 bytes)"},
	}
	for _, tt := range tests {
		if got := tt.frame.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
