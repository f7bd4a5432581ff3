package ship

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindTransport, "TRANSPORT_ERROR"},
		{KindDecode, "DECODE_ERROR"},
		{KindTimeout, "TIMEOUT"},
		{KindProtocolViolation, "PROTOCOL_VIOLATION"},
		{KindHandshakeFailed, "HANDSHAKE_FAILED"},
		{KindTrustRejected, "TRUST_REJECTED"},
		{KindGateUnsupported, "GATE_UNSUPPORTED"},
		{KindAborted, "ABORTED"},
		{Kind(99), "KIND(99)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestNewErrorRemapsEarlyPhases(t *testing.T) {
	tests := []struct {
		phase    Phase
		kind     Kind
		wantKind Kind
	}{
		{PhaseModeInit, KindTimeout, KindHandshakeFailed},
		{PhaseModeInit, KindDecode, KindHandshakeFailed},
		{PhaseHandshake, KindProtocolViolation, KindHandshakeFailed},
		{PhaseHandshake, KindTransport, KindTransport},
		{PhaseModeInit, KindAborted, KindAborted},
		{PhaseHello, KindTimeout, KindTimeout},
		{PhaseGate, KindDecode, KindDecode},
		{PhaseData, KindProtocolViolation, KindProtocolViolation},
	}

	for _, tt := range tests {
		err := newError(tt.phase, tt.kind, "", io.ErrUnexpectedEOF)
		if err.Kind != tt.wantKind {
			t.Errorf("newError(%s, %s).Kind = %s, want %s", tt.phase, tt.kind, err.Kind, tt.wantKind)
		}
		if !errors.Is(err, tt.kind.sentinel()) {
			t.Errorf("newError(%s, %s) should still match %v", tt.phase, tt.kind, tt.kind.sentinel())
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("newError(%s, %s) lost its cause", tt.phase, tt.kind)
		}
	}
}

func TestNewErrorWithoutCause(t *testing.T) {
	err := newError(PhaseModeInit, KindTimeout, PurposeModeInitWait, nil)
	if !errors.Is(err, ErrHandshakeFailed) || !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want handshake failed wrapping timeout", err)
	}
	want := "ship: handshake failed in MODE_INIT (mode-init.wait): timeout"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrorIsMatchesOnlyOwnKind(t *testing.T) {
	err := newError(PhaseHello, KindTrustRejected, "", ErrPeerRejected)
	if !errors.Is(err, ErrTrustRejected) {
		t.Error("should match ErrTrustRejected")
	}
	if errors.Is(err, ErrAborted) {
		t.Error("should not match ErrAborted")
	}
	if !errors.Is(err, ErrPeerRejected) {
		t.Error("should match its cause")
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", newError(PhaseGate, KindGateUnsupported, "", nil))
	if got := KindOf(err); got != KindGateUnsupported {
		t.Errorf("KindOf() = %s, want %s", got, KindGateUnsupported)
	}
	if got := KindOf(errors.New("plain")); got != 0 {
		t.Errorf("KindOf(plain) = %d, want 0", got)
	}
	if got := KindOf(nil); got != 0 {
		t.Errorf("KindOf(nil) = %d, want 0", got)
	}
}
