package wire

import (
	"errors"
	"fmt"
)

// Decode error causes.
var (
	// ErrTruncated indicates the frame or its document ended early.
	ErrTruncated = errors.New("truncated frame")

	// ErrUnknownTag indicates the type tag is not defined.
	ErrUnknownTag = errors.New("unknown frame tag")

	// ErrInvalidDocument indicates the payload failed structural validation.
	ErrInvalidDocument = errors.New("invalid document")
)

// DecodeError is returned by Decode for any frame that cannot be accepted.
type DecodeError struct {
	// Type is the tag of the offending frame, if one could be read.
	Type FrameType

	// Reason is a short human-readable description.
	Reason string

	// Err is one of ErrTruncated, ErrUnknownTag or ErrInvalidDocument,
	// possibly wrapping the underlying CBOR error.
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s frame: %s", e.Type, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeError(t FrameType, cause error, format string, args ...any) *DecodeError {
	return &DecodeError{Type: t, Reason: fmt.Sprintf(format, args...), Err: cause}
}
