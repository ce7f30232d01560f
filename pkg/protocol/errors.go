package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCommand is returned when the first word of a line is not a client verb.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMalformedArguments is returned when a recognized command lacks required fields.
	ErrMalformedArguments = errors.New("malformed arguments")
	// ErrClosed is returned when the underlying stream ends or fails mid-operation.
	ErrClosed = errors.New("connection closed")
	// ErrTooManyNames is returned when a name list does not fit the uint16 count field.
	ErrTooManyNames = errors.New("too many names for a single frame (max 65535)")
	// ErrEmbeddedNUL is returned when a string field would contain the 0x00 terminator.
	ErrEmbeddedNUL = errors.New("string contains a NUL byte")
)

// ProtocolViolationError reports bytes that do not form a decodable frame.
// Decoding cannot continue after one because the stream is misaligned.
type ProtocolViolationError struct {
	Field string // which field held the bad value ("opcode", "resolved opcode", "string")
	Value uint16
	Cause string
}

func (e *ProtocolViolationError) Error() string {
	if e.Field == "string" {
		return fmt.Sprintf("protocol violation: %s: %s", e.Field, e.Cause)
	}
	return fmt.Sprintf("protocol violation: %s %d: %s", e.Field, e.Value, e.Cause)
}

func violation(field string, value uint16, cause string) error {
	return &ProtocolViolationError{Field: field, Value: value, Cause: cause}
}

// IsProtocolViolation reports whether err (or anything it wraps) is a ProtocolViolationError.
func IsProtocolViolation(err error) bool {
	var pv *ProtocolViolationError
	return errors.As(err, &pv)
}
