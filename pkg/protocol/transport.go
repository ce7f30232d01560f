package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Transport provides the blocking byte primitives frames are built from.
// It has no protocol knowledge. The read side and the write side may be
// used concurrently by different goroutines, but each side by one only.
type Transport struct {
	r         *bufio.Reader
	w         io.Writer
	maxString int
}

// DefaultMaxStringLength bounds a single NUL-terminated field.
const DefaultMaxStringLength = 64 * 1024

// NewTransport wraps a bidirectional stream such as a net.Conn.
func NewTransport(rw io.ReadWriter) *Transport {
	return NewTransportRW(rw, rw)
}

// NewTransportRW builds a transport from separate read and write halves.
func NewTransportRW(r io.Reader, w io.Writer) *Transport {
	return &Transport{
		r:         bufio.NewReader(r),
		w:         w,
		maxString: DefaultMaxStringLength,
	}
}

// SetMaxStringLength changes the longest field ReadUntil accepts.
// n <= 0 restores the default.
func (t *Transport) SetMaxStringLength(n int) {
	if n <= 0 {
		n = DefaultMaxStringLength
	}
	t.maxString = n
}

// ReadExact blocks until n bytes have been read or the stream closes.
func (t *Transport) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.r, buf); err != nil {
		return nil, closed(err)
	}
	return buf, nil
}

// ReadUntil blocks until delim is seen and returns the preceding bytes.
// More than the maximum string length before delim is a protocol violation.
func (t *Transport) ReadUntil(delim byte) ([]byte, error) {
	var field []byte
	for {
		chunk, err := t.r.ReadSlice(delim)
		n := len(field) + len(chunk)
		if err == nil {
			n--
		}
		if n > t.maxString {
			return nil, &ProtocolViolationError{
				Field: "string",
				Cause: fmt.Sprintf("no terminator within %d bytes", t.maxString),
			}
		}
		field = append(field, chunk...)

		switch {
		case err == nil:
			return field[:len(field)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
		default:
			// A partial string without its terminator is useless to the caller.
			return nil, closed(err)
		}
	}
}

// WriteAll writes every byte of b, looping over partial writes.
func (t *Transport) WriteAll(b []byte) error {
	for len(b) > 0 {
		n, err := t.w.Write(b)
		if err != nil {
			return closed(err)
		}
		if n == 0 {
			return closed(io.ErrShortWrite)
		}
		b = b[n:]
	}
	return nil
}

// Write lets message encoders target the transport directly.
func (t *Transport) Write(b []byte) (int, error) {
	if err := t.WriteAll(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func closed(err error) error {
	return fmt.Errorf("%w: %w", ErrClosed, err)
}

var _ Reader = (*Transport)(nil)
