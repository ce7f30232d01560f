package protocol

import (
	"encoding/binary"
	"io"
	"strings"
)

// Reader is the read side of a frame transport. Both calls block until
// satisfied or the stream is observed closed.
type Reader interface {
	// ReadExact returns exactly n bytes.
	ReadExact(n int) ([]byte, error)
	// ReadUntil returns the bytes before delim; delim itself is consumed.
	ReadUntil(delim byte) ([]byte, error)
}

// ShortToBytes converts v to its 2-byte big-endian form.
func ShortToBytes(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

// BytesToShort reads a big-endian uint16 from the first two bytes of b.
func BytesToShort(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func WriteUint16(w io.Writer, v uint16) error {
	_, err := w.Write(ShortToBytes(v))
	return err
}

// WriteOpcode writes the 2-byte frame tag.
func WriteOpcode(w io.Writer, op Opcode) error {
	return WriteUint16(w, uint16(op))
}

// WriteString writes s followed by a single 0x00 terminator.
func WriteString(w io.Writer, s string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return ErrEmbeddedNUL
	}
	buf := make([]byte, 0, len(s)+1)
	buf = append(buf, s...)
	buf = append(buf, 0)
	_, err := w.Write(buf)
	return err
}

func ReadUint8(r Reader) (uint8, error) {
	b, err := r.ReadExact(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func ReadUint16(r Reader) (uint16, error) {
	b, err := r.ReadExact(2)
	if err != nil {
		return 0, err
	}
	return BytesToShort(b), nil
}

// ReadOpcode reads a 2-byte tag without validating it.
func ReadOpcode(r Reader) (Opcode, error) {
	v, err := ReadUint16(r)
	return Opcode(v), err
}

// ReadString reads a 0x00-terminated string, dropping the terminator.
func ReadString(r Reader) (string, error) {
	b, err := r.ReadUntil(0)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
