package protocol

import (
	"bytes"
	"io"
)

// Message is implemented by every frame type.
// Frame format: [Opcode (2 bytes, big-endian)][opcode-specific payload]
// There is no length prefix: payload boundaries come from the grammar of
// each opcode, so a frame can only be decoded by reading it field by field.
type Message interface {
	// Opcode returns the frame tag.
	Opcode() Opcode
	// EncodeTo writes the whole frame, tag included.
	EncodeTo(w io.Writer) error
	// Encode serializes the whole frame to bytes (convenience wrapper).
	Encode() ([]byte, error)
	// DecodeFrom reads the payload. The tag has already been consumed.
	DecodeFrom(r Reader) error
}

// ClientMessage is a frame the client sends.
type ClientMessage interface {
	Message
	clientFrame()
}

// ServerMessage is a frame the server sends.
type ServerMessage interface {
	Message
	serverFrame()
}

func encodeMessage(m Message) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := m.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteMessage encodes m fully before writing so that a failed encode never
// leaves half a frame on the wire.
func WriteMessage(w io.Writer, m Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if t, ok := w.(*Transport); ok {
		return t.WriteAll(data)
	}
	_, err = w.Write(data)
	return err
}
