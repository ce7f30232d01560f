package protocol

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// token draws a non-empty word with no spaces and no NUL.
func token() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-zA-Z0-9_@.!-]{1,16}`)
}

// text draws free-form content with spaces but no NUL or line breaks.
func text() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-zA-Z0-9 _@.!?-]{0,64}`)
}

// TestShortRoundTrip tests that any 16-bit value survives big-endian conversion
func TestShortRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Uint16().Draw(t, "x")
		if got := BytesToShort(ShortToBytes(x)); got != x {
			t.Fatalf("round trip: got %d, want %d", got, x)
		}
	})
}

// TestCommandOpcodeRoundTrip tests that decoding an encoded command yields the verb's opcode
func TestCommandOpcodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		op := rapid.SampledFrom(ClientOpcodes()).Draw(t, "op")
		verb := op.String()
		if rapid.Bool().Draw(t, "lower") {
			verb = strings.ToLower(verb)
		}

		var line string
		switch op {
		case OpRegister, OpLogin:
			line = verb + " " + token().Draw(t, "user") + " " + token().Draw(t, "password")
		case OpFollow:
			line = verb + " " + rapid.SampledFrom([]string{"0", "1"}).Draw(t, "flag") + " " + token().Draw(t, "user")
		case OpPost:
			line = verb + " " + token().Draw(t, "first") + text().Draw(t, "content")
		case OpPM:
			line = verb + " " + token().Draw(t, "user") + " " + token().Draw(t, "first") + text().Draw(t, "content")
		case OpStat, OpBlock:
			line = verb + " " + token().Draw(t, "user")
		case OpLogout, OpUserList:
			line = verb
		}

		b, err := EncodeCommand(line)
		if err != nil {
			t.Fatalf("encode %q: %v", line, err)
		}
		msg, err := DecodeClientMessage(readerOf(b))
		if err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		if msg.Opcode() != op {
			t.Fatalf("opcode: got %s, want %s", msg.Opcode(), op)
		}
	})
}

// TestFollowAckConsumesExactlyN tests that a name-list ACK reads exactly its count
func TestFollowAckConsumesExactlyN(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		resolved := rapid.SampledFrom([]Opcode{OpFollow, OpUserList}).Draw(t, "resolved")
		names := rapid.SliceOfN(token(), 0, 20).Draw(t, "names")
		trailer := rapid.SliceOfN(rapid.Byte(), 0, 8).Draw(t, "trailer")

		var buf bytes.Buffer
		if err := (&AckMessage{Resolved: resolved, Users: names}).EncodeTo(&buf); err != nil {
			t.Fatalf("encode: %v", err)
		}
		buf.Write(trailer)

		r := readerOf(buf.Bytes())
		msg, err := DecodeServerMessage(r)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}

		want := "ACK " + strconv.Itoa(int(resolved)) + " " + strconv.Itoa(len(names))
		if len(names) > 0 {
			want += " " + strings.Join(names, " ")
		}
		if got := Render(msg); got != want {
			t.Fatalf("render: got %q, want %q", got, want)
		}

		if len(trailer) > 0 {
			rest, err := r.ReadExact(len(trailer))
			if err != nil {
				t.Fatalf("trailer: %v", err)
			}
			if !bytes.Equal(rest, trailer) {
				t.Fatalf("decoder consumed bytes past the frame")
			}
		}
	})
}

// TestStatAckConsumesThreeCounters tests that a STAT ACK always reads three uint16 values
func TestStatAckConsumesThreeCounters(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		stats := StatCounts{
			Posts:     rapid.Uint16().Draw(t, "posts"),
			Followers: rapid.Uint16().Draw(t, "followers"),
			Following: rapid.Uint16().Draw(t, "following"),
		}

		b, err := (&AckMessage{Resolved: OpStat, Stats: stats}).Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if len(b) != 10 {
			t.Fatalf("frame length: got %d, want 10", len(b))
		}

		msg, err := DecodeServerMessage(readerOf(b))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		ack := msg.(*AckMessage)
		if ack.Stats != stats {
			t.Fatalf("stats: got %+v, want %+v", ack.Stats, stats)
		}
	})
}

// TestServerMessageRoundTrip tests that any server frame decodes to what was encoded
func TestServerMessageRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var original ServerMessage
		switch rapid.IntRange(0, 2).Draw(t, "kind") {
		case 0:
			original = &ErrorMessage{Resolved: rapid.SampledFrom(ClientOpcodes()).Draw(t, "resolved")}
		case 1:
			original = &NotificationMessage{
				Kind:    NotificationKind(rapid.Byte().Draw(t, "kind")),
				Sender:  token().Draw(t, "sender"),
				Content: text().Draw(t, "content"),
			}
		default:
			original = &AckMessage{Resolved: rapid.SampledFrom([]Opcode{OpRegister, OpLogin, OpLogout, OpPost, OpPM, OpBlock}).Draw(t, "resolved")}
		}

		b, err := original.Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		decoded, err := DecodeServerMessage(readerOf(b))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if Render(decoded) != Render(original) {
			t.Fatalf("render mismatch: %q vs %q", Render(decoded), Render(original))
		}
	})
}

// TestDecodeArbitraryBytesNeverPanics tests that garbage input yields an error or a frame, never a panic
func TestDecodeArbitraryBytesNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "data")
		msg, err := DecodeServerMessage(readerOf(data))
		if err == nil && msg == nil {
			t.Fatalf("nil message without error")
		}
	})
}
