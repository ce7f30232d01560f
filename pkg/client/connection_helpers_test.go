package client

import (
	"io"
	"net"
	"testing"

	"github.com/aeolun/bgsclient/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerAddress(t *testing.T) {
	t.Setenv("BGS_SSH_USER", "tester")

	tests := []struct {
		name    string
		address string
		display string
		raw     string
		kind    string
	}{
		{"bare host gets default port", "example.com", "example.com:7777", "example.com:7777", "tcp"},
		{"host and port", "example.com:9000", "example.com:9000", "example.com:9000", "tcp"},
		{"tcp scheme", "tcp://example.com:9000", "example.com:9000", "example.com:9000", "tcp"},
		{"ipv6 without port", "[::1]", "[::1]:7777", "[::1]:7777", "tcp"},
		{"ssh default user and port", "ssh://example.com", "ssh://tester@example.com:7778", "tester@example.com:7778", "ssh"},
		{"ssh explicit user", "ssh://alice@example.com:2222", "ssh://alice@example.com:2222", "alice@example.com:2222", "ssh"},
		{"ws default path", "ws://example.com", "ws://example.com:8080/ws", "example.com:8080", "websocket"},
		{"wss custom path", "wss://example.com:443/chat", "wss://example.com:443/chat", "example.com:443", "websocket"},
		{"scheme is case-insensitive", "WS://example.com:81", "ws://example.com:81/ws", "example.com:81", "websocket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseServerAddress(tt.address)
			require.NoError(t, err)
			assert.Equal(t, tt.display, cfg.display)
			assert.Equal(t, tt.raw, cfg.raw)
			assert.Equal(t, tt.kind, cfg.kind)
			assert.NotNil(t, cfg.dial)
		})
	}
}

func TestParseServerAddressErrors(t *testing.T) {
	for _, addr := range []string{"", "   ", "ftp://example.com", "tcp://", ":7777", "http://[::1"} {
		t.Run(addr, func(t *testing.T) {
			_, err := parseServerAddress(addr)
			assert.Error(t, err)
		})
	}
}

func TestConnectionCountsBytes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Echo peer.
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = io.Copy(c, c)
	}()

	conn, err := NewConnection(ln.Addr().String())
	require.NoError(t, err)
	assert.Nil(t, conn.Transport())
	require.NoError(t, conn.Connect())
	defer conn.Close()

	assert.Error(t, conn.Connect(), "second Connect must fail")
	assert.Equal(t, "tcp", conn.GetConnectionType())
	assert.Equal(t, ln.Addr().String(), conn.GetRawAddress())

	tr := conn.Transport()
	require.NotNil(t, tr)
	require.NoError(t, protocol.WriteMessage(tr, &protocol.StatMessage{Username: "bob"}))

	msg, err := protocol.DecodeClientMessage(tr)
	require.NoError(t, err)
	assert.Equal(t, &protocol.StatMessage{Username: "bob"}, msg)

	assert.Equal(t, uint64(6), conn.GetBytesSent())
	assert.Equal(t, uint64(6), conn.GetBytesReceived())

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}

func TestConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	conn, err := NewConnection(addr)
	require.NoError(t, err)
	assert.Error(t, conn.Connect())
	assert.NoError(t, conn.Close())
}
