package wsnet

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer upgrades /ws and echoes the byte stream back.
func echoServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := New(ws)
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestConnStreamsAcrossMessages(t *testing.T) {
	conn, err := Dial(echoServer(t), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	// Three writes, three WebSocket messages.
	for _, chunk := range [][]byte{{0x00}, {0x0A, 0x00}, {0x02}} {
		n, err := conn.Write(chunk)
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}

	got := make([]byte, 4)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x0A, 0x00, 0x02}, got)
}

func TestConnCloseEndsPeerStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	done := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			done <- err
			return
		}
		conn := New(ws)
		defer conn.Close()
		_, err = io.ReadAll(conn)
		done <- err
	}))
	defer srv.Close()

	conn, err := Dial("ws"+strings.TrimPrefix(srv.URL, "http"), 2*time.Second)
	require.NoError(t, err)
	_, err = conn.Write([]byte("bye"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	// Second close is a no-op.
	assert.NoError(t, conn.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe close")
	}
}

func TestDialFailure(t *testing.T) {
	_, err := Dial("ws://127.0.0.1:1/ws", 200*time.Millisecond)
	assert.Error(t, err)
}
