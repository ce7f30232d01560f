package server

import (
	"io"
	"sync"
	"time"

	"github.com/aeolun/bgsclient/pkg/protocol"
)

// writeTimeout bounds a single frame write on streams that support deadlines.
const writeTimeout = 10 * time.Second

// SafeConn wraps a client stream with write synchronization.
//
// A session's own handler and other sessions delivering notifications may
// write to the same connection at once. Without the mutex their frame bytes
// would interleave on the wire.
type SafeConn struct {
	conn      io.ReadWriteCloser
	transport *protocol.Transport
	remote    string
	mu        sync.Mutex // Protects writes to conn
	closeOnce sync.Once
	closeErr  error
}

// NewSafeConn wraps conn; remote is used for logging and limits.
func NewSafeConn(conn io.ReadWriteCloser, remote string) *SafeConn {
	return &SafeConn{
		conn:      conn,
		transport: protocol.NewTransport(conn),
		remote:    remote,
	}
}

// WriteMessage encodes msg and writes it as one frame.
func (sc *SafeConn) WriteMessage(msg protocol.ServerMessage) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if d, ok := sc.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		_ = d.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	return protocol.WriteMessage(sc.transport, msg)
}

// ReadMessage decodes the next client frame. Reads don't need write
// synchronization but must come from one goroutine.
func (sc *SafeConn) ReadMessage() (protocol.ClientMessage, error) {
	return protocol.DecodeClientMessage(sc.transport)
}

// Close closes the underlying connection once.
func (sc *SafeConn) Close() error {
	sc.closeOnce.Do(func() {
		sc.closeErr = sc.conn.Close()
	})
	return sc.closeErr
}

// RemoteAddr returns the peer address given at construction.
func (sc *SafeConn) RemoteAddr() string {
	return sc.remote
}
