package client

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/bgsclient/pkg/protocol"
	"github.com/aeolun/bgsclient/pkg/wsnet"
)

const (
	defaultTCPPort  = "7777"
	defaultSSHPort  = "7778"
	defaultHTTPPort = "8080"

	defaultDialTimeout = 5 * time.Second
)

// Connection is an established byte stream to a BGS server. It owns the
// net.Conn and exposes it as a protocol.Transport with byte counters.
type Connection struct {
	addr           string // Display address with scheme (e.g., "ws://server:8080")
	rawAddr        string // Raw host:port without scheme
	connectionType string // "tcp", "ssh", or "websocket"
	dial           func(timeout time.Duration) (net.Conn, error)
	warning        string
	dialTimeout    time.Duration

	mu        sync.RWMutex
	conn      net.Conn
	transport *protocol.Transport

	// Traffic counters (bytes on the wire)
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	logger *log.Logger

	closeOnce sync.Once
}

// NewConnection parses addr but does not dial.
func NewConnection(addr string) (*Connection, error) {
	cfg, err := parseServerAddress(addr)
	if err != nil {
		return nil, err
	}
	return &Connection{
		addr:           cfg.display,
		rawAddr:        cfg.raw,
		connectionType: cfg.kind,
		dial:           cfg.dial,
		warning:        cfg.warning,
		dialTimeout:    defaultDialTimeout,
	}, nil
}

// SetLogger sets a logger for debugging connection events
func (c *Connection) SetLogger(logger *log.Logger) {
	c.logger = logger
}

// SetDialTimeout bounds the connect (and SSH/WebSocket handshake) time.
func (c *Connection) SetDialTimeout(d time.Duration) {
	if d > 0 {
		c.dialTimeout = d
	}
}

func (c *Connection) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// Connect dials the server. It must be called once before Transport.
func (c *Connection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errors.New("already connected")
	}

	c.logf("Connecting to %s (%s)...", c.addr, c.connectionType)
	conn, err := c.dial(c.dialTimeout)
	if err != nil {
		c.logf("Connection failed: %v", err)
		return fmt.Errorf("connect to %s: %w", c.addr, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	c.conn = conn
	c.transport = protocol.NewTransportRW(
		&countingReader{r: conn, counter: &c.bytesReceived},
		&countingWriter{w: conn, counter: &c.bytesSent},
	)
	if c.warning != "" {
		c.logf("WARNING: %s", c.warning)
	}
	c.logf("Connected successfully to %s", c.addr)
	return nil
}

// Transport returns the framed view of the stream, or nil before Connect.
func (c *Connection) Transport() *protocol.Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport
}

// Close closes the stream. Safe to call more than once and from any goroutine;
// a receiver blocked in a read returns with an error.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn != nil {
			c.logf("Closing connection to %s", c.addr)
			err = conn.Close()
		}
	})
	return err
}

// GetAddress returns the display address including scheme
func (c *Connection) GetAddress() string { return c.addr }

// GetRawAddress returns host:port (with user@ for SSH)
func (c *Connection) GetRawAddress() string { return c.rawAddr }

// GetConnectionType returns the connection type (tcp, ssh, or websocket)
func (c *Connection) GetConnectionType() string { return c.connectionType }

// SecurityWarning describes a weakened transport, if any.
func (c *Connection) SecurityWarning() string { return c.warning }

// GetBytesSent returns total bytes written to the stream
func (c *Connection) GetBytesSent() uint64 { return c.bytesSent.Load() }

// GetBytesReceived returns total bytes read from the stream
func (c *Connection) GetBytesReceived() uint64 { return c.bytesReceived.Load() }

// countingReader wraps an io.Reader and counts bytes read using atomic counter
type countingReader struct {
	r       io.Reader
	counter *atomic.Uint64
}

func (cr *countingReader) Read(p []byte) (n int, err error) {
	n, err = cr.r.Read(p)
	if n > 0 && cr.counter != nil {
		cr.counter.Add(uint64(n))
	}
	return n, err
}

// countingWriter wraps an io.Writer and counts bytes written using atomic counter
type countingWriter struct {
	w       io.Writer
	counter *atomic.Uint64
}

func (cw *countingWriter) Write(p []byte) (n int, err error) {
	n, err = cw.w.Write(p)
	if n > 0 && cw.counter != nil {
		cw.counter.Add(uint64(n))
	}
	return n, err
}

type dialConfig struct {
	display string // Display address with scheme
	raw     string // Raw host:port without scheme
	kind    string
	dial    func(timeout time.Duration) (net.Conn, error)
	warning string
}

// parseServerAddress accepts host:port, tcp://, ssh://[user@]host:port,
// ws://host:port[/path] and wss://host:port[/path].
func parseServerAddress(raw string) (*dialConfig, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("server address is empty")
	}

	scheme := "tcp"
	user := ""
	hostPort := trimmed
	path := ""
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid server address %q: %w", raw, err)
		}

		if u.Scheme != "" {
			scheme = strings.ToLower(u.Scheme)
		}

		if u.User != nil {
			user = u.User.Username()
		}

		hostPort = u.Host
		path = u.Path
	}

	switch scheme {
	case "tcp", "bgs":
		host, port, err := splitHostPortWithDefault(hostPort, defaultTCPPort)
		if err != nil {
			return nil, err
		}

		address := net.JoinHostPort(host, port)
		return &dialConfig{
			display: address,
			raw:     address,
			kind:    "tcp",
			dial: func(timeout time.Duration) (net.Conn, error) {
				return net.DialTimeout("tcp", address, timeout)
			},
			warning: "plain TCP carries passwords unencrypted",
		}, nil

	case "ssh":
		host, port, err := splitHostPortWithDefault(hostPort, defaultSSHPort)
		if err != nil {
			return nil, err
		}

		if user == "" {
			user = defaultSSHUser()
		}

		trust := newTrustStore()
		address := net.JoinHostPort(host, port)

		return &dialConfig{
			display: fmt.Sprintf("ssh://%s@%s", user, address),
			raw:     fmt.Sprintf("%s@%s", user, address),
			kind:    "ssh",
			dial: func(timeout time.Duration) (net.Conn, error) {
				return dialSSH(user, host, port, trust, timeout)
			},
			warning: trust.warning,
		}, nil

	case "ws", "wss":
		host, port, err := splitHostPortWithDefault(hostPort, defaultHTTPPort)
		if err != nil {
			return nil, err
		}
		if path == "" || path == "/" {
			path = "/ws"
		}

		address := net.JoinHostPort(host, port)
		target := fmt.Sprintf("%s://%s%s", scheme, address, path)

		warning := ""
		if scheme == "ws" {
			warning = "unencrypted WebSocket carries passwords in the clear"
		}

		return &dialConfig{
			display: target,
			raw:     address,
			kind:    "websocket",
			dial: func(timeout time.Duration) (net.Conn, error) {
				return wsnet.Dial(target, timeout)
			},
			warning: warning,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported server scheme %q", scheme)
	}
}

func splitHostPortWithDefault(hostPort, defaultPort string) (string, string, error) {
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" {
		return "", "", errors.New("missing host in server address")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err == nil {
		if host == "" {
			return "", "", errors.New("missing host in server address")
		}
		return host, port, nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(strings.ToLower(addrErr.Err), "missing port") {
		host = hostPort
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
		}
		return host, defaultPort, nil
	}

	return "", "", err
}

func defaultSSHUser() string {
	if user := os.Getenv("BGS_SSH_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	if user := os.Getenv("USERNAME"); user != "" {
		return user
	}
	return "anonymous"
}
