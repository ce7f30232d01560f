package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/bgsclient/pkg/database"
	"github.com/aeolun/bgsclient/pkg/protocol"
	"github.com/aeolun/bgsclient/pkg/wsnet"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// Server is the BGS peer: it accepts client streams over TCP, WebSocket and
// SSH and serves the social-network commands from a MemDB.
type Server struct {
	db       *database.MemDB
	sqliteDB *database.DB
	config   ServerConfig
	sessions *SessionManager
	metrics  *Metrics
	upgrader websocket.Upgrader

	listener        net.Listener
	sshListener     net.Listener
	httpListener    net.Listener
	metricsListener net.Listener
	httpServer      *http.Server
	metricsServer   *http.Server

	shutdown  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	startTime time.Time

	// Connection deltas for periodic reporting
	connectionsSinceReport    atomic.Int64
	disconnectionsSinceReport atomic.Int64
}

// ServerConfig holds server configuration. Empty optional addresses
// disable that listener.
type ServerConfig struct {
	TCPAddr                 string
	SSHAddr                 string
	HTTPAddr                string // WebSocket endpoint /ws
	MetricsAddr             string // /metrics and /health, internal only
	SSHHostKeyPath          string
	DatabasePath            string // empty = memory only
	SnapshotIntervalSeconds int
	LogDir                  string
	MaxConnections          int
	MaxMessageLength        int // bytes of POST/PM content, 0 = unlimited
	BcryptCost              int
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		TCPAddr:                 ":7777",
		SSHHostKeyPath:          "~/.bgs/ssh_host_key",
		SnapshotIntervalSeconds: 30,
		MaxMessageLength:        4096,
		BcryptCost:              bcrypt.DefaultCost,
	}
}

// NewServer creates a new server instance
func NewServer(config ServerConfig) (*Server, error) {
	if err := initLoggers(config.LogDir); err != nil {
		return nil, fmt.Errorf("failed to initialize loggers: %w", err)
	}

	var sqliteDB *database.DB
	if config.DatabasePath != "" {
		if err := os.MkdirAll(filepath.Dir(config.DatabasePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := database.Open(config.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		sqliteDB = db
	}

	memDB, err := database.NewMemDB(sqliteDB, time.Duration(config.SnapshotIntervalSeconds)*time.Second)
	if err != nil {
		if sqliteDB != nil {
			sqliteDB.Close()
		}
		return nil, fmt.Errorf("failed to create in-memory database: %w", err)
	}
	memDB.SetLogger(log.Default())
	if config.BcryptCost != 0 {
		memDB.SetPasswordCost(config.BcryptCost)
	}

	metrics := NewMetrics()
	sessions := NewSessionManager(config.MaxConnections)
	sessions.SetMetrics(metrics)

	return &Server{
		db:       memDB,
		sqliteDB: sqliteDB,
		config:   config,
		sessions: sessions,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are terminals, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
	}, nil
}

// initLoggers points errorLog at stderr (plus errors.log) and the standard
// logger at stdout (plus server.log) when logDir is set.
func initLoggers(logDir string) error {
	if logDir == "" {
		return nil
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	errorFile, err := os.OpenFile(filepath.Join(logDir, "errors.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	// Startup marker separates runs
	fmt.Fprintf(errorFile, "=== Server started at %s ===\n", time.Now().Format(time.RFC3339))
	errorLog = log.New(io.MultiWriter(os.Stderr, errorFile), "ERROR: ", log.LstdFlags)

	serverLogFile, err := os.OpenFile(filepath.Join(logDir, "server.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, serverLogFile))
	return nil
}

// EnableDebugLogging sends per-frame debug lines to w.
func (s *Server) EnableDebugLogging(w io.Writer) {
	debugLog = log.New(w, "DEBUG: ", log.LstdFlags)
	debugLog.Println("Debug logging enabled")
}

// Start starts all configured listeners.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.TCPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.TCPAddr, err)
	}
	s.listener = listener
	log.Printf("TCP server listening on %s", listener.Addr())

	if err := s.startSSHServer(); err != nil {
		s.listener.Close()
		return fmt.Errorf("failed to start SSH server: %w", err)
	}

	if s.config.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", s.HandleWebSocket)
		srv, ln, err := s.serveHTTP(s.config.HTTPAddr, mux)
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		s.httpServer, s.httpListener = srv, ln
		log.Printf("WebSocket server listening on %s (/ws)", ln.Addr())
	}

	if s.config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		mux.HandleFunc("/health", s.HealthHandler)
		srv, ln, err := s.serveHTTP(s.config.MetricsAddr, mux)
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		s.metricsServer, s.metricsListener = srv, ln
		log.Printf("Metrics server listening on %s (/metrics, /health) - INTERNAL ONLY", ln.Addr())
	}

	s.wg.Add(1)
	go s.metricsLoggingLoop()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

func (s *Server) serveHTTP(addr string, handler http.Handler) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("HTTP server on %s error: %v", ln.Addr(), err)
		}
	}()
	return srv, ln, nil
}

// TCPAddr returns the bound TCP address after Start.
func (s *Server) TCPAddr() string { return addrString(s.listener) }

// SSHAddr returns the bound SSH address, or "" when disabled.
func (s *Server) SSHAddr() string { return addrString(s.sshListener) }

// HTTPAddr returns the bound WebSocket address, or "" when disabled.
func (s *Server) HTTPAddr() string { return addrString(s.httpListener) }

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (s *Server) MetricsAddr() string { return addrString(s.metricsListener) }

func addrString(ln net.Listener) string {
	if ln == nil {
		return ""
	}
	return ln.Addr().String()
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) closeListeners() {
	for _, ln := range []net.Listener{s.listener, s.sshListener} {
		if ln != nil {
			ln.Close()
		}
	}
	for _, srv := range []*http.Server{s.httpServer, s.metricsServer} {
		if srv != nil {
			srv.Close()
		}
	}
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		log.Println("Graceful shutdown initiated...")
		close(s.shutdown)

		s.closeListeners()

		log.Println("Closing all client sessions...")
		s.sessions.CloseAll()

		s.wg.Wait()

		// Triggers final snapshot to SQLite
		if err = s.db.Close(); err != nil {
			errorLog.Printf("Error during database close: %v", err)
		}
		if s.sqliteDB != nil {
			if cerr := s.sqliteDB.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		log.Println("Graceful shutdown complete")
	})
	return err
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			errorLog.Printf("Accept error: %v", err)
			continue
		}

		// Disable Nagle's algorithm for immediate sends
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleStream("tcp", conn, conn.RemoteAddr().String())
		}()
	}
}

// HandleWebSocket upgrades the request and serves the BGS stream over
// binary messages.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debugLog.Printf("WebSocket upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}
	s.handleStream("websocket", wsnet.New(ws), r.RemoteAddr)
}

// handleStream runs one client connection to completion.
func (s *Server) handleStream(connType string, conn io.ReadWriteCloser, remote string) {
	sess, err := s.sessions.CreateSession(connType, conn, remote)
	if err != nil {
		log.Printf("Rejecting %s connection from %s: %v", connType, remote, err)
		conn.Close()
		return
	}
	select {
	case <-s.shutdown:
		s.sessions.RemoveSession(sess.ID)
		return
	default:
	}
	s.connectionsSinceReport.Add(1)
	debugLog.Printf("New %s connection from %s (session %d)", connType, remote, sess.ID)

	s.messageLoop(sess)
}

// messageLoop handles messages for an established connection
func (s *Server) messageLoop(sess *Session) {
	defer s.sessions.RemoveSession(sess.ID)

	for {
		msg, err := sess.Conn.ReadMessage()
		if err != nil {
			s.disconnectionsSinceReport.Add(1)
			switch {
			case errors.Is(err, protocol.ErrClosed):
				debugLog.Printf("Session %d: client disconnected", sess.ID)
			case protocol.IsProtocolViolation(err):
				log.Printf("Session %d: dropping client after %v", sess.ID, err)
			default:
				debugLog.Printf("Session %d: read error: %v", sess.ID, err)
			}
			return
		}

		debugLog.Printf("Session %d ← RECV: %s", sess.ID, msg.Opcode())
		s.metrics.RecordMessageReceived(msg.Opcode())

		if err := s.handleMessage(sess, msg); err != nil {
			if errors.Is(err, ErrClientDisconnecting) {
				s.disconnectionsSinceReport.Add(1)
				debugLog.Printf("Session %d disconnected gracefully", sess.ID)
				return
			}
			debugLog.Printf("Session %d: write failed: %v", sess.ID, err)
			return
		}
	}
}

// HealthHandler reports liveness and a few counters as JSON.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"connections":    s.sessions.Count(),
		"online_users":   s.sessions.CountOnlineUsers(),
		"registered":     s.db.UserCount(),
	})
}

// metricsLoggingLoop periodically logs key metrics
func (s *Server) metricsLoggingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			connected := s.connectionsSinceReport.Swap(0)
			disconnected := s.disconnectionsSinceReport.Swap(0)
			if connected == 0 && disconnected == 0 {
				continue
			}
			log.Printf("[METRICS] Connections: %d, online users: %d, connected since last: %d, disconnected since last: %d, goroutines: %d",
				s.sessions.Count(), s.sessions.CountOnlineUsers(), connected, disconnected, runtime.NumGoroutine())
		}
	}
}
