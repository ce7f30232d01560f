package server

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// ErrTooManyConnections is returned by CreateSession when the server is full.
var ErrTooManyConnections = errors.New("too many connections")

// Session represents an active client connection
type Session struct {
	ID       uint64
	ConnType string    // tcp, ssh or websocket
	Conn     *SafeConn // connection with automatic write synchronization

	mu       sync.RWMutex // Protects Username
	Username string       // empty until LOGIN succeeds
}

// User returns the logged-in username, or "" when logged out.
func (s *Session) User() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Username
}

func (s *Session) setUser(name string) {
	s.mu.Lock()
	s.Username = name
	s.mu.Unlock()
}

// SessionManager manages all active sessions and who is online.
type SessionManager struct {
	sessions       map[uint64]*Session
	online         map[string]*Session // username -> session
	nextID         uint64
	maxConnections int
	mu             sync.RWMutex
	metrics        *Metrics

	// Presence changes (LOGIN, LOGOUT, disconnect) take the write lock;
	// deliveries (POST, PM) take the read lock. A notification is therefore
	// either written to a live session or queued before the recipient's
	// LOGIN flushes its queue, never lost in between.
	presence sync.RWMutex
}

// NewSessionManager creates a new session manager. maxConnections <= 0
// means unlimited.
func NewSessionManager(maxConnections int) *SessionManager {
	return &SessionManager{
		sessions:       make(map[uint64]*Session),
		online:         make(map[string]*Session),
		nextID:         1,
		maxConnections: maxConnections,
	}
}

// SetMetrics attaches metrics to the session manager
func (sm *SessionManager) SetMetrics(metrics *Metrics) {
	sm.metrics = metrics
}

// CreateSession registers a new connection.
func (sm *SessionManager) CreateSession(connType string, conn io.ReadWriteCloser, remote string) (*Session, error) {
	sm.mu.Lock()
	if sm.maxConnections > 0 && len(sm.sessions) >= sm.maxConnections {
		sm.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	sessionID := atomic.AddUint64(&sm.nextID, 1) - 1
	sess := &Session{
		ID:       sessionID,
		ConnType: connType,
		Conn:     NewSafeConn(conn, remote),
	}
	sm.sessions[sessionID] = sess
	sessionCount := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(sessionCount)
		sm.metrics.RecordSessionCreated(connType)
	}
	return sess, nil
}

// GetAllSessions returns all active sessions
func (sm *SessionManager) GetAllSessions() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := make([]*Session, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// RemoveSession logs the session out, forgets it and closes the connection.
func (sm *SessionManager) RemoveSession(sessionID uint64) {
	sm.mu.Lock()
	sess, ok := sm.sessions[sessionID]
	if !ok {
		sm.mu.Unlock()
		return
	}
	delete(sm.sessions, sessionID)
	sessionCount := len(sm.sessions)
	sm.mu.Unlock()

	sm.presence.Lock()
	sm.markOffline(sess)
	sm.presence.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(sessionCount)
		sm.metrics.RecordSessionDisconnected()
	}

	sess.Conn.Close()
}

// CloseAll closes every session.
func (sm *SessionManager) CloseAll() {
	for _, sess := range sm.GetAllSessions() {
		sm.RemoveSession(sess.ID)
	}
}

// markOnline binds name to sess. Caller holds presence for writing.
// It fails when name is already online on another session.
func (sm *SessionManager) markOnline(sess *Session, name string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, taken := sm.online[name]; taken {
		return false
	}
	sm.online[name] = sess
	sess.setUser(name)
	return true
}

// markOffline unbinds the session's user. Caller holds presence for writing.
func (sm *SessionManager) markOffline(sess *Session) {
	name := sess.User()
	if name == "" {
		return
	}
	sm.mu.Lock()
	if sm.online[name] == sess {
		delete(sm.online, name)
	}
	sm.mu.Unlock()
	sess.setUser("")
}

// Online returns the session name is logged in on.
func (sm *SessionManager) Online(name string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sess, ok := sm.online[name]
	return sess, ok
}

// CountOnlineUsers returns the number of logged-in users.
func (sm *SessionManager) CountOnlineUsers() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.online)
}

// Count returns the number of open connections.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}
