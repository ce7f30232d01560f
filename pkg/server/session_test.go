package server

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeSession(t *testing.T, sm *SessionManager) *Session {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	sess, err := sm.CreateSession("tcp", server, "pipe")
	require.NoError(t, err)
	return sess
}

func TestSessionManagerPresence(t *testing.T) {
	sm := NewSessionManager(0)
	first := newPipeSession(t, sm)
	second := newPipeSession(t, sm)
	assert.Equal(t, 2, sm.Count())

	sm.presence.Lock()
	assert.True(t, sm.markOnline(first, "alice"))
	assert.False(t, sm.markOnline(second, "alice"), "one session per user")
	sm.presence.Unlock()

	sess, ok := sm.Online("alice")
	require.True(t, ok)
	assert.Same(t, first, sess)
	assert.Equal(t, "alice", first.User())
	assert.Empty(t, second.User())
	assert.Equal(t, 1, sm.CountOnlineUsers())

	// A session that never logged in cannot knock the owner offline.
	sm.presence.Lock()
	sm.markOffline(second)
	sm.presence.Unlock()
	_, ok = sm.Online("alice")
	assert.True(t, ok)

	sm.RemoveSession(first.ID)
	_, ok = sm.Online("alice")
	assert.False(t, ok)
	assert.Empty(t, first.User())
	assert.Equal(t, 1, sm.Count())

	sm.presence.Lock()
	assert.True(t, sm.markOnline(second, "alice"))
	sm.presence.Unlock()

	sm.CloseAll()
	assert.Zero(t, sm.Count())
	assert.Zero(t, sm.CountOnlineUsers())
}

func TestSessionManagerLimit(t *testing.T) {
	sm := NewSessionManager(1)
	newPipeSession(t, sm)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	_, err := sm.CreateSession("tcp", server, "pipe")
	assert.ErrorIs(t, err, ErrTooManyConnections)
}
