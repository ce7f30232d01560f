package server

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aeolun/bgsclient/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHealthEndpoint(t *testing.T) {
	srv := startTestServer(t)
	c := newTestClient(t, clientURL(srv, "tcp"))
	c.register(t, "ivy", "pw")
	c.login(t, "ivy", "pw")

	resp, err := http.Get("http://" + srv.MetricsAddr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["registered"])
	assert.EqualValues(t, 1, body["online_users"])
	assert.EqualValues(t, 1, body["connections"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := startTestServer(t)
	c := newTestClient(t, clientURL(srv, "tcp"))
	c.register(t, "jack", "pw")
	c.register(t, "kim", "pw")
	c.login(t, "jack", "pw")
	c.send(t, &protocol.PMMessage{Username: "kim", Content: "queued"})
	c.expectAck(t, protocol.OpPM)

	m := srv.Metrics()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesReceived.WithLabelValues("REGISTER")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.messagesSent.WithLabelValues("ACK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationsSent.WithLabelValues("pm", "queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsCreated.WithLabelValues("tcp")))

	resp, err := http.Get("http://" + srv.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	text, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(text), "bgs_server_messages_received_total"))
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	m.RecordMessageReceived(protocol.OpPost)
	m.RecordMessageSent(protocol.OpAck)
	m.RecordActiveSessions(3)
	m.RecordSessionCreated("tcp")
	m.RecordSessionDisconnected()
	m.RecordNotification(protocol.KindPM, true)
}

func TestMaxConnections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TCPAddr = "127.0.0.1:0"
	cfg.MaxConnections = 1
	cfg.BcryptCost = bcrypt.MinCost

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	first := newTestClient(t, "tcp://"+srv.TCPAddr())
	first.register(t, "lee", "pw")

	second := newTestClient(t, "tcp://"+srv.TCPAddr())
	second.expectClosed(t)
}

func TestStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.TCPAddr = "127.0.0.1:0"
	cfg.DatabasePath = filepath.Join(dir, "bgs.db")
	cfg.BcryptCost = bcrypt.MinCost
	cfg.SnapshotIntervalSeconds = 0

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	c := newTestClient(t, "tcp://"+srv.TCPAddr())
	c.register(t, "mia", "pw")
	c.register(t, "ned", "pw")
	c.login(t, "mia", "pw")
	c.send(t, &protocol.PMMessage{Username: "ned", Content: "see you later"})
	c.expectAck(t, protocol.OpPM)
	require.NoError(t, srv.Stop())

	srv, err = NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	c = newTestClient(t, "tcp://"+srv.TCPAddr())
	c.login(t, "ned", "pw")
	c.expectNotification(t, protocol.KindPM, "mia", "see you later")
}

func TestStopClosesClients(t *testing.T) {
	srv := startTestServer(t)
	c := newTestClient(t, clientURL(srv, "websocket"))
	c.register(t, "olga", "pw")

	done := make(chan error, 1)
	go func() { done <- srv.Stop() }()

	c.expectClosed(t)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(expectTimeout):
		t.Fatal("Stop did not return")
	}
}
