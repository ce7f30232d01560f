package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "client.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err)

	// The generated file parses back to the same defaults.
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	content := `
[connection]
server = "ws://chat.example.com:9000"

[console]
mode = "tui"
color = false

[notifications]
desktop = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://chat.example.com:9000", cfg.Connection.Server)
	assert.Equal(t, "tui", cfg.Console.Mode)
	assert.False(t, cfg.Console.Color)
	assert.True(t, cfg.Notifications.Desktop)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, 500, cfg.Console.HistoryLimit)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout())
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(t, os.WriteFile(path, []byte("[connection\nserver ="), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("BGS_CONNECTION_SERVER", "ssh://bob@example.com")
	t.Setenv("BGS_CONNECTION_DIAL_TIMEOUT_SECONDS", "9")
	t.Setenv("BGS_CONSOLE_COLOR", "false")
	t.Setenv("BGS_NOTIFICATIONS_DESKTOP", "true")
	t.Setenv("BGS_LOGGING_DEBUG", "1")
	t.Setenv("BGS_METRICS_LISTEN_ADDR", "127.0.0.1:9464")
	t.Setenv("BGS_CONSOLE_HISTORY_LIMIT", "not-a-number")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "client.toml"))
	require.NoError(t, err)
	assert.Equal(t, "ssh://bob@example.com", cfg.Connection.Server)
	assert.Equal(t, 9*time.Second, cfg.DialTimeout())
	assert.False(t, cfg.Console.Color)
	assert.True(t, cfg.Notifications.Desktop)
	assert.True(t, cfg.Logging.Debug)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.ListenAddr)
	// Unparseable values are ignored.
	assert.Equal(t, 500, cfg.Console.HistoryLimit)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/.bgs/history")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".bgs", "history"), got)

	got, err = ExpandPath("/tmp/x")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", got)
}
