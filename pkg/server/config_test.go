package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config should be written")

	// The written file parses back to the same values.
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\ntcp_port = 9000\nssh_port = 9001\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.TCPPort)
	assert.Equal(t, 9001, cfg.Server.SSHPort)
	assert.Equal(t, 4096, cfg.Limits.MaxMessageLength)
	assert.Equal(t, 30, cfg.Server.SnapshotIntervalSeconds)
}

func TestLoadConfigRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\ntcp_port = "), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BGS_SERVER_TCP_PORT", "8888")
	t.Setenv("BGS_SERVER_BIND_ADDRESS", "127.0.0.1")
	t.Setenv("BGS_LIMITS_MAX_CONNECTIONS", "12")
	t.Setenv("BGS_LIMITS_BCRYPT_COST", "not-a-number")

	cfg := applyEnvOverrides(DefaultTOMLConfig())
	assert.Equal(t, 8888, cfg.Server.TCPPort)
	assert.Equal(t, "127.0.0.1", cfg.Server.BindAddress)
	assert.Equal(t, 12, cfg.Limits.MaxConnections)
	assert.Equal(t, 10, cfg.Limits.BcryptCost, "unparsable values are ignored")
}

func TestToServerConfig(t *testing.T) {
	tc := DefaultTOMLConfig()
	tc.Server.BindAddress = "127.0.0.1"
	tc.Server.SSHPort = 7778
	tc.Server.MetricsPort = 9090
	tc.Limits.MaxConnections = 5

	cfg, err := tc.ToServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", cfg.TCPAddr)
	assert.Equal(t, "127.0.0.1:7778", cfg.SSHAddr)
	assert.Equal(t, "", cfg.HTTPAddr, "port 0 disables the listener")
	assert.Equal(t, "127.0.0.1:9090", cfg.MetricsAddr)
	assert.Equal(t, 5, cfg.MaxConnections)
	assert.Equal(t, 10, cfg.BcryptCost)

	tc.Server.TCPPort = 0
	_, err = tc.ToServerConfig()
	assert.Error(t, err)
}

func TestToServerConfigExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tc := DefaultTOMLConfig()
	tc.Server.DatabasePath = "~/.bgs/bgs.db"

	cfg, err := tc.ToServerConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".bgs", "bgs.db"), cfg.DatabasePath)
}
