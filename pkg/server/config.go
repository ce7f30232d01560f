package server

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultConfigPath is where bgs-server looks for its config file.
const DefaultConfigPath = "~/.bgs/server.toml"

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	BindAddress             string `toml:"bind_address"`
	TCPPort                 int    `toml:"tcp_port"`
	SSHPort                 int    `toml:"ssh_port"`
	HTTPPort                int    `toml:"http_port"`
	MetricsPort             int    `toml:"metrics_port"`
	SSHHostKey              string `toml:"ssh_host_key"`
	DatabasePath            string `toml:"database_path"`
	SnapshotIntervalSeconds int    `toml:"snapshot_interval_seconds"`
	LogDir                  string `toml:"log_dir"`
}

type LimitsSection struct {
	MaxConnections   int `toml:"max_connections"`
	MaxMessageLength int `toml:"max_message_length"`
	BcryptCost       int `toml:"bcrypt_cost"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:                 7777,
			SSHPort:                 0,
			HTTPPort:                0,
			MetricsPort:             0,
			SSHHostKey:              "~/.bgs/ssh_host_key",
			DatabasePath:            "",
			SnapshotIntervalSeconds: 30,
		},
		Limits: LimitsSection{
			MaxConnections:   0,
			MaxMessageLength: 4096,
			BcryptCost:       10,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found,
// and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandPath(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// If we can't write, just run on defaults
		_ = writeDefaultConfig(path)
		return applyEnvOverrides(config), nil
	}

	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: BGS_SECTION_KEY
// Example: BGS_SERVER_TCP_PORT=8080
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	intVar := func(name string, dst *int) {
		if val := os.Getenv(name); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				*dst = n
			}
		}
	}
	strVar := func(name string, dst *string) {
		if val := os.Getenv(name); val != "" {
			*dst = val
		}
	}

	// Server section
	strVar("BGS_SERVER_BIND_ADDRESS", &config.Server.BindAddress)
	intVar("BGS_SERVER_TCP_PORT", &config.Server.TCPPort)
	intVar("BGS_SERVER_SSH_PORT", &config.Server.SSHPort)
	intVar("BGS_SERVER_HTTP_PORT", &config.Server.HTTPPort)
	intVar("BGS_SERVER_METRICS_PORT", &config.Server.MetricsPort)
	strVar("BGS_SERVER_SSH_HOST_KEY", &config.Server.SSHHostKey)
	strVar("BGS_SERVER_DATABASE_PATH", &config.Server.DatabasePath)
	intVar("BGS_SERVER_SNAPSHOT_INTERVAL_SECONDS", &config.Server.SnapshotIntervalSeconds)
	strVar("BGS_SERVER_LOG_DIR", &config.Server.LogDir)

	// Limits section
	intVar("BGS_LIMITS_MAX_CONNECTIONS", &config.Limits.MaxConnections)
	intVar("BGS_LIMITS_MAX_MESSAGE_LENGTH", &config.Limits.MaxMessageLength)
	intVar("BGS_LIMITS_BCRYPT_COST", &config.Limits.BcryptCost)

	return config
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := `# BGS Server Configuration
# This file was auto-generated with default values
# Restart the server for changes to take effect
#
# Environment variables can override these settings:
# BGS_SECTION_KEY (e.g., BGS_SERVER_TCP_PORT=8080)

[server]
# Interface to bind (empty = all interfaces)
# bind_address = "127.0.0.1"

# Port for raw TCP connections
tcp_port = 7777

# Port for SSH connections (0 = disabled)
ssh_port = 0

# Port for the WebSocket endpoint /ws (0 = disabled)
http_port = 0

# Port for /metrics and /health (0 = disabled, keep internal)
metrics_port = 0

# Path to SSH host key file (generated on first start)
ssh_host_key = "~/.bgs/ssh_host_key"

# SQLite file for users, follows, blocks and queued notifications
# Empty keeps everything in memory
database_path = ""

# Seconds between database snapshots
snapshot_interval_seconds = 30

# Directory for errors.log and server.log (empty = stderr/stdout only)
# log_dir = "~/.bgs/logs"

[limits]
# Maximum concurrent connections (0 = unlimited)
max_connections = 0

# Maximum POST/PM content length in bytes (0 = unlimited)
max_message_length = 4096

# bcrypt cost for stored passwords
bcrypt_cost = 10
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() (ServerConfig, error) {
	cfg := DefaultConfig()

	addr := func(port int) string {
		if port <= 0 {
			return ""
		}
		return net.JoinHostPort(c.Server.BindAddress, strconv.Itoa(port))
	}

	if c.Server.TCPPort <= 0 {
		return ServerConfig{}, fmt.Errorf("tcp_port must be positive, got %d", c.Server.TCPPort)
	}
	cfg.TCPAddr = addr(c.Server.TCPPort)
	cfg.SSHAddr = addr(c.Server.SSHPort)
	cfg.HTTPAddr = addr(c.Server.HTTPPort)
	cfg.MetricsAddr = addr(c.Server.MetricsPort)

	if strings.TrimSpace(c.Server.SSHHostKey) != "" {
		cfg.SSHHostKeyPath = c.Server.SSHHostKey
	}
	if c.Server.DatabasePath != "" {
		path, err := expandPath(c.Server.DatabasePath)
		if err != nil {
			return ServerConfig{}, err
		}
		cfg.DatabasePath = path
	}
	if c.Server.SnapshotIntervalSeconds > 0 {
		cfg.SnapshotIntervalSeconds = c.Server.SnapshotIntervalSeconds
	}
	if c.Server.LogDir != "" {
		dir, err := expandPath(c.Server.LogDir)
		if err != nil {
			return ServerConfig{}, err
		}
		cfg.LogDir = dir
	}

	cfg.MaxConnections = c.Limits.MaxConnections
	cfg.MaxMessageLength = c.Limits.MaxMessageLength
	if c.Limits.BcryptCost != 0 {
		cfg.BcryptCost = c.Limits.BcryptCost
	}

	return cfg, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
}
