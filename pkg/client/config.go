package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultConfigPath is where the client looks for its config file.
const DefaultConfigPath = "~/.bgs/client.toml"

// Config represents the structure of the client config file
type Config struct {
	Connection    ConnectionSection    `toml:"connection"`
	Console       ConsoleSection       `toml:"console"`
	Notifications NotificationsSection `toml:"notifications"`
	Logging       LoggingSection       `toml:"logging"`
	Metrics       MetricsSection       `toml:"metrics"`
}

type ConnectionSection struct {
	Server             string `toml:"server"`
	DialTimeoutSeconds int    `toml:"dial_timeout_seconds"`
}

type ConsoleSection struct {
	Mode         string `toml:"mode"` // "line" or "tui"
	Color        bool   `toml:"color"`
	Prompt       string `toml:"prompt"`
	HistoryFile  string `toml:"history_file"`
	HistoryLimit int    `toml:"history_limit"`
}

type NotificationsSection struct {
	Desktop bool `toml:"desktop"`
}

type LoggingSection struct {
	File  string `toml:"file"`
	Debug bool   `toml:"debug"`
}

type MetricsSection struct {
	ListenAddr string `toml:"listen_addr"`
}

// DefaultConfig returns the default client configuration
func DefaultConfig() Config {
	return Config{
		Connection: ConnectionSection{
			Server:             "localhost:" + defaultTCPPort,
			DialTimeoutSeconds: 5,
		},
		Console: ConsoleSection{
			Mode:         "line",
			Color:        true,
			Prompt:       "> ",
			HistoryFile:  "~/.bgs/history",
			HistoryLimit: 500,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found,
// and applies environment variable overrides
func LoadConfig(path string) (Config, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return Config{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultConfig()
		// An unwritable location is not fatal; run on defaults.
		_ = writeDefaultConfig(path)
		return applyEnvOverrides(config), nil
	}

	config := DefaultConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// ExpandPath expands a leading ~/ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// DialTimeout returns the configured connect timeout.
func (c Config) DialTimeout() time.Duration {
	if c.Connection.DialTimeoutSeconds <= 0 {
		return defaultDialTimeout
	}
	return time.Duration(c.Connection.DialTimeoutSeconds) * time.Second
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: BGS_SECTION_KEY
// Example: BGS_CONNECTION_SERVER=ssh://chat.example.com
func applyEnvOverrides(config Config) Config {
	if val := os.Getenv("BGS_CONNECTION_SERVER"); val != "" {
		config.Connection.Server = val
	}
	if val := os.Getenv("BGS_CONNECTION_DIAL_TIMEOUT_SECONDS"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil {
			config.Connection.DialTimeoutSeconds = secs
		}
	}

	if val := os.Getenv("BGS_CONSOLE_MODE"); val != "" {
		config.Console.Mode = val
	}
	if val := os.Getenv("BGS_CONSOLE_COLOR"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.Console.Color = enabled
		}
	}
	if val := os.Getenv("BGS_CONSOLE_PROMPT"); val != "" {
		config.Console.Prompt = val
	}
	if val := os.Getenv("BGS_CONSOLE_HISTORY_FILE"); val != "" {
		config.Console.HistoryFile = val
	}
	if val := os.Getenv("BGS_CONSOLE_HISTORY_LIMIT"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Console.HistoryLimit = limit
		}
	}

	if val := os.Getenv("BGS_NOTIFICATIONS_DESKTOP"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.Notifications.Desktop = enabled
		}
	}

	if val := os.Getenv("BGS_LOGGING_FILE"); val != "" {
		config.Logging.File = val
	}
	if val := os.Getenv("BGS_LOGGING_DEBUG"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.Logging.Debug = enabled
		}
	}

	if val := os.Getenv("BGS_METRICS_LISTEN_ADDR"); val != "" {
		config.Metrics.ListenAddr = val
	}

	return config
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := `# BGS Client Configuration
# This file was auto-generated with default values
#
# Environment variables can override these settings:
# BGS_SECTION_KEY (e.g., BGS_CONNECTION_SERVER=ssh://chat.example.com)

[connection]
# Server address: host:port, tcp://, ssh://[user@]host:port, ws:// or wss://
server = "localhost:7777"

# Seconds to wait for the connection (and SSH/WebSocket handshake)
dial_timeout_seconds = 5

[console]
# "line" for a readline prompt, "tui" for the full-screen view
mode = "line"

# Color ACK/ERROR/NOTIFICATION lines when stdout is a terminal
color = true

prompt = "> "
history_file = "~/.bgs/history"
history_limit = 500

[notifications]
# Raise a desktop notification for every PM and public post
desktop = false

[logging]
# Debug log file; empty discards connection logs
# file = "~/.bgs/client.log"

# Trace every frame sent and received
debug = false

[metrics]
# Serve Prometheus metrics on this address (e.g. "127.0.0.1:9464"); empty disables
# listen_addr = ""
`

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
