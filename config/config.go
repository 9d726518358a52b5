// Package config loads winsys-mcp settings from a TOML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/vinayprograms/winsys-mcp/errors"
	"github.com/vinayprograms/winsys-mcp/logging"
)

// EnvPrefix prefixes every environment override, e.g. WINSYS_SHUTDOWN_TIMEOUT.
const EnvPrefix = "WINSYS"

// Transports accepted by server.transport.
const (
	TransportStdio     = "stdio"
	TransportSSE       = "sse"
	TransportWebSocket = "ws"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" envconfig:"SERVER"`
	Shutdown  ShutdownConfig  `toml:"shutdown" envconfig:"SHUTDOWN"`
	Log       LogConfig       `toml:"log" envconfig:"LOG"`
	Telemetry TelemetryConfig `toml:"telemetry" envconfig:"TELEMETRY"`
	Bus       BusConfig       `toml:"bus" envconfig:"BUS"`
}

// ServerConfig selects the transport.
type ServerConfig struct {
	Transport string `toml:"transport" envconfig:"TRANSPORT"`
	HTTPAddr  string `toml:"http_addr" envconfig:"HTTP_ADDR"`
}

// ShutdownConfig bounds the shutdown sequence.
type ShutdownConfig struct {
	// Timeout bounds the connection close fan-out.
	Timeout time.Duration `toml:"timeout" envconfig:"TIMEOUT"`

	// SessionTimeout bounds the collective close of SSE/WebSocket sessions.
	SessionTimeout time.Duration `toml:"session_timeout" envconfig:"SESSION_TIMEOUT"`

	// ForceExitAfter is the watchdog for signal-initiated shutdown.
	// Zero means 1.5x Timeout; negative disables it.
	ForceExitAfter time.Duration `toml:"force_exit_after" envconfig:"FORCE_EXIT_AFTER"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level" envconfig:"LEVEL"`
}

// TelemetryConfig configures OTLP span export. Empty Endpoint disables it.
type TelemetryConfig struct {
	Endpoint string `toml:"endpoint" envconfig:"ENDPOINT"`
	Protocol string `toml:"protocol" envconfig:"PROTOCOL"`
	Insecure bool   `toml:"insecure" envconfig:"INSECURE"`

	// Journal is a JSONL file receiving one event per shutdown step.
	Journal string `toml:"journal" envconfig:"JOURNAL"`
}

// BusConfig configures the lifecycle bus. Empty URL uses an in-process bus.
type BusConfig struct {
	URL     string `toml:"url" envconfig:"URL"`
	Subject string `toml:"subject" envconfig:"SUBJECT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: TransportStdio,
			HTTPAddr:  "127.0.0.1:8765",
		},
		Shutdown: ShutdownConfig{
			Timeout:        5 * time.Second,
			SessionTimeout: 3 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
		Bus: BusConfig{
			Subject: "winsys.lifecycle.shutdown",
		},
	}
}

// StandardPaths returns the config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"winsys-mcp.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "winsys-mcp", "config.toml"))
	}
	return paths
}

// Load builds the configuration: defaults, then the file at path (or the
// first standard location that exists when path is empty), then the
// environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, p := range StandardPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "reading config "+path)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "reading environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case TransportStdio, TransportSSE, TransportWebSocket:
	default:
		return errors.InvalidInput(fmt.Sprintf("unknown transport %q (use stdio, sse or ws)", c.Server.Transport))
	}

	if c.Server.Transport != TransportStdio && c.Server.HTTPAddr == "" {
		return errors.InvalidInput("server.http_addr is required for " + c.Server.Transport)
	}
	if c.Shutdown.Timeout < 0 {
		return errors.InvalidInput("shutdown.timeout must not be negative")
	}
	if c.Shutdown.SessionTimeout < 0 {
		return errors.InvalidInput("shutdown.session_timeout must not be negative")
	}
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		return errors.InvalidInput(fmt.Sprintf("unknown log level %q", c.Log.Level))
	}

	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return errors.InvalidInput(fmt.Sprintf("unknown telemetry protocol %q (use grpc or http)", c.Telemetry.Protocol))
	}

	if c.Bus.Subject == "" {
		return errors.InvalidInput("bus.subject must not be empty")
	}
	return nil
}
