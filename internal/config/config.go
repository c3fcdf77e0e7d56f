// Package config loads server configuration from TOML, JSON or YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig     `toml:"server" json:"server" yaml:"server"`
	Rooms      RoomsConfig      `toml:"rooms" json:"rooms" yaml:"rooms"`
	Limits     LimitsConfig     `toml:"limits" json:"limits" yaml:"limits"`
	Storage    StorageConfig    `toml:"storage" json:"storage" yaml:"storage"`
	Compaction CompactionConfig `toml:"compaction" json:"compaction" yaml:"compaction"`
	Logging    LoggingConfig    `toml:"logging" json:"logging" yaml:"logging"`
	Auth       AuthConfig       `toml:"auth" json:"auth" yaml:"auth"`
	Export     ExportConfig     `toml:"export" json:"export" yaml:"export"`
}

type ServerConfig struct {
	Addr            string   `toml:"addr" json:"addr" yaml:"addr"`
	AllowedOrigins  []string `toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`
	ShutdownTimeout int      `toml:"shutdown_timeout_sec" json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
}

type RoomsConfig struct {
	HistoryCap   int `toml:"history_cap" json:"history_cap" yaml:"history_cap"`
	SnapshotSize int `toml:"snapshot_size" json:"snapshot_size" yaml:"snapshot_size"`
}

type LimitsConfig struct {
	MessagesPerSecond     int   `toml:"messages_per_second" json:"messages_per_second" yaml:"messages_per_second"`
	Burst                 int   `toml:"burst" json:"burst" yaml:"burst"`
	MaxMessageSize        int64 `toml:"max_message_size" json:"max_message_size" yaml:"max_message_size"`
	SendBuffer            int   `toml:"send_buffer" json:"send_buffer" yaml:"send_buffer"`
	HTTPRequestsPerSecond int   `toml:"http_requests_per_second" json:"http_requests_per_second" yaml:"http_requests_per_second"`
	HTTPBurst             int   `toml:"http_burst" json:"http_burst" yaml:"http_burst"`
}

type StorageConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

type CompactionConfig struct {
	IntervalSec int `toml:"interval_sec" json:"interval_sec" yaml:"interval_sec"`
	Threshold   int `toml:"threshold" json:"threshold" yaml:"threshold"`
	KeepRecent  int `toml:"keep_recent" json:"keep_recent" yaml:"keep_recent"`
}

type LoggingConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`
	Format string `toml:"format" json:"format" yaml:"format"`
}

type AuthConfig struct {
	TokenTTLMinutes int `toml:"token_ttl_minutes" json:"token_ttl_minutes" yaml:"token_ttl_minutes"`
}

type ExportConfig struct {
	MaxWidth   int     `toml:"max_width" json:"max_width" yaml:"max_width"`
	MaxHeight  int     `toml:"max_height" json:"max_height" yaml:"max_height"`
	Padding    float64 `toml:"padding" json:"padding" yaml:"padding"`
	Background string  `toml:"background" json:"background" yaml:"background"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10,
		},
		Rooms: RoomsConfig{
			HistoryCap:   1000,
			SnapshotSize: 100,
		},
		Limits: LimitsConfig{
			MessagesPerSecond:     100,
			Burst:                 200,
			MaxMessageSize:        1 << 20,
			SendBuffer:            512,
			HTTPRequestsPerSecond: 10,
			HTTPBurst:             20,
		},
		Storage: StorageConfig{
			Enabled: false,
			Path:    "./data/collab-canvas.db",
		},
		Compaction: CompactionConfig{
			IntervalSec: 300,
			Threshold:   1000,
			KeepRecent:  100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Auth: AuthConfig{
			TokenTTLMinutes: 60,
		},
		Export: ExportConfig{
			MaxWidth:   4096,
			MaxHeight:  4096,
			Padding:    20,
			Background: "#ffffff",
		},
	}
}

// ApplyEnvOverrides replaces fields with values from the environment. PORT
// is honored for hosting platforms that only set that.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	if v := os.Getenv("COLLAB_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("COLLAB_DB_PATH"); v != "" {
		c.Storage.Path = v
		c.Storage.Enabled = true
	}
	if v := os.Getenv("COLLAB_STORAGE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Storage.Enabled = b
		}
	}
	if v := os.Getenv("COLLAB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("COLLAB_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i := range e {
		msgs[i] = e[i].Error()
	}
	return strings.Join(msgs, "; ")
}

func (c *Config) Validate() error {
	var errs ValidationErrors
	bad := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if c.Server.Addr == "" {
		bad("server.addr", "must not be empty")
	}
	if c.Rooms.HistoryCap <= 0 {
		bad("rooms.history_cap", "must be positive")
	}
	if c.Rooms.SnapshotSize <= 0 {
		bad("rooms.snapshot_size", "must be positive")
	} else if c.Rooms.SnapshotSize > c.Rooms.HistoryCap {
		bad("rooms.snapshot_size", "must not exceed history_cap")
	}
	if c.Limits.MessagesPerSecond <= 0 || c.Limits.Burst <= 0 {
		bad("limits", "messages_per_second and burst must be positive")
	}
	if c.Limits.SendBuffer <= 0 {
		bad("limits.send_buffer", "must be positive")
	}
	if c.Limits.MaxMessageSize < 1024 {
		bad("limits.max_message_size", "must be at least 1024")
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		bad("storage.path", "required when storage is enabled")
	}
	if c.Compaction.IntervalSec <= 0 {
		bad("compaction.interval_sec", "must be positive")
	}
	if c.Compaction.KeepRecent < 0 || c.Compaction.KeepRecent > c.Compaction.Threshold {
		bad("compaction.keep_recent", "must be between 0 and threshold")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		bad("logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		bad("logging.format", fmt.Sprintf("unknown format %q", c.Logging.Format))
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		bad("auth.token_ttl_minutes", "must be positive")
	}
	if c.Export.MaxWidth <= 0 || c.Export.MaxHeight <= 0 {
		bad("export", "max_width and max_height must be positive")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) CompactionInterval() time.Duration {
	return time.Duration(c.Compaction.IntervalSec) * time.Second
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

func (c *Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}
