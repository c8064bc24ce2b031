// Package config provides YAML-based configuration loading for linkchat.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// ServiceID is the service both roles listen and connect under.
	ServiceID string `mapstructure:"service_id"`

	Transport TransportConfig `mapstructure:"transport"`
	Session   SessionConfig   `mapstructure:"session"`
	Log       LogConfig       `mapstructure:"log"`
}

// TransportConfig selects the link implementation.
type TransportConfig struct {
	// Kind: tcp, ws, unified, quic or mem
	Kind string `mapstructure:"kind"`
	// Services maps service ids to bind addresses for socket transports.
	Services map[string]string `mapstructure:"services"`
}

// SessionConfig tunes the controller and its pumps.
type SessionConfig struct {
	ReadBuffer int `mapstructure:"read_buffer"`
	// HeartbeatInterval and DiscoveryDelay: zero selects the default and a
	// negative value disables them.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ShutdownGrace     time.Duration `mapstructure:"shutdown_grace"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	DiscoveryDelay    time.Duration `mapstructure:"discovery_delay"`
	// MaxSessions caps concurrent server sessions. 0 is unlimited and 1
	// selects single-session mode.
	MaxSessions int `mapstructure:"max_sessions"`
	QueueLimit  int `mapstructure:"queue_limit"`
	// Framing: raw or delimited
	Framing string `mapstructure:"framing"`
	Echo    bool   `mapstructure:"echo"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		ServiceID: "chat_service",
		Transport: TransportConfig{
			Kind:     "tcp",
			Services: map[string]string{"chat_service": ":7070"},
		},
		Session: SessionConfig{
			ReadBuffer:        1024,
			HeartbeatInterval: time.Second,
			ShutdownGrace:     time.Second,
			ConnectTimeout:    10 * time.Second,
			ProbeTimeout:      50 * time.Millisecond,
			DiscoveryDelay:    250 * time.Millisecond,
			MaxSessions:       0,
			QueueLimit:        256,
			Framing:           "raw",
			Echo:              true,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/linkchat.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise it searches
// common locations. Environment variables use the prefix LINKCHAT and `.`/`-`
// are replaced with `_`, e.g. LINKCHAT_SESSION_MAX_SESSIONS=1.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LINKCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("service_id", cfg.ServiceID)
	v.SetDefault("transport.kind", cfg.Transport.Kind)
	v.SetDefault("transport.services", cfg.Transport.Services)
	v.SetDefault("session.read_buffer", cfg.Session.ReadBuffer)
	v.SetDefault("session.heartbeat_interval", cfg.Session.HeartbeatInterval)
	v.SetDefault("session.shutdown_grace", cfg.Session.ShutdownGrace)
	v.SetDefault("session.connect_timeout", cfg.Session.ConnectTimeout)
	v.SetDefault("session.probe_timeout", cfg.Session.ProbeTimeout)
	v.SetDefault("session.discovery_delay", cfg.Session.DiscoveryDelay)
	v.SetDefault("session.max_sessions", cfg.Session.MaxSessions)
	v.SetDefault("session.queue_limit", cfg.Session.QueueLimit)
	v.SetDefault("session.framing", cfg.Session.Framing)
	v.SetDefault("session.echo", cfg.Session.Echo)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		path = os.Getenv("LINKCHAT_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("linkchat")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".linkchat"))
		}
	}

	// a missing file leaves defaults and env in place
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	if strings.TrimSpace(c.ServiceID) == "" {
		c.ServiceID = "chat_service"
	}

	c.Transport.Kind = strings.ToLower(strings.TrimSpace(c.Transport.Kind))
	switch c.Transport.Kind {
	case "tcp", "ws", "unified", "quic", "mem":
	default:
		return fmt.Errorf("invalid transport.kind: %q", c.Transport.Kind)
	}

	c.Session.Framing = strings.ToLower(strings.TrimSpace(c.Session.Framing))
	switch c.Session.Framing {
	case "":
		c.Session.Framing = "raw"
	case "raw", "delimited":
	default:
		return fmt.Errorf("invalid session.framing: %q", c.Session.Framing)
	}

	if c.Session.ReadBuffer <= 0 {
		c.Session.ReadBuffer = 1024
	}
	if c.Session.ShutdownGrace <= 0 {
		c.Session.ShutdownGrace = time.Second
	}
	if c.Session.ConnectTimeout <= 0 {
		c.Session.ConnectTimeout = 10 * time.Second
	}
	if c.Session.ProbeTimeout <= 0 {
		c.Session.ProbeTimeout = 50 * time.Millisecond
	}
	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("invalid session.max_sessions: %d", c.Session.MaxSessions)
	}
	if c.Session.QueueLimit <= 0 {
		c.Session.QueueLimit = 256
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
