// Package config handles configuration loading and validation for chatsync.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/hay-kot/criterio"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server           ServerConfig   `yaml:"server"`
	Session          SessionConfig  `yaml:"session"`
	Push             PushConfig     `yaml:"push"`
	Timeline         TimelineConfig `yaml:"timeline"`
	Typing           TypingConfig   `yaml:"typing"`
	MaxMessageLength int            `yaml:"max_message_length"`
	DataDir          string         `yaml:"-"` // set by caller, not from config file
}

// ServerConfig locates the backend.
type ServerConfig struct {
	// BaseURL is the REST API root, including any path prefix (e.g. http://host/api).
	BaseURL string `yaml:"base_url"`
	// SocketURL is the push channel endpoint (ws:// or wss://).
	SocketURL      string        `yaml:"socket_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SessionConfig tunes the credential lifecycle.
type SessionConfig struct {
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
	// ExpirySkew refreshes an access token this long before its exp claim.
	ExpirySkew time.Duration `yaml:"expiry_skew"`
}

// PushConfig tunes the push channel connection.
type PushConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
}

// TimelineConfig tunes history pagination.
type TimelineConfig struct {
	PageSize int `yaml:"page_size"`
}

// TypingConfig tunes typing indicators.
type TypingConfig struct {
	// Timeout is how long a typing indicator lives without a refresh, both for
	// peers (expiry) and for the local user (idle time before typing_stop).
	Timeout       time.Duration `yaml:"timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// EmitInterval is the minimum spacing between outbound typing_start events.
	EmitInterval time.Duration `yaml:"emit_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			BaseURL:        "http://localhost:5000/api",
			SocketURL:      "ws://localhost:5000/ws",
			RequestTimeout: 15 * time.Second,
		},
		Session: SessionConfig{
			RefreshTimeout: 10 * time.Second,
			ExpirySkew:     30 * time.Second,
		},
		Push: PushConfig{
			ConnectTimeout:    10 * time.Second,
			ReconnectAttempts: 5,
			ReconnectDelay:    time.Second,
			ReconnectMaxDelay: 10 * time.Second,
		},
		Timeline: TimelineConfig{
			PageSize: 50,
		},
		Typing: TypingConfig{
			Timeout:       3 * time.Second,
			SweepInterval: time.Second,
			EmitInterval:  time.Second,
		},
		MaxMessageLength: 5000,
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	// Apply defaults for zero values
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = defaults.Server.RequestTimeout
	}
	if c.Session.RefreshTimeout == 0 {
		c.Session.RefreshTimeout = defaults.Session.RefreshTimeout
	}
	if c.Push.ConnectTimeout == 0 {
		c.Push.ConnectTimeout = defaults.Push.ConnectTimeout
	}
	if c.Push.ReconnectAttempts == 0 {
		c.Push.ReconnectAttempts = defaults.Push.ReconnectAttempts
	}
	if c.Push.ReconnectDelay == 0 {
		c.Push.ReconnectDelay = defaults.Push.ReconnectDelay
	}
	if c.Push.ReconnectMaxDelay == 0 {
		c.Push.ReconnectMaxDelay = defaults.Push.ReconnectMaxDelay
	}
	if c.Timeline.PageSize == 0 {
		c.Timeline.PageSize = defaults.Timeline.PageSize
	}
	if c.Typing.Timeout == 0 {
		c.Typing.Timeout = defaults.Typing.Timeout
	}
	if c.Typing.SweepInterval == 0 {
		c.Typing.SweepInterval = defaults.Typing.SweepInterval
	}
	if c.Typing.EmitInterval == 0 {
		c.Typing.EmitInterval = defaults.Typing.EmitInterval
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = defaults.MaxMessageLength
	}
}

// Validate checks that the configuration is valid. All problems are reported at
// once as criterio.FieldErrors.
func (c *Config) Validate() error {
	var errs criterio.FieldErrorsBuilder

	if err := validateURL(c.Server.BaseURL, "http", "https"); err != nil {
		errs = errs.Append("server.base_url", err)
	}
	if err := validateURL(c.Server.SocketURL, "ws", "wss"); err != nil {
		errs = errs.Append("server.socket_url", err)
	}
	if c.DataDir == "" {
		errs = errs.Append("data_dir", fmt.Errorf("data directory cannot be empty"))
	}
	if c.Server.RequestTimeout < 0 {
		errs = errs.Append("server.request_timeout", fmt.Errorf("must not be negative"))
	}
	if c.Session.RefreshTimeout < 0 {
		errs = errs.Append("session.refresh_timeout", fmt.Errorf("must not be negative"))
	}
	if c.Session.ExpirySkew < 0 {
		errs = errs.Append("session.expiry_skew", fmt.Errorf("must not be negative"))
	}
	if c.Push.ReconnectAttempts < 1 {
		errs = errs.Append("push.reconnect_attempts", fmt.Errorf("must be at least 1"))
	}
	if c.Push.ReconnectMaxDelay < c.Push.ReconnectDelay {
		errs = errs.Append("push.reconnect_max_delay", fmt.Errorf("must be at least push.reconnect_delay (%s)", c.Push.ReconnectDelay))
	}
	if c.Timeline.PageSize < 1 || c.Timeline.PageSize > 100 {
		errs = errs.Append("timeline.page_size", fmt.Errorf("must be between 1 and 100"))
	}
	if c.Typing.Timeout <= 0 {
		errs = errs.Append("typing.timeout", fmt.Errorf("must be positive"))
	}
	if c.Typing.SweepInterval <= 0 || c.Typing.SweepInterval > c.Typing.Timeout {
		errs = errs.Append("typing.sweep_interval", fmt.Errorf("must be positive and at most typing.timeout"))
	}
	if c.MaxMessageLength < 1 {
		errs = errs.Append("max_message_length", fmt.Errorf("must be at least 1"))
	}

	return errs.ToError()
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("missing host in %q", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("scheme %q not allowed, expected one of %v", u.Scheme, schemes)
}

// CredentialsFile returns the path to the persisted session file.
func (c *Config) CredentialsFile() string {
	return filepath.Join(c.DataDir, "credentials.json")
}
