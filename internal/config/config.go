// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultCollabDomain      = "collab.example.com"
	DefaultSessionTimeout    = 5 * time.Minute
	DefaultSearchTimeout     = 15 * time.Second
	DefaultFuzzyThreshold    = 0.55
	DefaultDirectoryCapacity = 500
	DefaultDirectoryPath     = "directory.db"
	DefaultDirectoryRefresh  = "@every 15m"
	DefaultWebhookRateLimit  = 20
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Dialog    DialogConfig    `toml:"dialog"`
	Collab    CollabConfig    `toml:"collab"`
	Session   SessionConfig   `toml:"session"`
	Search    SearchConfig    `toml:"search"`
	Directory DirectoryConfig `toml:"directory"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP listen address and webhook rate limit (requests/second).
type ServerConfig struct {
	Addr      string `toml:"addr"`
	RateLimit int    `toml:"rate_limit"`
}

// DialogConfig holds dialog-platform webhook verification settings.
// ClientID doubles as the expected JWT audience on inbound turns.
type DialogConfig struct {
	ClientID      string `toml:"client_id"`
	WebhookSecret string `toml:"webhook_secret"`
}

// CollabConfig holds the collaboration platform endpoint.
type CollabConfig struct {
	Domain   string `toml:"domain"`
	ClientID string `toml:"client_id"`
}

// SessionConfig holds the inactivity timeout for per-identity sessions.
type SessionConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Timeout returns the session inactivity timeout.
func (c SessionConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultSessionTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SearchConfig holds the remote search wait bound and the local fuzzy threshold.
type SearchConfig struct {
	TimeoutSeconds int     `toml:"timeout_seconds"`
	FuzzyThreshold float64 `toml:"fuzzy_threshold"`
}

// Timeout returns the bounded wait for a terminal search status event.
func (c SearchConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultSearchTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Threshold returns the fuzzy inclusion threshold.
func (c SearchConfig) Threshold() float64 {
	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold > 1 {
		return DefaultFuzzyThreshold
	}
	return c.FuzzyThreshold
}

// DirectoryConfig holds the user snapshot cache settings.
type DirectoryConfig struct {
	Capacity    int    `toml:"capacity"`
	Path        string `toml:"path"`
	RefreshCron string `toml:"refresh_cron"`
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path == "" {
		path = DefaultConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(&cfg)
			return cfg, nil
		}
		return Config{}, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultHTTPAddr
	}
	if cfg.Server.RateLimit <= 0 {
		cfg.Server.RateLimit = DefaultWebhookRateLimit
	}
	if cfg.Collab.Domain == "" {
		cfg.Collab.Domain = DefaultCollabDomain
	}
	if cfg.Directory.Capacity <= 0 {
		cfg.Directory.Capacity = DefaultDirectoryCapacity
	}
	if cfg.Directory.Path == "" {
		cfg.Directory.Path = DefaultDirectoryPath
	}
	if cfg.Directory.RefreshCron == "" {
		cfg.Directory.RefreshCron = DefaultDirectoryRefresh
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
