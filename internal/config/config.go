package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Feed selects and configures the change feed transport.
type Feed struct {
	// Kind is "postgres" (LISTEN/NOTIFY) or "websocket".
	Kind string `toml:"kind"`
	// DSN is the Postgres connection string (kind = postgres).
	DSN string `toml:"dsn"`
	// Channel is the NOTIFY channel carrying change events (kind = postgres).
	Channel string `toml:"channel"`
	// URL is the websocket feed endpoint (kind = websocket).
	URL string `toml:"url"`
}

// Media configures the server-mediated media download action.
type Media struct {
	Endpoint      string `toml:"endpoint"`
	InstanceID    string `toml:"instance_id"`
	InstanceToken string `toml:"instance_token"`
}

// Perms configures the role/capability lookup action.
type Perms struct {
	Endpoint string `toml:"endpoint"`
}

// Config represents the global ~/.notifyd/config.toml.
type Config struct {
	UserID   string `toml:"user_id"`
	UserName string `toml:"user_name"`
	Feed     Feed   `toml:"feed"`
	Media    Media  `toml:"media"`
	Perms    Perms  `toml:"perms"`
	// DebounceMs is the coalescing window for insert/update/delete feeds.
	DebounceMs int `toml:"debounce_ms"`
	// UnreadRefreshMs is the trailing-edge window for unread-count refreshes.
	UnreadRefreshMs int `toml:"unread_refresh_ms"`
	// MetricsAddr enables the prometheus endpoint when non-empty.
	MetricsAddr string `toml:"metrics_addr"`
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	return &Config{
		Feed:            Feed{Kind: "postgres", Channel: "cdc_events"},
		DebounceMs:      500,
		UnreadRefreshMs: 1000,
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) validate() error {
	switch c.Feed.Kind {
	case "postgres", "websocket":
	default:
		return fmt.Errorf("config: unknown feed kind %q", c.Feed.Kind)
	}
	if c.DebounceMs <= 0 {
		return fmt.Errorf("config: debounce_ms must be positive, got %d", c.DebounceMs)
	}
	if c.UnreadRefreshMs <= 0 {
		return fmt.Errorf("config: unread_refresh_ms must be positive, got %d", c.UnreadRefreshMs)
	}
	return nil
}
