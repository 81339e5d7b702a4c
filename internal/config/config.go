package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.msgr/config.toml.
type Config struct {
	DefaultProfile string       `toml:"default_profile"`
	Server         ServerConfig `toml:"server"`
	Sync           SyncConfig   `toml:"sync"`
	Log            LogConfig    `toml:"log"`
}

// ServerConfig locates the chat server.
type ServerConfig struct {
	BaseURL        string   `toml:"base_url"`
	WebSocketURL   string   `toml:"ws_url"`
	LoginPath      string   `toml:"login_path"`
	RefreshPath    string   `toml:"refresh_path"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// SyncConfig tunes the connection supervisor and reconciler.
type SyncConfig struct {
	NotificationTTL  Duration `toml:"notification_ttl"`
	RefreshLeeway    Duration `toml:"refresh_leeway"`
	ReconnectInitial Duration `toml:"reconnect_initial"`
	ReconnectMax     Duration `toml:"reconnect_max"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as a string ("3s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Server: ServerConfig{
			BaseURL:        "http://127.0.0.1:8000",
			WebSocketURL:   "ws://127.0.0.1:8000/api/v1/ws/chat",
			LoginPath:      "/api/v1/token",
			RefreshPath:    "/api/v1/auth/refresh",
			RequestTimeout: Duration{10 * time.Second},
		},
		Sync: SyncConfig{
			NotificationTTL:  Duration{3 * time.Second},
			RefreshLeeway:    Duration{30 * time.Second},
			ReconnectInitial: Duration{500 * time.Millisecond},
			ReconnectMax:     Duration{30 * time.Second},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config from the given path. Returns nil config and error if file missing.
// Keys absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, but a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
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
