package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.crmchat/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Locale         string `toml:"locale"`
	API            API    `toml:"api"`
	Push           Push   `toml:"push"`
}

// API configures the REST backend client.
type API struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Timeout returns the per-request timeout.
func (a API) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// Push configures the Pusher-protocol socket.
type Push struct {
	Key                    string `toml:"key"`
	Host                   string `toml:"host"`
	Port                   int    `toml:"port"`
	TLS                    bool   `toml:"tls"`
	ChannelPrefix          string `toml:"channel_prefix"`
	MessageEvent           string `toml:"message_event"`
	ActivityTimeoutSeconds int    `toml:"activity_timeout_seconds"`
}

// ActivityTimeout returns how long the socket may stay silent before a ping.
func (p Push) ActivityTimeout() time.Duration {
	if p.ActivityTimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(p.ActivityTimeoutSeconds) * time.Second
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Locale: "ru",
		API: API{
			BaseURL:        "https://wecrm.ru/api",
			TimeoutSeconds: 10,
		},
		Push: Push{
			Key:                    "7L6xSkzIurj59QLDSOJk",
			Host:                   "mpusher.ru",
			Port:                   6001,
			ChannelPrefix:          "chat.",
			MessageEvent:           `App\Events\MessageSent`,
			ActivityTimeoutSeconds: 120,
		},
	}
}

// Load reads config from the given path on top of the defaults. Returns nil
// and an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
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
