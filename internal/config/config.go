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

// Config represents the global ~/.roam/config.toml.
type Config struct {
	DefaultSession string  `toml:"default_session"`
	Roaming        Roaming `toml:"roaming"`
	Metrics        Metrics `toml:"metrics"`
	Log            Log     `toml:"log"`
}

// Roaming tunes history paging and the remote feed connection.
type Roaming struct {
	PageSize      int      `toml:"page_size"`
	MaxPageSize   int      `toml:"max_page_size"`
	RemoteAddr    string   `toml:"remote_addr"` // empty: serve from the local cache only
	RemoteTimeout Duration `toml:"remote_timeout"`
	RateLimit     float64  `toml:"rate_limit"` // feed requests per second, 0 = unlimited
	RateBurst     int      `toml:"rate_burst"`
}

type Metrics struct {
	ListenAddr string `toml:"listen_addr"` // empty disables the endpoint
}

type Log struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as a string ("5s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return (&Config{}).WithDefaults()
}

// WithDefaults fills unset fields in place and returns c.
func (c *Config) WithDefaults() *Config {
	if c.Roaming.PageSize <= 0 {
		c.Roaming.PageSize = 20
	}
	if c.Roaming.MaxPageSize < c.Roaming.PageSize {
		c.Roaming.MaxPageSize = max(200, c.Roaming.PageSize)
	}
	if c.Roaming.RemoteTimeout.Duration <= 0 {
		c.Roaming.RemoteTimeout.Duration = 5 * time.Second
	}
	if c.Roaming.RateLimit > 0 && c.Roaming.RateBurst <= 0 {
		c.Roaming.RateBurst = 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	return c
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	return &cfg, nil
}

// LoadOrDefault reads config from path with defaults applied. A missing
// file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg.WithDefaults(), nil
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
