// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration: defaults, then an optional
// YAML file, then MOM_* environment overrides, then validation. Environment
// has the highest precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RedisConfig configures the optional shared cache tier. An empty Addr
// disables the tier.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// WatchConfig configures the dev-root revision watcher.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// RateLimitConfig bounds request rates per client on the HTTP surface.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Config is the complete daemon configuration.
type Config struct {
	// Env is the storage key environment prefix ("dev" or "bin").
	Env      string `yaml:"env"`
	DataDir  string `yaml:"data_dir"`
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`

	// DevRoot enables the development disk fallback for unregistered inputs.
	DevRoot string `yaml:"dev_root"`

	EncoderBin  string `yaml:"encoder_bin"`
	EncodeSlots int    `yaml:"encode_slots"`

	// MemoryCacheBytes budgets the in-process artifact cache tier.
	MemoryCacheBytes int64 `yaml:"memory_cache_bytes"`

	Redis     RedisConfig     `yaml:"redis"`
	Watch     WatchConfig     `yaml:"watch"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Env:              "dev",
		DataDir:          "./data",
		Listen:           ":8084",
		LogLevel:         "info",
		EncoderBin:       "ffmpeg",
		EncodeSlots:      64,
		MemoryCacheBytes: 256 << 20,
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Requests: 120,
			Window:   time.Minute,
		},
	}
}

// Load builds the effective configuration. path may be empty; a missing file
// at a non-empty path is an error, never a silent fallback.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	mergeEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	switch c.Env {
	case "dev", "bin":
	default:
		return fmt.Errorf("env must be dev or bin, got %q", c.Env)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Listen == "" {
		return fmt.Errorf("listen must not be empty")
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if c.EncodeSlots < 1 {
		return fmt.Errorf("encode_slots must be at least 1, got %d", c.EncodeSlots)
	}
	if c.MemoryCacheBytes < 0 {
		return fmt.Errorf("memory_cache_bytes must not be negative")
	}
	if c.Watch.Enabled && c.DevRoot == "" {
		return fmt.Errorf("watch requires dev_root")
	}
	if c.RateLimit.Requests < 0 || c.RateLimit.Window < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	return nil
}
