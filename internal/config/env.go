// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"time"
)

// mergeEnv applies MOM_* overrides on top of file/default values.
func mergeEnv(cfg *Config) {
	cfg.Env = envString("MOM_ENV", cfg.Env)
	cfg.DataDir = envString("MOM_DATA_DIR", cfg.DataDir)
	cfg.Listen = envString("MOM_LISTEN", cfg.Listen)
	cfg.LogLevel = envString("MOM_LOG_LEVEL", cfg.LogLevel)
	cfg.DevRoot = envString("MOM_DEV_ROOT", cfg.DevRoot)

	cfg.EncoderBin = envString("MOM_ENCODER_BIN", cfg.EncoderBin)
	cfg.EncodeSlots = envInt("MOM_ENCODE_SLOTS", cfg.EncodeSlots)
	cfg.MemoryCacheBytes = envInt64("MOM_MEMORY_CACHE_BYTES", cfg.MemoryCacheBytes)

	cfg.Redis.Addr = envString("MOM_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envString("MOM_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = envInt("MOM_REDIS_DB", cfg.Redis.DB)
	cfg.Redis.TTL = envDuration("MOM_REDIS_TTL", cfg.Redis.TTL)

	cfg.Watch.Enabled = envBool("MOM_WATCH", cfg.Watch.Enabled)
	cfg.Watch.Debounce = envDuration("MOM_WATCH_DEBOUNCE", cfg.Watch.Debounce)

	cfg.RateLimit.Requests = envInt("MOM_RATE_LIMIT", cfg.RateLimit.Requests)
	cfg.RateLimit.Window = envDuration("MOM_RATE_WINDOW", cfg.RateLimit.Window)
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
