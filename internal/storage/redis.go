// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds connection settings for the shared cache tier.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration // per-object expiry, 0 = keep forever
}

// Redis is the cross-process shared cache tier. It sits between the
// in-process memory tier and the durable disk tier so that a fleet of
// builder processes converges on one cache of hot artifacts.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to the shared cache and verifies the connection.
func NewRedis(cfg RedisConfig, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to shared artifact cache")
	return &Redis{client: client, ttl: cfg.TTL}, nil
}

// Close releases the client.
func (r *Redis) Close() error { return r.client.Close() }

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("shared cache get %s: %w", key, err)
	}
	return data, nil
}

// Put implements Store.
func (r *Redis) Put(ctx context.Context, key string, data []byte) error {
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("shared cache put %s: %w", key, err)
	}
	return nil
}
