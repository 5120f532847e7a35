// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cubhouse/mom/internal/inflight"
	"github.com/cubhouse/mom/internal/metrics"
)

// Tier is a named Store inside a Layered stack. The name shows up in logs
// and the per-tier hit counter.
type Tier struct {
	Name  string
	Store Store
}

// Layered is a read-through stack of storage tiers, fastest first. Get walks
// the tiers in order and backfills every faster tier on a hit; concurrent
// reads of the same key attach to one shared lookup, which is detached from
// any single caller's deadline. Put writes through all tiers and fails only
// when the last (authoritative) tier fails.
type Layered struct {
	tiers   []Tier
	flights *inflight.Registry[string, []byte]
	logger  zerolog.Logger
}

// NewLayered builds a layered store from at least one tier.
func NewLayered(logger zerolog.Logger, tiers ...Tier) (*Layered, error) {
	if len(tiers) == 0 {
		return nil, errors.New("layered store needs at least one tier")
	}
	l := &Layered{tiers: tiers, logger: logger}
	l.flights = inflight.New(l.lookup)
	return l, nil
}

// Get implements Store. A miss in every tier returns ErrNotFound; tier
// errors other than ErrNotFound abort the walk.
func (l *Layered) Get(ctx context.Context, key string) ([]byte, error) {
	return l.flights.Query(ctx, key)
}

func (l *Layered) lookup(ctx context.Context, key string) ([]byte, error) {
	for i, tier := range l.tiers {
		data, err := tier.Store.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", tier.Name, err)
		}

		metrics.StorageTierHits.WithLabelValues(tier.Name).Inc()
		l.backfill(ctx, key, data, i)
		return data, nil
	}
	metrics.StorageMisses.Inc()
	return nil, ErrNotFound
}

// backfill copies a hit from tier hit upward into every faster tier.
// Failures here only cost future reads, so they are logged and dropped.
func (l *Layered) backfill(ctx context.Context, key string, data []byte, hit int) {
	for i := 0; i < hit; i++ {
		if err := l.tiers[i].Store.Put(ctx, key, data); err != nil {
			l.logger.Warn().Err(err).
				Str("tier", l.tiers[i].Name).
				Str("key", key).
				Msg("cache backfill failed")
		}
	}
}

// Put implements Store. Writes reach every tier; only a failure of the last
// tier is reported because that tier is the durable system of record.
func (l *Layered) Put(ctx context.Context, key string, data []byte) error {
	last := len(l.tiers) - 1
	for i, tier := range l.tiers {
		err := tier.Store.Put(ctx, key, data)
		if err == nil {
			continue
		}
		if i == last {
			return fmt.Errorf("tier %s: %w", tier.Name, err)
		}
		l.logger.Warn().Err(err).
			Str("tier", tier.Name).
			Str("key", key).
			Msg("cache tier write failed")
	}
	metrics.StorageBytesWritten.Add(float64(len(data)))
	return nil
}
