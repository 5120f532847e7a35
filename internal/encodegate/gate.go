// SPDX-License-Identifier: MIT

// Package encodegate bounds the number of concurrently running external
// encode processes. The gate is process-global and shared across tenants;
// a noisy tenant can exhaust encode capacity for everyone, which is an
// accepted tradeoff.
package encodegate

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/cubhouse/mom/internal/metrics"
)

// DefaultSlots is the encode capacity used when none is configured.
const DefaultSlots = 64

// ErrNoCapacity is returned by TryAcquire-gated paths when every encode slot
// is taken.
var ErrNoCapacity = errors.New("no encode capacity available")

// Gate is a fixed-capacity counting semaphore for encode slots.
type Gate struct {
	sem   *semaphore.Weighted
	slots int64
}

// Permit is a held encode slot. Release is idempotent; ownership is
// transferred into the process supervisor, whose teardown is the sole
// release trigger thereafter.
type Permit struct {
	gate *Gate
	once sync.Once
}

// New builds a gate with the given capacity. Non-positive values fall back
// to DefaultSlots.
func New(slots int) *Gate {
	if slots <= 0 {
		slots = DefaultSlots
	}
	return &Gate{
		sem:   semaphore.NewWeighted(int64(slots)),
		slots: int64(slots),
	}
}

// Acquire blocks until a slot is available or ctx is done. Used by
// interactive upload+transcode flows where suspending the caller is
// acceptable.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	metrics.EncodeSlotsInUse.Inc()
	return &Permit{gate: g}, nil
}

// TryAcquire never blocks. The batch derive path uses it to signal
// backpressure immediately instead of queueing unboundedly.
func (g *Gate) TryAcquire() (*Permit, bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	metrics.EncodeSlotsInUse.Inc()
	return &Permit{gate: g}, true
}

// Slots returns the configured capacity.
func (g *Gate) Slots() int {
	return int(g.slots)
}

// Release returns the slot. Safe to call more than once; only the first call
// has an effect. A nil permit is a no-op so teardown paths need no guard.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.gate.sem.Release(1)
		metrics.EncodeSlotsInUse.Dec()
	})
}
