// SPDX-License-Identifier: MIT

// Package inflight provides a generic key→computation deduplication
// registry: the first caller for a key starts the work, every concurrent
// caller for the same key attaches to the same result.
package inflight

import (
	"context"
	"fmt"
	"sync"

	"github.com/cubhouse/mom/internal/metrics"
)

// highWatermark is the map size above which inserts opportunistically sweep
// already-completed entries. Housekeeping only; correctness never depends on
// it because the owning goroutine removes its entry on every exit path.
const highWatermark = 2048

// Registry deduplicates concurrent identical computations. The work closure
// runs exactly once per key per generation, detached from any individual
// caller's context: a subscriber leaving unsubscribes, it never cancels the
// shared work.
type Registry[K comparable, V any] struct {
	work func(context.Context, K) (V, error)

	mu    sync.Mutex
	calls map[K]*call[V]
}

type call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// New builds a registry around the given work closure.
func New[K comparable, V any](work func(context.Context, K) (V, error)) *Registry[K, V] {
	return &Registry[K, V]{
		work:  work,
		calls: make(map[K]*call[V]),
	}
}

// Query returns the result of the work for k, either by starting it or by
// attaching to an in-flight computation. ctx bounds only this caller's wait,
// not the work itself.
func (r *Registry[K, V]) Query(ctx context.Context, k K) (V, error) {
	r.mu.Lock()
	if c, ok := r.calls[k]; ok {
		r.mu.Unlock()
		metrics.InflightDedupTotal.Inc()
		return c.wait(ctx)
	}

	if len(r.calls) >= highWatermark {
		r.sweepLocked()
	}

	c := &call[V]{done: make(chan struct{})}
	r.calls[k] = c
	r.mu.Unlock()

	go r.run(k, c)
	return c.wait(ctx)
}

// Len reports the number of tracked in-flight entries.
func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *Registry[K, V]) run(k K, c *call[V]) {
	defer func() {
		if p := recover(); p != nil {
			c.err = fmt.Errorf("inflight work for key %v panicked: %v", k, p)
		}
		// Remove before broadcasting: a caller that has observed the result
		// must never re-attach to this generation.
		r.mu.Lock()
		delete(r.calls, k)
		r.mu.Unlock()
		close(c.done)
	}()

	c.val, c.err = r.work(context.Background(), k)
}

// sweepLocked drops any entry whose computation has already finished. With
// owner-side removal this should find nothing; it exists so a lost owner can
// never pin the map above the watermark. Caller holds r.mu.
func (r *Registry[K, V]) sweepLocked() {
	for k, c := range r.calls {
		select {
		case <-c.done:
			delete(r.calls, k)
		default:
		}
	}
}

func (c *call[V]) wait(ctx context.Context) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
