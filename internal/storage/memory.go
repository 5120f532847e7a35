// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"sync"
	"time"
)

// DefaultMemoryBudget bounds the hot in-process artifact cache.
const DefaultMemoryBudget = 256 << 20 // 256 MiB

// Memory is a byte-budgeted in-process cache tier. When a Put would exceed
// the budget, the oldest entries are evicted first. Objects larger than the
// whole budget are passed through uncached.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	used    int64
	budget  int64
	clock   func() time.Time
}

type memEntry struct {
	data    []byte
	addedAt time.Time
}

// NewMemory builds a memory tier. Non-positive budgets fall back to
// DefaultMemoryBudget.
func NewMemory(budget int64) *Memory {
	if budget <= 0 {
		budget = DefaultMemoryBudget
	}
	return &Memory{
		entries: make(map[string]memEntry),
		budget:  budget,
		clock:   time.Now,
	}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e.data, nil
}

// Put implements Store. Entries are immutable content-addressed artifacts,
// so overwriting an existing key with different bytes never happens in
// practice; last write wins regardless.
func (m *Memory) Put(_ context.Context, key string, data []byte) error {
	size := int64(len(data))
	if size > m.budget {
		return nil // too big to cache, not an error
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.entries[key]; ok {
		m.used -= int64(len(old.data))
	}
	for m.used+size > m.budget {
		m.evictOldestLocked()
	}
	m.entries[key] = memEntry{data: data, addedAt: m.clock()}
	m.used += size
	return nil
}

// Len reports the number of cached entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range m.entries {
		if first || e.addedAt.Before(oldest) {
			oldestKey, oldest, first = k, e.addedAt, false
		}
	}
	if first {
		return // empty
	}
	m.used -= int64(len(m.entries[oldestKey].data))
	delete(m.entries, oldestKey)
}
