// SPDX-License-Identifier: MIT

// Package storage provides the two-operation object store the derivation
// pipeline consumes, layered as memory → shared cache → local disk → cloud.
// Layering and eviction are this package's concern; callers only ever see
// Get/Put.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no tier holds the key.
var ErrNotFound = errors.New("object not found")

// Store is the narrow contract the executor depends on.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}
