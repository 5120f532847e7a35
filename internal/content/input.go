// SPDX-License-Identifier: MIT

// Package content defines the immutable, content-addressed source records the
// derivation pipeline consumes.
package content

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Hash is the 64-bit content digest used to address inputs and derived
// artifacts. It is non-cryptographic; surrounding size/content-type context
// makes accidental collisions harmless, and no adversarial guarantee is
// claimed.
type Hash uint64

// HashBytes digests raw content.
func HashBytes(b []byte) Hash {
	return Hash(xxhash.Sum64(b))
}

// Hex returns the fixed-width lowercase hex form used in object keys.
func (h Hash) Hex() string {
	return fmt.Sprintf("%016x", uint64(h))
}

func (h Hash) String() string { return h.Hex() }

// ParseHash parses the hex form produced by Hex.
func ParseHash(s string) (Hash, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("content hash must be 16 hex chars, got %d", len(s))
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid content hash %q: %w", s, err)
	}
	return Hash(v), nil
}

// Input is an immutable source record owned by a tenant's catalog. A changed
// file produces a new Input with a new hash; existing records are never
// mutated.
type Input struct {
	Path        string
	ContentHash Hash
	Size        int64
	ContentType string
}

// NewInput builds an Input for raw bytes at the given catalog path.
func NewInput(path string, data []byte, contentType string) Input {
	return Input{
		Path:        path,
		ContentHash: HashBytes(data),
		Size:        int64(len(data)),
		ContentType: contentType,
	}
}
