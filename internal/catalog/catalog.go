// SPDX-License-Identifier: MIT

// Package catalog persists the per-tenant mapping from source paths to
// content-identified inputs. The executor resolves every derivation request
// through it so identity hashing always starts from a known content hash.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/cubhouse/mom/internal/content"
)

// ErrUnknownInput is returned by Lookup for paths never registered.
var ErrUnknownInput = errors.New("input not in catalog")

// Store provides SQLite persistence for the input catalog.
type Store struct {
	db *sql.DB
}

// NewStore opens the catalog database and runs migrations. WAL mode and a
// busy timeout keep concurrent readers from hitting "database locked".
func NewStore(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS inputs (
		tenant TEXT NOT NULL,
		path TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		content_type TEXT NOT NULL,
		registered_at TEXT NOT NULL,
		PRIMARY KEY (tenant, path)
	);

	CREATE INDEX IF NOT EXISTS idx_inputs_tenant ON inputs(tenant);
	CREATE INDEX IF NOT EXISTS idx_inputs_hash ON inputs(tenant, content_hash);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Register inserts or updates the catalog entry for an input. Re-registering
// the same path with new content replaces the old row; derived artifacts of
// the old content stay addressable because keys embed the content hash.
func (s *Store) Register(ctx context.Context, tenant string, in content.Input) error {
	query := `
	INSERT INTO inputs (tenant, path, content_hash, size_bytes, content_type, registered_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(tenant, path) DO UPDATE SET
		content_hash = excluded.content_hash,
		size_bytes = excluded.size_bytes,
		content_type = excluded.content_type,
		registered_at = excluded.registered_at
	`
	_, err := s.db.ExecContext(ctx, query,
		tenant,
		in.Path,
		in.ContentHash.Hex(),
		in.Size,
		in.ContentType,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("register %s/%s: %w", tenant, in.Path, err)
	}
	return nil
}

// Lookup resolves a tenant-scoped path to its registered input.
func (s *Store) Lookup(ctx context.Context, tenant, path string) (content.Input, error) {
	query := `
	SELECT path, content_hash, size_bytes, content_type
	FROM inputs
	WHERE tenant = ? AND path = ?
	`

	var in content.Input
	var hex string
	err := s.db.QueryRowContext(ctx, query, tenant, path).Scan(
		&in.Path, &hex, &in.Size, &in.ContentType,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Input{}, ErrUnknownInput
	}
	if err != nil {
		return content.Input{}, fmt.Errorf("lookup %s/%s: %w", tenant, path, err)
	}

	in.ContentHash, err = content.ParseHash(hex)
	if err != nil {
		return content.Input{}, fmt.Errorf("lookup %s/%s: corrupt hash: %w", tenant, path, err)
	}
	return in, nil
}

// List returns all registered inputs for a tenant ordered by path.
func (s *Store) List(ctx context.Context, tenant string) ([]content.Input, error) {
	query := `
	SELECT path, content_hash, size_bytes, content_type
	FROM inputs
	WHERE tenant = ?
	ORDER BY path
	`

	rows, err := s.db.QueryContext(ctx, query, tenant)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var inputs []content.Input
	for rows.Next() {
		var in content.Input
		var hex string
		if err := rows.Scan(&in.Path, &hex, &in.Size, &in.ContentType); err != nil {
			return nil, err
		}
		if in.ContentHash, err = content.ParseHash(hex); err != nil {
			return nil, fmt.Errorf("list %s: corrupt hash for %s: %w", tenant, in.Path, err)
		}
		inputs = append(inputs, in)
	}
	return inputs, rows.Err()
}
