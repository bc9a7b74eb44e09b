// Package postgres implements storage.Store against PostgreSQL/TimescaleDB:
// a single *Store wrapping a pooled driver handle, one file per entity
// group.
package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"

	"github.com/acme-industrial/enms-analytics/infrastructure/errors"
)

// Store implements storage.Store on top of sqlx/lib-pq.
type Store struct {
	db *sqlx.DB
}

// New wraps an already-opened, already-pooled *sqlx.DB (see
// internal/platform/database.Open).
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Ping verifies connectivity, wrapping driver failures as TransientUnavailable
// so callers can distinguish "database is down" from "bug".
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.TransientUnavailable("postgres", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows, letting scan
// helpers be shared between single-row and multi-row query paths.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// wrapQueryErr maps a driver error that isn't sql.ErrNoRows (handled by
// callers explicitly) to a DatabaseError for the named operation.
func wrapQueryErr(operation string, err error) error {
	if err == nil {
		return nil
	}
	return errors.DatabaseError(operation, err)
}
