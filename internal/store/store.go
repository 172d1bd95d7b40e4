package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added partial UNIQUE index on offline_actions.dedupe_key
const currentSchemaVersion = 1

// ErrStorageUnavailable is returned when the underlying database cannot
// be opened, or when any operation is attempted after Close.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("record not found")

// Store is the durable on-device mirror of server entities plus the
// offline action queue.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	closed atomic.Bool
}

// Option configures a Store at open time.
type Option func(*Store)

// WithNow overrides the wall clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open creates or opens the SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times against the
// same path. Any failure to open or prepare the medium is reported as
// ErrStorageUnavailable.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrStorageUnavailable, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connect: %v", ErrStorageUnavailable, err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent store calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s := &Store{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database. Further operations fail with
// ErrStorageUnavailable. Safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ready guards every operation against use after Close.
func (s *Store) ready() error {
	if s.closed.Load() {
		return fmt.Errorf("%w: store is closed", ErrStorageUnavailable)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %v", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %v", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %v", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %v", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %v", err)
	}

	return nil
}

// migrateToV1 adds the partial dedupe index for databases created before
// it existed in schema.sql. New databases get it from the schema directly.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_actions_dedupe_pending
		ON offline_actions(dedupe_key)
		WHERE synced_at IS NULL AND dead_lettered = 0
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %v", err)
	}
	return nil
}

// exec wraps ExecContext with the closed-store guard.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.db.ExecContext(ctx, query, args...)
}
