package store

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"

	"github.com/bidstack/marketsync/internal/domain"
)

// TableMetadata is the per-table sync bookkeeping row, refreshed at the
// end of every completed cycle regardless of partial per-record failures.
type TableMetadata struct {
	Table             string     `db:"table_name" json:"table"`
	LastSyncTimestamp *time.Time `db:"last_sync_timestamp" json:"last_sync_timestamp,omitempty"`
	RecordCount       int        `db:"record_count" json:"record_count"`
	Dirty             bool       `db:"is_dirty" json:"is_dirty"`
}

// Stats summarizes the local mirror for status reporting.
type Stats struct {
	TotalRecords        int `json:"total_records"`
	DirtyRecords        int `json:"dirty_records"`
	PendingActions      int `json:"pending_actions"`
	DeadLetteredActions int `json:"dead_lettered_actions"`
}

// GetMetadata returns the sync metadata row for one table, or ErrNotFound
// before the first completed cycle.
func (s *Store) GetMetadata(ctx context.Context, table string) (*TableMetadata, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var meta TableMetadata
	err := sqlscan.Get(ctx, s.db, &meta, `
		SELECT table_name, last_sync_timestamp, record_count, is_dirty
		FROM sync_metadata WHERE table_name = ?`, table)
	if err != nil {
		if sqlscan.NotFound(err) {
			return nil, fmt.Errorf("get metadata %s: %w", table, ErrNotFound)
		}
		return nil, fmt.Errorf("get metadata %s: %w", table, err)
	}
	return &meta, nil
}

// SetMetadata writes the sync metadata row for one table.
func (s *Store) SetMetadata(ctx context.Context, meta TableMetadata) error {
	_, err := s.exec(ctx, `
		INSERT INTO sync_metadata (table_name, last_sync_timestamp, record_count, is_dirty)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(table_name) DO UPDATE SET
			last_sync_timestamp = excluded.last_sync_timestamp,
			record_count = excluded.record_count,
			is_dirty = excluded.is_dirty`,
		meta.Table, meta.LastSyncTimestamp, meta.RecordCount, meta.Dirty,
	)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", meta.Table, err)
	}
	return nil
}

// RefreshMetadata recomputes record counts and the dirty aggregate for
// every mirrored table, stamping the given sync time.
func (s *Store) RefreshMetadata(ctx context.Context, syncedAt time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}

	for _, kind := range domain.DownloadOrder() {
		table := kind.Table()

		var count, dirty int
		row := s.db.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT COUNT(*), COALESCE(SUM(is_dirty), 0) FROM %s", table))
		if err := row.Scan(&count, &dirty); err != nil {
			return fmt.Errorf("refresh metadata %s: %w", table, err)
		}

		ts := syncedAt
		if err := s.SetMetadata(ctx, TableMetadata{
			Table:             table,
			LastSyncTimestamp: &ts,
			RecordCount:       count,
			Dirty:             dirty > 0,
		}); err != nil {
			return err
		}
	}
	return nil
}

// StorageStats returns totals across the mirror and the action queue.
func (s *Store) StorageStats(ctx context.Context) (Stats, error) {
	if err := s.ready(); err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, kind := range domain.DownloadOrder() {
		var count, dirty int
		row := s.db.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT COUNT(*), COALESCE(SUM(is_dirty), 0) FROM %s", kind.Table()))
		if err := row.Scan(&count, &dirty); err != nil {
			return Stats{}, fmt.Errorf("storage stats %s: %w", kind.Table(), err)
		}
		stats.TotalRecords += count
		stats.DirtyRecords += dirty
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN synced_at IS NULL AND dead_lettered = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(dead_lettered), 0)
		FROM offline_actions`)
	if err := row.Scan(&stats.PendingActions, &stats.DeadLetteredActions); err != nil {
		return Stats{}, fmt.Errorf("storage stats actions: %w", err)
	}

	return stats, nil
}

// ClearAll deletes all mirrored data, metadata, and queued actions. Used
// by a full reset-and-resync.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}

	tables := []string{"accounts", "jobs", "messages", "bids", "sync_metadata", "offline_actions"}
	for _, table := range tables {
		if _, err := s.exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}
