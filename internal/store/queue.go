package store

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"

	"github.com/bidstack/marketsync/internal/domain"
)

const actionColumns = `
	id, kind, entity, payload, dedupe_key, retry_count, max_retries,
	query_key, created_at, synced_at, next_attempt_at, dead_lettered`

// EnqueueAction appends an offline action to the durable queue.
//
// Idempotent by content: if a still-pending action with the same dedupe
// key exists, the insert is a silent no-op (partial UNIQUE index +
// ON CONFLICT DO NOTHING).
func (s *Store) EnqueueAction(ctx context.Context, a *domain.Action) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	_, err := s.exec(ctx, `
		INSERT INTO offline_actions
		(id, kind, entity, payload, dedupe_key, retry_count, max_retries,
		 query_key, created_at, synced_at, next_attempt_at, dead_lettered)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		a.ID, string(a.Kind), string(a.Entity), string(a.Payload), a.DedupeKey,
		a.RetryCount, a.MaxRetries, a.QueryKey, a.CreatedAt, a.SyncedAt,
		a.NextAttemptAt, a.DeadLettered,
	)
	if err != nil {
		return fmt.Errorf("enqueue action %s: %w", a.ID, err)
	}
	return nil
}

// ListPendingActions returns all queued actions that have not been applied
// or dead-lettered, in strict creation (FIFO) order.
//
// Backoff eligibility is the replay phase's concern; this listing is the
// complete pending queue.
func (s *Store) ListPendingActions(ctx context.Context) ([]*domain.Action, error) {
	return s.listActions(ctx, `
		SELECT `+actionColumns+`
		FROM offline_actions
		WHERE synced_at IS NULL AND dead_lettered = 0
		ORDER BY created_at ASC, id ASC`)
}

// ListDeadLetters returns actions whose retry budget is exhausted. They
// stay visible for inspection but are never replayed.
func (s *Store) ListDeadLetters(ctx context.Context) ([]*domain.Action, error) {
	return s.listActions(ctx, `
		SELECT `+actionColumns+`
		FROM offline_actions
		WHERE dead_lettered = 1
		ORDER BY created_at ASC, id ASC`)
}

func (s *Store) listActions(ctx context.Context, query string, args ...any) ([]*domain.Action, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var actions []*domain.Action
	if err := sqlscan.Select(ctx, s.db, &actions, query, args...); err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return actions, nil
}

// RemoveAction deletes one action from the queue. Removal is the last step
// of a successful replay, so a removed action can never be re-applied.
func (s *Store) RemoveAction(ctx context.Context, id string) error {
	res, err := s.exec(ctx, "DELETE FROM offline_actions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("remove action %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove action %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("remove action %s: %w", id, ErrNotFound)
	}
	return nil
}

// BumpRetry records a failed replay attempt: increments retry_count, sets
// the next backoff deadline, and dead-letters the action once the budget
// is exhausted. Returns the updated action.
func (s *Store) BumpRetry(ctx context.Context, id string, nextAttempt time.Time) (*domain.Action, error) {
	res, err := s.exec(ctx, `
		UPDATE offline_actions
		SET retry_count = retry_count + 1,
		    next_attempt_at = ?,
		    dead_lettered = CASE WHEN retry_count + 1 >= max_retries THEN 1 ELSE 0 END
		WHERE id = ? AND synced_at IS NULL`,
		nextAttempt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("bump retry %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("bump retry %s: %w", id, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("bump retry %s: %w", id, ErrNotFound)
	}

	return s.getAction(ctx, id)
}

func (s *Store) getAction(ctx context.Context, id string) (*domain.Action, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var a domain.Action
	err := sqlscan.Get(ctx, s.db, &a, `
		SELECT `+actionColumns+`
		FROM offline_actions WHERE id = ?`, id)
	if err != nil {
		if sqlscan.NotFound(err) {
			return nil, fmt.Errorf("get action %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get action %s: %w", id, err)
	}
	return &a, nil
}
