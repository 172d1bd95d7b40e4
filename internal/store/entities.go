package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"

	"github.com/bidstack/marketsync/internal/domain"
)

// Filter narrows ListEntities results. The zero value matches everything.
type Filter struct {
	// DirtyOnly restricts results to rows with a pending local mutation.
	DirtyOnly bool
	// UpdatedSince restricts results to rows modified at or after the
	// given time.
	UpdatedSince *time.Time
	// Limit caps the number of rows returned; zero means no cap.
	Limit int
}

// UpsertEntity writes one mirrored record, overwriting any prior row with
// the same id unconditionally.
//
// markDirty=true records a local mutation (is_dirty=1, synced_at=NULL);
// markDirty=false records a remote read (is_dirty=0, synced_at=now).
func (s *Store) UpsertEntity(ctx context.Context, e domain.Entity, markDirty bool) error {
	return s.upsert(ctx, e, markDirty, false)
}

// UpsertEntityIfClean writes one mirrored record like UpsertEntity, but
// skips the write when the existing row is dirty. Download phases use this
// so an in-flight local mutation is never discarded by a remote overwrite;
// the dirty row wins until its upload confirms.
func (s *Store) UpsertEntityIfClean(ctx context.Context, e domain.Entity, markDirty bool) error {
	return s.upsert(ctx, e, markDirty, true)
}

func (s *Store) upsert(ctx context.Context, e domain.Entity, markDirty, skipDirty bool) error {
	if err := s.ready(); err != nil {
		return err
	}

	var syncedAt *time.Time
	if !markDirty {
		now := s.now().UTC()
		syncedAt = &now
	}

	var err error
	switch rec := e.(type) {
	case *domain.Account:
		err = s.upsertAccount(ctx, rec, markDirty, syncedAt, skipDirty)
	case *domain.Job:
		err = s.upsertJob(ctx, rec, markDirty, syncedAt, skipDirty)
	case *domain.Message:
		err = s.upsertMessage(ctx, rec, markDirty, syncedAt, skipDirty)
	case *domain.Bid:
		err = s.upsertBid(ctx, rec, markDirty, syncedAt, skipDirty)
	default:
		return fmt.Errorf("upsert: unsupported entity type %T", e)
	}
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", e.EntityKind(), e.EntityID(), err)
	}
	return nil
}

// cleanGuard returns the ON CONFLICT update guard. With skipDirty the
// update only applies when the stored row has no pending local mutation.
func cleanGuard(table string, skipDirty bool) string {
	if skipDirty {
		return fmt.Sprintf(" WHERE %s.is_dirty = 0", table)
	}
	return ""
}

func (s *Store) upsertAccount(ctx context.Context, a *domain.Account, dirty bool, syncedAt *time.Time, skipDirty bool) error {
	_, err := s.exec(ctx, `
		INSERT INTO accounts
		(id, email, display_name, rating, created_at, updated_at, is_dirty, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			rating = excluded.rating,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			is_dirty = excluded.is_dirty,
			synced_at = excluded.synced_at`+cleanGuard("accounts", skipDirty),
		a.ID, a.Email, a.DisplayName, a.Rating, a.CreatedAt, a.UpdatedAt, dirty, syncedAt,
	)
	return err
}

func (s *Store) upsertJob(ctx context.Context, j *domain.Job, dirty bool, syncedAt *time.Time, skipDirty bool) error {
	_, err := s.exec(ctx, `
		INSERT INTO jobs
		(id, account_id, title, description, status, budget_cents, created_at, updated_at, is_dirty, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			budget_cents = excluded.budget_cents,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			is_dirty = excluded.is_dirty,
			synced_at = excluded.synced_at`+cleanGuard("jobs", skipDirty),
		j.ID, j.AccountID, j.Title, j.Description, j.Status, j.BudgetCents, j.CreatedAt, j.UpdatedAt, dirty, syncedAt,
	)
	return err
}

func (s *Store) upsertMessage(ctx context.Context, m *domain.Message, dirty bool, syncedAt *time.Time, skipDirty bool) error {
	_, err := s.exec(ctx, `
		INSERT INTO messages
		(id, job_id, sender_id, body, sent_at, updated_at, is_dirty, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			job_id = excluded.job_id,
			sender_id = excluded.sender_id,
			body = excluded.body,
			sent_at = excluded.sent_at,
			updated_at = excluded.updated_at,
			is_dirty = excluded.is_dirty,
			synced_at = excluded.synced_at`+cleanGuard("messages", skipDirty),
		m.ID, m.JobID, m.SenderID, m.Body, m.SentAt, m.UpdatedAt, dirty, syncedAt,
	)
	return err
}

func (s *Store) upsertBid(ctx context.Context, b *domain.Bid, dirty bool, syncedAt *time.Time, skipDirty bool) error {
	_, err := s.exec(ctx, `
		INSERT INTO bids
		(id, job_id, account_id, amount_cents, status, created_at, updated_at, is_dirty, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			job_id = excluded.job_id,
			account_id = excluded.account_id,
			amount_cents = excluded.amount_cents,
			status = excluded.status,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			is_dirty = excluded.is_dirty,
			synced_at = excluded.synced_at`+cleanGuard("bids", skipDirty),
		b.ID, b.JobID, b.AccountID, b.AmountCents, b.Status, b.CreatedAt, b.UpdatedAt, dirty, syncedAt,
	)
	return err
}

// GetEntity returns the stored row for (kind, id), or ErrNotFound.
// Read-only; no network access.
func (s *Store) GetEntity(ctx context.Context, kind domain.Kind, id string) (domain.Entity, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE id = ?", kind.Table())

	var (
		e   domain.Entity
		err error
	)
	switch kind {
	case domain.KindAccount:
		var a domain.Account
		err = sqlscan.Get(ctx, s.db, &a, query, id)
		e = &a
	case domain.KindJob:
		var j domain.Job
		err = sqlscan.Get(ctx, s.db, &j, query, id)
		e = &j
	case domain.KindMessage:
		var m domain.Message
		err = sqlscan.Get(ctx, s.db, &m, query, id)
		e = &m
	case domain.KindBid:
		var b domain.Bid
		err = sqlscan.Get(ctx, s.db, &b, query, id)
		e = &b
	default:
		return nil, fmt.Errorf("get entity: unknown kind %q", kind)
	}

	if err != nil {
		if sqlscan.NotFound(err) {
			return nil, fmt.Errorf("get %s %s: %w", kind, id, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return e, nil
}

// ListEntities returns stored rows for the kind matching the filter,
// most-recently-updated first. Read-only; no network access.
func (s *Store) ListEntities(ctx context.Context, kind domain.Kind, filter Filter) ([]domain.Entity, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	qb := sq.Select("*").
		From(kind.Table()).
		OrderBy("updated_at DESC", "id ASC")
	if filter.DirtyOnly {
		qb = qb.Where(sq.Eq{"is_dirty": true})
	}
	if filter.UpdatedSince != nil {
		qb = qb.Where(sq.GtOrEq{"updated_at": *filter.UpdatedSince})
	}
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list %s: build query: %w", kind, err)
	}

	var out []domain.Entity
	switch kind {
	case domain.KindAccount:
		var rows []*domain.Account
		err = sqlscan.Select(ctx, s.db, &rows, query, args...)
		for _, r := range rows {
			out = append(out, r)
		}
	case domain.KindJob:
		var rows []*domain.Job
		err = sqlscan.Select(ctx, s.db, &rows, query, args...)
		for _, r := range rows {
			out = append(out, r)
		}
	case domain.KindMessage:
		var rows []*domain.Message
		err = sqlscan.Select(ctx, s.db, &rows, query, args...)
		for _, r := range rows {
			out = append(out, r)
		}
	case domain.KindBid:
		var rows []*domain.Bid
		err = sqlscan.Select(ctx, s.db, &rows, query, args...)
		for _, r := range rows {
			out = append(out, r)
		}
	default:
		return nil, fmt.Errorf("list entities: unknown kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	return out, nil
}

// ListDirty returns all rows of the kind with a pending local mutation,
// most-recently-updated first. Callers apply batch-size limiting.
func (s *Store) ListDirty(ctx context.Context, kind domain.Kind) ([]domain.Entity, error) {
	return s.ListEntities(ctx, kind, Filter{DirtyOnly: true})
}

// MarkSynced clears the dirty flag and stamps synced_at for one record.
// Must only be called after a confirmed successful remote write.
func (s *Store) MarkSynced(ctx context.Context, kind domain.Kind, id string) error {
	if !kind.Valid() {
		return fmt.Errorf("mark synced: unknown kind %q", kind)
	}

	res, err := s.exec(ctx,
		fmt.Sprintf("UPDATE %s SET is_dirty = 0, synced_at = ? WHERE id = ?", kind.Table()),
		s.now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark synced %s %s: %w", kind, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark synced %s %s: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("mark synced %s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// DeleteEntity removes one mirrored row. Used by replayed delete actions
// to keep the mirror consistent with the confirmed remote delete.
func (s *Store) DeleteEntity(ctx context.Context, kind domain.Kind, id string) error {
	if !kind.Valid() {
		return fmt.Errorf("delete entity: unknown kind %q", kind)
	}
	_, err := s.exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = ?", kind.Table()), id,
	)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	return nil
}
