package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bidstack/marketsync/internal/domain"
	"github.com/bidstack/marketsync/internal/remote"
	"github.com/bidstack/marketsync/internal/store"
)

// runCycle executes one synchronization cycle. The caller holds the
// Syncing state; runCycle never re-enters the guard.
//
// Phase order: precondition, download, upload, queue replay, finalize.
// Per-record and per-action failures are accumulated; only connectivity,
// missing-session, and storage failures abort.
func (e *Engine) runCycle(ctx context.Context, opts Options) (Status, error) {
	seq := e.cycles.Next()
	log := e.logger.With("cycle", seq, "direction", opts.Direction.String())

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = e.plan.BatchSize
	}

	// Precondition: the remote endpoint must be reachable. Abort before
	// touching the store.
	if !e.collab.Network.Online() {
		syncErr := &SyncError{Code: ErrCodeConnectivity, Message: "network unreachable"}
		log.Warn("cycle aborted", "err", syncErr)
		status := e.Snapshot()
		status.LastCycle = seq
		status.Errors = []*SyncError{syncErr}
		return status, syncErr
	}

	session, err := e.collab.Session.Current(ctx)
	if err != nil {
		syncErr := &SyncError{Code: ErrCodeNoSession, Message: "no authenticated session", Err: err}
		log.Warn("cycle aborted", "err", syncErr)
		status := e.Snapshot()
		status.LastCycle = seq
		status.Errors = []*SyncError{syncErr}
		return status, syncErr
	}

	log.Info("cycle started")
	var cycleErrors []*SyncError

	if opts.Direction.includesDownload() {
		errs, err := e.downloadPhase(ctx, session, opts, log)
		if err != nil {
			return e.abortStatus(seq, err, log), err
		}
		cycleErrors = append(cycleErrors, errs...)
	}

	if opts.Direction.includesUpload() {
		errs, err := e.uploadPhase(ctx, session, batchSize, opts, log)
		if err != nil {
			return e.abortStatus(seq, err, log), err
		}
		cycleErrors = append(cycleErrors, errs...)

		errs, err = e.replayPhase(ctx, session, opts, log)
		if err != nil {
			return e.abortStatus(seq, err, log), err
		}
		cycleErrors = append(cycleErrors, errs...)
	}

	status, err := e.finalize(ctx, seq, cycleErrors, log)
	if err != nil {
		return e.abortStatus(seq, err, log), err
	}

	log.Info("cycle finished", "errors", len(cycleErrors))
	return status, nil
}

// downloadPhase pulls authoritative records for each kind in dependency
// order and upserts them as clean. Rows with pending local mutations are
// left untouched; the dirty copy wins until its upload confirms. A failed
// fetch for one kind is recorded and does not stop the others.
func (e *Engine) downloadPhase(ctx context.Context, session remote.Session, opts Options, log *slog.Logger) ([]*SyncError, error) {
	var phaseErrors []*SyncError

	for _, kind := range e.plan.Kinds {
		client, err := e.collab.ClientFor(kind)
		if err != nil {
			phaseErrors = append(phaseErrors, &SyncError{
				Code: ErrCodePerRecord, Message: "resolve remote client", Kind: kind, Err: err,
			})
			continue
		}

		records, err := e.fetchRemote(ctx, client, session, opts)
		if err != nil {
			syncErr := &SyncError{
				Code: ErrCodePerRecord, Message: "download failed", Kind: kind, Err: err,
			}
			phaseErrors = append(phaseErrors, syncErr)
			log.Warn("download failed", "kind", kind, "err", err)
			continue
		}

		for _, record := range records {
			if err := e.store.UpsertEntityIfClean(ctx, record, false); err != nil {
				if errors.Is(err, store.ErrStorageUnavailable) {
					return nil, e.storageError(err)
				}
				phaseErrors = append(phaseErrors, &SyncError{
					Code: ErrCodePerRecord, Message: "store download result",
					Kind: kind, RecordID: record.EntityID(), Err: err,
				})
			}
		}
		log.Debug("downloaded", "kind", kind, "records", len(records))
	}

	return phaseErrors, nil
}

// uploadPhase pushes up to batchSize dirty records per kind. A confirmed
// push marks the record synced; a failed push leaves it dirty for the
// next cycle with no same-cycle retry.
func (e *Engine) uploadPhase(ctx context.Context, session remote.Session, batchSize int, opts Options, log *slog.Logger) ([]*SyncError, error) {
	var phaseErrors []*SyncError

	for _, kind := range e.plan.Kinds {
		client, err := e.collab.ClientFor(kind)
		if err != nil {
			phaseErrors = append(phaseErrors, &SyncError{
				Code: ErrCodePerRecord, Message: "resolve remote client", Kind: kind, Err: err,
			})
			continue
		}

		dirty, err := e.store.ListDirty(ctx, kind)
		if err != nil {
			if errors.Is(err, store.ErrStorageUnavailable) {
				return nil, e.storageError(err)
			}
			phaseErrors = append(phaseErrors, &SyncError{
				Code: ErrCodePerRecord, Message: "list dirty records", Kind: kind, Err: err,
			})
			continue
		}
		if len(dirty) > batchSize {
			dirty = dirty[:batchSize]
		}

		uploaded := 0
		for _, record := range dirty {
			if err := e.pushRemote(ctx, client, session, record, opts); err != nil {
				phaseErrors = append(phaseErrors, &SyncError{
					Code: ErrCodePerRecord, Message: "upload failed",
					Kind: kind, RecordID: record.EntityID(), Err: err,
				})
				continue
			}
			if err := e.store.MarkSynced(ctx, kind, record.EntityID()); err != nil {
				if errors.Is(err, store.ErrStorageUnavailable) {
					return nil, e.storageError(err)
				}
				phaseErrors = append(phaseErrors, &SyncError{
					Code: ErrCodePerRecord, Message: "mark synced",
					Kind: kind, RecordID: record.EntityID(), Err: err,
				})
				continue
			}
			uploaded++
		}
		if len(dirty) > 0 {
			log.Debug("uploaded", "kind", kind, "pushed", uploaded, "dirty", len(dirty))
		}
	}

	return phaseErrors, nil
}

// replayPhase applies pending offline actions strictly in creation order.
// A failing action is retried on a later cycle with exponential backoff;
// it never blocks the actions behind it. Actions whose backoff deadline
// has not arrived are skipped this pass.
func (e *Engine) replayPhase(ctx context.Context, session remote.Session, opts Options, log *slog.Logger) ([]*SyncError, error) {
	pending, err := e.store.ListPendingActions(ctx)
	if err != nil {
		if errors.Is(err, store.ErrStorageUnavailable) {
			return nil, e.storageError(err)
		}
		return []*SyncError{{Code: ErrCodeQueueReplay, Message: "list pending actions", Err: err}}, nil
	}

	var phaseErrors []*SyncError
	now := e.now().UTC()

	for _, action := range pending {
		if !action.Eligible(now) {
			log.Debug("action not yet eligible", "action", action.ID,
				"next_attempt", action.NextAttemptAt)
			continue
		}

		if err := e.applyAction(ctx, session, action, opts); err != nil {
			if errors.Is(err, store.ErrStorageUnavailable) {
				return nil, e.storageError(err)
			}

			backoff := e.plan.Retry.Backoff(action.RetryCount)
			bumped, bumpErr := e.store.BumpRetry(ctx, action.ID, now.Add(backoff))
			if bumpErr != nil {
				if errors.Is(bumpErr, store.ErrStorageUnavailable) {
					return nil, e.storageError(bumpErr)
				}
				log.Error("bump retry failed", "action", action.ID, "err", bumpErr)
			} else if bumped.DeadLettered {
				log.Warn("action dead-lettered", "action", action.ID,
					"retries", bumped.RetryCount)
			}

			phaseErrors = append(phaseErrors, &SyncError{
				Code: ErrCodeQueueReplay, Message: "replay failed",
				Kind: action.Entity, ActionID: action.ID, Err: err,
			})
			continue
		}

		if err := e.store.RemoveAction(ctx, action.ID); err != nil {
			if errors.Is(err, store.ErrStorageUnavailable) {
				return nil, e.storageError(err)
			}
			phaseErrors = append(phaseErrors, &SyncError{
				Code: ErrCodeQueueReplay, Message: "remove applied action",
				ActionID: action.ID, Err: err,
			})
		}
	}

	return phaseErrors, nil
}

// applyAction dispatches one offline action to the matching remote
// collaborator by (entity kind, action kind).
func (e *Engine) applyAction(ctx context.Context, session remote.Session, action *domain.Action, opts Options) error {
	client, err := e.collab.ClientFor(action.Entity)
	if err != nil {
		return err
	}

	switch action.Kind {
	case domain.ActionCreate, domain.ActionUpdate:
		record, err := domain.DecodeEntity(action.Entity, action.Payload)
		if err != nil {
			return err
		}
		if err := e.pushRemote(ctx, client, session, record, opts); err != nil {
			return err
		}
		// The confirmed remote write is the new authority; reflect it in
		// the mirror as clean.
		return e.store.UpsertEntity(ctx, record, false)

	case domain.ActionDelete:
		id, err := action.DeleteTarget()
		if err != nil {
			return err
		}
		if err := e.deleteRemote(ctx, client, session, id, opts); err != nil {
			return err
		}
		return e.store.DeleteEntity(ctx, action.Entity, id)

	default:
		return fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

// finalize refreshes per-table metadata, invalidates downstream read
// caches unconditionally, and builds the cycle's status snapshot.
func (e *Engine) finalize(ctx context.Context, seq int64, cycleErrors []*SyncError, log *slog.Logger) (Status, error) {
	now := e.now().UTC()

	if err := e.store.RefreshMetadata(ctx, now); err != nil {
		if errors.Is(err, store.ErrStorageUnavailable) {
			return Status{}, e.storageError(err)
		}
		cycleErrors = append(cycleErrors, &SyncError{
			Code: ErrCodePerRecord, Message: "refresh metadata", Err: err,
		})
	}

	e.collab.Cache.InvalidateAll()

	stats, err := e.store.StorageStats(ctx)
	if err != nil {
		if errors.Is(err, store.ErrStorageUnavailable) {
			return Status{}, e.storageError(err)
		}
		log.Error("storage stats failed", "err", err)
	}

	return Status{
		LastSyncTime: &now,
		LastCycle:    seq,
		Errors:       cycleErrors,
		Stats:        stats,
	}, nil
}

// abortStatus builds the status for an aborted cycle without stamping a
// successful sync time.
func (e *Engine) abortStatus(seq int64, err error, log *slog.Logger) Status {
	log.Error("cycle aborted", "err", err)

	status := e.Snapshot()
	status.LastCycle = seq
	var se *SyncError
	if errors.As(err, &se) {
		status.Errors = []*SyncError{se}
	} else {
		status.Errors = []*SyncError{{Code: ErrCodeStorage, Message: err.Error(), Err: err}}
	}
	return status
}

func (e *Engine) storageError(err error) *SyncError {
	return &SyncError{Code: ErrCodeStorage, Message: "local store unavailable", Err: err}
}

// remoteCtx bounds one remote round-trip with the cycle's timeout.
func (e *Engine) remoteCtx(ctx context.Context, opts Options) (context.Context, context.CancelFunc) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (e *Engine) fetchRemote(ctx context.Context, client remote.Client, session remote.Session, opts Options) ([]domain.Entity, error) {
	callCtx, cancel := e.remoteCtx(ctx, opts)
	defer cancel()
	return client.Fetch(callCtx, session)
}

func (e *Engine) pushRemote(ctx context.Context, client remote.Client, session remote.Session, record domain.Entity, opts Options) error {
	callCtx, cancel := e.remoteCtx(ctx, opts)
	defer cancel()
	return client.Push(callCtx, session, record)
}

func (e *Engine) deleteRemote(ctx context.Context, client remote.Client, session remote.Session, id string, opts Options) error {
	callCtx, cancel := e.remoteCtx(ctx, opts)
	defer cancel()
	return client.Delete(callCtx, session, id)
}
