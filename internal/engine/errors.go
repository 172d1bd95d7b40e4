package engine

import (
	"errors"
	"fmt"

	"github.com/bidstack/marketsync/internal/domain"
)

// SyncError represents an error recorded during a sync cycle.
//
// Only connectivity, missing-session, and storage errors abort a cycle;
// per-record and queue-replay errors are accumulated into the cycle's
// error list and exposed through the published status.
type SyncError struct {
	// Code identifies the error category.
	Code ErrorCode `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Kind identifies the affected entity kind, when one applies.
	Kind domain.Kind `json:"kind,omitempty"`

	// RecordID identifies the affected record (per-record errors).
	RecordID string `json:"record_id,omitempty"`

	// ActionID identifies the affected offline action (replay errors).
	ActionID string `json:"action_id,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// ErrorCode categorizes sync errors.
type ErrorCode string

const (
	// ErrCodeConnectivity: no reachable network at cycle start. Aborts the
	// whole cycle before any store mutation.
	ErrCodeConnectivity ErrorCode = "CONNECTIVITY"

	// ErrCodeNoSession: no authenticated identity; remote collaborators
	// cannot be called. Aborts like a connectivity failure.
	ErrCodeNoSession ErrorCode = "NO_SESSION"

	// ErrCodePerRecord: one entity failed to upload or download. Recorded,
	// never propagated past the phase; the record stays dirty or unsynced
	// for the next cycle.
	ErrCodePerRecord ErrorCode = "PER_RECORD"

	// ErrCodeQueueReplay: one offline action failed to apply. Recorded;
	// the action stays queued with its retry count incremented.
	ErrCodeQueueReplay ErrorCode = "QUEUE_REPLAY"

	// ErrCodeStorage: the local store is unreachable. Fails the entire
	// cycle, since no further operation can be trusted.
	ErrCodeStorage ErrorCode = "STORAGE_UNAVAILABLE"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	switch {
	case e.RecordID != "":
		return fmt.Sprintf("%s: %s (kind=%s, record=%s)", e.Code, e.Message, e.Kind, e.RecordID)
	case e.ActionID != "":
		return fmt.Sprintf("%s: %s (action=%s)", e.Code, e.Message, e.ActionID)
	case e.Kind != "":
		return fmt.Sprintf("%s: %s (kind=%s)", e.Code, e.Message, e.Kind)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Aborting reports whether this error terminates the cycle outright.
func (e *SyncError) Aborting() bool {
	switch e.Code {
	case ErrCodeConnectivity, ErrCodeNoSession, ErrCodeStorage:
		return true
	}
	return false
}

// IsConnectivityError reports whether err is a connectivity abort.
// Uses errors.As to handle wrapped errors.
func IsConnectivityError(err error) bool {
	return hasCode(err, ErrCodeConnectivity)
}

// IsStorageError reports whether err is a storage-unavailable abort.
func IsStorageError(err error) bool {
	return hasCode(err, ErrCodeStorage)
}

// IsNoSessionError reports whether err is a missing-session abort.
func IsNoSessionError(err error) bool {
	return hasCode(err, ErrCodeNoSession)
}

func hasCode(err error, code ErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
