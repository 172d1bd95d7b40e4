package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxRetries is the retry budget for an offline action before it is
// dead-lettered.
const DefaultMaxRetries = 5

// Action is a durable, queued representation of a local mutation that must
// be replayed against the remote authority.
//
// Lifecycle: created by a local mutation that cannot wait for a network
// round-trip; consumed exactly once by the orchestrator's replay phase,
// which removes it on success. On failure it remains queued with
// RetryCount incremented and NextAttemptAt pushed out by the backoff
// policy; once RetryCount reaches MaxRetries it is dead-lettered and never
// replayed again.
type Action struct {
	// ID is a UUIDv7, time-sortable so action IDs order by creation.
	ID     string     `db:"id" json:"id"`
	Kind   ActionKind `db:"kind" json:"kind"`
	Entity Kind       `db:"entity" json:"entity"`

	// Payload is the serialized mutation. For create/update it decodes
	// into the entity struct for Entity; for delete it carries {"id": ...}.
	Payload json.RawMessage `db:"payload" json:"payload"`

	// DedupeKey is the content hash of (entity, kind, payload). Enqueuing
	// an action whose key matches a still-pending action is a no-op.
	DedupeKey string `db:"dedupe_key" json:"dedupe_key"`

	RetryCount int `db:"retry_count" json:"retry_count"`
	MaxRetries int `db:"max_retries" json:"max_retries"`

	// QueryKey optionally names the downstream read cache to invalidate
	// once the action applies.
	QueryKey *string `db:"query_key" json:"query_key,omitempty"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	SyncedAt  *time.Time `db:"synced_at" json:"synced_at,omitempty"`

	// NextAttemptAt is the earliest time the replay phase may attempt this
	// action again. Starts at CreatedAt; pushed out exponentially on each
	// failure.
	NextAttemptAt time.Time `db:"next_attempt_at" json:"next_attempt_at"`

	// DeadLettered marks an action whose retry budget is exhausted. It
	// stays visible for inspection but is excluded from replay.
	DeadLettered bool `db:"dead_lettered" json:"dead_lettered"`
}

// NewAction builds a pending action for the given mutation, stamping a
// UUIDv7 ID, the dedupe key, and the retry budget.
func NewAction(entity Kind, kind ActionKind, payload json.RawMessage, now time.Time) (*Action, error) {
	if !entity.Valid() {
		return nil, fmt.Errorf("new action: unknown entity kind %q", entity)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("new action: unknown action kind %q", kind)
	}

	key, err := ActionDedupeKey(entity, kind, payload)
	if err != nil {
		return nil, fmt.Errorf("new action: %w", err)
	}

	return &Action{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Kind:          kind,
		Entity:        entity,
		Payload:       payload,
		DedupeKey:     key,
		MaxRetries:    DefaultMaxRetries,
		CreatedAt:     now,
		NextAttemptAt: now,
	}, nil
}

// Eligible reports whether the action may be attempted at the given time.
func (a *Action) Eligible(now time.Time) bool {
	return !a.DeadLettered && a.SyncedAt == nil && !a.NextAttemptAt.After(now)
}

// Validate checks structural invariants before the action is persisted.
func (a *Action) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("action: missing id")
	}
	if !a.Entity.Valid() {
		return fmt.Errorf("action %s: unknown entity kind %q", a.ID, a.Entity)
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("action %s: unknown action kind %q", a.ID, a.Kind)
	}
	if len(a.Payload) == 0 {
		return fmt.Errorf("action %s: empty payload", a.ID)
	}
	if a.MaxRetries <= 0 {
		return fmt.Errorf("action %s: max retries must be positive", a.ID)
	}
	return nil
}

// DeleteTarget extracts the record id from a delete action payload.
func (a *Action) DeleteTarget() (string, error) {
	var target struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(a.Payload, &target); err != nil {
		return "", fmt.Errorf("action %s: delete payload: %w", a.ID, err)
	}
	if target.ID == "" {
		return "", fmt.Errorf("action %s: delete payload missing id", a.ID)
	}
	return target.ID, nil
}
