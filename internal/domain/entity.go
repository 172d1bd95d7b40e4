package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncState carries the per-record sync bookkeeping attributes shared by
// every mirrored entity.
//
// INVARIANT: a local mutation is stored with Dirty=true, SyncedAt=nil; a
// remote read is stored with Dirty=false, SyncedAt=now. The store's upsert
// operations enforce the pairing; callers never set these fields by hand.
type SyncState struct {
	Dirty    bool       `db:"is_dirty" json:"is_dirty"`
	SyncedAt *time.Time `db:"synced_at" json:"synced_at,omitempty"`
}

// Entity is the closed union of mirrored marketplace records.
//
// Implemented only by Account, Job, Message, and Bid. The unexported
// sealed method keeps the union closed to this package.
type Entity interface {
	EntityID() string
	EntityKind() Kind
	// UpdatedTime is the record's last local modification time, used to
	// order upload batches most-recently-updated first.
	UpdatedTime() time.Time

	sealed()
}

// Account is a marketplace account mirrored from the remote authority.
type Account struct {
	ID          string    `db:"id" json:"id"`
	Email       string    `db:"email" json:"email"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Rating      float64   `db:"rating" json:"rating"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`

	SyncState
}

func (a *Account) EntityID() string       { return a.ID }
func (a *Account) EntityKind() Kind       { return KindAccount }
func (a *Account) UpdatedTime() time.Time { return a.UpdatedAt }
func (a *Account) sealed()                {}

// Job is a posted job mirrored from the remote authority.
type Job struct {
	ID          string    `db:"id" json:"id"`
	AccountID   string    `db:"account_id" json:"account_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Status      string    `db:"status" json:"status"`
	BudgetCents int64     `db:"budget_cents" json:"budget_cents"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`

	SyncState
}

func (j *Job) EntityID() string       { return j.ID }
func (j *Job) EntityKind() Kind       { return KindJob }
func (j *Job) UpdatedTime() time.Time { return j.UpdatedAt }
func (j *Job) sealed()                {}

// Message is a job-thread message mirrored from the remote authority.
type Message struct {
	ID        string    `db:"id" json:"id"`
	JobID     string    `db:"job_id" json:"job_id"`
	SenderID  string    `db:"sender_id" json:"sender_id"`
	Body      string    `db:"body" json:"body"`
	SentAt    time.Time `db:"sent_at" json:"sent_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	SyncState
}

func (m *Message) EntityID() string       { return m.ID }
func (m *Message) EntityKind() Kind       { return KindMessage }
func (m *Message) UpdatedTime() time.Time { return m.UpdatedAt }
func (m *Message) sealed()                {}

// Bid is a bid on a job mirrored from the remote authority.
type Bid struct {
	ID          string    `db:"id" json:"id"`
	JobID       string    `db:"job_id" json:"job_id"`
	AccountID   string    `db:"account_id" json:"account_id"`
	AmountCents int64     `db:"amount_cents" json:"amount_cents"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`

	SyncState
}

func (b *Bid) EntityID() string       { return b.ID }
func (b *Bid) EntityKind() Kind       { return KindBid }
func (b *Bid) UpdatedTime() time.Time { return b.UpdatedAt }
func (b *Bid) sealed()                {}

// DecodeEntity unmarshals a JSON payload into the entity struct for the
// given kind. Used by queue replay to recover the typed record from an
// offline action payload.
func DecodeEntity(kind Kind, payload json.RawMessage) (Entity, error) {
	var (
		e   Entity
		err error
	)
	switch kind {
	case KindAccount:
		var a Account
		err = json.Unmarshal(payload, &a)
		e = &a
	case KindJob:
		var j Job
		err = json.Unmarshal(payload, &j)
		e = &j
	case KindMessage:
		var m Message
		err = json.Unmarshal(payload, &m)
		e = &m
	case KindBid:
		var b Bid
		err = json.Unmarshal(payload, &b)
		e = &b
	default:
		return nil, fmt.Errorf("decode entity: unknown kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	if e.EntityID() == "" {
		return nil, fmt.Errorf("decode %s payload: missing id", kind)
	}
	return e, nil
}

// EncodeEntity marshals a typed entity into an offline action payload.
func EncodeEntity(e Entity) (json.RawMessage, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.EntityKind(), err)
	}
	return data, nil
}
