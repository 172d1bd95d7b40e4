package domain

import "fmt"

// Kind identifies one mirrored entity kind.
//
// The set is closed: every switch over Kind must handle exactly these
// values. DownloadOrder returns them in dependency order.
type Kind string

const (
	// KindAccount is a marketplace account (independent root entity).
	KindAccount Kind = "account"
	// KindJob is a posted job; references an account.
	KindJob Kind = "job"
	// KindMessage is a message on a job thread; references a job.
	KindMessage Kind = "message"
	// KindBid is a bid on a job; references a job and an account.
	KindBid Kind = "bid"
)

// DownloadOrder returns all kinds in dependency order: independent kinds
// before kinds that reference them. Download phases iterate this order so
// that referenced rows exist before their dependents arrive.
func DownloadOrder() []Kind {
	return []Kind{KindAccount, KindJob, KindMessage, KindBid}
}

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool {
	switch k {
	case KindAccount, KindJob, KindMessage, KindBid:
		return true
	}
	return false
}

// Table returns the mirrored table name for this kind.
func (k Kind) Table() string {
	switch k {
	case KindAccount:
		return "accounts"
	case KindJob:
		return "jobs"
	case KindMessage:
		return "messages"
	case KindBid:
		return "bids"
	}
	return string(k)
}

// ParseKind converts a string (e.g. from CLI flags or plan files) into a
// Kind, rejecting anything outside the closed set.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
	return k, nil
}

// ActionKind identifies one offline action kind.
type ActionKind string

const (
	// ActionCreate creates a new remote record from the payload.
	ActionCreate ActionKind = "create"
	// ActionUpdate overwrites an existing remote record with the payload.
	ActionUpdate ActionKind = "update"
	// ActionDelete removes the remote record named by the payload id.
	ActionDelete ActionKind = "delete"
)

// Valid reports whether a is a member of the closed action kind set.
func (a ActionKind) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// ParseActionKind converts a string into an ActionKind, rejecting anything
// outside the closed set.
func ParseActionKind(s string) (ActionKind, error) {
	a := ActionKind(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown action kind %q", s)
	}
	return a, nil
}
