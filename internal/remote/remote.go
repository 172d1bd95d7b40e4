// Package remote defines the interfaces of the domain collaborators the
// sync engine consumes: session retrieval, per-kind remote read/write,
// connectivity, and downstream cache invalidation.
//
// These are boundaries, not implementations; the real network-backed
// collaborators live elsewhere in the application. In-memory fakes with
// failure injection are provided for tests and the demo CLI.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/bidstack/marketsync/internal/domain"
)

// ErrNoSession is returned by SessionProvider when no identity is
// authenticated.
var ErrNoSession = errors.New("no authenticated session")

// Session is the current authenticated identity.
type Session struct {
	AccountID string
	Token     string
}

// SessionProvider returns the current authenticated identity or
// ErrNoSession.
type SessionProvider interface {
	Current(ctx context.Context) (Session, error)
}

// Connectivity reports network reachability and publishes transitions.
type Connectivity interface {
	// Online reports whether the remote endpoint is currently reachable.
	Online() bool
	// Watch returns a channel carrying reachability transitions: true on
	// unreachable-to-reachable, false on the reverse. The channel is owned
	// by the implementation and closes when it shuts down.
	Watch() <-chan bool
}

// CacheInvalidator invalidates all downstream cached reads.
// Fire-and-forget: errors are the sink's concern, not the engine's.
type CacheInvalidator interface {
	InvalidateAll()
}

// Client is the remote collaborator for one mirrored entity kind.
type Client interface {
	// Fetch returns the authoritative records relevant to the session's
	// identity (the download side).
	Fetch(ctx context.Context, s Session) ([]domain.Entity, error)
	// Push applies a create-or-update for one record (the upload side).
	Push(ctx context.Context, s Session, e domain.Entity) error
	// Delete removes one remote record by id.
	Delete(ctx context.Context, s Session, id string) error
}

// Collaborators bundles every external dependency of the engine. One
// client per member of the closed kind set, resolved through ClientFor's
// exhaustive switch.
type Collaborators struct {
	Session SessionProvider
	Network Connectivity
	Cache   CacheInvalidator

	Accounts Client
	Jobs     Client
	Messages Client
	Bids     Client
}

// ClientFor resolves the client for a kind. An unknown kind or an
// unwired client is an error.
func (c *Collaborators) ClientFor(kind domain.Kind) (Client, error) {
	var client Client
	switch kind {
	case domain.KindAccount:
		client = c.Accounts
	case domain.KindJob:
		client = c.Jobs
	case domain.KindMessage:
		client = c.Messages
	case domain.KindBid:
		client = c.Bids
	default:
		return nil, fmt.Errorf("no remote client for kind %q", kind)
	}
	if client == nil {
		return nil, fmt.Errorf("missing %s client", kind)
	}
	return client, nil
}

// Validate checks that every collaborator is wired.
func (c *Collaborators) Validate() error {
	if c.Session == nil {
		return errors.New("collaborators: missing session provider")
	}
	if c.Network == nil {
		return errors.New("collaborators: missing connectivity")
	}
	if c.Cache == nil {
		return errors.New("collaborators: missing cache invalidator")
	}
	for _, kind := range domain.DownloadOrder() {
		if _, err := c.ClientFor(kind); err != nil {
			return fmt.Errorf("collaborators: %w", err)
		}
	}
	return nil
}
