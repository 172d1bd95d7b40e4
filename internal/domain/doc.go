// Package domain defines the closed set of mirrored marketplace entities
// and the durable offline action type that the sync engine replays against
// the remote authority.
//
// # Closed unions
//
// Entity kinds and action kinds are closed enumerations. Dispatch on them
// is done through exhaustive switches so that adding a new kind is a
// compile-visible change, never a silently ignored string key.
//
// # Sync state
//
// Every mirrored entity carries two sync attributes:
//   - Dirty: a local mutation is pending upload
//   - SyncedAt: set only when the record is known to match the remote
//
// A record is never both the result of an unconfirmed local write and
// marked synced; writes through the store enforce this pairing.
//
// # Dedupe keys
//
// Offline actions carry a content-addressed dedupe key computed from the
// canonical JSON of (entity kind, action kind, payload). Enqueuing the
// identical mutation twice while the first is still pending is a no-op.
package domain
