// Package store provides the SQLite-backed Local Store: a durable,
// restart-surviving mirror of server-owned marketplace entities, per-table
// sync bookkeeping, and the offline action queue.
//
// The store has no knowledge of networking. The sync engine is its only
// writer of sync state; the rest of the application reads mirrored rows
// synchronously through it.
//
// # Write discipline
//
//   - Local mutation: UpsertEntity(..., markDirty=true) stores
//     is_dirty=1, synced_at=NULL
//   - Remote read: UpsertEntity(..., markDirty=false) stores
//     is_dirty=0, synced_at=now
//   - Confirmed upload: MarkSynced clears the dirty flag and stamps
//     synced_at
//
// Download phases use UpsertEntityIfClean so a row with a pending local
// mutation is never silently overwritten by a concurrent download.
//
// # Atomicity
//
// Each operation is atomic with respect to the row it touches; no
// cross-table transaction spans a sync cycle. An interrupted cycle leaves
// the store internally consistent per row and safe to resume: downloads
// are no-op overwrites of clean data, uploads skip rows that are no longer
// dirty, and action removal is the last step of a successful replay.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//   - single connection (SQLite supports one writer at a time)
package store
