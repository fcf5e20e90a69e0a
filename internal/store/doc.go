// Package store provides SQLite-backed persistence and sync for collections.
//
// Every collection's rows live in one rows table, keyed by collection id and
// row key, each row stored as a JSON document. The store plays both halves of
// a collection's backend:
//
//   - Persist is a transaction MutationFn. It writes every mutation of a
//     transaction in one SQL transaction and records the transaction id, so
//     persisting the same transaction twice is a no-op.
//   - SyncFunc loads the stored rows (optionally filtered by a predicate
//     compiled to SQL) and keeps the collection current: every later write,
//     persisted or put directly, is delivered to it as a sync batch.
//
// Confirmed writes therefore come back through sync while the writing
// transaction is still persisting, so optimistic and confirmed state hand
// over without a gap.
//
// # Ordering
//
// Loads are ordered by seq (the persisted transaction counter), then by key
// with COLLATE BINARY, so identical databases load identically.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - case_sensitive_like=ON: LIKE matches the in-memory evaluator
//
// Sync listeners run on the writer's goroutine; they must not commit a
// transaction persisted by the same store synchronously.
package store
