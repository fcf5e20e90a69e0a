// Package collection implements keyed in-memory collections with a
// committed (synced) layer, an optimistic overlay and secondary indexes.
//
// ARCHITECTURE:
//
// State Layers:
// Rows confirmed by the sync source live in the synced map. Mutations made
// through Insert, Update and Delete are recorded in transactions and applied
// as an optimistic overlay (upserts and deletes) recomputed from every live
// transaction in creation order. Readers always see overlay over synced.
//
// Change Delivery:
// Every state transition produces one batch of ChangeMessages computed by
// diffing the visible value of each affected key before and after. Batches
// are handed to an engine.Dispatcher and delivered outside the collection
// lock in commit order. A listener that mutates the collection enqueues the
// follow-on batch instead of recursing.
//
// Sync Holding:
// Synced commits that arrive while one of this collection's transactions is
// persisting are held and applied together with the overlay change when the
// transaction settles, so the row never flickers between optimistic and
// confirmed values. Truncates are never held.
//
// Indexes:
// Indexes cover synced rows only. Snapshot queries look up candidates in an
// index, then patch the result with overlay keys and re-check the predicate
// on every returned row.
//
// Subscriptions:
// A Subscription remembers the last value it delivered for every key. An
// incoming change is translated against that memory: a row entering the
// subscription's filter becomes an insert, a row leaving it becomes a delete,
// and changes for rows the listener never saw are dropped.
//
// CRITICAL: rows handed out by readers and in ChangeMessages are shared.
// Callers must treat them as immutable; Update hands the recipe a copy.
package collection
