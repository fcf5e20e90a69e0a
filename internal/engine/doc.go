// Package engine holds the runtime primitives shared by collections, live
// queries, transactions and pacing strategies.
//
// ARCHITECTURE:
//
// Delivery Ordering:
// Collections mutate state under their own lock and hand change batches to a
// Dispatcher. The Dispatcher runs delivery callbacks outside the lock, one at
// a time, in enqueue order. A callback that triggers another mutation (a
// listener writing to the same collection) enqueues the follow-on batch
// instead of recursing, so subscribers never observe interleaved batches.
//
// Logical Clock:
// Transactions and change batches are stamped with a monotonic sequence
// number from Clock.Next(). Ordering decisions (which transaction was created
// first, which batch is newer) NEVER use wall-clock timestamps.
//
// Time Source:
// Components that need timers (pacing windows, collection GC) take a
// TimeSource. Production code uses SystemTime; tests inject a manual clock so
// window expiry is driven explicitly instead of by sleeping.
//
// Identifiers:
// Transaction and mutation ids come from an IDGenerator. UUIDv7Generator is
// the default; SequenceGenerator gives scenario runs stable ids.
package engine
