// Package txn implements optimistic transactions over collections.
//
// A Transaction groups mutations (insert, update, delete) from one or more
// collections and persists them with a single MutationFn call. Collections
// show pending and persisting mutations immediately as an optimistic overlay
// and drop them again when the transaction completes (the synced state now
// carries the write) or fails (the write is discarded).
//
// LIFECYCLE:
//
//	pending ──Commit──▶ persisting ──▶ completed
//	   │                    │
//	   └──Rollback──▶ failed ◀──(MutationFn error)
//
// Only pending transactions accept mutations. A transaction with no
// mutations completes immediately on Commit. Wait, Done and Err expose the
// persistence outcome.
//
// MERGING:
//
// Mutations on the same global key (collection id + row key) collapse into one
// entry inside a transaction, in first-seen position:
//
//	insert + update → insert (changes merged)
//	insert + delete → removed
//	update + update → update (changes merged, first original kept)
//	update + delete → delete
//	delete + insert → update
//	same type       → latest wins
//
// ROLLBACK CASCADE:
//
// When a transaction fails, every other pending transaction touching one of
// its global keys is rolled back too: their optimistic state was built on top
// of writes that will never land.
//
// AMBIENT TRANSACTION:
//
// WithTransaction attaches a transaction to a context. Collection mutations
// made with that context join it instead of creating an implicit
// auto-commit transaction.
package txn
