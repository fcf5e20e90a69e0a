// Package live maintains query results incrementally.
//
// A Query runs a compiled query.Plan against its sources and materializes
// the result into a derived collection.Collection, which can itself be
// queried, subscribed to or joined.
//
// ARCHITECTURE:
//
//	source batch ─► input (rows as delivered) ─► joins ─► residual filter
//	                                                  │
//	               derived collection ◄─ window ◄─ group / project
//
// Every stage keeps just enough state to turn an input delta into an output
// delta: inputs keep the delivered rows, joins keep arrangements keyed by
// join value, groups keep their member rows, and the window keeps an ordered
// btree of result rows. A source batch touches only the buckets and groups
// its rows belong to.
//
// CRITICAL: inputs never trust the order in which batches reach them. Each
// changed key is reconciled against the row the subscription last delivered
// (collection.Subscription.Delivered), so a snapshot racing a change batch
// converges on the same state.
//
// CRITICAL: the derived collection is written outside the query lock,
// through a FIFO outbox, so its listeners may call back into the query.
// Output batches keep the order in which source batches were processed.
//
// Lazy sources (join sides probed by key, index-ordered windows) load rows
// through Subscription.RequestSnapshot and RequestLimitedSnapshot. Probes
// for one step are batched into a single "in" lookup.
package live
