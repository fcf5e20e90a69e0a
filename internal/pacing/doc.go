// Package pacing batches high-frequency mutation calls into transactions.
//
// A PacedMutations wraps an OnMutate callback, which applies optimistic
// collection writes, and a txn.MutationFn, which persists them. Every Mutate
// call runs OnMutate inside a transaction chosen by the Strategy and returns
// that transaction; the Strategy decides when it is committed.
//
// STRATEGIES:
//
//	Debounce  calls within Wait of each other share one transaction; it
//	          persists Wait after the last call. Leading persists the first
//	          call at once and opens the window.
//	Throttle  at most one persistence call per Wait window. Leading persists
//	          the call that opens a window; Trailing persists what arrived
//	          during the window when it ends.
//	Queue     one transaction per call, persisted strictly one after another.
//	          A failure does not stop later items. Wait spaces items apart.
//
// Merging inside a shared transaction follows the txn rules: an insert
// followed by updates of the same row persists as one insert.
//
// TIMERS:
//
// Windows run on an engine.TimeSource. Tests inject testutil.ManualClock and
// drive expiry with Advance.
//
// CRITICAL: OnMutate runs with the pacer locked. It must not call Mutate on
// the same PacedMutations.
//
// Cache keeps one PacedMutations per caller scope and replaces it only when
// the strategy configuration changes, so reactive callers can ask for it on
// every render without resetting pending windows.
package pacing
