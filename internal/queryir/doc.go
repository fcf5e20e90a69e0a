// Package queryir provides the expression intermediate representation (IR)
// used by livedb queries, subscriptions and indexes.
//
// ARCHITECTURE:
//
// Expressions are produced by the builder DSL (Ref, Eq, And, ...) or decoded
// from YAML/CUE definitions, then consumed by three backends:
//
//	[DSL / definitions] → [Expr IR] → [Evaluator]       (row filtering, projection)
//	                                → [Index optimizer]  (collection lookups)
//	                                → [Query compiler]   (pushdown, join analysis)
//
// SEALED INTERFACES:
//
// Expr is a sealed interface using the marker method pattern. Only Ref, Val,
// Func and Aggregate implement it, so every backend is an exhaustive type
// switch:
//
//	switch e := expr.(type) {
//	case *Ref:
//	case *Val:
//	case *Func:
//	case *Aggregate:
//	}
//
// Operators are tagged by Func.Name and matched exhaustively in Compile and
// the optimizers. Adding an operator means adding one case to each switch.
//
// THREE-VALUED LOGIC:
//
// Comparisons involving null or undefined yield null. and/or/not follow SQL
// semantics, and filters only accept rows where the predicate is exactly
// true. An undefined field (nil IRValue) is distinct from IRNull only for
// isUndefined/isNull.
//
// REFERENCES:
//
// Inside a query, Ref paths start with the source alias (todos.done). When a
// predicate is pushed down to a collection the alias is stripped with
// StripSource and the path is relative to the row (done).
package queryir
