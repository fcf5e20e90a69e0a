// Package query describes declarative queries over collections and compiles
// them into execution plans.
//
// A Context is pure data: a FROM source, joins, WHERE conjuncts, grouping,
// projection, ordering and paging. Contexts are built with the fluent
// Builder or decoded from definitions (see internal/compiler). Compile turns
// a Context into a Plan that internal/live executes and maintains.
//
// ARCHITECTURE:
//
//	Builder ──Build──► Context ──Compile──► Plan ──live.New──► derived collection
//
// The optimizer decides execution strategy only:
//
//   - WHERE is split into top-level AND conjuncts. A conjunct referencing a
//     single source is pushed into that source's subscription, where the
//     collection serves it from an index or a scan. Conjuncts over several
//     sources, and constant conjuncts, stay residual.
//   - Pushed conjuncts on the nullable side of an outer join are also kept
//     residual. Conjuncts that hold for a missing row (isUndefined, coalesce)
//     are never pushed to a nullable side.
//   - Each join picks the side that drives and the side that is probed with
//     batched "in" lookups on its join-key index. Without a usable index both
//     sides are loaded in full.
//   - ORDER BY + LIMIT over one indexed field of a single collection loads an
//     index-ordered window instead of the whole source.
//
// CRITICAL: The optimizer never changes results. Anything it cannot serve
// from an index falls back to a scan; that is not an error.
package query
