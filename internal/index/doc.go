// Package index implements ordered secondary indexes over collection rows.
//
// A BTreeIndex maps the value found at one field path to the set of row keys
// holding that value. Two structures back it:
//
//   - a hash map from value to entry (ir.ValueMap, xxhash fingerprints), so
//     equality and membership lookups are a single probe
//   - a B-tree of distinct values (github.com/google/btree), so range
//     lookups and ordered windows are one bounded scan
//
// CRITICAL: indexes reflect committed state only. The optimistic overlay is
// applied on top by the owning collection after a lookup.
//
// ORDERING:
//
// Values use ir.Compare: undefined < null < bool < number < string < array <
// object. Ints and floats are one numeric domain. Keys sharing a value are
// returned in ir.Compare order of the key so results are deterministic.
//
// Lookup semantics match queryir three-valued logic: a null or undefined
// operand matches nothing, and null or undefined row values never satisfy a
// comparison.
//
// Thread-safety: a BTreeIndex is not safe for concurrent mutation. The owning
// collection serializes access under its own lock. Stats counters are atomic.
package index
