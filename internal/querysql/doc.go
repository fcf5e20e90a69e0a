// Package querysql compiles row predicates into SQLite boolean expressions.
//
// Rows are stored as JSON text in a single column; every field reference
// becomes json_extract(column, path). Values and paths are always bound as
// parameters, never interpolated.
//
// The compiled expression follows SQL three-valued logic, which matches the
// in-memory evaluator: a comparison with a null or missing operand is NULL,
// and a row is selected only when the expression is true.
//
// LIKE is compiled as-is and relies on PRAGMA case_sensitive_like = ON;
// ilike lowers both sides.
//
// Expressions without a SQL form (aggregates, array or object literals
// outside of in) return an error wrapping ErrUnsupported. Callers fall back
// to filtering in memory.
package querysql
