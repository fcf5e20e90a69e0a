package queryir

import (
	"slices"

	"github.com/roach88/livedb/internal/ir"
)

// Expr represents an expression in the query IR.
//
// This is a sealed interface - only types in this package implement it.
//
// Expr types:
//   - Ref: reference to a field path
//   - Val: literal value
//   - Func: operator application (eq, and, upper, ...)
//   - Aggregate: aggregate over a group (count, sum, ...)
type Expr interface {
	exprNode() // Marker method - seals interface to this package
}

// Ref references a field by path.
//
// In queries the first path element is the source alias:
//
//	Ref{Path: []string{"todos", "done"}}
//
// In collection-level predicates the path is relative to the row.
type Ref struct {
	Path []string
}

func (*Ref) exprNode() {}

// Val is a literal value.
type Val struct {
	Value ir.IRValue
}

func (*Val) exprNode() {}

// Func applies a named operator to arguments.
//
// Semantics depend on Name; see the Func* constants.
type Func struct {
	Name string
	Args []Expr
}

func (*Func) exprNode() {}

// Aggregate is an aggregate function evaluated over the rows of a group.
// Aggregates are only valid in select and having clauses of grouped queries.
type Aggregate struct {
	Name string
	Args []Expr
}

func (*Aggregate) exprNode() {}

// Operator names.
const (
	FuncEq          = "eq"
	FuncGt          = "gt"
	FuncGte         = "gte"
	FuncLt          = "lt"
	FuncLte         = "lte"
	FuncIn          = "in"
	FuncAnd         = "and"
	FuncOr          = "or"
	FuncNot         = "not"
	FuncLike        = "like"
	FuncILike       = "ilike"
	FuncIsNull      = "isNull"
	FuncIsUndefined = "isUndefined"
	FuncUpper       = "upper"
	FuncLower       = "lower"
	FuncLength      = "length"
	FuncConcat      = "concat"
	FuncCoalesce    = "coalesce"
	FuncAdd         = "add"
)

// Aggregate names.
const (
	AggCount = "count"
	AggSum   = "sum"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
)

// arity describes the allowed argument count of an operator. max < 0 means unbounded.
type arity struct {
	min, max int
}

var funcArity = map[string]arity{
	FuncEq:          {2, 2},
	FuncGt:          {2, 2},
	FuncGte:         {2, 2},
	FuncLt:          {2, 2},
	FuncLte:         {2, 2},
	FuncIn:          {2, 2},
	FuncAnd:         {1, -1},
	FuncOr:          {1, -1},
	FuncNot:         {1, 1},
	FuncLike:        {2, 2},
	FuncILike:       {2, 2},
	FuncIsNull:      {1, 1},
	FuncIsUndefined: {1, 1},
	FuncUpper:       {1, 1},
	FuncLower:       {1, 1},
	FuncLength:      {1, 1},
	FuncConcat:      {1, -1},
	FuncCoalesce:    {1, -1},
	FuncAdd:         {2, -1},
}

var aggArity = map[string]arity{
	AggCount: {0, 1},
	AggSum:   {1, 1},
	AggAvg:   {1, 1},
	AggMin:   {1, 1},
	AggMax:   {1, 1},
}

// IsComparison reports whether name is one of eq, gt, gte, lt, lte.
func IsComparison(name string) bool {
	switch name {
	case FuncEq, FuncGt, FuncGte, FuncLt, FuncLte:
		return true
	}
	return false
}

// FlipComparison returns the operator that keeps a comparison true when its
// operands are swapped (gt(5, x) == lt(x, 5)).
func FlipComparison(name string) string {
	switch name {
	case FuncGt:
		return FuncLt
	case FuncGte:
		return FuncLte
	case FuncLt:
		return FuncGt
	case FuncLte:
		return FuncGte
	}
	return name
}

// KnownFunctions returns all operator names in sorted order.
func KnownFunctions() []string {
	names := make([]string, 0, len(funcArity))
	for name := range funcArity {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsAggregateName reports whether name is an aggregate function.
func IsAggregateName(name string) bool {
	_, ok := aggArity[name]
	return ok
}
