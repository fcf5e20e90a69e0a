package queryir

import "github.com/roach88/livedb/internal/ir"

// Expression builder DSL.
//
// Arguments of type Expr are used as-is; any other Go value becomes a
// literal via ir.MustFromAny. Field references must be explicit:
//
//	queryir.And(
//	    queryir.Eq(queryir.Field("todos", "done"), false),
//	    queryir.Gt(queryir.Field("todos", "priority"), 2),
//	)

// NewRef builds a field reference from a path.
func NewRef(path ...string) *Ref {
	return &Ref{Path: append([]string(nil), path...)}
}

// Field is shorthand for NewRef.
func Field(path ...string) *Ref {
	return NewRef(path...)
}

// Lit builds a literal expression from a Go value.
func Lit(v any) *Val {
	return &Val{Value: ir.MustFromAny(v)}
}

// F builds an operator application.
func F(name string, args ...Expr) *Func {
	return &Func{Name: name, Args: args}
}

// Agg builds an aggregate.
func Agg(name string, args ...Expr) *Aggregate {
	return &Aggregate{Name: name, Args: args}
}

func toExpr(v any) Expr {
	if e, ok := v.(Expr); ok {
		return e
	}
	return Lit(v)
}

func toExprs(vs []any) []Expr {
	out := make([]Expr, len(vs))
	for i, v := range vs {
		out[i] = toExpr(v)
	}
	return out
}

func Eq(a, b any) Expr  { return F(FuncEq, toExpr(a), toExpr(b)) }
func Gt(a, b any) Expr  { return F(FuncGt, toExpr(a), toExpr(b)) }
func Gte(a, b any) Expr { return F(FuncGte, toExpr(a), toExpr(b)) }
func Lt(a, b any) Expr  { return F(FuncLt, toExpr(a), toExpr(b)) }
func Lte(a, b any) Expr { return F(FuncLte, toExpr(a), toExpr(b)) }

// And combines predicates. A single argument is returned unwrapped.
func And(preds ...any) Expr {
	if len(preds) == 1 {
		return toExpr(preds[0])
	}
	return F(FuncAnd, toExprs(preds)...)
}

// Or combines predicates. A single argument is returned unwrapped.
func Or(preds ...any) Expr {
	if len(preds) == 1 {
		return toExpr(preds[0])
	}
	return F(FuncOr, toExprs(preds)...)
}

func Not(pred any) Expr { return F(FuncNot, toExpr(pred)) }

// InArray tests membership of a value in a literal array.
// values may be an IRArray, a Go slice, or an Expr.
func InArray(value any, values any) Expr {
	return F(FuncIn, toExpr(value), toExpr(values))
}

func Like(value, pattern any) Expr  { return F(FuncLike, toExpr(value), toExpr(pattern)) }
func ILike(value, pattern any) Expr { return F(FuncILike, toExpr(value), toExpr(pattern)) }
func IsNull(value any) Expr         { return F(FuncIsNull, toExpr(value)) }
func IsUndefined(value any) Expr    { return F(FuncIsUndefined, toExpr(value)) }
func Upper(value any) Expr          { return F(FuncUpper, toExpr(value)) }
func Lower(value any) Expr          { return F(FuncLower, toExpr(value)) }
func Length(value any) Expr         { return F(FuncLength, toExpr(value)) }
func Concat(values ...any) Expr     { return F(FuncConcat, toExprs(values)...) }
func Coalesce(values ...any) Expr   { return F(FuncCoalesce, toExprs(values)...) }
func Add(values ...any) Expr        { return F(FuncAdd, toExprs(values)...) }

// Count counts rows of the group where value is not null.
func Count(value any) *Aggregate { return Agg(AggCount, toExpr(value)) }

// CountAll counts every row of the group.
func CountAll() *Aggregate { return Agg(AggCount) }

func Sum(value any) *Aggregate { return Agg(AggSum, toExpr(value)) }
func Avg(value any) *Aggregate { return Agg(AggAvg, toExpr(value)) }
func Min(value any) *Aggregate { return Agg(AggMin, toExpr(value)) }
func Max(value any) *Aggregate { return Agg(AggMax, toExpr(value)) }
