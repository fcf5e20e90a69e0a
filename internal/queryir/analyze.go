package queryir

import (
	"slices"
	"strings"

	"github.com/roach88/livedb/internal/ir"
)

// Conjuncts splits expr into its top-level AND operands, flattening nested
// ANDs. OR subtrees stay a single opaque conjunct. A nil expr yields nil.
func Conjuncts(expr Expr) []Expr {
	if expr == nil {
		return nil
	}
	if f, ok := expr.(*Func); ok && f.Name == FuncAnd {
		var out []Expr
		for _, a := range f.Args {
			out = append(out, Conjuncts(a)...)
		}
		return out
	}
	return []Expr{expr}
}

// AndAll joins predicates with AND. Zero predicates yield nil, one is returned as-is.
func AndAll(preds []Expr) Expr {
	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	}
	return F(FuncAnd, slices.Clone(preds)...)
}

// Walk calls fn for expr and every sub-expression, depth first.
// Returning false from fn skips the children of that node.
func Walk(expr Expr, fn func(Expr) bool) {
	if expr == nil || !fn(expr) {
		return
	}
	switch e := expr.(type) {
	case *Func:
		for _, a := range e.Args {
			Walk(a, fn)
		}
	case *Aggregate:
		for _, a := range e.Args {
			Walk(a, fn)
		}
	}
}

// Sources returns the sorted set of source aliases (first path element)
// referenced by expr.
func Sources(expr Expr) []string {
	seen := map[string]bool{}
	Walk(expr, func(e Expr) bool {
		if r, ok := e.(*Ref); ok && len(r.Path) > 0 {
			seen[r.Path[0]] = true
		}
		return true
	})
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// ContainsAggregate reports whether expr contains an Aggregate node.
func ContainsAggregate(expr Expr) bool {
	found := false
	Walk(expr, func(e Expr) bool {
		if _, ok := e.(*Aggregate); ok {
			found = true
		}
		return !found
	})
	return found
}

// Rewrite returns a copy of expr with every Ref replaced by fn(ref).
func Rewrite(expr Expr, fn func(*Ref) Expr) Expr {
	switch e := expr.(type) {
	case *Ref:
		return fn(e)
	case *Func:
		args := make([]Expr, len(e.Args))
		for i, a := range e.Args {
			args[i] = Rewrite(a, fn)
		}
		return &Func{Name: e.Name, Args: args}
	case *Aggregate:
		args := make([]Expr, len(e.Args))
		for i, a := range e.Args {
			args[i] = Rewrite(a, fn)
		}
		return &Aggregate{Name: e.Name, Args: args}
	default:
		return expr
	}
}

// StripSource rewrites references under alias to be relative to the row:
// todos.done becomes done. Other references are left untouched.
func StripSource(expr Expr, alias string) Expr {
	return Rewrite(expr, func(r *Ref) Expr {
		if len(r.Path) > 1 && r.Path[0] == alias {
			return NewRef(r.Path[1:]...)
		}
		return r
	})
}

// FieldComparison is a predicate of shape "field <op> literal".
type FieldComparison struct {
	Op    string
	Path  []string
	Value ir.IRValue
}

// AsFieldComparison recognises comparisons between a reference and a literal
// in either order (flipping the operator when the literal comes first) and
// "in" lookups of a reference against a literal array.
func AsFieldComparison(expr Expr) (FieldComparison, bool) {
	f, ok := expr.(*Func)
	if !ok || len(f.Args) != 2 {
		return FieldComparison{}, false
	}

	switch {
	case IsComparison(f.Name):
		if ref, ok := f.Args[0].(*Ref); ok {
			if val, ok := f.Args[1].(*Val); ok {
				return FieldComparison{Op: f.Name, Path: ref.Path, Value: val.Value}, true
			}
		}
		if val, ok := f.Args[0].(*Val); ok {
			if ref, ok := f.Args[1].(*Ref); ok {
				return FieldComparison{Op: FlipComparison(f.Name), Path: ref.Path, Value: val.Value}, true
			}
		}
	case f.Name == FuncIn:
		ref, ok := f.Args[0].(*Ref)
		if !ok {
			return FieldComparison{}, false
		}
		val, ok := f.Args[1].(*Val)
		if !ok {
			return FieldComparison{}, false
		}
		if _, ok := val.Value.(ir.IRArray); !ok {
			return FieldComparison{}, false
		}
		return FieldComparison{Op: FuncIn, Path: ref.Path, Value: val.Value}, true
	}
	return FieldComparison{}, false
}

// PathKey renders a path as a dotted signature used to identify indexes.
func PathKey(path []string) string {
	return strings.Join(path, ".")
}

// Format renders expr in a stable functional notation:
//
//	and(eq(todos.done, false), gt(todos.priority, 2))
func Format(expr Expr) string {
	var b strings.Builder
	format(&b, expr)
	return b.String()
}

func format(b *strings.Builder, expr Expr) {
	switch e := expr.(type) {
	case nil:
		b.WriteString("<nil>")
	case *Ref:
		b.WriteString(PathKey(e.Path))
	case *Val:
		b.WriteString(ir.String(e.Value))
	case *Func:
		formatCall(b, e.Name, e.Args)
	case *Aggregate:
		formatCall(b, e.Name, e.Args)
	}
}

func formatCall(b *strings.Builder, name string, args []Expr) {
	b.WriteString(name)
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		format(b, a)
	}
	b.WriteByte(')')
}
