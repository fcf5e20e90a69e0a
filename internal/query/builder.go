package query

import (
	"fmt"
	"slices"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/queryir"
)

// Builder assembles a Context fluently:
//
//	q, err := query.From("todos", todos).
//		Join("u", users, queryir.Eq(queryir.Field("todos", "owner"), queryir.Field("u", "id")), query.LeftJoin).
//		Where(queryir.Eq(queryir.Field("todos", "done"), false)).
//		OrderBy(queryir.Field("todos", "priority"), query.Desc).
//		Limit(10).
//		Build()
//
// The first error sticks and is returned by Build.
type Builder struct {
	q   Context
	err error
}

// From starts a query reading src under alias. src is a
// *collection.Collection, a Source, a *Context or a *Builder (subqueries).
func From(alias string, src any) *Builder {
	b := &Builder{}
	s, err := sourceOf(src)
	if err != nil {
		b.err = err
		return b
	}
	b.q.From = FromClause{Alias: alias, Source: s}
	return b
}

// Join adds a join on the equality on. The operands of on may come in either
// order; one must reference only alias, the other only earlier sources.
func (b *Builder) Join(alias string, src any, on queryir.Expr, kind JoinKind) *Builder {
	if b.err != nil {
		return b
	}
	s, err := sourceOf(src)
	if err != nil {
		b.err = err
		return b
	}
	left, right, err := splitJoinCondition(alias, on, b.q.Aliases())
	if err != nil {
		b.err = err
		return b
	}
	b.q.Joins = append(b.q.Joins, JoinClause{Alias: alias, Source: s, Kind: kind, Left: left, Right: right})
	return b
}

// InnerJoin is Join with InnerJoin.
func (b *Builder) InnerJoin(alias string, src any, on queryir.Expr) *Builder {
	return b.Join(alias, src, on, InnerJoin)
}

// LeftJoin is Join with LeftJoin.
func (b *Builder) LeftJoin(alias string, src any, on queryir.Expr) *Builder {
	return b.Join(alias, src, on, LeftJoin)
}

// Where adds a filter. Multiple calls are AND-combined.
func (b *Builder) Where(pred queryir.Expr) *Builder {
	b.q.Where = append(b.q.Where, queryir.Conjuncts(pred)...)
	return b
}

// GroupBy sets the grouping expressions.
func (b *Builder) GroupBy(exprs ...queryir.Expr) *Builder {
	b.q.GroupBy = append(b.q.GroupBy, exprs...)
	return b
}

// Having adds a filter over groups. Multiple calls are AND-combined.
func (b *Builder) Having(pred queryir.Expr) *Builder {
	b.q.Having = append(b.q.Having, queryir.Conjuncts(pred)...)
	return b
}

// Select sets the projection.
func (b *Builder) Select(fields ...SelectField) *Builder {
	b.q.Select = append(b.q.Select, fields...)
	return b
}

// OrderBy adds a sort term.
func (b *Builder) OrderBy(expr queryir.Expr, dir Direction) *Builder {
	b.q.OrderBy = append(b.q.OrderBy, OrderTerm{Expr: expr, Direction: dir})
	return b
}

// Limit caps the number of result rows.
func (b *Builder) Limit(n int) *Builder {
	b.q.Limit = n
	return b
}

// Offset skips the first n result rows.
func (b *Builder) Offset(n int) *Builder {
	b.q.Offset = n
	return b
}

// FindOne marks the query as producing at most one row.
func (b *Builder) FindOne() *Builder {
	b.q.SingleResult = true
	b.q.Limit = 1
	return b
}

// Build validates and returns the Context.
func (b *Builder) Build() (*Context, error) {
	if b.err != nil {
		return nil, b.err
	}
	q := b.q
	q.Joins = slices.Clone(q.Joins)
	q.Where = slices.Clone(q.Where)
	q.GroupBy = slices.Clone(q.GroupBy)
	q.Having = slices.Clone(q.Having)
	q.Select = slices.Clone(q.Select)
	q.OrderBy = slices.Clone(q.OrderBy)
	if err := Validate(&q); err != nil {
		return nil, err
	}
	return &q, nil
}

// MustBuild is Build that panics on error.
func (b *Builder) MustBuild() *Context {
	q, err := b.Build()
	if err != nil {
		panic(err)
	}
	return q
}

func sourceOf(src any) (Source, error) {
	switch s := src.(type) {
	case *collection.Collection:
		if s == nil {
			break
		}
		return &CollectionSource{Collection: s}, nil
	case *collection.LocalOnly:
		if s == nil {
			break
		}
		return &CollectionSource{Collection: s.Collection}, nil
	case *CollectionSource:
		if s == nil || s.Collection == nil {
			break
		}
		return s, nil
	case *SubquerySource:
		if s == nil || s.Query == nil {
			break
		}
		return s, nil
	case *Context:
		if s == nil {
			break
		}
		return &SubquerySource{Query: s}, nil
	case *Builder:
		if s == nil {
			break
		}
		q, err := s.Build()
		if err != nil {
			return nil, fmt.Errorf("subquery: %w", err)
		}
		return &SubquerySource{Query: q}, nil
	}
	return nil, &CompileError{Code: ErrCodeInvalidSource, Message: fmt.Sprintf("unsupported source %T", src), Clause: "from"}
}

// splitJoinCondition orients an equality so the first operand references
// the sources in scope and the second only alias.
func splitJoinCondition(alias string, on queryir.Expr, scope []string) (queryir.Expr, queryir.Expr, error) {
	f, ok := on.(*queryir.Func)
	if !ok || f.Name != queryir.FuncEq || len(f.Args) != 2 {
		return nil, nil, &CompileError{Code: ErrCodeInvalidJoin, Message: fmt.Sprintf("join %s: condition must be eq(a, b), got %s", alias, queryir.Format(on)), Clause: "join"}
	}
	a, b := f.Args[0], f.Args[1]
	switch {
	case onlyAlias(b, alias) && withinScope(a, scope):
		return a, b, nil
	case onlyAlias(a, alias) && withinScope(b, scope):
		return b, a, nil
	}
	return nil, nil, &CompileError{
		Code:    ErrCodeInvalidJoin,
		Message: fmt.Sprintf("join %s: %s must compare %s with earlier sources", alias, queryir.Format(on), alias),
		Clause:  "join",
	}
}

func onlyAlias(e queryir.Expr, alias string) bool {
	srcs := queryir.Sources(e)
	return len(srcs) == 1 && srcs[0] == alias
}

func withinScope(e queryir.Expr, scope []string) bool {
	srcs := queryir.Sources(e)
	if len(srcs) == 0 {
		return false
	}
	for _, s := range srcs {
		if !slices.Contains(scope, s) {
			return false
		}
	}
	return true
}
