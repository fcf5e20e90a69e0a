package query

import (
	"strconv"
	"strings"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/queryir"
)

// JoinKind is the kind of a join.
type JoinKind string

const (
	InnerJoin JoinKind = "inner"
	LeftJoin  JoinKind = "left"
	RightJoin JoinKind = "right"
	FullJoin  JoinKind = "full"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Source is where a query reads rows from: *CollectionSource or *SubquerySource.
type Source interface {
	sourceNode()
}

// CollectionSource reads a collection.
type CollectionSource struct {
	Collection *collection.Collection
}

func (*CollectionSource) sourceNode() {}

// SubquerySource reads the result of a nested query. The nested query runs
// as its own live query and is consumed like a collection.
type SubquerySource struct {
	Query *Context
}

func (*SubquerySource) sourceNode() {}

// FromClause names the first source.
type FromClause struct {
	Alias  string
	Source Source
}

// JoinClause joins a source to everything before it.
//
// Left is evaluated against the rows accumulated so far and Right against
// the joined source; rows match when both are equal and not null.
type JoinClause struct {
	Alias  string
	Source Source
	Kind   JoinKind
	Left   queryir.Expr
	Right  queryir.Expr
}

// SelectField is one named output column.
type SelectField struct {
	Name string
	Expr queryir.Expr
}

// As names an output column.
func As(name string, expr queryir.Expr) SelectField {
	return SelectField{Name: name, Expr: expr}
}

// OrderTerm is one ORDER BY term.
type OrderTerm struct {
	Expr      queryir.Expr
	Direction Direction
}

// Context is an immutable query description.
//
// References in expressions start with a source alias (todos.done). ORDER BY
// may also reference select names. Without Select, a single-source query
// yields the source rows and a join yields rows namespaced by alias:
// {"todos": {...}, "u": {...}}.
type Context struct {
	From  FromClause
	Joins []JoinClause

	// Where holds AND-combined conjuncts.
	Where []queryir.Expr

	GroupBy []queryir.Expr
	Having  []queryir.Expr
	Select  []SelectField
	OrderBy []OrderTerm

	// Limit caps the number of rows; 0 means unlimited.
	Limit  int
	Offset int

	// SingleResult marks a findOne query.
	SingleResult bool
}

// Aliases returns the source aliases in declaration order.
func (q *Context) Aliases() []string {
	out := make([]string, 0, 1+len(q.Joins))
	out = append(out, q.From.Alias)
	for _, j := range q.Joins {
		out = append(out, j.Alias)
	}
	return out
}

// Grouped reports whether the query aggregates rows.
func (q *Context) Grouped() bool {
	if len(q.GroupBy) > 0 || len(q.Having) > 0 {
		return true
	}
	for _, f := range q.Select {
		if queryir.ContainsAggregate(f.Expr) {
			return true
		}
	}
	return false
}

// Signature renders the query in a stable text form. Identical queries over
// the same collections have identical signatures.
func (q *Context) Signature() string {
	var b strings.Builder
	writeSignature(&b, q)
	return b.String()
}

func writeSignature(b *strings.Builder, q *Context) {
	b.WriteString("from ")
	b.WriteString(q.From.Alias)
	b.WriteByte('=')
	writeSourceSignature(b, q.From.Source)
	for _, j := range q.Joins {
		b.WriteString(" join ")
		b.WriteString(string(j.Kind))
		b.WriteByte(' ')
		b.WriteString(j.Alias)
		b.WriteByte('=')
		writeSourceSignature(b, j.Source)
		b.WriteString(" on ")
		b.WriteString(queryir.Format(j.Left))
		b.WriteByte('=')
		b.WriteString(queryir.Format(j.Right))
	}
	writeExprs(b, " where ", q.Where)
	writeExprs(b, " group ", q.GroupBy)
	writeExprs(b, " having ", q.Having)
	for _, f := range q.Select {
		b.WriteString(" select ")
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(queryir.Format(f.Expr))
	}
	for _, o := range q.OrderBy {
		b.WriteString(" order ")
		b.WriteString(queryir.Format(o.Expr))
		b.WriteByte(' ')
		b.WriteString(string(o.Direction))
	}
	if q.Limit > 0 {
		b.WriteString(" limit ")
		b.WriteString(strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		b.WriteString(" offset ")
		b.WriteString(strconv.Itoa(q.Offset))
	}
	if q.SingleResult {
		b.WriteString(" one")
	}
}

func writeSourceSignature(b *strings.Builder, src Source) {
	switch s := src.(type) {
	case *CollectionSource:
		b.WriteString("collection(")
		if s.Collection != nil {
			b.WriteString(strconv.Quote(s.Collection.ID()))
		}
		b.WriteByte(')')
	case *SubquerySource:
		b.WriteString("subquery(")
		if s.Query != nil {
			writeSignature(b, s.Query)
		}
		b.WriteByte(')')
	default:
		b.WriteString("<nil>")
	}
}

func writeExprs(b *strings.Builder, prefix string, exprs []queryir.Expr) {
	for _, e := range exprs {
		b.WriteString(prefix)
		b.WriteString(queryir.Format(e))
	}
}
