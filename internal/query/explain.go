package query

import (
	"fmt"
	"strings"

	"github.com/roach88/livedb/internal/queryir"
)

// Explain renders the plan as stable indented text, one clause per line:
//
//	from todos: collection "todos", scan
//	  pushed eq(todos.done, false) [index done]
//	join inner u: collection "users", probe on id
//	  on eq(todos.owner, u.id), drive todos
//	order by todos.priority desc
func (p *Plan) Explain() string {
	var b strings.Builder
	p.explain(&b, "")
	return b.String()
}

func (p *Plan) explain(b *strings.Builder, indent string) {
	q := p.Query
	line := func(format string, args ...any) {
		b.WriteString(indent)
		fmt.Fprintf(b, format, args...)
		b.WriteByte('\n')
	}

	for i, sp := range p.Sources {
		if i == 0 {
			line("from %s: %s", sp.Alias, describeSource(sp))
		} else {
			j := p.Joins[i-1]
			line("join %s %s: %s", j.Kind, sp.Alias, describeSource(sp))
		}
		if sp.Subquery != nil {
			sp.Subquery.explain(b, indent+"    ")
		}
		for _, w := range sp.Pushed {
			line("  pushed %s [%s]", queryir.Format(w), pushedAccess(sp, w))
		}
		if i > 0 {
			j := p.Joins[i-1]
			line("  on eq(%s, %s), %s", queryir.Format(j.Left), queryir.Format(j.Right), describeStrategy(p, i-1))
		}
	}

	for _, w := range p.Residual {
		line("residual %s", queryir.Format(w))
	}
	if len(q.GroupBy) > 0 {
		line("group by %s", formatExprs(q.GroupBy))
	} else if p.Grouped {
		line("group by ()")
	}
	for _, h := range q.Having {
		line("having %s", queryir.Format(h))
	}
	if len(q.Select) > 0 {
		parts := make([]string, len(q.Select))
		for i, f := range q.Select {
			parts[i] = f.Name + ": " + queryir.Format(f.Expr)
		}
		line("select %s", strings.Join(parts, ", "))
	}
	if len(q.OrderBy) > 0 {
		parts := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			parts[i] = queryir.Format(o.Expr) + " " + string(o.Direction)
		}
		line("order by %s", strings.Join(parts, ", "))
	}
	if w := p.Window; w != nil {
		dir := Asc
		if w.Descending {
			dir = Desc
		}
		line("window %s %s, %d rows", queryir.PathKey(w.Path), dir, w.Size)
	}
	if q.Limit > 0 || q.Offset > 0 {
		line("limit %d offset %d", q.Limit, q.Offset)
	}
	if q.SingleResult {
		line("single result")
	}
}

func describeSource(sp *SourcePlan) string {
	kind := "subquery"
	if sp.Collection != nil {
		kind = fmt.Sprintf("collection %q", sp.Collection.ID())
	}
	access := string(sp.Access)
	if sp.Access == AccessProbe {
		access = "probe on " + queryir.PathKey(sp.ProbeKey)
	}
	if sp.Nullable {
		access += ", nullable"
	}
	return kind + ", " + access
}

func describeStrategy(p *Plan, i int) string {
	j := p.Joins[i]
	switch j.Strategy {
	case DriveLeft:
		if i == 0 {
			return "drive " + p.Sources[0].Alias
		}
		return "drive joined rows"
	case DriveRight:
		return "drive " + j.Alias
	default:
		return "scan both"
	}
}

// pushedAccess tells whether the source can serve w from an index. It
// mirrors the collection's lookup rules: comparisons use (or auto-create)
// an index on their field; OR needs an existing index on every branch.
func pushedAccess(sp *SourcePlan, w queryir.Expr) string {
	stripped := queryir.StripSource(w, sp.Alias)
	if fc, ok := queryir.AsFieldComparison(stripped); ok {
		if sp.Collection == nil || canIndex(sp.Collection, fc.Path) {
			return "index " + queryir.PathKey(fc.Path)
		}
		return "scan"
	}
	if f, ok := stripped.(*queryir.Func); ok && f.Name == queryir.FuncOr && sp.Collection != nil {
		paths := make([]string, 0, len(f.Args))
		for _, branch := range f.Args {
			fc, ok := queryir.AsFieldComparison(branch)
			if !ok || !sp.Collection.HasIndex(fc.Path...) {
				return "scan"
			}
			paths = append(paths, queryir.PathKey(fc.Path))
		}
		return "index " + strings.Join(paths, "|")
	}
	return "scan"
}

func formatExprs(exprs []queryir.Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = queryir.Format(e)
	}
	return strings.Join(parts, ", ")
}
