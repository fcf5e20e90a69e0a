package query

import (
	"math"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/queryir"
)

// Access is how a source's rows are loaded.
type Access string

const (
	// AccessScan loads every row matching the pushed filter, then follows changes.
	AccessScan Access = "scan"

	// AccessProbe loads rows on demand with batched "in" lookups on the join key.
	AccessProbe Access = "probe"

	// AccessWindow loads rows in index order, only as many as the limit needs.
	AccessWindow Access = "window"
)

// JoinStrategy is which side of a join drives loading.
type JoinStrategy string

const (
	// DriveLeft loads the left side and probes the right.
	DriveLeft JoinStrategy = "drive-left"

	// DriveRight loads the right side and probes the left.
	DriveRight JoinStrategy = "drive-right"

	// ScanBoth loads both sides in full.
	ScanBoth JoinStrategy = "scan-both"
)

// SourcePlan is the compiled plan for one source.
type SourcePlan struct {
	Alias string

	// Collection is nil for subqueries; the live query supplies it at run time.
	Collection *collection.Collection

	// Subquery is the plan of a nested query.
	Subquery *Plan

	// Pushed holds the WHERE conjuncts pushed to this source, as written.
	Pushed []queryir.Expr

	// Where is Pushed rewritten relative to the source row; the source
	// subscription filters with it.
	Where queryir.Expr

	Access Access

	// ProbeKey is the row path looked up when Access is AccessProbe.
	ProbeKey []string

	// Nullable marks the outer side of an outer join.
	Nullable bool
}

// JoinPlan is a join with its chosen strategy.
type JoinPlan struct {
	JoinClause
	Strategy JoinStrategy
}

// WindowPlan describes index-ordered loading for ORDER BY + LIMIT.
type WindowPlan struct {
	// Path is the row path of the sort field.
	Path       []string
	Descending bool

	// Size is how many rows the result needs: limit plus offset.
	Size int
}

// Plan is a compiled query.
type Plan struct {
	Query   *Context
	Sources []*SourcePlan
	Joins   []*JoinPlan

	// Residual holds the WHERE conjuncts evaluated on joined rows.
	Residual []queryir.Expr

	Grouped bool
	Window  *WindowPlan
}

// Source returns the plan of the source named alias.
func (p *Plan) Source(alias string) *SourcePlan {
	for _, sp := range p.Sources {
		if sp.Alias == alias {
			return sp
		}
	}
	return nil
}

// Compile validates q and decides its execution strategy.
//
// Compile reads collection sizes and index definitions but does not create
// indexes; the live query creates the ones the plan relies on.
func Compile(q *Context) (*Plan, error) {
	if err := Validate(q); err != nil {
		return nil, err
	}

	p := &Plan{Query: q, Grouped: q.Grouped()}
	add := func(alias string, src Source) error {
		sp := &SourcePlan{Alias: alias, Access: AccessScan}
		switch s := src.(type) {
		case *CollectionSource:
			sp.Collection = s.Collection
		case *SubquerySource:
			sub, err := Compile(s.Query)
			if err != nil {
				return err
			}
			sp.Subquery = sub
		}
		p.Sources = append(p.Sources, sp)
		return nil
	}
	if err := add(q.From.Alias, q.From.Source); err != nil {
		return nil, err
	}
	for _, j := range q.Joins {
		if err := add(j.Alias, j.Source); err != nil {
			return nil, err
		}
	}

	markNullable(p)
	pushDown(p)
	for i, j := range q.Joins {
		p.Joins = append(p.Joins, &JoinPlan{JoinClause: j, Strategy: chooseStrategy(p, i)})
	}
	p.Window = chooseWindow(p)
	return p, nil
}

func markNullable(p *Plan) {
	for i, j := range p.Query.Joins {
		right := p.Sources[i+1]
		switch j.Kind {
		case LeftJoin:
			right.Nullable = true
		case RightJoin:
			for _, sp := range p.Sources[:i+1] {
				sp.Nullable = true
			}
		case FullJoin:
			for _, sp := range p.Sources[:i+2] {
				sp.Nullable = true
			}
		}
	}
}

// pushDown routes each WHERE conjunct to a single source or the residual.
func pushDown(p *Plan) {
	for _, w := range p.Query.Where {
		srcs := queryir.Sources(w)
		if len(srcs) != 1 {
			p.Residual = append(p.Residual, w)
			continue
		}
		sp := p.Source(srcs[0])
		if sp.Nullable {
			// A missing row must still be able to fail the residual check.
			p.Residual = append(p.Residual, w)
			if holdsForMissingRow(w) {
				continue
			}
		}
		sp.Pushed = append(sp.Pushed, w)
	}

	for _, sp := range p.Sources {
		stripped := make([]queryir.Expr, len(sp.Pushed))
		for i, w := range sp.Pushed {
			stripped[i] = queryir.StripSource(w, sp.Alias)
		}
		sp.Where = queryir.AndAll(stripped)
	}
}

// holdsForMissingRow reports whether pred is true when its source is absent,
// as for isUndefined(u.name). Such predicates cannot filter the source.
func holdsForMissingRow(pred queryir.Expr) bool {
	f, err := queryir.CompileFilter(pred)
	if err != nil {
		return true
	}
	return f(ir.IRObject{})
}

// chooseStrategy picks the driving side of join i.
func chooseStrategy(p *Plan, i int) JoinStrategy {
	j := p.Query.Joins[i]
	right := p.Sources[i+1]
	rightKey, rightOK := probeKey(p, right, j.Right)

	// Only the FROM source can be probed from the left; later joins see
	// the rows accumulated by earlier joins.
	var left *SourcePlan
	var leftKey []string
	leftOK := false
	if i == 0 {
		left = p.Sources[0]
		leftKey, leftOK = probeKey(p, left, j.Left)
	}

	probe := func(sp *SourcePlan, key []string) {
		sp.Access = AccessProbe
		sp.ProbeKey = key
	}

	switch j.Kind {
	case LeftJoin:
		if rightOK {
			probe(right, rightKey)
			return DriveLeft
		}
	case RightJoin:
		if leftOK {
			probe(left, leftKey)
			return DriveRight
		}
	case InnerJoin:
		switch {
		case leftOK && rightOK:
			if estimate(left) <= estimate(right) {
				probe(right, rightKey)
				return DriveLeft
			}
			probe(left, leftKey)
			return DriveRight
		case rightOK:
			probe(right, rightKey)
			return DriveLeft
		case leftOK:
			probe(left, leftKey)
			return DriveRight
		}
	}
	return ScanBoth
}

// probeKey returns the row path sp can be probed on through key, if any.
// Probing needs a plain field reference, a collection with (or able to
// create) an index on it, and a collection not read by another source.
func probeKey(p *Plan, sp *SourcePlan, key queryir.Expr) ([]string, bool) {
	if sp.Collection == nil || sp.Access != AccessScan {
		return nil, false
	}
	ref, ok := key.(*queryir.Ref)
	if !ok || len(ref.Path) < 2 || ref.Path[0] != sp.Alias {
		return nil, false
	}
	for _, other := range p.Sources {
		if other != sp && other.Collection == sp.Collection {
			return nil, false
		}
	}
	path := ref.Path[1:]
	if !canIndex(sp.Collection, path) {
		return nil, false
	}
	return path, true
}

func canIndex(c *collection.Collection, path []string) bool {
	return c.HasIndex(path...) || c.AutoIndexMode() == collection.AutoIndexEager
}

// estimate is the number of rows sp contributes after pushdown. It uses an
// index lookup when the filter allows one and the collection size otherwise.
func estimate(sp *SourcePlan) int {
	if sp.Collection == nil {
		return math.MaxInt
	}
	if sp.Where != nil {
		changes, ok, err := sp.Collection.CurrentStateAsChanges(collection.StateOptions{Where: sp.Where, OptimizedOnly: true})
		if err == nil && ok {
			return len(changes)
		}
	}
	return sp.Collection.Size()
}

// chooseWindow enables index-ordered loading for a single-source query
// ordered by one field with a limit and nothing filtering after the source.
func chooseWindow(p *Plan) *WindowPlan {
	q := p.Query
	if len(q.Joins) > 0 || p.Grouped || len(q.OrderBy) != 1 || q.Limit == 0 || len(p.Residual) > 0 {
		return nil
	}
	sp := p.Sources[0]
	if sp.Collection == nil {
		return nil
	}
	ref, ok := q.OrderBy[0].Expr.(*queryir.Ref)
	if !ok || len(ref.Path) < 2 || ref.Path[0] != sp.Alias {
		return nil
	}
	path := ref.Path[1:]
	if !canIndex(sp.Collection, path) {
		return nil
	}
	sp.Access = AccessWindow
	return &WindowPlan{Path: path, Descending: q.OrderBy[0].Direction == Desc, Size: q.Limit + q.Offset}
}
