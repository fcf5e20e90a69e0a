package live

import (
	"strconv"
	"strings"

	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/query"
	"github.com/roach88/livedb/internal/queryir"
)

// aggregates replaces aggregate calls by references to computed slots, so
// select, having and order by expressions of grouped queries compile to
// plain evaluators over {alias: row, slot: value}.
type aggregates struct {
	slots  map[string]string // formatted aggregate -> slot
	names  []string
	funcs  []queryir.AggregateFunc
	failed error
}

func newAggregates() *aggregates {
	return &aggregates{slots: make(map[string]string)}
}

func (a *aggregates) rewrite(e queryir.Expr) queryir.Expr {
	switch x := e.(type) {
	case *queryir.Aggregate:
		return queryir.NewRef(a.slot(x))
	case *queryir.Func:
		args := make([]queryir.Expr, len(x.Args))
		for i, arg := range x.Args {
			args[i] = a.rewrite(arg)
		}
		return &queryir.Func{Name: x.Name, Args: args}
	default:
		return e
	}
}

func (a *aggregates) slot(x *queryir.Aggregate) string {
	f := queryir.Format(x)
	if s, ok := a.slots[f]; ok {
		return s
	}
	fn, err := queryir.CompileAggregate(x)
	if err != nil && a.failed == nil {
		a.failed = err
	}
	s := "#" + strconv.Itoa(len(a.names))
	a.slots[f] = s
	a.names = append(a.names, s)
	a.funcs = append(a.funcs, fn)
	return s
}

func (a *aggregates) compile(e queryir.Expr) (queryir.Evaluator, error) {
	ev, err := queryir.Compile(a.rewrite(e))
	if err != nil {
		return nil, err
	}
	return ev, a.failed
}

// groupStage maintains GROUP BY results. Each group keeps its member rows;
// a change recomputes only the groups the changed rows leave or join.
type groupStage struct {
	keys   []queryir.Evaluator
	aggs   *aggregates
	having []queryir.Evaluator
	shape  *shaper

	groups  map[string]*group
	members map[ir.Key]string
}

type group struct {
	key  ir.Key
	rows map[ir.Key]ir.IRObject
}

func newGroupStage(q *query.Context) (*groupStage, error) {
	g := &groupStage{
		aggs:    newAggregates(),
		groups:  make(map[string]*group),
		members: make(map[ir.Key]string),
	}
	for _, e := range q.GroupBy {
		ev, err := queryir.Compile(e)
		if err != nil {
			return nil, err
		}
		g.keys = append(g.keys, ev)
	}
	for _, h := range q.Having {
		ev, err := g.aggs.compile(h)
		if err != nil {
			return nil, err
		}
		g.having = append(g.having, ev)
	}
	shape, err := newShaper(q, g.aggs.compile)
	if err != nil {
		return nil, err
	}
	g.shape = shape
	return g, nil
}

// apply moves changed rows between groups and returns the recomputed result
// row of every touched group (nil when the group is gone or filtered out).
func (g *groupStage) apply(ds []delta) []change {
	var touched []string
	seen := make(map[string]bool)
	touch := func(id string) {
		if !seen[id] {
			seen[id] = true
			touched = append(touched, id)
		}
	}

	for _, d := range ds {
		if id, ok := g.members[d.key]; ok {
			delete(g.groups[id].rows, d.key)
			delete(g.members, d.key)
			touch(id)
		}
		if d.after == nil {
			continue
		}
		id, key := g.groupOf(d.after)
		gr, ok := g.groups[id]
		if !ok {
			gr = &group{key: key, rows: make(map[ir.Key]ir.IRObject)}
			g.groups[id] = gr
		}
		gr.rows[d.key] = d.after
		g.members[d.key] = id
		touch(id)
	}

	out := make([]change, 0, len(touched))
	for _, id := range touched {
		gr := g.groups[id]
		if len(gr.rows) == 0 {
			delete(g.groups, id)
			out = append(out, change{key: gr.key})
			continue
		}
		out = append(out, change{key: gr.key, item: g.compute(gr)})
	}
	return out
}

// compositeKeyTag starts the result key of groups that are not keyed by a
// single string or integer. Plain string keys never start with it.
const compositeKeyTag = "\x00group:"

// groupOf returns the internal id and the result key of row's group. A
// single string or integer group value is the key itself; other groups are
// keyed by the tagged canonical form of their values.
func (g *groupStage) groupOf(row ir.IRObject) (string, ir.Key) {
	vals := make(ir.IRArray, len(g.keys))
	for i, ev := range g.keys {
		vals[i] = ev(row)
	}
	id := ir.CanonicalString(vals)
	if len(vals) == 1 {
		switch v := vals[0].(type) {
		case ir.IRInt:
			return id, v
		case ir.IRString:
			if !strings.HasPrefix(string(v), compositeKeyTag) {
				return id, v
			}
		}
	}
	return id, ir.IRString(compositeKeyTag + id)
}

func (g *groupStage) compute(gr *group) *item {
	keys := make([]ir.Key, 0, len(gr.rows))
	for k := range gr.rows {
		keys = append(keys, k)
	}
	ir.SortKeys(keys)
	rows := make([]ir.IRValue, len(keys))
	for i, k := range keys {
		rows[i] = gr.rows[k]
	}

	// Group expressions read the first row; every row agrees on them.
	env := make(ir.IRObject, len(gr.rows[keys[0]])+len(g.aggs.funcs))
	for alias, v := range gr.rows[keys[0]] {
		env[alias] = v
	}
	for i, fn := range g.aggs.funcs {
		env[g.aggs.names[i]] = fn(rows)
	}
	for _, h := range g.having {
		if !queryir.IsTrue(h(env)) {
			return nil
		}
	}
	return g.shape.item(gr.key, env)
}
