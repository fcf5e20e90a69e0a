package live

import (
	"github.com/google/btree"

	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/query"
	"github.com/roach88/livedb/internal/queryir"
)

// item is one result row with its ORDER BY values.
type item struct {
	key  ir.Key
	row  ir.IRObject
	sort []ir.IRValue
}

// change replaces the result row for key; a nil item removes it.
type change struct {
	key  ir.Key
	item *item
}

// shaper turns joined rows into result rows.
//
// Without a select list a single-source query returns the source row and a
// join returns the {alias: row} object. ORDER BY sees the joined row plus
// the select names.
type shaper struct {
	fields []string
	exprs  []queryir.Evaluator
	sorts  []queryir.Evaluator
	single string
}

func newShaper(q *query.Context, compile func(queryir.Expr) (queryir.Evaluator, error)) (*shaper, error) {
	s := &shaper{}
	for _, f := range q.Select {
		ev, err := compile(f.Expr)
		if err != nil {
			return nil, err
		}
		s.fields = append(s.fields, f.Name)
		s.exprs = append(s.exprs, ev)
	}
	for _, o := range q.OrderBy {
		ev, err := compile(o.Expr)
		if err != nil {
			return nil, err
		}
		s.sorts = append(s.sorts, ev)
	}
	if len(q.Select) == 0 && len(q.Joins) == 0 {
		s.single = q.From.Alias
	}
	return s, nil
}

func (s *shaper) item(key ir.Key, env ir.IRObject) *item {
	var row ir.IRObject
	switch {
	case len(s.fields) > 0:
		row = make(ir.IRObject, len(s.fields))
		for i, name := range s.fields {
			if v := s.exprs[i](env); v != nil {
				row[name] = v
			}
		}
	case s.single != "":
		row, _ = env[s.single].(ir.IRObject)
	default:
		row = env
	}

	it := &item{key: key, row: row}
	if len(s.sorts) > 0 {
		scope := env
		if len(s.fields) > 0 {
			scope = make(ir.IRObject, len(env)+len(row))
			for k, v := range row {
				scope[k] = v
			}
			for k, v := range env {
				scope[k] = v
			}
		}
		it.sort = make([]ir.IRValue, len(s.sorts))
		for i, ev := range s.sorts {
			it.sort[i] = ev(scope)
		}
	}
	return it
}

func (s *shaper) project(ds []delta) []change {
	out := make([]change, len(ds))
	for i, d := range ds {
		out[i] = change{key: d.key}
		if d.after != nil {
			out[i].item = s.item(d.key, d.after)
		}
	}
	return out
}

// sink holds the result set. Ordered results live in a btree; with LIMIT or
// OFFSET only the rows inside [offset, offset+limit) are visible.
type sink struct {
	desc   []bool
	offset int
	limit  int

	items   map[ir.Key]*item
	tree    *btree.BTreeG[*item]
	visible map[ir.Key]*item
}

func newSink(q *query.Context) *sink {
	s := &sink{
		offset:  q.Offset,
		limit:   q.Limit,
		items:   make(map[ir.Key]*item),
		visible: make(map[ir.Key]*item),
	}
	for _, o := range q.OrderBy {
		s.desc = append(s.desc, o.Direction == query.Desc)
	}
	if len(q.OrderBy) > 0 || s.windowed() {
		s.tree = btree.NewG(16, s.less)
	}
	return s
}

func (s *sink) windowed() bool { return s.limit > 0 || s.offset > 0 }

// less orders by the ORDER BY values, then by key in the direction of the
// last term, the same order ordered index pages come in.
func (s *sink) less(a, b *item) bool {
	for i, desc := range s.desc {
		if c := ir.Compare(a.sort[i], b.sort[i]); c != 0 {
			return (c < 0) != desc
		}
	}
	c := ir.Compare(a.key, b.key)
	if n := len(s.desc); n > 0 && s.desc[n-1] {
		return c > 0
	}
	return c < 0
}

// apply updates the result set and returns the keys whose visible row may
// have changed.
func (s *sink) apply(cs []change) []ir.Key {
	var touched []ir.Key
	for _, c := range cs {
		if old, ok := s.items[c.key]; ok {
			if s.tree != nil {
				s.tree.Delete(old)
			}
			delete(s.items, c.key)
		}
		if c.item != nil {
			s.items[c.key] = c.item
			if s.tree != nil {
				s.tree.ReplaceOrInsert(c.item)
			}
		}
		if !s.windowed() {
			if c.item != nil {
				s.visible[c.key] = c.item
			} else {
				delete(s.visible, c.key)
			}
			touched = append(touched, c.key)
		}
	}

	if s.windowed() && len(cs) > 0 {
		next := make(map[ir.Key]*item, len(s.visible))
		s.window(func(it *item) bool {
			next[it.key] = it
			return true
		})
		for k := range s.visible {
			if _, ok := next[k]; !ok {
				touched = append(touched, k)
			}
		}
		for k := range next {
			touched = append(touched, k)
		}
		s.visible = next
	}
	return touched
}

// window calls fn for the visible rows in result order.
func (s *sink) window(fn func(*item) bool) {
	skip, n := s.offset, 0
	s.tree.Ascend(func(it *item) bool {
		if skip > 0 {
			skip--
			return true
		}
		if s.limit > 0 && n >= s.limit {
			return false
		}
		n++
		return fn(it)
	})
}

// nth returns the i-th row of the full ordered result.
func (s *sink) nth(i int) (*item, bool) {
	var found *item
	s.tree.Ascend(func(it *item) bool {
		if i == 0 {
			found = it
			return false
		}
		i--
		return true
	})
	return found, found != nil
}

// rows returns the visible rows, in result order when ordered and by key
// otherwise.
func (s *sink) rows() []ir.IRObject {
	if s.tree == nil {
		keys := make([]ir.Key, 0, len(s.visible))
		for k := range s.visible {
			keys = append(keys, k)
		}
		ir.SortKeys(keys)
		rows := make([]ir.IRObject, len(keys))
		for i, k := range keys {
			rows[i] = s.visible[k].row
		}
		return rows
	}
	rows := make([]ir.IRObject, 0, len(s.visible))
	s.window(func(it *item) bool {
		rows = append(rows, it.row)
		return true
	})
	return rows
}

func (s *sink) row(key ir.Key) (ir.IRObject, bool) {
	it, ok := s.visible[key]
	if !ok {
		return nil, false
	}
	return it.row, true
}
