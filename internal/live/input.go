package live

import (
	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/query"
	"github.com/roach88/livedb/internal/queryir"
)

// delta is one keyed row change between pipeline stages. A nil before is an
// insert, a nil after a delete.
type delta struct {
	key    ir.Key
	before ir.IRObject
	after  ir.IRObject
}

// input is one source of the query: the rows its subscription delivered so
// far, plus the bookkeeping of lazy loading.
type input struct {
	plan  *query.SourcePlan
	coll  *collection.Collection
	child *Query
	sub   *collection.Subscription
	rows  map[ir.Key]ir.IRObject

	ready      bool
	stopStatus func()
	requested  *ir.ValueMap[struct{}]
	loadedAll  bool
	window     *query.WindowPlan
	frontier   *windowMark
	exhausted  bool
}

// windowMark is the last row an ordered page loaded.
type windowMark struct {
	value ir.IRValue
	key   ir.Key
}

func newInput(sp *query.SourcePlan, coll *collection.Collection) *input {
	return &input{
		plan:      sp,
		coll:      coll,
		rows:      make(map[ir.Key]ir.IRObject),
		requested: ir.NewValueMap[struct{}](),
	}
}

// reconcile brings rows in line with what the subscription delivered for keys.
func (in *input) reconcile(keys []ir.Key) []delta {
	var out []delta
	for _, k := range keys {
		row, ok := in.sub.Delivered(k)
		prev, had := in.rows[k]
		switch {
		case ok && had && sameRow(prev, row):
			continue
		case ok:
			in.rows[k] = row
		case had:
			delete(in.rows, k)
		default:
			continue
		}
		out = append(out, delta{key: k, before: prev, after: row})
	}
	return out
}

// load takes the initial snapshot of a scanned source.
func (in *input) load() ([]delta, error) {
	changes, _, err := in.sub.RequestSnapshot(collection.SnapshotOptions{})
	if err != nil {
		return nil, err
	}
	in.loadedAll = true
	return in.reconcile(changeKeys(changes)), nil
}

// probe loads the rows whose probe key is one of values and was not asked
// for before. All values go into one "in" lookup; when the collection cannot
// answer it from an index the whole source is loaded once instead.
func (in *input) probe(values []ir.IRValue) ([]delta, bool, error) {
	if in.loadedAll {
		return nil, false, nil
	}
	var fresh ir.IRArray
	for _, v := range values {
		if ir.IsNullish(v) {
			continue
		}
		if _, seen := in.requested.Get(v); seen {
			continue
		}
		in.requested.Set(v, struct{}{})
		fresh = append(fresh, v)
	}
	if len(fresh) == 0 {
		return nil, false, nil
	}

	changes, ok, err := in.sub.RequestSnapshot(collection.SnapshotOptions{
		Where:         queryir.InArray(queryir.Field(in.plan.ProbeKey...), fresh),
		OptimizedOnly: true,
	})
	if err != nil {
		return nil, true, err
	}
	if !ok {
		out, err := in.load()
		return out, true, err
	}
	return in.reconcile(changeKeys(changes)), true, nil
}

// loadPage loads the next size rows in index order after the frontier.
func (in *input) loadPage(size int) ([]delta, error) {
	opts := collection.LimitedSnapshotOptions{
		OrderBy:    in.window.Path,
		Descending: in.window.Descending,
		Limit:      size,
	}
	if in.frontier != nil {
		opts.MinValue = in.frontier.value
	}
	changes, err := in.sub.RequestLimitedSnapshot(opts)
	if err != nil {
		return nil, err
	}
	if len(changes) < size {
		in.exhausted = true
	}
	if n := len(changes); n > 0 {
		last := changes[n-1]
		v, _ := ir.GetPath(last.Value, in.window.Path)
		in.frontier = &windowMark{value: v, key: last.Key}
	}
	return in.reconcile(changeKeys(changes)), nil
}

// beyondFrontier reports whether a row ordered at (value, key) sorts after
// the last loaded row. Rows past the frontier may have unloaded neighbours.
func (in *input) beyondFrontier(value ir.IRValue, key ir.Key) bool {
	if in.frontier == nil {
		return true
	}
	c := ir.Compare(value, in.frontier.value)
	if c == 0 {
		c = ir.Compare(key, in.frontier.key)
	}
	if in.window.Descending {
		c = -c
	}
	return c > 0
}

func changeKeys(changes []collection.ChangeMessage) []ir.Key {
	keys := make([]ir.Key, len(changes))
	for i, ch := range changes {
		keys[i] = ch.Key
	}
	return keys
}

func sameRow(a, b ir.IRObject) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return ir.Equal(a, b)
}

// namespace wraps source rows as {alias: row}.
func namespace(alias string, in []delta) []delta {
	out := make([]delta, len(in))
	for i, d := range in {
		out[i] = delta{key: d.key}
		if d.before != nil {
			out[i].before = ir.IRObject{alias: d.before}
		}
		if d.after != nil {
			out[i].after = ir.IRObject{alias: d.after}
		}
	}
	return out
}
