package live

import (
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/query"
	"github.com/roach88/livedb/internal/queryir"
)

// joinStage maintains one join as an arrangement of both sides keyed by
// join value. A change to one row only touches the rows sharing its value.
//
// Output keys are ir.CompositeKey(left, right); the missing side of an
// outer join row is nil.
type joinStage struct {
	plan      *query.JoinPlan
	keepLeft  bool
	keepRight bool
	leftKey   queryir.Evaluator // over accumulated rows
	rightKey  queryir.Evaluator // over the joined source's rows

	left    map[ir.Key]joined
	right   map[ir.Key]joined
	buckets *ir.ValueMap[*bucket]

	out    map[ir.Key]ir.IRObject
	before map[ir.Key]ir.IRObject
	order  []ir.Key
}

type joined struct {
	row ir.IRObject
	val ir.IRValue
}

type bucket struct {
	left  map[ir.Key]struct{}
	right map[ir.Key]struct{}
}

func newJoinStage(jp *query.JoinPlan) (*joinStage, error) {
	leftKey, err := queryir.Compile(jp.Left)
	if err != nil {
		return nil, err
	}
	rightKey, err := queryir.Compile(queryir.StripSource(jp.Right, jp.Alias))
	if err != nil {
		return nil, err
	}
	return &joinStage{
		plan:      jp,
		keepLeft:  jp.Kind == query.LeftJoin || jp.Kind == query.FullJoin,
		keepRight: jp.Kind == query.RightJoin || jp.Kind == query.FullJoin,
		leftKey:   leftKey,
		rightKey:  rightKey,
		left:      make(map[ir.Key]joined),
		right:     make(map[ir.Key]joined),
		buckets:   ir.NewValueMap[*bucket](),
		out:       make(map[ir.Key]ir.IRObject),
	}, nil
}

// leftValues returns the join values of the rows inserted or updated by ds.
func (j *joinStage) leftValues(ds []delta) []ir.IRValue {
	var vals []ir.IRValue
	for _, d := range ds {
		if d.after != nil {
			vals = append(vals, j.leftKey(d.after))
		}
	}
	return vals
}

// rightValues is leftValues for the joined source's rows.
func (j *joinStage) rightValues(ds []delta) []ir.IRValue {
	var vals []ir.IRValue
	for _, d := range ds {
		if d.after != nil {
			vals = append(vals, j.rightKey(d.after))
		}
	}
	return vals
}

// apply folds both sides' deltas into the arrangement and returns the
// resulting output deltas. Right deltas carry the joined source's raw rows.
func (j *joinStage) apply(left, right []delta) []delta {
	j.before = make(map[ir.Key]ir.IRObject)
	j.order = j.order[:0]

	for _, d := range left {
		if prev, ok := j.left[d.key]; ok {
			j.removeLeft(d.key, prev)
		}
		if d.after != nil {
			j.addLeft(d.key, joined{row: d.after, val: j.leftKey(d.after)})
		}
	}
	for _, d := range right {
		if prev, ok := j.right[d.key]; ok {
			j.removeRight(d.key, prev)
		}
		if d.after != nil {
			j.addRight(d.key, joined{row: d.after, val: j.rightKey(d.after)})
		}
	}

	var out []delta
	for _, k := range j.order {
		before, after := j.before[k], j.out[k]
		if !sameRow(before, after) {
			out = append(out, delta{key: k, before: before, after: after})
		}
	}
	return out
}

func (j *joinStage) addLeft(k ir.Key, l joined) {
	j.left[k] = l
	if ir.IsNullish(l.val) {
		if j.keepLeft {
			j.set(ir.CompositeKey(k, nil), l.row)
		}
		return
	}
	b := j.bucket(l.val)
	if len(b.left) == 0 && j.keepRight {
		for rk := range b.right {
			j.set(ir.CompositeKey(nil, rk), nil)
		}
	}
	b.left[k] = struct{}{}
	if len(b.right) == 0 {
		if j.keepLeft {
			j.set(ir.CompositeKey(k, nil), l.row)
		}
		return
	}
	for rk := range b.right {
		j.set(ir.CompositeKey(k, rk), j.merge(l.row, j.right[rk].row))
	}
}

func (j *joinStage) removeLeft(k ir.Key, l joined) {
	delete(j.left, k)
	if ir.IsNullish(l.val) {
		j.set(ir.CompositeKey(k, nil), nil)
		return
	}
	b, _ := j.buckets.Get(l.val)
	delete(b.left, k)
	if len(b.right) == 0 {
		j.set(ir.CompositeKey(k, nil), nil)
	} else {
		for rk := range b.right {
			j.set(ir.CompositeKey(k, rk), nil)
		}
		if len(b.left) == 0 && j.keepRight {
			for rk := range b.right {
				j.set(ir.CompositeKey(nil, rk), ir.IRObject{j.plan.Alias: j.right[rk].row})
			}
		}
	}
	j.prune(l.val, b)
}

func (j *joinStage) addRight(k ir.Key, r joined) {
	j.right[k] = r
	if ir.IsNullish(r.val) {
		if j.keepRight {
			j.set(ir.CompositeKey(nil, k), ir.IRObject{j.plan.Alias: r.row})
		}
		return
	}
	b := j.bucket(r.val)
	if len(b.right) == 0 && j.keepLeft {
		for lk := range b.left {
			j.set(ir.CompositeKey(lk, nil), nil)
		}
	}
	b.right[k] = struct{}{}
	if len(b.left) == 0 {
		if j.keepRight {
			j.set(ir.CompositeKey(nil, k), ir.IRObject{j.plan.Alias: r.row})
		}
		return
	}
	for lk := range b.left {
		j.set(ir.CompositeKey(lk, k), j.merge(j.left[lk].row, r.row))
	}
}

func (j *joinStage) removeRight(k ir.Key, r joined) {
	delete(j.right, k)
	if ir.IsNullish(r.val) {
		j.set(ir.CompositeKey(nil, k), nil)
		return
	}
	b, _ := j.buckets.Get(r.val)
	delete(b.right, k)
	if len(b.left) == 0 {
		j.set(ir.CompositeKey(nil, k), nil)
	} else {
		for lk := range b.left {
			j.set(ir.CompositeKey(lk, k), nil)
		}
		if len(b.right) == 0 && j.keepLeft {
			for lk := range b.left {
				j.set(ir.CompositeKey(lk, nil), j.left[lk].row)
			}
		}
	}
	j.prune(r.val, b)
}

func (j *joinStage) bucket(v ir.IRValue) *bucket {
	b, ok := j.buckets.Get(v)
	if !ok {
		b = &bucket{left: make(map[ir.Key]struct{}), right: make(map[ir.Key]struct{})}
		j.buckets.Set(v, b)
	}
	return b
}

func (j *joinStage) prune(v ir.IRValue, b *bucket) {
	if len(b.left) == 0 && len(b.right) == 0 {
		j.buckets.Delete(v)
	}
}

// set records the output row for k; nil removes it.
func (j *joinStage) set(k ir.Key, row ir.IRObject) {
	if _, seen := j.before[k]; !seen {
		j.before[k] = j.out[k]
		j.order = append(j.order, k)
	}
	if row == nil {
		delete(j.out, k)
	} else {
		j.out[k] = row
	}
}

func (j *joinStage) merge(left, right ir.IRObject) ir.IRObject {
	row := make(ir.IRObject, len(left)+1)
	for alias, v := range left {
		row[alias] = v
	}
	row[j.plan.Alias] = right
	return row
}
