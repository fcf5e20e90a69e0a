package index

import (
	"fmt"
	"sync/atomic"

	"github.com/google/btree"

	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/queryir"
)

// btreeDegree is the B-tree node degree. Collections hold thousands of rows,
// not millions; a small degree keeps inserts cheap.
const btreeDegree = 16

// entry is one distinct indexed value and the keys holding it.
type entry struct {
	value ir.IRValue
	keys  KeySet
}

func lessEntry(a, b *entry) bool {
	return ir.Compare(a.value, b.value) < 0
}

// BTreeIndex indexes the value at a field path of every committed row.
type BTreeIndex struct {
	id   string
	path []string

	tree    *btree.BTreeG[*entry]
	buckets *ir.ValueMap[*entry]
	valueOf map[ir.Key]ir.IRValue

	lookups atomic.Int64
}

// Stats describes the size and usage of an index.
type Stats struct {
	Entries        int
	DistinctValues int
	Lookups        int64
}

// RangeOptions bounds a RangeQuery. A nil bound is open.
type RangeOptions struct {
	From          ir.IRValue
	To            ir.IRValue
	FromInclusive bool
	ToInclusive   bool
}

// NewBTreeIndex creates an empty index over path.
func NewBTreeIndex(id string, path ...string) (*BTreeIndex, error) {
	if len(path) == 0 {
		return nil, &Error{Code: ErrCodeInvalidPath, Message: "index path is empty"}
	}
	return &BTreeIndex{
		id:      id,
		path:    append([]string(nil), path...),
		tree:    btree.NewG(btreeDegree, lessEntry),
		buckets: ir.NewValueMap[*entry](),
		valueOf: make(map[ir.Key]ir.IRValue),
	}, nil
}

// ID returns the identifier assigned by the owning collection.
func (x *BTreeIndex) ID() string { return x.id }

// Path returns the indexed field path.
func (x *BTreeIndex) Path() []string { return append([]string(nil), x.path...) }

// Signature returns the dotted path. Two indexes with the same signature are
// interchangeable.
func (x *BTreeIndex) Signature() string { return queryir.PathKey(x.path) }

// Supports reports whether Lookup accepts op.
func (x *BTreeIndex) Supports(op string) bool {
	switch op {
	case queryir.FuncEq, queryir.FuncGt, queryir.FuncGte, queryir.FuncLt, queryir.FuncLte, queryir.FuncIn:
		return true
	}
	return false
}

// Add indexes row under key. Re-adding a key replaces its previous value.
func (x *BTreeIndex) Add(key ir.Key, row ir.IRValue) {
	if _, ok := x.valueOf[key]; ok {
		x.Remove(key)
	}
	v, _ := ir.GetPath(row, x.path)
	x.valueOf[key] = v

	e, ok := x.buckets.Get(v)
	if !ok {
		e = &entry{value: v, keys: KeySet{}}
		x.buckets.Set(v, e)
		x.tree.ReplaceOrInsert(e)
	}
	e.keys.Add(key)
}

// Remove drops key from the index. Unknown keys are ignored.
func (x *BTreeIndex) Remove(key ir.Key) {
	v, ok := x.valueOf[key]
	if !ok {
		return
	}
	delete(x.valueOf, key)

	e, ok := x.buckets.Get(v)
	if !ok {
		return
	}
	e.keys.Remove(key)
	if len(e.keys) == 0 {
		x.buckets.Delete(v)
		x.tree.Delete(e)
	}
}

// Update re-indexes key after its row changed. It is a no-op when the indexed
// value did not change.
func (x *BTreeIndex) Update(key ir.Key, row ir.IRValue) {
	v, _ := ir.GetPath(row, x.path)
	if old, ok := x.valueOf[key]; ok && ir.Equal(old, v) {
		return
	}
	x.Add(key, row)
}

// Build replaces the index contents with rows.
func (x *BTreeIndex) Build(rows map[ir.Key]ir.IRObject) {
	x.Clear()
	for k, row := range rows {
		x.Add(k, row)
	}
}

// Clear removes every entry.
func (x *BTreeIndex) Clear() {
	x.tree.Clear(false)
	x.buckets.Clear()
	x.valueOf = make(map[ir.Key]ir.IRValue)
}

// ValueOf returns the indexed value of key.
func (x *BTreeIndex) ValueOf(key ir.Key) (ir.IRValue, bool) {
	v, ok := x.valueOf[key]
	return v, ok
}

// Lookup returns the keys whose value satisfies "value <op> operand".
func (x *BTreeIndex) Lookup(op string, operand ir.IRValue) (KeySet, error) {
	x.lookups.Add(1)

	switch op {
	case queryir.FuncEq:
		return x.equal(operand), nil

	case queryir.FuncIn:
		arr, ok := operand.(ir.IRArray)
		if !ok {
			return nil, &Error{Code: ErrCodeInvalidOperand, Message: fmt.Sprintf("in expects an array, got %T", operand), Op: op}
		}
		out := KeySet{}
		for _, v := range arr {
			for k := range x.equal(v) {
				out.Add(k)
			}
		}
		return out, nil

	case queryir.FuncGt:
		return x.RangeQuery(RangeOptions{From: operand}), nil
	case queryir.FuncGte:
		return x.RangeQuery(RangeOptions{From: operand, FromInclusive: true}), nil
	case queryir.FuncLt:
		return x.RangeQuery(RangeOptions{To: operand}), nil
	case queryir.FuncLte:
		return x.RangeQuery(RangeOptions{To: operand, ToInclusive: true}), nil

	default:
		return nil, &Error{Code: ErrCodeUnsupportedOperation, Message: "operation not supported by btree index", Op: op}
	}
}

func (x *BTreeIndex) equal(v ir.IRValue) KeySet {
	out := KeySet{}
	if ir.IsNullish(v) {
		return out
	}
	if e, ok := x.buckets.Get(v); ok {
		for k := range e.keys {
			out.Add(k)
		}
	}
	return out
}

// RangeQuery returns keys whose value lies between the bounds. Null and
// undefined values are never part of a range, and a null bound matches
// nothing.
func (x *BTreeIndex) RangeQuery(opts RangeOptions) KeySet {
	out := KeySet{}
	if isNullBound(opts.From) || isNullBound(opts.To) {
		return out
	}

	visit := func(e *entry) bool {
		if ir.IsNullish(e.value) {
			return true
		}
		if opts.To != nil {
			c := ir.Compare(e.value, opts.To)
			if c > 0 || (c == 0 && !opts.ToInclusive) {
				return false
			}
		}
		if opts.From != nil && !opts.FromInclusive && ir.Compare(e.value, opts.From) == 0 {
			return true
		}
		for k := range e.keys {
			out.Add(k)
		}
		return true
	}

	if opts.From != nil {
		x.tree.AscendGreaterOrEqual(&entry{value: opts.From}, visit)
	} else {
		x.tree.Ascend(visit)
	}
	return out
}

// isNullBound reports an explicit null bound. A nil (undefined) bound is open.
func isNullBound(v ir.IRValue) bool {
	_, ok := v.(ir.IRNull)
	return ok
}

// Take returns up to n keys in ascending value order whose value is strictly
// greater than from. A nil from starts at the lowest value. Keys rejected by
// filter are skipped and do not count toward n.
func (x *BTreeIndex) Take(n int, from ir.IRValue, filter func(ir.Key) bool) []ir.Key {
	return x.take(n, from, false, false, filter)
}

// TakeFrom is Take with from itself included.
func (x *BTreeIndex) TakeFrom(n int, from ir.IRValue, filter func(ir.Key) bool) []ir.Key {
	return x.take(n, from, true, false, filter)
}

// TakeReversed returns up to n keys in descending value order whose value is
// strictly less than from. A nil from starts at the highest value.
func (x *BTreeIndex) TakeReversed(n int, from ir.IRValue, filter func(ir.Key) bool) []ir.Key {
	return x.take(n, from, false, true, filter)
}

// TakeReversedFrom is TakeReversed with from itself included.
func (x *BTreeIndex) TakeReversedFrom(n int, from ir.IRValue, filter func(ir.Key) bool) []ir.Key {
	return x.take(n, from, true, true, filter)
}

func (x *BTreeIndex) take(n int, from ir.IRValue, inclusive, reverse bool, filter func(ir.Key) bool) []ir.Key {
	out := make([]ir.Key, 0, n)
	if n <= 0 {
		return out
	}

	visit := func(e *entry) bool {
		if from != nil && !inclusive && ir.Compare(e.value, from) == 0 {
			return true
		}
		keys := e.keys.Sorted()
		if reverse {
			for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
		for _, k := range keys {
			if filter != nil && !filter(k) {
				continue
			}
			out = append(out, k)
			if len(out) >= n {
				return false
			}
		}
		return true
	}

	pivot := &entry{value: from}
	switch {
	case reverse && from != nil:
		x.tree.DescendLessOrEqual(pivot, visit)
	case reverse:
		x.tree.Descend(visit)
	case from != nil:
		x.tree.AscendGreaterOrEqual(pivot, visit)
	default:
		x.tree.Ascend(visit)
	}
	return out
}

// Min returns the lowest non-null indexed value.
func (x *BTreeIndex) Min() (ir.IRValue, bool) {
	var out ir.IRValue
	found := false
	x.tree.Ascend(func(e *entry) bool {
		if ir.IsNullish(e.value) {
			return true
		}
		out, found = e.value, true
		return false
	})
	return out, found
}

// Stats returns current index statistics.
func (x *BTreeIndex) Stats() Stats {
	return Stats{
		Entries:        len(x.valueOf),
		DistinctValues: x.tree.Len(),
		Lookups:        x.lookups.Load(),
	}
}
