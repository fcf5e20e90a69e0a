package collection

import (
	"github.com/roach88/livedb/internal/index"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/queryir"
)

// StateOptions filters a snapshot. Where references row fields directly
// (queryir.Field("done")), not source aliases.
type StateOptions struct {
	Where queryir.Expr

	// OptimizedOnly makes the snapshot fail (ok=false) instead of falling
	// back to a full scan.
	OptimizedOnly bool
}

// CurrentStateAsChanges returns the visible rows matching opts.Where as
// insert messages in key order.
//
// Candidate keys come from indexes when the filter is an indexable
// comparison, an AND with at least one indexable conjunct, or an OR whose
// every branch is indexable. Otherwise every row is scanned.
func (c *Collection) CurrentStateAsChanges(opts StateOptions) ([]ChangeMessage, bool, error) {
	pred, err := c.compileWhere(opts.Where)
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	changes, ok := c.currentStateLocked(opts.Where, pred, opts.OptimizedOnly)
	return changes, ok, nil
}

func (c *Collection) compileWhere(where queryir.Expr) (queryir.Predicate, error) {
	pred, err := queryir.CompileFilter(where)
	if err != nil {
		return nil, &Error{Code: ErrCodeInvalidWhere, Message: err.Error(), Collection: c.id}
	}
	return pred, nil
}

func (c *Collection) currentStateLocked(where queryir.Expr, pred queryir.Predicate, optimizedOnly bool) ([]ChangeMessage, bool) {
	var keys []ir.Key
	if where == nil {
		keys = c.visibleKeysLocked()
	} else if ks, ok := c.lookupLocked(where); ok {
		// Indexes only cover synced rows.
		for k := range c.upserts {
			ks.Add(k)
		}
		keys = ks.Sorted()
	} else if optimizedOnly {
		return nil, false
	} else {
		c.countFullScan()
		keys = c.visibleKeysLocked()
	}

	out := make([]ChangeMessage, 0, len(keys))
	for _, k := range keys {
		row, ok := c.visibleLocked(k)
		if !ok || !pred(row) {
			continue
		}
		out = append(out, ChangeMessage{Type: ChangeInsert, Key: k, Value: row})
	}
	return out, true
}

// lookupLocked resolves expr to a candidate key set using indexes. The set
// may hold keys that do not match; it never misses a synced key that does.
func (c *Collection) lookupLocked(expr queryir.Expr) (index.KeySet, bool) {
	if f, ok := expr.(*queryir.Func); ok {
		switch f.Name {
		case queryir.FuncAnd:
			var sets []index.KeySet
			for _, a := range f.Args {
				if ks, ok := c.lookupLocked(a); ok {
					sets = append(sets, ks)
				}
			}
			if len(sets) == 0 {
				return nil, false
			}
			return index.Intersect(sets...), true

		case queryir.FuncOr:
			sets := make([]index.KeySet, 0, len(f.Args))
			for _, a := range f.Args {
				ks, ok := c.lookupLocked(a)
				if !ok {
					return nil, false
				}
				sets = append(sets, ks)
			}
			return index.Union(sets...), true
		}
	}

	fc, ok := queryir.AsFieldComparison(expr)
	if !ok {
		return nil, false
	}
	x, ok := c.indexes[queryir.PathKey(fc.Path)]
	if !ok || !x.Supports(fc.Op) {
		return nil, false
	}
	ks, err := x.Lookup(fc.Op, fc.Value)
	if err != nil {
		return nil, false
	}
	c.countIndexLookup()
	return ks, true
}
