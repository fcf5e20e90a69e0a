package collection

import (
	"cmp"
	"slices"

	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/txn"
)

// syncOp is one confirmed row write.
type syncOp struct {
	typ   ChangeType
	key   ir.Key
	value ir.IRObject
}

// syncBatch is the content of one Begin/Commit bracket.
type syncBatch struct {
	ops      []syncOp
	truncate bool
}

// overlay is the optimistic layer derived from tracked transactions.
type overlay struct {
	upserts map[ir.Key]ir.IRObject
	deletes map[ir.Key]struct{}
}

// buildOverlayLocked recomputes the optimistic layer from the live
// transactions holding mutations for this collection, oldest first. Terminal
// transactions are forgotten. It also reports whether any of them is
// persisting.
func (c *Collection) buildOverlayLocked() (overlay, bool) {
	ov := overlay{
		upserts: make(map[ir.Key]ir.IRObject),
		deletes: make(map[ir.Key]struct{}),
	}

	live := make([]*txn.Transaction, 0, len(c.txs))
	for id, tx := range c.txs {
		if tx.State().IsTerminal() {
			delete(c.txs, id)
			continue
		}
		live = append(live, tx)
	}
	slices.SortFunc(live, func(a, b *txn.Transaction) int { return a.CompareCreatedAt(b) })

	persisting := false
	for _, tx := range live {
		if tx.State() == txn.StatePersisting {
			persisting = true
		}
		for _, m := range tx.Mutations() {
			if m.Participant != txn.Participant(c) {
				continue
			}
			switch m.Type {
			case txn.MutationInsert, txn.MutationUpdate:
				ov.upserts[m.Key] = m.Modified
				delete(ov.deletes, m.Key)
			case txn.MutationDelete:
				delete(ov.upserts, m.Key)
				ov.deletes[m.Key] = struct{}{}
			}
		}
	}
	return ov, persisting
}

// settleLocked brings the visible state up to date: it recomputes the
// overlay, applies committed sync batches unless a transaction is persisting
// and returns the visible changes. extra lists keys the caller knows were
// touched.
//
// Committed sync batches wait while a transaction is persisting, so that
// confirmed rows and the optimistic rows they replace swap in one batch.
// A truncate is never held.
func (c *Collection) settleLocked(extra ...ir.Key) []ChangeMessage {
	ov, persisting := c.buildOverlayLocked()

	var batches []*syncBatch
	truncate := false
	if len(c.pendingSync) > 0 {
		for _, b := range c.pendingSync {
			truncate = truncate || b.truncate
		}
		if !persisting || truncate {
			batches = c.pendingSync
			c.pendingSync = nil
		}
	}

	if truncate {
		return c.truncateLocked(batches, ov)
	}

	// Keys named by the writes come first, in the order they were written;
	// keys only the overlay rebuild reveals follow in key order.
	var keys []ir.Key
	affected := make(map[ir.Key]struct{}, len(extra))
	touch := func(k ir.Key) {
		if _, ok := affected[k]; !ok {
			affected[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for _, k := range extra {
		touch(k)
	}
	for _, b := range batches {
		for _, op := range b.ops {
			touch(op.key)
		}
	}
	named := len(keys)
	for _, m := range []map[ir.Key]ir.IRObject{c.upserts, ov.upserts} {
		for k := range m {
			touch(k)
		}
	}
	for _, m := range []map[ir.Key]struct{}{c.deletes, ov.deletes} {
		for k := range m {
			touch(k)
		}
	}
	ir.SortKeys(keys[named:])

	before := make(map[ir.Key]ir.IRObject, len(affected))
	for k := range affected {
		if row, ok := c.visibleLocked(k); ok {
			before[k] = row
		}
	}

	c.upserts, c.deletes = ov.upserts, ov.deletes
	for _, b := range batches {
		c.applyBatchLocked(b)
	}

	var changes []ChangeMessage
	for _, k := range keys {
		old, had := before[k]
		cur, has := c.visibleLocked(k)
		switch {
		case !had && has:
			changes = append(changes, ChangeMessage{Type: ChangeInsert, Key: k, Value: cur})
		case had && !has:
			changes = append(changes, ChangeMessage{Type: ChangeDelete, Key: k, Value: old})
		case had && has && !ir.Equal(old, cur):
			changes = append(changes, ChangeMessage{Type: ChangeUpdate, Key: k, Value: cur, PreviousValue: old})
		}
	}
	return changes
}

// truncateLocked applies batches containing a truncate: every row visible
// before is deleted, then every row visible after is inserted.
func (c *Collection) truncateLocked(batches []*syncBatch, ov overlay) []ChangeMessage {
	var changes []ChangeMessage
	for _, k := range c.visibleKeysLocked() {
		row, _ := c.visibleLocked(k)
		changes = append(changes, ChangeMessage{Type: ChangeDelete, Key: k, Value: row})
	}

	c.upserts, c.deletes = ov.upserts, ov.deletes
	for _, b := range batches {
		c.applyBatchLocked(b)
	}

	for _, k := range c.visibleKeysLocked() {
		row, _ := c.visibleLocked(k)
		changes = append(changes, ChangeMessage{Type: ChangeInsert, Key: k, Value: row})
	}
	return changes
}

// applyBatchLocked writes b into the committed state and the indexes.
func (c *Collection) applyBatchLocked(b *syncBatch) {
	if b.truncate {
		clear(c.synced)
		for _, x := range c.indexes {
			x.Clear()
		}
	}
	for _, op := range b.ops {
		switch op.typ {
		case ChangeInsert:
			c.synced[op.key] = op.value
		case ChangeUpdate:
			if prev, ok := c.synced[op.key]; ok && c.cfg.RowUpdateMode == RowUpdatePartial {
				c.synced[op.key] = prev.Merge(op.value)
			} else {
				c.synced[op.key] = op.value
			}
		case ChangeDelete:
			delete(c.synced, op.key)
			for _, x := range c.indexes {
				x.Remove(op.key)
			}
			continue
		}
		row := c.synced[op.key]
		for _, x := range c.indexes {
			x.Update(op.key, row)
		}
	}
}

// emit delivers changes to subscribers in commit order, outside the lock.
func (c *Collection) emit(changes []ChangeMessage) {
	if len(changes) == 0 {
		return
	}
	c.countBatch()
	c.dispatch.Dispatch(func() {
		c.mu.Lock()
		subs := make([]*Subscription, 0, len(c.subs))
		for _, s := range c.subs {
			subs = append(subs, s)
		}
		c.mu.Unlock()

		slices.SortFunc(subs, func(a, b *Subscription) int { return cmp.Compare(a.id, b.id) })
		for _, s := range subs {
			s.deliver(changes)
		}
	})
}

// OnTransactionStateChange implements txn.Participant.
func (c *Collection) OnTransactionStateChange(tx *txn.Transaction) {
	var keys []ir.Key
	for _, m := range tx.Mutations() {
		if m.Participant == txn.Participant(c) {
			keys = append(keys, m.Key)
		}
	}

	c.mu.Lock()
	if _, tracked := c.txs[tx.ID()]; !tracked && !tx.State().IsTerminal() {
		c.txs[tx.ID()] = tx
	}
	changes := c.settleLocked(keys...)
	c.mu.Unlock()

	c.emit(changes)
}
