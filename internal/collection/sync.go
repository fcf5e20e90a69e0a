package collection

import (
	"context"
	"fmt"

	"github.com/roach88/livedb/internal/ir"
)

// syncWriter feeds one sync session into its collection. A writer from an
// earlier session (before cleanup) is stale and rejects every call.
type syncWriter struct {
	c   *Collection
	gen int
}

var _ SyncWriter = (*syncWriter)(nil)

func (w *syncWriter) checkLocked() error {
	if w.gen != w.c.syncGen || w.c.status == StatusCleanedUp {
		return &Error{Code: ErrCodeSyncStopped, Message: "sync session is no longer active", Collection: w.c.id}
	}
	return nil
}

func (w *syncWriter) Begin() error {
	c := w.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := w.checkLocked(); err != nil {
		return err
	}
	if c.openBatch != nil {
		return &Error{Code: ErrCodeSyncBatchOpen, Message: "begin called with a batch already open", Collection: c.id}
	}
	c.openBatch = &syncBatch{}
	return nil
}

func (w *syncWriter) Write(msg SyncMessage) error {
	c := w.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := w.checkLocked(); err != nil {
		return err
	}
	if c.openBatch == nil {
		return &Error{Code: ErrCodeSyncNoOpenBatch, Message: "write called without begin", Collection: c.id}
	}

	switch msg.Type {
	case ChangeInsert, ChangeUpdate:
		if msg.Value == nil {
			return &Error{Code: ErrCodeSyncInvalidMessage, Message: fmt.Sprintf("%s message without a value", msg.Type), Collection: c.id}
		}
	case ChangeDelete:
	default:
		return &Error{Code: ErrCodeSyncInvalidMessage, Message: fmt.Sprintf("unknown message type %q", msg.Type), Collection: c.id}
	}

	key := msg.Key
	if key == nil && msg.Value != nil {
		key = c.cfg.GetKey(msg.Value)
	}
	if err := ir.ValidateKey(key); err != nil {
		return &Error{Code: ErrCodeSyncInvalidMessage, Message: err.Error(), Collection: c.id, Key: ir.KeyString(key)}
	}

	if msg.Type == ChangeInsert && c.syncedHasLocked(key) {
		return &Error{Code: ErrCodeSyncDuplicateKey, Message: "insert of a key that is already synced", Collection: c.id, Key: ir.KeyString(key)}
	}

	c.openBatch.ops = append(c.openBatch.ops, syncOp{typ: msg.Type, key: key, value: msg.Value})
	return nil
}

// syncedHasLocked reports whether key exists in the committed state as it
// will be once pending and open batches apply.
func (c *Collection) syncedHasLocked(key ir.Key) bool {
	batches := append([]*syncBatch(nil), c.pendingSync...)
	if c.openBatch != nil {
		batches = append(batches, c.openBatch)
	}
	for i := len(batches) - 1; i >= 0; i-- {
		b := batches[i]
		for j := len(b.ops) - 1; j >= 0; j-- {
			if b.ops[j].key == key {
				return b.ops[j].typ != ChangeDelete
			}
		}
		if b.truncate {
			return false
		}
	}
	_, ok := c.synced[key]
	return ok
}

func (w *syncWriter) Commit() error {
	c := w.c
	c.mu.Lock()
	if err := w.checkLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.openBatch == nil {
		c.mu.Unlock()
		return &Error{Code: ErrCodeSyncNoOpenBatch, Message: "commit called without begin", Collection: c.id}
	}
	c.pendingSync = append(c.pendingSync, c.openBatch)
	c.openBatch = nil
	changes := c.settleLocked()
	c.mu.Unlock()

	c.emit(changes)
	return nil
}

func (w *syncWriter) Rollback() {
	c := w.c
	c.mu.Lock()
	if w.checkLocked() == nil {
		c.openBatch = nil
	}
	c.mu.Unlock()
}

func (w *syncWriter) Truncate() error {
	c := w.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := w.checkLocked(); err != nil {
		return err
	}
	if c.openBatch == nil {
		return &Error{Code: ErrCodeSyncNoOpenBatch, Message: "truncate called without begin", Collection: c.id}
	}
	c.openBatch.ops = nil
	c.openBatch.truncate = true
	return nil
}

func (w *syncWriter) MarkReady() {
	c := w.c
	c.mu.Lock()
	if w.checkLocked() != nil || c.status != StatusLoading {
		c.mu.Unlock()
		return
	}
	notify := c.setStatusLocked(StatusReady)
	c.mu.Unlock()
	notify()
}

func (w *syncWriter) Fail(err error) {
	c := w.c
	c.mu.Lock()
	if w.checkLocked() != nil {
		c.mu.Unlock()
		return
	}
	c.syncErr = err
	notify := c.setStatusLocked(StatusError)
	c.mu.Unlock()

	c.logger.Warn("sync failed", "error", err)
	notify()
}

// startSync starts the sync session if the collection is idle or was
// cleaned up.
func (c *Collection) startSync() {
	c.mu.Lock()
	if c.status != StatusIdle && c.status != StatusCleanedUp {
		c.mu.Unlock()
		return
	}
	c.syncGen++
	ctx, cancel := context.WithCancel(context.Background())
	c.syncCancel = cancel
	c.syncErr = nil
	w := &syncWriter{c: c, gen: c.syncGen}
	notify := c.setStatusLocked(StatusLoading)
	c.mu.Unlock()

	notify()
	c.logger.Debug("sync starting")
	if err := c.cfg.Sync(ctx, w); err != nil {
		w.Fail(fmt.Errorf("sync: %w", err))
	}
}
