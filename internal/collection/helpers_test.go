package collection

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/txn"
)

// fakeSource captures the writer of every sync session.
type fakeSource struct {
	mu    sync.Mutex
	w     SyncWriter
	ctx   context.Context
	calls int
	err   error
}

func (f *fakeSource) sync(ctx context.Context, w SyncWriter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.w, f.ctx = w, ctx
	f.calls++
	return f.err
}

func (f *fakeSource) writer() SyncWriter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w
}

// commit writes msgs as one batch.
func (f *fakeSource) commit(msgs ...SyncMessage) error {
	w := f.writer()
	if err := w.Begin(); err != nil {
		return err
	}
	for _, m := range msgs {
		if err := w.Write(m); err != nil {
			return err
		}
	}
	return w.Commit()
}

func (f *fakeSource) mustCommit(t *testing.T, msgs ...SyncMessage) {
	t.Helper()
	require.NoError(t, f.commit(msgs...))
}

// recorder collects change batches.
type recorder struct {
	mu      sync.Mutex
	batches [][]ChangeMessage
}

func (r *recorder) listen(changes []ChangeMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, changes)
}

func (r *recorder) all() [][]ChangeMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]ChangeMessage(nil), r.batches...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *recorder) last() []ChangeMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.batches) == 0 {
		return nil
	}
	return r.batches[len(r.batches)-1]
}

func todo(id int, title string, done bool) ir.IRObject {
	return ir.IRObject{"id": ir.IRInt(id), "title": ir.IRString(title), "done": ir.IRBool(done)}
}

func insertMsg(row ir.IRObject) SyncMessage {
	return SyncMessage{Type: ChangeInsert, Value: row}
}

func noopHandler(context.Context, MutationParams) error { return nil }

// newTodos creates a started, ready collection with a private transaction
// manager and the given synced rows.
func newTodos(t *testing.T, cfg Config, rows ...ir.IRObject) (*Collection, *fakeSource) {
	t.Helper()
	src := &fakeSource{}
	if cfg.ID == "" {
		cfg.ID = "todos"
	}
	if cfg.GetKey == nil {
		cfg.GetKey = KeyField("id")
	}
	cfg.Sync = src.sync
	cfg.StartSync = true

	c, err := New(cfg, WithTxnManager(txn.NewManager()))
	require.NoError(t, err)

	msgs := make([]SyncMessage, len(rows))
	for i, r := range rows {
		msgs[i] = insertMsg(r)
	}
	src.mustCommit(t, msgs...)
	src.writer().MarkReady()
	return c, src
}

func (c *Collection) trackedTransactions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.txs)
}

// blockingHandler keeps transactions persisting until the test ends, so the
// optimistic state stays put while the test inspects it.
func blockingHandler(t *testing.T) MutationHandler {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	return func(context.Context, MutationParams) error {
		<-release
		return nil
	}
}
