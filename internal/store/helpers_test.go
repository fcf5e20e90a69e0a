package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/engine"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/queryir"
	"github.com/roach88/livedb/internal/txn"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), WithIDGenerator(&engine.SequenceGenerator{Prefix: "put"}))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// openCollection creates a ready collection backed by s.
func openCollection(t *testing.T, s *Store, id string, where queryir.Expr) (*collection.Collection, *txn.Manager) {
	t.Helper()
	cfg, err := s.Config(id, collection.KeyField("id"), where)
	require.NoError(t, err)
	cfg.StartSync = true
	cfg.GCTime = -1

	m := txn.NewManager()
	c, err := collection.New(cfg, collection.WithTxnManager(m))
	require.NoError(t, err)
	t.Cleanup(c.Cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.WaitReady(ctx))
	return c, m
}

func todo(id int64, title string, done bool) ir.IRObject {
	return ir.IRObject{"id": ir.IRInt(id), "title": ir.IRString(title), "done": ir.IRBool(done)}
}

func keyOf(row ir.IRObject) ir.Key { return row["id"] }

func wait(t *testing.T, tx *txn.Transaction) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return tx.Wait(ctx)
}

func stored(t *testing.T, s *Store, collection string) []ir.IRObject {
	t.Helper()
	rows, err := s.Rows(context.Background(), collection, nil)
	require.NoError(t, err)
	out := make([]ir.IRObject, len(rows))
	for i, r := range rows {
		out[i] = r.Value
	}
	return out
}
