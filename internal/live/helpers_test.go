package live

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/query"
	"github.com/roach88/livedb/internal/queryir"
	"github.com/roach88/livedb/internal/testutil"
)

// source is a synced collection the test writes to directly. Every call
// commits one batch.
type source struct {
	*collection.Collection
	w    collection.SyncWriter
	key  string
	rows map[ir.Key]ir.IRObject
}

func newSource(t *testing.T, id, key string, mode collection.AutoIndexMode, rows ...ir.IRObject) *source {
	t.Helper()
	s := newPendingSource(t, id, key, mode)
	s.upsert(t, rows...)
	s.w.MarkReady()
	return s
}

// newPendingSource creates a source that is still loading.
func newPendingSource(t *testing.T, id, key string, mode collection.AutoIndexMode) *source {
	t.Helper()
	s := &source{key: key, rows: make(map[ir.Key]ir.IRObject)}
	c, err := collection.New(collection.Config{
		ID:     id,
		GetKey: collection.KeyField(key),
		Sync: func(_ context.Context, w collection.SyncWriter) error {
			s.w = w
			return nil
		},
		AutoIndex:     mode,
		RowUpdateMode: collection.RowUpdateFull,
		StartSync:     true,
	})
	require.NoError(t, err)
	s.Collection = c
	return s
}

func (s *source) upsert(t *testing.T, rows ...ir.IRObject) {
	t.Helper()
	require.NoError(t, s.w.Begin())
	for _, r := range rows {
		typ := collection.ChangeInsert
		if _, ok := s.rows[r[s.key]]; ok {
			typ = collection.ChangeUpdate
		}
		s.rows[r[s.key]] = r
		require.NoError(t, s.w.Write(collection.SyncMessage{Type: typ, Value: r}))
	}
	require.NoError(t, s.w.Commit())
}

func (s *source) remove(t *testing.T, keys ...ir.Key) {
	t.Helper()
	require.NoError(t, s.w.Begin())
	for _, k := range keys {
		delete(s.rows, k)
		require.NoError(t, s.w.Write(collection.SyncMessage{Type: collection.ChangeDelete, Key: k}))
	}
	require.NoError(t, s.w.Commit())
}

func (s *source) all() []ir.IRObject {
	keys := make([]ir.Key, 0, len(s.rows))
	for k := range s.rows {
		keys = append(keys, k)
	}
	ir.SortKeys(keys)
	out := make([]ir.IRObject, len(keys))
	for i, k := range keys {
		out[i] = s.rows[k]
	}
	return out
}

func (s *source) row(t *testing.T, key ir.Key) ir.IRObject {
	t.Helper()
	r, ok := s.rows[key]
	require.True(t, ok, "no row %v", key)
	return r.Clone()
}

func start(t *testing.T, qc *query.Context) *Query {
	t.Helper()
	q, err := New(context.Background(), qc)
	require.NoError(t, err)
	t.Cleanup(q.Close)
	return q
}

// result returns the derived collection's rows by key.
func result(q *Query) map[ir.Key]ir.IRObject {
	out := make(map[ir.Key]ir.IRObject)
	for _, e := range q.Collection().Entries() {
		out[e.Key] = e.Row
	}
	return out
}

// recorder collects change batches of the derived collection, starting with
// its current rows.
type recorder struct {
	mu      sync.Mutex
	batches [][]collection.ChangeMessage
}

func record(t *testing.T, q *Query) *recorder {
	t.Helper()
	r := &recorder{}
	sub, err := q.Collection().SubscribeChanges(func(changes []collection.ChangeMessage) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.batches = append(r.batches, changes)
	}, collection.SubscribeOptions{IncludeInitialState: true})
	require.NoError(t, err)
	t.Cleanup(sub.Unsubscribe)
	return r
}

func (r *recorder) all() [][]collection.ChangeMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]collection.ChangeMessage(nil), r.batches...)
}

func todo(id int, owner string, priority int, done bool) ir.IRObject {
	return ir.IRObject{
		"id":       ir.IRInt(id),
		"owner":    ir.IRString(owner),
		"priority": ir.IRInt(priority),
		"done":     ir.IRBool(done),
		"title":    ir.IRString("todo"),
	}
}

func user(name, team string) ir.IRObject {
	return ir.IRObject{"name": ir.IRString(name), "team": ir.IRString(team)}
}

func fakeData(t *testing.T, n int) (todos, users []ir.IRObject) {
	t.Helper()
	todos, err := testutil.FakeTodos(n)
	require.NoError(t, err)
	users, err = testutil.FakeUsers()
	require.NoError(t, err)
	return todos, users
}

func field(path ...string) *queryir.Ref { return queryir.Field(path...) }

func ids(rows []ir.IRObject) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = int64(r["id"].(ir.IRInt))
	}
	return out
}
