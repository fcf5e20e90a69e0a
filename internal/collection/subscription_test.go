package collection

import (
	"context"
	"math/rand"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/queryir"
	"github.com/roach88/livedb/internal/testutil"
	"github.com/roach88/livedb/internal/txn"
)

func keysOf(changes []ChangeMessage) []ir.Key {
	out := make([]ir.Key, len(changes))
	for i, ch := range changes {
		out[i] = ch.Key
	}
	return out
}

func TestSubscription_WhereFlipsChangeTypes(t *testing.T) {
	c, src := newTodos(t, Config{}, todo(1, "a", false), todo(2, "b", true))

	rec := &recorder{}
	_, err := c.SubscribeChanges(rec.listen, SubscribeOptions{
		IncludeInitialState: true,
		Where:               queryir.Eq(queryir.Field("done"), false),
	})
	require.NoError(t, err)
	require.Equal(t, []ir.Key{ir.IRInt(1)}, keysOf(rec.last()))

	// 1 leaves the filter, 2 enters it.
	src.mustCommit(t,
		SyncMessage{Type: ChangeUpdate, Key: ir.IRInt(1), Value: ir.IRObject{"done": ir.IRBool(true)}},
		SyncMessage{Type: ChangeUpdate, Key: ir.IRInt(2), Value: ir.IRObject{"done": ir.IRBool(false)}},
	)
	assert.Equal(t, []ChangeMessage{
		{Type: ChangeDelete, Key: ir.IRInt(1), Value: todo(1, "a", false)},
		{Type: ChangeInsert, Key: ir.IRInt(2), Value: todo(2, "b", false)},
	}, rec.last())

	// Changes outside the filter are not delivered.
	src.mustCommit(t, SyncMessage{Type: ChangeUpdate, Key: ir.IRInt(1), Value: ir.IRObject{"title": ir.IRString("a2")}})
	assert.Equal(t, 2, rec.count())

	// Deleting a row the listener never saw is dropped.
	src.mustCommit(t, SyncMessage{Type: ChangeDelete, Key: ir.IRInt(1)})
	assert.Equal(t, 2, rec.count())
}

func TestSubscription_WithoutInitialState(t *testing.T) {
	c, src := newTodos(t, Config{}, todo(1, "a", false))

	rec := &recorder{}
	sub, err := c.SubscribeChanges(rec.listen, SubscribeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.count())
	assert.False(t, sub.LoadedInitialState())

	// The listener never saw row 1, so its update arrives as an insert.
	src.mustCommit(t, SyncMessage{Type: ChangeUpdate, Key: ir.IRInt(1), Value: ir.IRObject{"done": ir.IRBool(true)}})
	assert.Equal(t, []ChangeMessage{{Type: ChangeInsert, Key: ir.IRInt(1), Value: todo(1, "a", true)}}, rec.last())

	sub.Unsubscribe()
	src.mustCommit(t, insertMsg(todo(2, "b", false)))
	assert.Equal(t, 1, rec.count())
}

func TestSubscription_InvalidWhere(t *testing.T) {
	c, _ := newTodos(t, Config{})
	_, err := c.SubscribeChanges(func([]ChangeMessage) {}, SubscribeOptions{Where: queryir.F("nope", queryir.Field("x"))})
	assert.True(t, HasCode(err, ErrCodeInvalidWhere))

	_, err = c.SubscribeChanges(nil, SubscribeOptions{})
	assert.True(t, HasCode(err, ErrCodeMissingHandler))
}

func TestSubscription_ListenerMutationsAreQueued(t *testing.T) {
	c, _ := newTodos(t, Config{OnInsert: blockingHandler(t)})
	ctx := context.Background()

	var order []string
	_, err := c.SubscribeChanges(func(changes []ChangeMessage) {
		for _, ch := range changes {
			order = append(order, "a:"+ir.KeyString(ch.Key))
			if ch.Key == ir.IRInt(1) && ch.Type == ChangeInsert {
				_, err := c.Insert(ctx, todo(2, "follow-up", false))
				assert.NoError(t, err)
			}
		}
	}, SubscribeOptions{})
	require.NoError(t, err)
	_, err = c.SubscribeChanges(func(changes []ChangeMessage) {
		for _, ch := range changes {
			order = append(order, "b:"+ir.KeyString(ch.Key))
		}
	}, SubscribeOptions{})
	require.NoError(t, err)

	_, err = c.Insert(ctx, todo(1, "first", false))
	require.NoError(t, err)

	assert.Equal(t, []string{"a:1", "b:1", "a:2", "b:2"}, order, "every subscriber sees batch 1 before batch 2")
}

func TestSubscription_AutoIndex(t *testing.T) {
	c, _ := newTodos(t, Config{ID: "auto"}, todo(1, "a", false))
	where := queryir.And(
		queryir.Eq(queryir.Field("done"), false),
		queryir.Gt(queryir.Field("id"), 0),
		queryir.Or(queryir.Eq(queryir.Field("title"), "a"), queryir.Eq(queryir.Field("title"), "b")),
		queryir.Eq(queryir.Upper(queryir.Field("owner")), "ADA"),
	)

	_, err := c.SubscribeChanges(func([]ChangeMessage) {}, SubscribeOptions{Where: where})
	require.NoError(t, err)
	_, err = c.SubscribeChanges(func([]ChangeMessage) {}, SubscribeOptions{Where: queryir.Eq(queryir.Field("done"), true)})
	require.NoError(t, err)

	assert.Equal(t, []string{"done", "id"}, c.IndexedPaths(), "OR and computed conjuncts are not indexed")
	assert.Equal(t, int64(2), c.Stats().AutoIndexes, "the second subscription reuses the done index")
	assert.Equal(t, float64(2), promtest.ToFloat64(AutoIndexes.WithLabelValues("auto")))

	off, _ := newTodos(t, Config{AutoIndex: AutoIndexOff})
	_, err = off.SubscribeChanges(func([]ChangeMessage) {}, SubscribeOptions{Where: queryir.Eq(queryir.Field("done"), true)})
	require.NoError(t, err)
	assert.Empty(t, off.IndexedPaths())
	assert.False(t, off.EnsureIndex("done"))

	require.NoError(t, off.CreateIndexFor(queryir.Field("done")))
	require.NoError(t, off.CreateIndex("done"))
	assert.True(t, off.HasIndex("done"))
	assert.True(t, off.EnsureIndex("done"))
}

func TestCollection_CurrentStateAsChanges(t *testing.T) {
	c, _ := newTodos(t, Config{ID: "snapshot", AutoIndex: AutoIndexOff},
		todo(1, "a", false), todo(2, "b", true), todo(3, "c", false))
	require.NoError(t, c.CreateIndex("done"))
	require.NoError(t, c.CreateIndex("id"))

	tests := []struct {
		name    string
		where   queryir.Expr
		want    []ir.Key
		indexed bool
	}{
		{"all rows", nil, []ir.Key{ir.IRInt(1), ir.IRInt(2), ir.IRInt(3)}, true},
		{"eq", queryir.Eq(queryir.Field("done"), false), []ir.Key{ir.IRInt(1), ir.IRInt(3)}, true},
		{"literal first", queryir.Lt(2, queryir.Field("id")), []ir.Key{ir.IRInt(3)}, true},
		{"and", queryir.And(queryir.Eq(queryir.Field("done"), false), queryir.Gte(queryir.Field("id"), 2)), []ir.Key{ir.IRInt(3)}, true},
		{"and with residual", queryir.And(queryir.Eq(queryir.Field("done"), false), queryir.Like(queryir.Field("title"), "c%")), []ir.Key{ir.IRInt(3)}, true},
		{"or", queryir.Or(queryir.Eq(queryir.Field("id"), 1), queryir.Eq(queryir.Field("done"), true)), []ir.Key{ir.IRInt(1), ir.IRInt(2)}, true},
		{"in", queryir.InArray(queryir.Field("id"), []any{1, 3, 9}), []ir.Key{ir.IRInt(1), ir.IRInt(3)}, true},
		{"or with unindexed branch", queryir.Or(queryir.Eq(queryir.Field("id"), 1), queryir.Eq(queryir.Field("title"), "b")), []ir.Key{ir.IRInt(1), ir.IRInt(2)}, false},
		{"not", queryir.Not(queryir.Eq(queryir.Field("done"), true)), []ir.Key{ir.IRInt(1), ir.IRInt(3)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := c.CurrentStateAsChanges(StateOptions{Where: tt.where})
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.want, keysOf(got))

			_, ok, err = c.CurrentStateAsChanges(StateOptions{Where: tt.where, OptimizedOnly: true})
			require.NoError(t, err)
			assert.Equal(t, tt.indexed, ok)
		})
	}

	scans := promtest.ToFloat64(FullScans.WithLabelValues("snapshot"))
	assert.Equal(t, float64(2), scans, "only the unindexed filters scanned")
	assert.Equal(t, int64(2), c.Stats().FullScans)
	assert.Positive(t, c.Stats().IndexLookups)
}

func TestCollection_CurrentStateIncludesOverlay(t *testing.T) {
	c, _ := newTodos(t, Config{OnInsert: blockingHandler(t), OnUpdate: blockingHandler(t)}, todo(1, "a", false), todo(2, "b", false))
	require.NoError(t, c.CreateIndex("done"))
	ctx := context.Background()

	_, err := c.Insert(ctx, todo(3, "new", true))
	require.NoError(t, err)
	_, err = c.Update(ctx, ir.IRInt(1), func(d ir.IRObject) { d["done"] = ir.IRBool(true) })
	require.NoError(t, err)

	got, ok, err := c.CurrentStateAsChanges(StateOptions{Where: queryir.Eq(queryir.Field("done"), true), OptimizedOnly: true})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []ir.Key{ir.IRInt(1), ir.IRInt(3)}, keysOf(got), "optimistic rows are patched into index results")

	got, _, err = c.CurrentStateAsChanges(StateOptions{Where: queryir.Eq(queryir.Field("done"), false)})
	require.NoError(t, err)
	assert.Equal(t, []ir.Key{ir.IRInt(2)}, keysOf(got), "stale index entries are re-checked")
}

func TestSubscription_RequestSnapshot(t *testing.T) {
	c, src := newTodos(t, Config{}, todo(1, "a", false), todo(2, "b", true), todo(3, "c", false))

	rec := &recorder{}
	sub, err := c.SubscribeChanges(rec.listen, SubscribeOptions{Where: queryir.Eq(queryir.Field("done"), false)})
	require.NoError(t, err)

	got, ok, err := sub.RequestSnapshot(SnapshotOptions{Where: queryir.Eq(queryir.Field("id"), 3)})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []ir.Key{ir.IRInt(3)}, keysOf(got))
	assert.False(t, sub.LoadedInitialState())
	assert.Equal(t, 0, rec.count(), "snapshots are returned, not delivered")

	got, _, err = sub.RequestSnapshot(SnapshotOptions{})
	require.NoError(t, err)
	assert.Equal(t, []ir.Key{ir.IRInt(1)}, keysOf(got), "already delivered rows are skipped")
	assert.True(t, sub.LoadedInitialState())

	src.mustCommit(t, SyncMessage{Type: ChangeUpdate, Key: ir.IRInt(3), Value: ir.IRObject{"title": ir.IRString("c2")}})
	assert.Equal(t, ChangeUpdate, rec.last()[0].Type, "rows from snapshots count as delivered")

	got, ok, err = sub.RequestSnapshot(SnapshotOptions{Where: queryir.Eq(queryir.Field("title"), "c2"), OptimizedOnly: true})
	require.NoError(t, err)
	assert.True(t, ok, "the indexed subscription filter narrows the snapshot")
	assert.Empty(t, got, "the update already delivered c2")
}

func TestSubscription_RequestLimitedSnapshot(t *testing.T) {
	c, _ := newTodos(t, Config{OnInsert: blockingHandler(t)},
		ir.IRObject{"id": ir.IRInt(1), "rank": ir.IRInt(30)},
		ir.IRObject{"id": ir.IRInt(2), "rank": ir.IRInt(10)},
		ir.IRObject{"id": ir.IRInt(3), "rank": ir.IRInt(20)},
		ir.IRObject{"id": ir.IRInt(4), "rank": ir.IRInt(40)},
	)
	_, err := c.Insert(context.Background(), ir.IRObject{"id": ir.IRInt(5), "rank": ir.IRInt(15)})
	require.NoError(t, err)

	sub, err := c.SubscribeChanges(func([]ChangeMessage) {}, SubscribeOptions{})
	require.NoError(t, err)

	got, err := sub.RequestLimitedSnapshot(LimitedSnapshotOptions{OrderBy: []string{"rank"}, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []ir.Key{ir.IRInt(2), ir.IRInt(5)}, keysOf(got), "optimistic rows are merged in order")
	assert.True(t, c.HasIndex("rank"))

	got, err = sub.RequestLimitedSnapshot(LimitedSnapshotOptions{OrderBy: []string{"rank"}, Limit: 2, MinValue: ir.IRInt(15)})
	require.NoError(t, err)
	assert.Equal(t, []ir.Key{ir.IRInt(3), ir.IRInt(1)}, keysOf(got), "the next page skips delivered rows")

	got, err = sub.RequestLimitedSnapshot(LimitedSnapshotOptions{OrderBy: []string{"rank"}, Limit: 1, Descending: true})
	require.NoError(t, err)
	assert.Equal(t, []ir.Key{ir.IRInt(4)}, keysOf(got))

	off, _ := newTodos(t, Config{AutoIndex: AutoIndexOff})
	offSub, err := off.SubscribeChanges(func([]ChangeMessage) {}, SubscribeOptions{})
	require.NoError(t, err)
	_, err = offSub.RequestLimitedSnapshot(LimitedSnapshotOptions{OrderBy: []string{"rank"}, Limit: 1})
	assert.True(t, HasCode(err, ErrCodeMissingOrderIndex))
}

// Index-planned snapshots must agree with a plain filter over every row.
func TestCollection_IndexedSnapshotMatchesScan(t *testing.T) {
	rows, err := testutil.FakeTodos(60)
	require.NoError(t, err)
	c, _ := newTodos(t, Config{AutoIndex: AutoIndexOff}, rows...)
	for _, p := range []string{"owner", "priority", "done"} {
		require.NoError(t, c.CreateIndex(p))
	}

	owners := []any{"ada", "grace", "linus", "barbara", "nobody"}
	ops := []func(a, b any) queryir.Expr{queryir.Eq, queryir.Gt, queryir.Gte, queryir.Lt, queryir.Lte}
	rng := rand.New(rand.NewSource(7))
	randomPred := func() queryir.Expr {
		switch rng.Intn(3) {
		case 0:
			return queryir.Eq(queryir.Field("owner"), owners[rng.Intn(len(owners))])
		case 1:
			return ops[rng.Intn(len(ops))](queryir.Field("priority"), rng.Intn(6))
		default:
			return queryir.Eq(queryir.Field("done"), rng.Intn(2) == 0)
		}
	}

	for i := 0; i < 200; i++ {
		var where queryir.Expr
		switch rng.Intn(3) {
		case 0:
			where = randomPred()
		case 1:
			where = queryir.And(randomPred(), randomPred())
		default:
			where = queryir.Or(randomPred(), randomPred())
		}

		got, ok, err := c.CurrentStateAsChanges(StateOptions{Where: where, OptimizedOnly: true})
		require.NoError(t, err)
		require.True(t, ok, queryir.Format(where))

		pred := queryir.MustCompileFilter(where)
		var want []ir.Key
		for _, row := range c.Values() {
			if pred(row) {
				want = append(want, c.KeyOf(row))
			}
		}
		assert.Equal(t, len(want), len(got), queryir.Format(where))
		if len(want) > 0 {
			assert.Equal(t, want, keysOf(got), queryir.Format(where))
		}
	}
}

func TestSubscription_BatchKeepsWriteOrder(t *testing.T) {
	c, src := newTodos(t, Config{})
	rec := &recorder{}
	_, err := c.SubscribeChanges(rec.listen, SubscribeOptions{})
	require.NoError(t, err)

	src.mustCommit(t, insertMsg(todo(3, "c", false)), insertMsg(todo(1, "a", false)), insertMsg(todo(2, "b", false)))
	assert.Equal(t, []ir.Key{ir.IRInt(3), ir.IRInt(1), ir.IRInt(2)}, keysOf(rec.last()))

	tx, err := txn.NewManager().New(func(context.Context, *txn.Transaction) error { return nil }, txn.WithAutoCommit(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })

	_, err = c.Insert(txn.WithTransaction(context.Background(), tx), todo(9, "i", false), todo(5, "e", false))
	require.NoError(t, err)
	assert.Equal(t, []ir.Key{ir.IRInt(9), ir.IRInt(5)}, keysOf(rec.last()))
}
