package live

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/query"
	"github.com/roach88/livedb/internal/queryir"
)

func TestQuery_FilterAndProject(t *testing.T) {
	todos := newSource(t, "todos", "id", collection.AutoIndexEager,
		todo(1, "ada", 1, false),
		todo(2, "grace", 2, true),
		todo(3, "linus", 3, false),
	)
	q := start(t, query.From("t", todos.Collection).
		Where(queryir.Eq(field("t", "done"), false)).
		Select(query.As("id", field("t", "id")), query.As("who", queryir.Upper(field("t", "owner")))).
		MustBuild())

	assert.Equal(t, collection.StatusReady, q.Status())
	assert.Equal(t, []ir.IRObject{
		{"id": ir.IRInt(1), "who": ir.IRString("ADA")},
		{"id": ir.IRInt(3), "who": ir.IRString("LINUS")},
	}, q.Rows())

	// Leaves the filter, enters the filter, new row, deleted row.
	todos.upsert(t, todo(1, "ada", 1, true), todo(2, "grace", 2, false), todo(4, "barbara", 1, false))
	todos.remove(t, ir.IRInt(3))

	want := map[ir.Key]ir.IRObject{
		ir.IRInt(2): {"id": ir.IRInt(2), "who": ir.IRString("GRACE")},
		ir.IRInt(4): {"id": ir.IRInt(4), "who": ir.IRString("BARBARA")},
	}
	assert.Equal(t, want, result(q))
	assert.Len(t, q.Rows(), 2)
}

func TestQuery_WithoutSelectReturnsSourceRows(t *testing.T) {
	todos := newSource(t, "todos", "id", collection.AutoIndexEager, todo(1, "ada", 1, false))
	q := start(t, query.From("t", todos.Collection).MustBuild())

	got, ok := q.Get(ir.IRInt(1))
	require.True(t, ok)
	assert.Equal(t, todo(1, "ada", 1, false), got)
}

func TestQuery_OneBatchPerSourceBatch(t *testing.T) {
	todos := newSource(t, "todos", "id", collection.AutoIndexEager, todo(1, "ada", 1, false), todo(2, "ada", 2, false))
	q := start(t, query.From("t", todos.Collection).
		Where(queryir.Eq(field("t", "done"), false)).
		MustBuild())
	rec := record(t, q)

	todos.upsert(t, todo(1, "ada", 1, true), todo(2, "ada", 5, false), todo(3, "ada", 3, false))

	batches := rec.all()
	require.Len(t, batches, 2, "initial rows, then one batch")
	types := map[ir.Key]collection.ChangeType{}
	for _, ch := range batches[1] {
		types[ch.Key] = ch.Type
	}
	assert.Equal(t, map[ir.Key]collection.ChangeType{
		ir.IRInt(1): collection.ChangeDelete,
		ir.IRInt(2): collection.ChangeUpdate,
		ir.IRInt(3): collection.ChangeInsert,
	}, types)

	// A batch that changes nothing visible emits nothing.
	todos.upsert(t, todo(1, "grace", 1, true))
	assert.Len(t, rec.all(), 2)
}

func TestQuery_FindOne(t *testing.T) {
	users := newSource(t, "users", "name", collection.AutoIndexEager, user("ada", "core"), user("grace", "infra"))
	q := start(t, query.From("u", users.Collection).
		Where(queryir.Eq(field("u", "team"), "infra")).
		FindOne().
		MustBuild())

	got, ok := q.Value()
	require.True(t, ok)
	assert.Equal(t, user("grace", "infra"), got)

	users.remove(t, ir.IRString("grace"))
	_, ok = q.Value()
	assert.False(t, ok)
}

func TestQuery_Readiness(t *testing.T) {
	todos := newPendingSource(t, "todos", "id", collection.AutoIndexEager)
	users := newSource(t, "users", "name", collection.AutoIndexEager, user("ada", "core"))
	q := start(t, query.From("t", todos.Collection).
		InnerJoin("u", users.Collection, queryir.Eq(field("t", "owner"), field("u", "name"))).
		MustBuild())

	assert.Equal(t, collection.StatusLoading, q.Status())

	// Rows flow before the source is ready.
	todos.upsert(t, todo(1, "ada", 1, false))
	assert.Len(t, q.Rows(), 1)
	assert.Equal(t, collection.StatusLoading, q.Status())

	todos.w.MarkReady()
	assert.Equal(t, collection.StatusReady, q.Status())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.WaitReady(ctx))
}

func TestQuery_SourceErrorKeepsRows(t *testing.T) {
	todos := newSource(t, "todos", "id", collection.AutoIndexEager, todo(1, "ada", 1, false))
	q := start(t, query.From("t", todos.Collection).MustBuild())

	todos.w.Fail(errors.New("connection lost"))

	assert.Equal(t, collection.StatusError, q.Status())
	assert.Len(t, q.Collection().Values(), 1)
	err := q.Collection().WaitReady(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection lost")
}

func TestQuery_Close(t *testing.T) {
	todos := newSource(t, "todos", "id", collection.AutoIndexEager, todo(1, "ada", 1, false))
	q := start(t, query.From("t", todos.Collection).MustBuild())

	q.Close()
	q.Close()

	assert.Equal(t, collection.StatusCleanedUp, q.Status())
	assert.ErrorIs(t, q.WaitReady(context.Background()), ErrClosed)

	// Later source changes are ignored.
	todos.upsert(t, todo(2, "ada", 1, false))
	assert.Len(t, q.Rows(), 1)
}

func TestQuery_ClosesWithContext(t *testing.T) {
	todos := newSource(t, "todos", "id", collection.AutoIndexEager, todo(1, "ada", 1, false))
	ctx, cancel := context.WithCancel(context.Background())
	q, err := New(ctx, query.From("t", todos.Collection).MustBuild())
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool { return q.Status() == collection.StatusCleanedUp }, time.Second, time.Millisecond)
}

func TestQuery_InvalidQuery(t *testing.T) {
	todos := newSource(t, "todos", "id", collection.AutoIndexEager)
	_, err := New(context.Background(), &query.Context{
		From:  query.FromClause{Alias: "t", Source: &query.CollectionSource{Collection: todos.Collection}},
		Where: []queryir.Expr{queryir.Eq(field("x", "done"), true)},
	})
	require.Error(t, err)
	assert.True(t, query.HasCode(err, query.ErrCodeUnknownAlias))
}

func TestQuery_DerivedCollectionIsQueryable(t *testing.T) {
	todos := newSource(t, "todos", "id", collection.AutoIndexEager,
		todo(1, "ada", 1, false),
		todo(2, "grace", 4, false),
		todo(3, "linus", 5, true),
	)
	open := start(t, query.From("t", todos.Collection).
		Where(queryir.Eq(field("t", "done"), false)).
		MustBuild())
	urgent := start(t, query.From("o", open.Collection()).
		Where(queryir.Gte(field("o", "priority"), 4)).
		MustBuild())

	assert.Equal(t, []int64{2}, ids(urgent.Rows()))

	todos.upsert(t, todo(3, "linus", 5, false))
	assert.Equal(t, []int64{2, 3}, ids(urgent.Rows()))
}
