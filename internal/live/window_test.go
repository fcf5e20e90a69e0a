package live

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/query"
	"github.com/roach88/livedb/internal/queryir"
)

// topK orders rows by priority then id and returns the ids of the page.
func topK(rows []ir.IRObject, desc bool, offset, limit int) []int64 {
	sorted := slices.Clone(rows)
	slices.SortFunc(sorted, func(a, b ir.IRObject) int {
		c := ir.Compare(a["priority"], b["priority"])
		if c == 0 {
			c = ir.Compare(a["id"], b["id"])
		}
		if desc {
			return -c
		}
		return c
	})
	if offset > len(sorted) {
		offset = len(sorted)
	}
	sorted = sorted[offset:]
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return ids(sorted)
}

func TestQuery_OrderedWindow(t *testing.T) {
	tests := []struct {
		dir    query.Direction
		offset int
		limit  int
	}{
		{dir: query.Asc, limit: 3},
		{dir: query.Asc, offset: 2, limit: 3},
		{dir: query.Desc, limit: 4},
		{dir: query.Desc, offset: 1, limit: 2},
	}

	for _, tt := range tests {
		for _, mode := range []collection.AutoIndexMode{collection.AutoIndexEager, collection.AutoIndexOff} {
			t.Run(fmt.Sprintf("%s/offset=%d/limit=%d/%s", tt.dir, tt.offset, tt.limit, mode), func(t *testing.T) {
				rows, _ := fakeData(t, 40)
				todos := newSource(t, "todos", "id", mode, rows...)
				q := start(t, query.From("t", todos.Collection).
					OrderBy(field("t", "priority"), tt.dir).
					Offset(tt.offset).
					Limit(tt.limit).
					MustBuild())

				desc := tt.dir == query.Desc
				check := func(step string) {
					t.Helper()
					assert.Equal(t, topK(todos.all(), desc, tt.offset, tt.limit), ids(q.Rows()), step)
					assert.Len(t, result(q), tt.limit, step)
				}

				windowed := mode == collection.AutoIndexEager
				if windowed {
					require.NotNil(t, q.Plan().Window)
					assert.Equal(t, query.AccessWindow, q.Plan().Sources[0].Access)
					assert.Equal(t, tt.offset+tt.limit, q.Plan().Window.Size)
					assert.Equal(t, int64(1), q.Stats().WindowLoads)
					assert.Less(t, len(q.inputs[0].rows), 40, "only a page is loaded")
				} else {
					assert.Nil(t, q.Plan().Window)
				}
				check("initial")

				first := topK(todos.all(), desc, 0, 1)[0]
				todos.remove(t, ir.IRInt(first))
				check("window row deleted")

				edge, far := -1, 100
				if desc {
					edge, far = far, edge
				}
				todos.upsert(t, todo(100, "ada", edge, false))
				check("row inserted at the front")

				// The last row in order was never loaded.
				last := topK(todos.all(), !desc, 0, 1)[0]
				moved := todos.row(t, ir.IRInt(last))
				moved["priority"] = ir.IRInt(edge)
				todos.upsert(t, moved)
				check("unloaded row moves into the window")

				sunk := todos.row(t, ir.IRInt(100))
				sunk["priority"] = ir.IRInt(far)
				todos.upsert(t, sunk)
				check("window row moves past the frontier")

				front := topK(todos.all(), desc, 0, 2)
				todos.remove(t, ir.IRInt(front[0]), ir.IRInt(front[1]))
				check("two window rows deleted")
			})
		}
	}
}

func TestQuery_WindowExhausted(t *testing.T) {
	todos := newSource(t, "todos", "id", collection.AutoIndexEager,
		todo(1, "ada", 2, false),
		todo(2, "ada", 1, false),
	)
	q := start(t, query.From("t", todos.Collection).
		OrderBy(field("t", "priority"), query.Asc).
		Limit(5).
		MustBuild())

	assert.Equal(t, []int64{2, 1}, ids(q.Rows()))
	assert.True(t, q.inputs[0].exhausted)

	todos.upsert(t, todo(3, "grace", 0, false))
	assert.Equal(t, []int64{3, 2, 1}, ids(q.Rows()))
	assert.Equal(t, int64(1), q.Stats().WindowLoads, "new rows arrive without loading")
}

func TestQuery_WindowWithPushdown(t *testing.T) {
	rows, _ := fakeData(t, 30)
	todos := newSource(t, "todos", "id", collection.AutoIndexEager, rows...)
	q := start(t, query.From("t", todos.Collection).
		Where(queryir.Eq(field("t", "done"), false)).
		OrderBy(field("t", "priority"), query.Desc).
		Limit(3).
		MustBuild())

	open := func() []ir.IRObject {
		var out []ir.IRObject
		for _, r := range todos.all() {
			if r["done"] == ir.IRBool(false) {
				out = append(out, r)
			}
		}
		return out
	}

	require.NotNil(t, q.Plan().Window)
	assert.Equal(t, topK(open(), true, 0, 3), ids(q.Rows()))

	for _, id := range topK(open(), true, 0, 2) {
		closed := todos.row(t, ir.IRInt(id))
		closed["done"] = ir.IRBool(true)
		todos.upsert(t, closed)
	}
	assert.Equal(t, topK(open(), true, 0, 3), ids(q.Rows()))
}

func TestQuery_JoinWithLimit(t *testing.T) {
	todos := newSource(t, "todos", "id", collection.AutoIndexEager,
		todo(1, "ada", 1, false),
		todo(2, "grace", 4, false),
		todo(3, "linus", 3, false),
		todo(4, "ada", 2, false),
	)
	users := newSource(t, "users", "name", collection.AutoIndexEager,
		user("ada", "core"),
		user("grace", "infra"),
	)
	q := start(t, query.From("t", todos.Collection).
		InnerJoin("u", users.Collection, queryir.Eq(field("t", "owner"), field("u", "name"))).
		Select(query.As("id", field("t", "id")), query.As("team", field("u", "team"))).
		OrderBy(field("t", "priority"), query.Desc).
		Limit(2).
		MustBuild())

	assert.Nil(t, q.Plan().Window)
	assert.Equal(t, []int64{2, 4}, ids(q.Rows()))

	users.remove(t, ir.IRString("grace"))
	assert.Equal(t, []int64{4, 1}, ids(q.Rows()))

	users.upsert(t, user("linus", "web"))
	assert.Equal(t, []ir.IRObject{
		{"id": ir.IRInt(3), "team": ir.IRString("web")},
		{"id": ir.IRInt(4), "team": ir.IRString("core")},
	}, q.Rows())
	assert.Len(t, result(q), 2)
}
