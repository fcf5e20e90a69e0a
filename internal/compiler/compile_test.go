package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/query"
	"github.com/roach88/livedb/internal/queryir"
)

func TestCompileFiles(t *testing.T) {
	defs, err := CompileFiles("testdata/todos.cue")
	require.NoError(t, err)

	require.Len(t, defs.Collections, 2)
	todos := defs.Collections[0]
	assert.Equal(t, "todos", todos.Name)
	assert.Equal(t, []string{"id"}, todos.Key)
	assert.Equal(t, StorageMemory, todos.Storage)
	assert.Equal(t, collection.AutoIndexEager, todos.AutoIndex)
	assert.Equal(t, [][]string{{"owner"}, {"meta", "priority"}}, todos.Indexes)
	require.Len(t, todos.Rows, 3)
	assert.Equal(t, ir.IRObject{
		"id":    ir.IRInt(2),
		"title": ir.IRString("fix build"),
		"owner": ir.IRString("grace"),
		"done":  ir.IRBool(true),
		"meta":  ir.IRObject{"priority": ir.IRInt(1)},
	}, todos.Rows[1])

	assert.Equal(t, []string{"open", "withOwner", "perOwner"}, defs.QueryNames())
	assert.Empty(t, Validate(defs))
}

func TestCompileCollection(t *testing.T) {
	defs, err := CompileString("defs.cue", `
		collection: tasks: {
			key:     ["project", "id"]
			storage: "sqlite"
			where:   {eq: ["$archived", false]}
			gcTime:  "5m"
		}
		collection: scratch: {
			key:     "id"
			storage: "bolt"
			bucket:  "shared"
			gcTime:  "off"
		}
	`)
	require.NoError(t, err)
	require.Len(t, defs.Collections, 2)

	tasks := defs.Collections[0]
	assert.Equal(t, StorageSQLite, tasks.Storage)
	assert.Equal(t, "eq(archived, false)", queryir.Format(tasks.Where))
	assert.Equal(t, "5m0s", tasks.GCTime.String())

	key := tasks.GetKey()(ir.IRObject{"project": ir.IRString("p"), "id": ir.IRInt(1)})
	assert.Equal(t, ir.CompositeKey(ir.IRString("p"), ir.IRInt(1)), key)

	scratch := defs.Collections[1]
	assert.Equal(t, "shared", scratch.Bucket)
	assert.Negative(t, scratch.GCTime)
}

func TestCompileQuery(t *testing.T) {
	defs, err := CompileString("defs.cue", `
		query: q: {
			from: {alias: "t", source: "todos"}
			join: [{alias: "u", source: "users", on: {eq: ["$t.owner", "$u.name"]}}]
			where: {and: [{eq: ["$t.done", false]}, {"in": ["$u.team", ["core", "infra"]]}]}
			select: {
				b: "$t.title"
				a: {upper: "$u.name"}
			}
			orderBy: ["$t.id", {expr: "$u.name", dir: "desc"}]
			limit:  5
			offset: 2
		}
	`)
	require.NoError(t, err)
	require.Len(t, defs.Queries, 1)

	q := defs.Queries[0]
	assert.Equal(t, SourceDef{Alias: "t", Source: "todos", Pos: q.From.Pos}, q.From)
	require.Len(t, q.Joins, 1)
	assert.Equal(t, query.InnerJoin, q.Joins[0].Kind)
	assert.Equal(t, `and(eq(t.done, false), in(u.team, ["core","infra"]))`, queryir.Format(q.Where))

	require.Len(t, q.Select, 2)
	assert.Equal(t, "b", q.Select[0].Name, "select keeps declaration order")
	assert.Equal(t, "a", q.Select[1].Name)

	require.Len(t, q.OrderBy, 2)
	assert.Equal(t, query.Asc, q.OrderBy[0].Direction)
	assert.Equal(t, query.Desc, q.OrderBy[1].Direction)
	assert.Equal(t, 5, q.Limit)
	assert.Equal(t, 2, q.Offset)
	assert.False(t, q.FindOne)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"query missing from", `query: q: {where: true}`, "query.q.from"},
		{"storage not a string", `collection: c: {key: "id", storage: 1}`, "collection.c.storage"},
		{"bad duration", `collection: c: {key: "id", gcTime: "soon"}`, "collection.c.gcTime"},
		{"row not a struct", `collection: c: {key: "id", rows: [1]}`, "collection.c.rows[0]"},
		{"unknown operator", `query: q: {from: "c", where: {nope: [1]}}`, "query.q.where"},
		{"two-field expression", `query: q: {from: "c", where: {eq: [1, 1], gt: [1, 0]}}`, "query.q.where"},
		{"empty reference", `query: q: {from: "c", where: {eq: ["$a..b", 1]}}`, "query.q.where.eq[0]"},
		{"incomplete value", `query: q: {from: "c", limit: int}`, "query.q.limit"},
		{"join without on", `query: q: {from: "c", join: [{source: "d"}]}`, "query.q.join[0].on"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileString("defs.cue", tt.src)
			require.Error(t, err)
			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompile_CUEErrorHasPosition(t *testing.T) {
	_, err := CompileString("defs.cue", "collection: c: {key: \"id\"}\ncollection: c: key: \"other\"\n")
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "cue", ce.Field)
	assert.True(t, ce.Pos.IsValid())
	assert.Contains(t, err.Error(), "defs.cue:")
}

func TestCompile_Empty(t *testing.T) {
	defs, err := CompileString("defs.cue", `other: 1`)
	require.NoError(t, err)
	assert.Empty(t, defs.Collections)
	assert.Empty(t, defs.Queries)
}
