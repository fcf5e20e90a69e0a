package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/queryir"
)

func newSource(t *testing.T, id, key string, mode collection.AutoIndexMode, rows ...ir.IRObject) *collection.Collection {
	t.Helper()
	lo, err := collection.NewLocalOnly(collection.LocalOnlyConfig{
		ID:          id,
		GetKey:      collection.KeyField(key),
		InitialData: rows,
		AutoIndex:   mode,
	})
	require.NoError(t, err)
	return lo.Collection
}

func todoRows(n int) []ir.IRObject {
	owners := []string{"ada", "grace", "linus"}
	rows := make([]ir.IRObject, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, ir.IRObject{
			"id":       ir.IRInt(i),
			"owner":    ir.IRString(owners[i%len(owners)]),
			"priority": ir.IRInt(i % 5),
			"done":     ir.IRBool(i == 1),
			"title":    ir.IRString("todo"),
		})
	}
	return rows
}

func userRows() []ir.IRObject {
	return []ir.IRObject{
		{"name": ir.IRString("ada"), "team": ir.IRString("core")},
		{"name": ir.IRString("grace"), "team": ir.IRString("infra")},
		{"name": ir.IRString("linus"), "team": ir.IRString("core")},
	}
}

func field(path ...string) *queryir.Ref { return queryir.Field(path...) }
