package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livedb/internal/ir"
)

func TestFakeTodos(t *testing.T) {
	rows, err := FakeTodos(20)
	require.NoError(t, err)
	require.Len(t, rows, 20)

	for i, row := range rows {
		assert.Equal(t, ir.IRInt(i+1), row["id"])

		p, ok := row["priority"].(ir.IRInt)
		require.True(t, ok)
		assert.GreaterOrEqual(t, int64(p), int64(1))
		assert.LessOrEqual(t, int64(p), int64(5))

		assert.Contains(t, []ir.IRValue{
			ir.IRString("ada"), ir.IRString("grace"), ir.IRString("linus"), ir.IRString("barbara"),
		}, row["owner"])
	}
}

func TestFakeUsers(t *testing.T) {
	rows, err := FakeUsers()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ir.IRString("ada"), rows[0]["name"])
}
