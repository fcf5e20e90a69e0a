package index

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/queryir"
	"github.com/roach88/livedb/internal/testutil"
)

func newAgeIndex(t *testing.T) *BTreeIndex {
	t.Helper()
	x, err := NewBTreeIndex("idx-1", "age")
	require.NoError(t, err)

	x.Add(ir.IRInt(1), ir.IRObject{"age": ir.IRInt(30)})
	x.Add(ir.IRInt(2), ir.IRObject{"age": ir.IRInt(25)})
	x.Add(ir.IRInt(3), ir.IRObject{"age": ir.IRInt(30)})
	x.Add(ir.IRInt(4), ir.IRObject{"age": ir.Null})
	x.Add(ir.IRInt(5), ir.IRObject{"name": ir.IRString("no age")})
	x.Add(ir.IRInt(6), ir.IRObject{"age": ir.IRFloat(40.5)})
	return x
}

func TestNewBTreeIndex_EmptyPath(t *testing.T) {
	_, err := NewBTreeIndex("idx")
	require.Error(t, err)

	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ErrCodeInvalidPath, ie.Code)
}

func TestBTreeIndex_Lookup(t *testing.T) {
	x := newAgeIndex(t)

	tests := []struct {
		name    string
		op      string
		operand ir.IRValue
		want    []ir.Key
	}{
		{"eq", queryir.FuncEq, ir.IRInt(30), []ir.Key{ir.IRInt(1), ir.IRInt(3)}},
		{"eq float matches int", queryir.FuncEq, ir.IRFloat(25), []ir.Key{ir.IRInt(2)}},
		{"eq miss", queryir.FuncEq, ir.IRInt(99), []ir.Key{}},
		{"eq null matches nothing", queryir.FuncEq, ir.Null, []ir.Key{}},
		{"gt", queryir.FuncGt, ir.IRInt(25), []ir.Key{ir.IRInt(1), ir.IRInt(3), ir.IRInt(6)}},
		{"gte", queryir.FuncGte, ir.IRInt(30), []ir.Key{ir.IRInt(1), ir.IRInt(3), ir.IRInt(6)}},
		{"lt skips null and undefined", queryir.FuncLt, ir.IRInt(30), []ir.Key{ir.IRInt(2)}},
		{"lte", queryir.FuncLte, ir.IRInt(30), []ir.Key{ir.IRInt(1), ir.IRInt(2), ir.IRInt(3)}},
		{"gt null matches nothing", queryir.FuncGt, ir.Null, []ir.Key{}},
		{"in", queryir.FuncIn, ir.IRArray{ir.IRInt(25), ir.IRFloat(40.5), ir.Null}, []ir.Key{ir.IRInt(2), ir.IRInt(6)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := x.Lookup(tt.op, tt.operand)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Sorted())
		})
	}

	assert.Equal(t, int64(len(tests)), x.Stats().Lookups)
}

func TestBTreeIndex_Lookup_Errors(t *testing.T) {
	x := newAgeIndex(t)

	_, err := x.Lookup(queryir.FuncLike, ir.IRString("%"))
	require.Error(t, err)
	assert.True(t, IsUnsupported(err))
	assert.False(t, x.Supports(queryir.FuncLike))

	_, err = x.Lookup(queryir.FuncIn, ir.IRInt(1))
	require.Error(t, err)
	assert.False(t, IsUnsupported(err))
}

func TestBTreeIndex_UpdateAndRemove(t *testing.T) {
	x := newAgeIndex(t)

	x.Update(ir.IRInt(1), ir.IRObject{"age": ir.IRInt(26)})
	got, err := x.Lookup(queryir.FuncEq, ir.IRInt(30))
	require.NoError(t, err)
	assert.Equal(t, []ir.Key{ir.IRInt(3)}, got.Sorted())

	x.Remove(ir.IRInt(3))
	got, err = x.Lookup(queryir.FuncEq, ir.IRInt(30))
	require.NoError(t, err)
	assert.Empty(t, got)

	x.Remove(ir.IRInt(42)) // unknown keys are ignored

	stats := x.Stats()
	assert.Equal(t, 5, stats.Entries)
	assert.Equal(t, 5, stats.DistinctValues, "undefined, null, 25, 26, 40.5")
}

func TestBTreeIndex_BuildAndClear(t *testing.T) {
	x, err := NewBTreeIndex("idx", "user", "name")
	require.NoError(t, err)

	x.Build(map[ir.Key]ir.IRObject{
		ir.IRString("a"): {"user": ir.IRObject{"name": ir.IRString("ada")}},
		ir.IRString("b"): {"user": ir.IRObject{"name": ir.IRString("bob")}},
	})
	got, err := x.Lookup(queryir.FuncEq, ir.IRString("bob"))
	require.NoError(t, err)
	assert.Equal(t, []ir.Key{ir.IRString("b")}, got.Sorted())
	assert.Equal(t, "user.name", x.Signature())

	x.Clear()
	assert.Equal(t, Stats{Lookups: 1}, x.Stats())
}

func TestBTreeIndex_RangeQuery(t *testing.T) {
	x := newAgeIndex(t)

	got := x.RangeQuery(RangeOptions{From: ir.IRInt(25), To: ir.IRInt(30), FromInclusive: true})
	assert.Equal(t, []ir.Key{ir.IRInt(2)}, got.Sorted())

	got = x.RangeQuery(RangeOptions{From: ir.IRInt(25), To: ir.IRInt(30), ToInclusive: true})
	assert.Equal(t, []ir.Key{ir.IRInt(1), ir.IRInt(3)}, got.Sorted())

	got = x.RangeQuery(RangeOptions{})
	assert.Len(t, got, 4, "open range skips null and undefined")
}

func TestBTreeIndex_Take(t *testing.T) {
	x := newAgeIndex(t)

	// Ascending order: undefined(5), null(4), 25(2), 30(1,3), 40.5(6)
	assert.Equal(t, []ir.Key{ir.IRInt(5), ir.IRInt(4), ir.IRInt(2)}, x.Take(3, nil, nil))
	assert.Equal(t, []ir.Key{ir.IRInt(1), ir.IRInt(3)}, x.Take(2, ir.IRInt(25), nil))
	assert.Equal(t, []ir.Key{ir.IRInt(2), ir.IRInt(1)}, x.TakeFrom(2, ir.IRInt(25), nil))

	skipOne := func(k ir.Key) bool { return k != ir.IRInt(1) }
	assert.Equal(t, []ir.Key{ir.IRInt(3), ir.IRInt(6)}, x.Take(5, ir.IRInt(25), skipOne))

	assert.Equal(t, []ir.Key{ir.IRInt(6), ir.IRInt(3)}, x.TakeReversed(2, nil, nil))
	assert.Equal(t, []ir.Key{ir.IRInt(2), ir.IRInt(4)}, x.TakeReversed(2, ir.IRInt(30), nil))
	assert.Equal(t, []ir.Key{ir.IRInt(3), ir.IRInt(1), ir.IRInt(2)}, x.TakeReversedFrom(3, ir.IRInt(30), nil))
	assert.Empty(t, x.Take(0, nil, nil))

	minVal, ok := x.Min()
	require.True(t, ok)
	assert.Equal(t, ir.IRInt(25), minVal)
}

// TestBTreeIndex_MatchesScan checks every supported lookup against a full scan
// evaluated with queryir.Matches over randomized rows.
func TestBTreeIndex_MatchesScan(t *testing.T) {
	rows, err := testutil.FakeTodos(200)
	require.NoError(t, err)

	x, err := NewBTreeIndex("idx", "priority")
	require.NoError(t, err)

	state := make(map[ir.Key]ir.IRObject, len(rows))
	for _, row := range rows {
		state[row["id"]] = row
	}
	// Sprinkle nulls and missing values.
	rng := rand.New(rand.NewSource(7))
	for k, row := range state {
		switch rng.Intn(10) {
		case 0:
			row["priority"] = ir.Null
		case 1:
			delete(row, "priority")
		}
		state[k] = row
	}
	x.Build(state)

	ops := []string{queryir.FuncEq, queryir.FuncGt, queryir.FuncGte, queryir.FuncLt, queryir.FuncLte}
	for _, op := range ops {
		for p := 0; p <= 6; p++ {
			operand := ir.IRInt(p)

			want := KeySet{}
			for k, row := range state {
				v, _ := ir.GetPath(row, []string{"priority"})
				if queryir.Matches(op, v, operand) {
					want.Add(k)
				}
			}

			got, err := x.Lookup(op, operand)
			require.NoError(t, err)
			assert.Equal(t, want.Sorted(), got.Sorted(), "%s %d", op, p)
		}
	}
}
