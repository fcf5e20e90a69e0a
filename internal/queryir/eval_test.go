package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livedb/internal/ir"
)

func row() ir.IRValue {
	return ir.IRObject{
		"todos": ir.IRObject{
			"id":       ir.IRInt(1),
			"title":    ir.IRString("Buy milk"),
			"done":     ir.IRBool(false),
			"priority": ir.IRInt(3),
			"owner":    ir.Null,
			"tags":     ir.IRArray{ir.IRString("home"), ir.IRString("errand")},
		},
	}
}

func eval(t *testing.T, expr Expr) ir.IRValue {
	t.Helper()
	ev, err := Compile(expr)
	require.NoError(t, err)
	return ev(row())
}

func TestCompile_Comparisons(t *testing.T) {
	tests := []struct {
		name string
		expr Expr
		want ir.IRValue
	}{
		{"eq match", Eq(Field("todos", "done"), false), ir.IRBool(true)},
		{"eq mismatch", Eq(Field("todos", "priority"), 4), ir.IRBool(false)},
		{"gt", Gt(Field("todos", "priority"), 2), ir.IRBool(true)},
		{"gte", Gte(Field("todos", "priority"), 3), ir.IRBool(true)},
		{"lt", Lt(Field("todos", "priority"), 3), ir.IRBool(false)},
		{"lte literal first", Lte(5, Field("todos", "priority")), ir.IRBool(false)},
		{"int vs float", Eq(Field("todos", "priority"), 3.0), ir.IRBool(true)},
		{"eq null is null", Eq(Field("todos", "owner"), "ada"), ir.Null},
		{"eq undefined is null", Eq(Field("todos", "missing"), 1), ir.Null},
		{"gt null is null", Gt(Field("todos", "owner"), 1), ir.Null},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eval(t, tt.expr))
		})
	}
}

func TestCompile_ThreeValuedLogic(t *testing.T) {
	unknown := Eq(Field("todos", "owner"), "x")
	yes := Eq(Field("todos", "id"), 1)
	no := Eq(Field("todos", "id"), 2)

	tests := []struct {
		name string
		expr Expr
		want ir.IRValue
	}{
		{"and true true", And(yes, yes), ir.IRBool(true)},
		{"and false null", And(no, unknown), ir.IRBool(false)},
		{"and true null", And(yes, unknown), ir.Null},
		{"or true null", Or(unknown, yes), ir.IRBool(true)},
		{"or false null", Or(no, unknown), ir.Null},
		{"or false false", Or(no, no), ir.IRBool(false)},
		{"not null", Not(unknown), ir.Null},
		{"not true", Not(yes), ir.IRBool(false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eval(t, tt.expr))
		})
	}
}

func TestCompile_Functions(t *testing.T) {
	tests := []struct {
		name string
		expr Expr
		want ir.IRValue
	}{
		{"in match", InArray(Field("todos", "priority"), []any{1, 3}), ir.IRBool(true)},
		{"in miss", InArray(Field("todos", "priority"), []any{1, 2}), ir.IRBool(false)},
		{"in null needle", InArray(Field("todos", "owner"), []any{1}), ir.Null},
		{"in non-array", InArray(Field("todos", "priority"), 3), ir.IRBool(false)},
		{"like prefix", Like(Field("todos", "title"), "Buy%"), ir.IRBool(true)},
		{"like single char", Like(Field("todos", "title"), "Buy mil_"), ir.IRBool(true)},
		{"like case sensitive", Like(Field("todos", "title"), "buy%"), ir.IRBool(false)},
		{"ilike", ILike(Field("todos", "title"), "buy%"), ir.IRBool(true)},
		{"like regex chars", Like("a.b(c)", "a.b(%"), ir.IRBool(true)},
		{"like null", Like(Field("todos", "owner"), "%"), ir.Null},
		{"like non-string", Like(Field("todos", "id"), "%"), ir.IRBool(false)},
		{"isNull", IsNull(Field("todos", "owner")), ir.IRBool(true)},
		{"isNull undefined", IsNull(Field("todos", "missing")), ir.IRBool(false)},
		{"isUndefined", IsUndefined(Field("todos", "missing")), ir.IRBool(true)},
		{"upper", Upper(Field("todos", "title")), ir.IRString("BUY MILK")},
		{"lower non-string", Lower(Field("todos", "id")), ir.IRInt(1)},
		{"length string", Length(Field("todos", "title")), ir.IRInt(8)},
		{"length array", Length(Field("todos", "tags")), ir.IRInt(2)},
		{"length other", Length(Field("todos", "id")), ir.IRInt(0)},
		{"concat", Concat(Field("todos", "title"), "#", Field("todos", "id")), ir.IRString("Buy milk#1")},
		{"coalesce", Coalesce(Field("todos", "owner"), Field("todos", "missing"), "nobody"), ir.IRString("nobody")},
		{"coalesce all null", Coalesce(Field("todos", "owner")), ir.Null},
		{"add ints", Add(Field("todos", "priority"), 2), ir.IRInt(5)},
		{"add null as zero", Add(Field("todos", "owner"), 2), ir.IRInt(2)},
		{"add float", Add(Field("todos", "priority"), 0.5), ir.IRFloat(3.5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eval(t, tt.expr))
		})
	}
}

func TestCompileFilter(t *testing.T) {
	pred, err := CompileFilter(Eq(Field("todos", "owner"), "x"))
	require.NoError(t, err)
	assert.False(t, pred(row()), "null is not true")

	all, err := CompileFilter(nil)
	require.NoError(t, err)
	assert.True(t, all(row()))
}

func TestCompile_Errors(t *testing.T) {
	_, err := Compile(F("nope", Field("a")))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	_, err = Compile(Eq(Field(), 1))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrCodeEmptyRef, verr.Code)

	_, err = Compile(F(FuncEq, Field("a")))
	require.Error(t, err)

	_, err = Compile(Count(Field("todos", "id")))
	require.Error(t, err)
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches(FuncGt, ir.IRInt(3), ir.IRInt(2)))
	assert.False(t, Matches(FuncGt, ir.Null, ir.IRInt(2)))
	assert.True(t, Matches(FuncIn, ir.IRString("a"), ir.IRArray{ir.IRString("a")}))
}
