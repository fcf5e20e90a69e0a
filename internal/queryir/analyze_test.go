package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livedb/internal/ir"
)

func TestConjuncts(t *testing.T) {
	a := Eq(Field("t", "a"), 1)
	b := Gt(Field("t", "b"), 2)
	c := Or(Eq(Field("t", "c"), 3), Eq(Field("t", "d"), 4))

	got := Conjuncts(And(a, And(b, c)))
	require.Len(t, got, 3)
	assert.Same(t, a, got[0])
	assert.Same(t, b, got[1])
	assert.Same(t, c, got[2], "or stays opaque")

	assert.Nil(t, Conjuncts(nil))
	assert.Nil(t, AndAll(nil))
	assert.Same(t, a, AndAll([]Expr{a}))
	assert.Equal(t, "and(eq(t.a, 1), gt(t.b, 2))", Format(AndAll([]Expr{a, b})))
}

func TestSources(t *testing.T) {
	expr := And(Eq(Field("users", "id"), Field("posts", "author_id")), Gt(Field("posts", "views"), 10))
	assert.Equal(t, []string{"posts", "users"}, Sources(expr))
	assert.Empty(t, Sources(Lit(1)))
}

func TestStripSource(t *testing.T) {
	expr := And(Eq(Field("todos", "done"), false), Eq(Field("users", "id"), 1))
	got := StripSource(expr, "todos")

	assert.Equal(t, "and(eq(done, false), eq(users.id, 1))", Format(got))
	assert.Equal(t, "and(eq(todos.done, false), eq(users.id, 1))", Format(expr), "input untouched")
}

func TestAsFieldComparison(t *testing.T) {
	fc, ok := AsFieldComparison(Gt(Field("age"), 18))
	require.True(t, ok)
	assert.Equal(t, FieldComparison{Op: FuncGt, Path: []string{"age"}, Value: ir.IRInt(18)}, fc)

	fc, ok = AsFieldComparison(Gt(18, Field("age")))
	require.True(t, ok)
	assert.Equal(t, FuncLt, fc.Op, "operator flips when the literal comes first")

	fc, ok = AsFieldComparison(InArray(Field("status"), []any{"a", "b"}))
	require.True(t, ok)
	assert.Equal(t, FuncIn, fc.Op)

	_, ok = AsFieldComparison(Eq(Length(Field("name")), 3))
	assert.False(t, ok, "computed expressions are not field comparisons")

	_, ok = AsFieldComparison(Not(Eq(Field("a"), 1)))
	assert.False(t, ok)
}

func TestContainsAggregate(t *testing.T) {
	assert.True(t, ContainsAggregate(Gt(Count(Field("o", "id")), 2)))
	assert.False(t, ContainsAggregate(Gt(Field("o", "id"), 2)))
}

func TestFormat(t *testing.T) {
	expr := And(Eq(Field("todos", "title"), "milk"), InArray(Field("todos", "id"), []any{1, 2}))
	assert.Equal(t, `and(eq(todos.title, "milk"), in(todos.id, [1,2]))`, Format(expr))
	assert.Equal(t, "count()", Format(CountAll()))
}
