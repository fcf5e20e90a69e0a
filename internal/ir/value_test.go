package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRValueSealed(t *testing.T) {
	var _ IRValue = IRNull{}
	var _ IRValue = IRString("test")
	var _ IRValue = IRInt(42)
	var _ IRValue = IRFloat(1.5)
	var _ IRValue = IRBool(true)
	var _ IRValue = IRArray{IRString("a"), IRInt(1)}
	var _ IRValue = IRObject{"key": IRString("value")}
}

func TestIRObjectSortedKeysRFC8785Order(t *testing.T) {
	obj := IRObject{
		"a":  IRInt(1),
		"A":  IRInt(2),
		"aa": IRInt(3),
		"aA": IRInt(4),
		"Aa": IRInt(5),
		"AA": IRInt(6),
	}

	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aA", "aa"}, obj.SortedKeys())
}

func TestFromAny(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want IRValue
	}{
		{"nil is null", nil, Null},
		{"string", "milk", IRString("milk")},
		{"int", 7, IRInt(7)},
		{"integral float64", float64(3), IRInt(3)},
		{"fractional float64", 2.5, IRFloat(2.5)},
		{"json int", json.Number("12"), IRInt(12)},
		{"json float", json.Number("1.25"), IRFloat(1.25)},
		{"bool", true, IRBool(true)},
		{"slice", []any{"a", 1}, IRArray{IRString("a"), IRInt(1)}},
		{"map", map[string]any{"done": false}, IRObject{"done": IRBool(false)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromAny_Unsupported(t *testing.T) {
	_, err := FromAny(struct{}{})
	assert.Error(t, err)

	_, err = FromAny(map[any]any{1: "x"})
	assert.Error(t, err)
}

func TestIRObjectJSONRoundTrip(t *testing.T) {
	row := IRObject{
		"id":    IRInt(1),
		"title": IRString("buy milk"),
		"score": IRFloat(0.5),
		"tags":  IRArray{IRString("home")},
		"owner": Null,
	}

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"owner":null,"score":0.5,"tags":["home"],"title":"buy milk"}`, string(data))

	var back IRObject
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, Equal(row, back))
}

func TestIRObjectCloneIsDeep(t *testing.T) {
	row := IRObject{"meta": IRObject{"n": IRInt(1)}, "tags": IRArray{IRString("a")}}
	clone := row.Clone()

	clone["meta"].(IRObject)["n"] = IRInt(2)
	clone["tags"].(IRArray)[0] = IRString("b")

	assert.Equal(t, IRInt(1), row["meta"].(IRObject)["n"])
	assert.Equal(t, IRString("a"), row["tags"].(IRArray)[0])
}

func TestIRObjectMerge(t *testing.T) {
	row := IRObject{"id": IRInt(1), "done": IRBool(false)}
	merged := row.Merge(IRObject{"done": IRBool(true), "note": IRString("x")})

	assert.Equal(t, IRObject{"id": IRInt(1), "done": IRBool(true), "note": IRString("x")}, merged)
	assert.Equal(t, IRBool(false), row["done"])
}

func TestGetPath(t *testing.T) {
	row := IRObject{"user": IRObject{"name": IRString("ada"), "team": Null}}

	v, ok := GetPath(row, []string{"user", "name"})
	assert.True(t, ok)
	assert.Equal(t, IRString("ada"), v)

	v, ok = GetPath(row, []string{"user", "team"})
	assert.True(t, ok)
	assert.Equal(t, Null, v)

	_, ok = GetPath(row, []string{"user", "team", "id"})
	assert.False(t, ok)

	_, ok = GetPath(row, []string{"missing"})
	assert.False(t, ok)
}

func TestSetPath(t *testing.T) {
	row := IRObject{"id": IRInt(1)}
	out := SetPath(row, []string{"meta", "seen"}, IRBool(true))

	v, ok := GetPath(out, []string{"meta", "seen"})
	require.True(t, ok)
	assert.Equal(t, IRBool(true), v)
	_, ok = row["meta"]
	assert.False(t, ok)
}

func TestKeys(t *testing.T) {
	assert.NoError(t, ValidateKey(IRString("a")))
	assert.NoError(t, ValidateKey(IRInt(1)))
	assert.Error(t, ValidateKey(IRFloat(1.5)))
	assert.Error(t, ValidateKey(nil))

	assert.Equal(t, IRString(`[1,"b"]`), CompositeKey(IRInt(1), IRString("b")))
	assert.Equal(t, IRString(`[1,null]`), CompositeKey(IRInt(1), nil))

	keys := []Key{IRString("b"), IRInt(2), IRString("a"), IRInt(1)}
	SortKeys(keys)
	assert.Equal(t, []Key{IRInt(1), IRInt(2), IRString("a"), IRString("b")}, keys)
}
