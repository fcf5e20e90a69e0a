package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare_TypeOrder(t *testing.T) {
	ordered := []IRValue{
		nil,
		Null,
		IRBool(false),
		IRBool(true),
		IRInt(-1),
		IRFloat(0.5),
		IRInt(1),
		IRString("a"),
		IRString("b"),
		IRArray{IRInt(1)},
		IRArray{IRInt(1), IRInt(0)},
		IRObject{"a": IRInt(1)},
	}

	for i := range ordered {
		for j := range ordered {
			got := Compare(ordered[i], ordered[j])
			switch {
			case i < j:
				assert.Equal(t, -1, got, "%v vs %v", ordered[i], ordered[j])
			case i > j:
				assert.Equal(t, 1, got, "%v vs %v", ordered[i], ordered[j])
			default:
				assert.Equal(t, 0, got)
			}
		}
	}
}

func TestEqual_NumbersAcrossRepresentations(t *testing.T) {
	assert.True(t, Equal(IRInt(2), IRFloat(2)))
	assert.False(t, Equal(IRInt(2), IRFloat(2.5)))
	assert.False(t, Equal(IRInt(2), IRString("2")))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, Null))
}

func TestEqual_Nested(t *testing.T) {
	a := IRObject{"tags": IRArray{IRString("x"), IRInt(1)}}
	b := IRObject{"tags": IRArray{IRString("x"), IRFloat(1)}}
	c := IRObject{"tags": IRArray{IRString("x")}}

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
}
