package ir

import (
	"bytes"
	"strings"
)

// Type ranks for the total order. Undefined (nil) sorts before null.
const (
	rankUndefined = iota
	rankNull
	rankBool
	rankNumber
	rankString
	rankArray
	rankObject
)

func rank(v IRValue) int {
	switch v.(type) {
	case nil:
		return rankUndefined
	case IRNull:
		return rankNull
	case IRBool:
		return rankBool
	case IRInt, IRFloat:
		return rankNumber
	case IRString:
		return rankString
	case IRArray:
		return rankArray
	case IRObject:
		return rankObject
	default:
		return rankObject + 1
	}
}

// IsNullish reports whether v is undefined or null.
func IsNullish(v IRValue) bool {
	switch v.(type) {
	case nil, IRNull:
		return true
	}
	return false
}

// IsNumber reports whether v is an IRInt or IRFloat.
func IsNumber(v IRValue) bool {
	switch v.(type) {
	case IRInt, IRFloat:
		return true
	}
	return false
}

// AsFloat returns the numeric value of v as float64.
func AsFloat(v IRValue) (float64, bool) {
	switch val := v.(type) {
	case IRInt:
		return float64(val), true
	case IRFloat:
		return float64(val), true
	}
	return 0, false
}

// Compare returns -1, 0 or +1 ordering a before, equal to, or after b.
//
// Order: undefined < null < bool < number < string < array < object.
// Numbers compare numerically regardless of IRInt/IRFloat representation.
func Compare(a, b IRValue) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch av := a.(type) {
	case nil, IRNull:
		return 0
	case IRBool:
		bv := b.(IRBool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		}
		return 1
	case IRInt:
		if bv, ok := b.(IRInt); ok {
			return compareOrdered(av, bv)
		}
		return compareFloat(float64(av), float64(b.(IRFloat)))
	case IRFloat:
		bf, _ := AsFloat(b)
		return compareFloat(float64(av), bf)
	case IRString:
		return strings.Compare(string(av), string(b.(IRString)))
	case IRArray:
		bv := b.(IRArray)
		for i := 0; i < len(av) && i < len(bv); i++ {
			if c := Compare(av[i], bv[i]); c != 0 {
				return c
			}
		}
		return compareOrdered(len(av), len(bv))
	case IRObject:
		ab, _ := MarshalCanonical(av)
		bb, _ := MarshalCanonical(b)
		return bytes.Compare(ab, bb)
	}
	return 0
}

func compareOrdered[T ~int | ~int64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Equal reports deep equality under the total order (IRInt(1) equals IRFloat(1)).
func Equal(a, b IRValue) bool {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return false
	}
	switch av := a.(type) {
	case IRArray:
		bv := b.(IRArray)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case IRObject:
		bv := b.(IRObject)
		if len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	return Compare(a, b) == 0
}
