package ir

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Key identifies a row within a collection.
// Only IRString and IRInt are valid keys (see ValidateKey); both are
// comparable, so keys are used directly as map keys.
type Key = IRValue

// ValidateKey returns an error unless k is an IRString or IRInt.
func ValidateKey(k Key) error {
	switch k.(type) {
	case IRString, IRInt:
		return nil
	case nil:
		return fmt.Errorf("key is undefined")
	default:
		return fmt.Errorf("key must be a string or integer, got %T", k)
	}
}

// KeyString renders a key for composite keys and storage:
// strings are JSON-quoted, integers are decimal, anything else is "null".
func KeyString(k Key) string {
	switch v := k.(type) {
	case IRString:
		return strconv.Quote(string(v))
	case IRInt:
		return strconv.FormatInt(int64(v), 10)
	default:
		return "null"
	}
}

// CompositeKey builds the key of a joined row from the keys of its parts.
// A missing side (outer join) is rendered as null: [1,null].
func CompositeKey(parts ...Key) Key {
	var b strings.Builder
	b.WriteByte('[')
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(KeyString(p))
	}
	b.WriteByte(']')
	return IRString(b.String())
}

// SortKeys sorts keys in place by Compare.
func SortKeys(keys []Key) {
	slices.SortFunc(keys, Compare)
}
