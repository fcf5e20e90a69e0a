package index

import "github.com/roach88/livedb/internal/ir"

// KeySet is a set of row keys. Keys are IRString or IRInt and therefore
// comparable.
type KeySet map[ir.Key]struct{}

// NewKeySet builds a set from keys.
func NewKeySet(keys ...ir.Key) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s KeySet) Add(k ir.Key)    { s[k] = struct{}{} }
func (s KeySet) Remove(k ir.Key) { delete(s, k) }

// Has reports membership.
func (s KeySet) Has(k ir.Key) bool {
	_, ok := s[k]
	return ok
}

// Sorted returns the keys in ir.Compare order.
func (s KeySet) Sorted() []ir.Key {
	out := make([]ir.Key, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	ir.SortKeys(out)
	return out
}

// Union returns a new set holding the keys of every input.
func Union(sets ...KeySet) KeySet {
	out := KeySet{}
	for _, s := range sets {
		for k := range s {
			out[k] = struct{}{}
		}
	}
	return out
}

// Intersect returns a new set holding keys present in every input.
// No inputs yields an empty set.
func Intersect(sets ...KeySet) KeySet {
	if len(sets) == 0 {
		return KeySet{}
	}
	smallest := 0
	for i, s := range sets {
		if len(s) < len(sets[smallest]) {
			smallest = i
		}
	}
	out := KeySet{}
outer:
	for k := range sets[smallest] {
		for i, s := range sets {
			if i != smallest && !s.Has(k) {
				continue outer
			}
		}
		out[k] = struct{}{}
	}
	return out
}
