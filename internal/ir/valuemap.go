package ir

// ValueMap is a hash map keyed by IRValue.
//
// Arrays and objects are not comparable Go map keys, so entries are bucketed
// by Fingerprint and resolved with Equal. Numerically equal ints and floats
// share an entry.
type ValueMap[T any] struct {
	buckets map[uint64][]valueEntry[T]
	size    int
}

type valueEntry[T any] struct {
	key   IRValue
	value T
}

// NewValueMap creates an empty ValueMap.
func NewValueMap[T any]() *ValueMap[T] {
	return &ValueMap[T]{buckets: make(map[uint64][]valueEntry[T])}
}

// Get returns the value stored for key.
func (m *ValueMap[T]) Get(key IRValue) (T, bool) {
	for _, e := range m.buckets[Fingerprint(key)] {
		if Equal(e.key, key) {
			return e.value, true
		}
	}
	var zero T
	return zero, false
}

// Set stores value for key, replacing any previous value.
func (m *ValueMap[T]) Set(key IRValue, value T) {
	fp := Fingerprint(key)
	bucket := m.buckets[fp]
	for i, e := range bucket {
		if Equal(e.key, key) {
			bucket[i].value = value
			return
		}
	}
	m.buckets[fp] = append(bucket, valueEntry[T]{key: key, value: value})
	m.size++
}

// Delete removes key. Returns false if it was not present.
func (m *ValueMap[T]) Delete(key IRValue) bool {
	fp := Fingerprint(key)
	bucket := m.buckets[fp]
	for i, e := range bucket {
		if Equal(e.key, key) {
			bucket = append(bucket[:i], bucket[i+1:]...)
			if len(bucket) == 0 {
				delete(m.buckets, fp)
			} else {
				m.buckets[fp] = bucket
			}
			m.size--
			return true
		}
	}
	return false
}

// Len returns the number of distinct keys.
func (m *ValueMap[T]) Len() int {
	return m.size
}

// Range calls fn for every entry until fn returns false. Order is unspecified.
func (m *ValueMap[T]) Range(fn func(key IRValue, value T) bool) {
	for _, bucket := range m.buckets {
		for _, e := range bucket {
			if !fn(e.key, e.value) {
				return
			}
		}
	}
}

// Clear removes all entries.
func (m *ValueMap[T]) Clear() {
	m.buckets = make(map[uint64][]valueEntry[T])
	m.size = 0
}
