package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[string]()
	for _, id := range []string{"A", "B", "C"} {
		q.Enqueue(id)
	}

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok, "empty queue")

	// Reusable after draining.
	q.Enqueue("D")
	got, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "D", got)
}

func TestQueue_Len(t *testing.T) {
	q := NewQueue[int]()

	assert.Equal(t, 0, q.Len())
	q.Enqueue(1)
	q.Enqueue(2)
	assert.Equal(t, 2, q.Len())
	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
}

func TestQueue_ThreadSafe(t *testing.T) {
	q := NewQueue[int]()

	const producers = 10
	const itemsPerProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(producerID int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				q.Enqueue(producerID*1000 + i)
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for {
		v, ok := q.TryDequeue()
		if !ok {
			break
		}
		seen[v] = true
	}
	assert.Len(t, seen, producers*itemsPerProducer)
}

func TestDispatcher_RunsInOrder(t *testing.T) {
	d := NewDispatcher()

	var got []int
	for i := 1; i <= 3; i++ {
		d.Dispatch(func() { got = append(got, i) })
	}

	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcher_ReentrantDispatchIsQueued(t *testing.T) {
	d := NewDispatcher()

	var got []string
	d.Dispatch(func() {
		got = append(got, "outer-start")
		d.Dispatch(func() { got = append(got, "nested") })
		got = append(got, "outer-end")
	})

	assert.Equal(t, []string{"outer-start", "outer-end", "nested"}, got)
}

func TestDispatcher_ConcurrentCallbacksNeverOverlap(t *testing.T) {
	d := NewDispatcher()

	var mu sync.Mutex
	active, maxActive, total := 0, 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Dispatch(func() {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(100 * time.Microsecond)

				mu.Lock()
				active--
				total++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	// A Dispatch call may return while another goroutine still drains its
	// callback; wait for the queue to settle.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return total == 50
	}, time.Second, time.Millisecond)

	assert.Equal(t, 1, maxActive)
}
