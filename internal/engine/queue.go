package engine

import "sync"

// Queue is an unbounded FIFO queue safe for concurrent use. Cascading
// deliveries (a listener mutating the collection it listens to) can enqueue
// any number of follow-on batches without blocking.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{items: make([]T, 0, 16)}
}

// Enqueue adds item at the back.
func (q *Queue[T]) Enqueue(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// TryDequeue removes the front item, reporting false when the queue is empty.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	// Clear the slot so delivered batches are not pinned by the backing array.
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = q.items[:0:0]
	}
	return item, true
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dispatcher runs callbacks serially in FIFO order.
//
// Dispatch enqueues fn and, unless another goroutine (or an outer Dispatch on
// the current call stack) is already draining, drains the queue before
// returning. Reentrant calls from inside a callback therefore return
// immediately and their callback runs after the current one completes.
//
// The zero value is not usable; create with NewDispatcher.
type Dispatcher struct {
	queue *Queue[func()]

	mu       sync.Mutex
	draining bool
}

// NewDispatcher creates an idle dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{queue: NewQueue[func()]()}
}

// Dispatch schedules fn and drains the queue if no drain is in progress.
func (d *Dispatcher) Dispatch(fn func()) {
	d.queue.Enqueue(fn)

	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	d.mu.Unlock()

	for {
		next, ok := d.queue.TryDequeue()
		if !ok {
			d.mu.Lock()
			// Re-check under the lock: a concurrent Dispatch may have enqueued
			// after our empty read and seen draining == true.
			if d.queue.Len() == 0 {
				d.draining = false
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			continue
		}
		next()
	}
}

// Pending returns the number of callbacks waiting to run.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}
