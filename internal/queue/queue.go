// Package queue provides the multi-producer/multi-consumer FIFO used for
// commands, preview frames, encoder input and display output.
//
// A Queue with capacity 0 is unbounded. A bounded Queue drops its oldest item
// when a push would exceed capacity and hands the dropped item to the
// configured drop callback so owned buffers can be released.
package queue

import (
	"sync"
	"time"
)

// Queue is an order-preserving FIFO safe for concurrent producers and consumers.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	capacity int
	onDrop   func(T)
	notify   chan struct{}
	dropped  uint64
}

// Option configures a Queue.
type Option[T any] func(*Queue[T])

// WithCapacity bounds the queue. Zero or negative means unbounded.
func WithCapacity[T any](n int) Option[T] {
	return func(q *Queue[T]) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithDropFunc sets the callback invoked for every item evicted by the
// drop-oldest policy or discarded by Drain.
func WithDropFunc[T any](fn func(T)) Option[T] {
	return func(q *Queue[T]) {
		q.onDrop = fn
	}
}

// New creates a queue.
func New[T any](opts ...Option[T]) *Queue[T] {
	q := &Queue[T]{
		notify: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push appends an item. On a full bounded queue the oldest item is evicted
// first and passed to the drop callback outside the lock.
func (q *Queue[T]) Push(item T) {
	var evicted T
	var didEvict bool

	q.mu.Lock()
	if q.capacity > 0 && q.lenLocked() >= q.capacity {
		evicted = q.popLocked()
		didEvict = true
		q.dropped++
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	if didEvict && q.onDrop != nil {
		q.onDrop(evicted)
	}
}

// TryPop removes the head item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.lenLocked() == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// PopWait removes the head item, waiting at most timeout for one to arrive.
func (q *Queue[T]) PopWait(timeout time.Duration) (T, bool) {
	if item, ok := q.TryPop(); ok {
		return item, true
	}
	if timeout <= 0 {
		var zero T
		return zero, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.notify:
			if item, ok := q.TryPop(); ok {
				// Another consumer may still be waiting on the same wake-up.
				if q.Len() > 0 {
					select {
					case q.notify <- struct{}{}:
					default:
					}
				}
				return item, true
			}
		case <-timer.C:
			return q.TryPop()
		}
	}
}

// Peek returns the head item without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.lenLocked() == 0 {
		var zero T
		return zero, false
	}
	return q.items[q.head], true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Dropped returns how many items the drop-oldest policy has evicted.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Drain removes every queued item, passing each to the drop callback.
// Returns the number of items removed.
func (q *Queue[T]) Drain() int {
	q.mu.Lock()
	items := make([]T, 0, q.lenLocked())
	for q.lenLocked() > 0 {
		items = append(items, q.popLocked())
	}
	q.mu.Unlock()

	if q.onDrop != nil {
		for _, item := range items {
			q.onDrop(item)
		}
	}
	return len(items)
}

func (q *Queue[T]) lenLocked() int {
	return len(q.items) - q.head
}

func (q *Queue[T]) popLocked() T {
	var zero T
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// Compact once the consumed prefix dominates the backing array.
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		for i := n; i < len(q.items); i++ {
			q.items[i] = zero
		}
		q.items = q.items[:n]
		q.head = 0
	}
	return item
}
