package queue

import (
	"sync"
)

// Item is a keyed queue entry.
type Item[K comparable, V any] struct {
	Key   K
	Value V
}

// Queue is a thread-safe FIFO that keeps at most one value per key. Pushing
// an existing key replaces its value in place, so the queue holds only the
// latest value for each key in first-push order.
type Queue[K comparable, V any] struct {
	mu    sync.Mutex
	items []Item[K, V]
	index map[K]int
	limit int
}

// New creates a new empty queue. A positive limit bounds the number of keys;
// pushing a new key into a full queue evicts the oldest one.
func New[K comparable, V any](limit int) *Queue[K, V] {
	return &Queue[K, V]{
		items: make([]Item[K, V], 0),
		index: make(map[K]int),
		limit: limit,
	}
}

// Push stores value under key and reports whether an older key was evicted.
func (q *Queue[K, V]) Push(key K, value V) (evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i, ok := q.index[key]; ok {
		q.items[i].Value = value
		return false
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		q.popLocked()
		evicted = true
	}
	q.index[key] = len(q.items)
	q.items = append(q.items, Item[K, V]{Key: key, Value: value})
	return evicted
}

// Pop removes and returns the first item. ok is false if the queue is empty.
func (q *Queue[K, V]) Pop() (item Item[K, V], ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item, false
	}
	return q.popLocked(), true
}

func (q *Queue[K, V]) popLocked() Item[K, V] {
	item := q.items[0]
	q.items = q.items[1:]
	delete(q.index, item.Key)
	for k, i := range q.index {
		q.index[k] = i - 1
	}
	return item
}

// Empty returns true if the queue has no items.
func (q *Queue[K, V]) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Len returns the number of items in the queue.
func (q *Queue[K, V]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear removes all items from the queue.
func (q *Queue[K, V]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
	q.index = make(map[K]int)
}

// GetAndEmpty returns all items in order and clears the queue.
func (q *Queue[K, V]) GetAndEmpty() []Item[K, V] {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = make([]Item[K, V], 0, cap(q.items))
	q.index = make(map[K]int)
	return result
}
