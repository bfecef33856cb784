// Package queue provides the FIFO used for buffered control frames and for
// wait-for-control reasons.
package queue

import (
	"context"
	"sync"
)

// Blocking is a FIFO whose Take blocks until an element arrives.
// A positive capacity bounds the queue; Offer then evicts the oldest element.
type Blocking[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	ready    chan struct{}
}

func New[T any](capacity int) *Blocking[T] {
	return &Blocking[T]{
		capacity: capacity,
		ready:    make(chan struct{}),
	}
}

// Offer appends v without blocking. If the queue was full the evicted
// element is returned with dropped=true.
func (q *Blocking[T]) Offer(v T) (evicted T, dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.items) >= q.capacity {
		evicted = q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, v)

	// wake every waiter; losers re-check and park again
	close(q.ready)
	q.ready = make(chan struct{})
	return evicted, dropped
}

// Take removes the head, waiting for one if the queue is empty.
func (q *Blocking[T]) Take(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if v, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return v, nil
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-ready:
		}
	}
}

// Poll removes the head if there is one.
func (q *Blocking[T]) Poll() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Drain removes and returns everything in FIFO order.
func (q *Blocking[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *Blocking[T]) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

func (q *Blocking[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Blocking[T]) popLocked() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}
