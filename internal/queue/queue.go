// Package queue provides a bounded, blocking producer/consumer queue with
// timed variants, used to hand associated data from feeding goroutines to
// pipeline callbacks.
package queue

import (
	"sync"
	"time"
)

// Unbounded disables the space check on push.
const Unbounded = -1

// Queue is a thread-safe FIFO with a fixed capacity.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool
	// changed is closed and replaced whenever the queue contents or the closed
	// flag change, waking every waiter.
	changed chan struct{}
}

// New creates a queue holding at most capacity items. Pass Unbounded for no limit.
// A capacity below 1 other than Unbounded is treated as 1.
func New[T any](capacity int) *Queue[T] {
	if capacity != Unbounded && capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// Push appends item, blocking until there is space.
func (q *Queue[T]) Push(item T) {
	q.push(item, -1)
}

// TryPush appends item if space becomes available within timeout.
// A zero timeout tries once without waiting.
func (q *Queue[T]) TryPush(item T, timeout time.Duration) bool {
	if timeout < 0 {
		timeout = 0
	}
	return q.push(item, timeout)
}

// Pop removes and returns the oldest item, blocking until one is available.
// It returns false only once the queue is closed and drained.
func (q *Queue[T]) Pop() (T, bool) {
	return q.pop(-1)
}

// TryPop removes and returns the oldest item if one becomes available within
// timeout. A zero timeout tries once without waiting.
func (q *Queue[T]) TryPop(timeout time.Duration) (T, bool) {
	if timeout < 0 {
		timeout = 0
	}
	return q.pop(timeout)
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the configured capacity.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Close wakes blocked consumers. Items already queued can still be popped;
// once the queue is empty Pop and TryPop return false.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notifyLocked()
}

func (q *Queue[T]) full() bool {
	return q.capacity != Unbounded && len(q.items) >= q.capacity
}

func (q *Queue[T]) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// push waits for space. A negative timeout waits forever.
func (q *Queue[T]) push(item T, timeout time.Duration) bool {
	var deadline <-chan time.Time

	q.mu.Lock()
	for q.full() {
		if timeout == 0 {
			q.mu.Unlock()
			return false
		}
		if timeout > 0 && deadline == nil {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
			q.mu.Lock()
		case <-deadline:
			q.mu.Lock()
			if q.full() {
				q.mu.Unlock()
				return false
			}
		}
	}

	q.items = append(q.items, item)
	q.notifyLocked()
	q.mu.Unlock()
	return true
}

// pop waits for an item. A negative timeout waits forever.
func (q *Queue[T]) pop(timeout time.Duration) (T, bool) {
	var zero T
	var deadline <-chan time.Time

	q.mu.Lock()
	for len(q.items) == 0 {
		if q.closed || timeout == 0 {
			q.mu.Unlock()
			return zero, false
		}
		if timeout > 0 && deadline == nil {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
			q.mu.Lock()
		case <-deadline:
			q.mu.Lock()
			if len(q.items) == 0 {
				q.mu.Unlock()
				return zero, false
			}
		}
	}

	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.notifyLocked()
	q.mu.Unlock()
	return item, true
}
