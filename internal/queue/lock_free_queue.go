package queue

import (
	"sync/atomic"
)

// node is a singly linked list node of the lock free queue.
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// lockFreeQueue is a Michael-Scott lock-free queue.
//
// Any number of producers and consumers may use it concurrently; producers
// never block and the queue grows without bound.
type lockFreeQueue[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	length atomic.Int64
}

// NewLockFreeQueue creates a new lock-free queue and returns it as a Queue interface.
func NewLockFreeQueue[T any]() Queue[T] {
	q := &lockFreeQueue[T]{}
	q.Reset()

	return q
}

// Reset drops all queued items. It must not race with Enqueue or Dequeue.
func (q *lockFreeQueue[T]) Reset() {
	sentinel := &node[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	q.length.Store(0)
}

// Enqueue adds an item to the tail of the queue.
func (q *lockFreeQueue[T]) Enqueue(item T) {
	n := &node[T]{value: item}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		// Are tail and next consistent?
		if tail != q.tail.Load() {
			continue
		}

		if next != nil {
			// tail is falling behind, try to swing it to the next node.
			q.tail.CompareAndSwap(tail, next)
			continue
		}

		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.length.Add(1)

			return
		}
	}
}

// Dequeue removes and returns the item at the head of the queue.
func (q *lockFreeQueue[T]) Dequeue() (T, bool) {
	var zero T
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()

		if head != q.head.Load() {
			continue
		}

		if head == tail {
			if next == nil {
				return zero, false
			}
			q.tail.CompareAndSwap(tail, next)

			continue
		}

		// read value before CAS, otherwise another dequeue might advance past next.
		value := next.value
		if q.head.CompareAndSwap(head, next) {
			q.length.Add(-1)

			return value, true
		}
	}
}

// Peek returns the item at the head of the queue without removing it.
func (q *lockFreeQueue[T]) Peek() (T, bool) {
	var zero T
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()

		if head != q.head.Load() {
			continue
		}

		if head != tail {
			return next.value, true
		}

		if next == nil {
			return zero, false
		}
		q.tail.CompareAndSwap(tail, next)
	}
}

// IsEmpty returns true if the queue is empty, false otherwise.
func (q *lockFreeQueue[T]) IsEmpty() bool {
	return q.length.Load() == 0
}

// Length returns the number of items in the queue.
func (q *lockFreeQueue[T]) Length() int {
	return int(q.length.Load())
}
