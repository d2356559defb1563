// Package queue provides the concurrent FIFO used as the hand-off buffer between
// reader goroutines and the consumer.
package queue

// Queue defines the interface for an unbounded FIFO queue.
type Queue[T any] interface {
	// Enqueue adds an item to the tail of the queue. It never blocks.
	Enqueue(item T)
	// Dequeue removes and returns the item at the head of the queue.
	// ok is false if the queue is empty.
	Dequeue() (item T, ok bool)
	// Peek returns the item at the head of the queue without removing it.
	// ok is false if the queue is empty.
	Peek() (item T, ok bool)
	// Reset drops all queued items.
	Reset()
	// IsEmpty returns true if the queue is empty, false otherwise.
	IsEmpty() bool
	// Length returns the number of items in the queue.
	Length() int
}
