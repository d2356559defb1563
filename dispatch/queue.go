// Package dispatch hands envelopes from reader goroutines to the consumer.
//
// Receivers Push into a Queue from their own goroutines; a Dispatcher drains the
// queue once per tick on the consumer side and calls the subscribed handlers.
package dispatch

import (
	"github.com/arloliu/go-framer/envelope"
	"github.com/arloliu/go-framer/internal/queue"
)

// Queue is an unbounded FIFO of envelopes.
//
// Push never blocks: a slow consumer makes the queue grow instead of stalling
// the readers. It is safe for any number of concurrent producers and consumers.
type Queue struct {
	q queue.Queue[*envelope.Envelope]
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{q: queue.NewLockFreeQueue[*envelope.Envelope]()}
}

// Push appends env to the queue. A nil envelope is ignored.
func (q *Queue) Push(env *envelope.Envelope) {
	if env == nil {
		return
	}
	q.q.Enqueue(env)
}

// Pop removes the oldest envelope.
func (q *Queue) Pop() (*envelope.Envelope, bool) {
	return q.q.Dequeue()
}

// Len returns the number of queued envelopes.
func (q *Queue) Len() int {
	return q.q.Length()
}

// Drain pops up to limit envelopes and passes each to fn in FIFO order.
// A limit of zero or less drains the envelopes queued when Drain was called,
// so producers pushing concurrently cannot keep a single drain running forever.
//
// It returns the number of envelopes drained.
func (q *Queue) Drain(limit int, fn func(*envelope.Envelope)) int {
	if limit <= 0 {
		limit = q.q.Length()
	}

	n := 0
	for n < limit {
		env, ok := q.q.Dequeue()
		if !ok {
			break
		}
		n++
		fn(env)
	}

	return n
}

// Reset drops every queued envelope.
func (q *Queue) Reset() {
	q.q.Reset()
}
