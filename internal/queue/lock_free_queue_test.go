package queue

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type msgItem struct {
	Data string
}

func TestLockFreeQueue(t *testing.T) {
	t.Run("Empty Queue", func(t *testing.T) {
		assert := assert.New(t)
		q := NewLockFreeQueue[*msgItem]()

		assert.True(q.IsEmpty())
		assert.Equal(0, q.Length())

		item, ok := q.Dequeue()
		assert.False(ok)
		assert.Nil(item)

		item, ok = q.Peek()
		assert.False(ok)
		assert.Nil(item)
	})

	t.Run("Enqueue and Dequeue", func(t *testing.T) {
		assert := assert.New(t)
		q := NewLockFreeQueue[*msgItem]()

		item1 := &msgItem{"data1"}
		q.Enqueue(item1)
		assert.False(q.IsEmpty())
		assert.Equal(1, q.Length())

		item2 := &msgItem{"data2"}
		q.Enqueue(item2)
		assert.Equal(2, q.Length())

		got, ok := q.Dequeue()
		assert.True(ok)
		assert.Same(item1, got)
		assert.Equal(1, q.Length())

		got, ok = q.Dequeue()
		assert.True(ok)
		assert.Same(item2, got)
		assert.True(q.IsEmpty())

		_, ok = q.Dequeue()
		assert.False(ok)
	})

	t.Run("Peek", func(t *testing.T) {
		assert := assert.New(t)
		q := NewLockFreeQueue[int]()

		q.Enqueue(1)
		v, ok := q.Peek()
		assert.True(ok)
		assert.Equal(1, v)
		assert.Equal(1, q.Length()) // Length should not change after peek

		q.Enqueue(2)
		v, _ = q.Peek()
		assert.Equal(1, v)

		q.Dequeue()
		v, _ = q.Peek()
		assert.Equal(2, v)
	})

	t.Run("Reset", func(t *testing.T) {
		assert := assert.New(t)
		q := NewLockFreeQueue[int]()
		q.Enqueue(1)
		q.Enqueue(2)

		q.Reset()
		assert.True(q.IsEmpty())
		_, ok := q.Dequeue()
		assert.False(ok)
	})
}

// A single producer must observe FIFO order at a concurrently draining consumer.
func TestLockFreeQueue_SingleProducerOrder(t *testing.T) {
	require := require.New(t)
	q := NewLockFreeQueue[int]()

	const total = 10000
	done := make(chan []int)

	go func() {
		got := make([]int, 0, total)
		for len(got) < total {
			if v, ok := q.Dequeue(); ok {
				got = append(got, v)
			}
		}
		done <- got
	}()

	for i := 0; i < total; i++ {
		q.Enqueue(i)
	}

	got := <-done
	for i, v := range got {
		require.Equal(i, v)
	}
	require.True(q.IsEmpty())
}

func TestLockFreeQueue_Concurrency(t *testing.T) {
	assert := assert.New(t)
	q := NewLockFreeQueue[int]()

	var wg sync.WaitGroup
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue(i)
		}(i)
	}
	wg.Wait()

	assert.Equal(1000, q.Length())

	wg.Add(1000)
	for i := 0; i < 1000; i++ {
		go func() {
			defer wg.Done()
			q.Dequeue()
		}()
	}
	wg.Wait()

	assert.True(q.IsEmpty())
}

func BenchmarkLockFreeQueue_100(b *testing.B) {
	benchLockFreeQueue(b, 100)
}

func BenchmarkChannelBuffered_100(b *testing.B) {
	benchChannel(b, 100)
}

func benchLockFreeQueue(b *testing.B, iterCount int) {
	ctx := context.Background()
	q := NewLockFreeQueue[int]()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		stopCh := make(chan struct{})
		go func(ctx context.Context, q Queue[int]) {
			for {
				select {
				case <-ctx.Done():
					return
				default:
					item, ok := q.Dequeue()
					if ok && item == iterCount {
						close(stopCh)
						return
					}
				}
			}
		}(ctx, q)

		for i := 0; i < iterCount; i++ {
			q.Enqueue(i + 1)
		}
		<-stopCh
	}
	b.StopTimer()
}

func benchChannel(b *testing.B, iterCount int) {
	input := make(chan int, iterCount)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		stopCh := make(chan struct{})
		go func() {
			for data := range input {
				if data == iterCount {
					close(stopCh)
					return
				}
			}
		}()

		for i := 0; i < iterCount; i++ {
			input <- (i + 1)
		}
		<-stopCh
	}
	b.StopTimer()
}
