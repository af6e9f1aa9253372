// Package queue buffers mutations between the HTTP boundary and the workers
// that apply them.
package queue

import (
	"context"
	"sync"

	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/metrics"
)

const defaultQueueCapacity = 100000

// Queue provides non-blocking enqueue and channel-based dequeue.
type Queue interface {
	// Enqueue adds m to the queue. It returns false when the queue is full,
	// closed, or ctx is done.
	Enqueue(ctx context.Context, m model.Mutation) bool
	// Dequeue returns the channel workers read from. It is closed by Close
	// once drained.
	Dequeue(ctx context.Context) <-chan model.Mutation
	// Len returns the number of buffered mutations.
	Len(ctx context.Context) int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue with a buffered channel.
type InMemoryQueue struct {
	mutations chan model.Mutation
	capacity  int

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a bounded in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.mutations = make(chan model.Mutation, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	q.report()
	return q
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, m model.Mutation) bool { //nolint:gocritic // hugeParam: sent by value over the channel
	// The read lock keeps Close from closing the channel under a send.
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.reject("closed")
		return false
	}
	if err := ctx.Err(); err != nil {
		q.reject("context_cancelled")
		return false
	}
	select {
	case q.mutations <- m:
		metrics.RecordQueueEnqueue()
		q.report()
		return true
	default:
		q.reject("queue_full")
		return false
	}
}

// Dequeue returns the underlying channel. ctx is unused; consumers stop by
// watching their own context or by Close.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan model.Mutation {
	return q.mutations
}

// Len returns the current backlog.
func (q *InMemoryQueue) Len(ctx context.Context) int {
	q.report()
	return len(q.mutations)
}

// Close stops accepting mutations. Buffered mutations stay readable.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.mutations)
	q.closed = true
	return nil
}

func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Capacity returns the configured bound.
func (q *InMemoryQueue) Capacity() int { return q.capacity }

func (q *InMemoryQueue) report() {
	size := len(q.mutations)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

func (q *InMemoryQueue) reject(reason string) {
	metrics.RecordQueueEnqueueError()
	metrics.RecordErrorByComponent("queue", reason)
}
