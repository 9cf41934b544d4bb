// Package queue holds completed sessions waiting for the live rating worker.
//
// The queue is bounded; a full queue rejects instead of blocking so the
// HTTP trigger can answer with backpressure.
package queue

import (
	"context"
	"sync"

	"github.com/okian/jasselo/internal/domain/model"
	"github.com/okian/jasselo/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a session. It returns ErrFull or ErrClosed when the
	// session was not accepted.
	Enqueue(ctx context.Context, s model.Session) error

	// Dequeue returns a channel that yields sessions in submission order.
	// The channel is closed once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan model.Session

	// Len returns the number of pending sessions.
	Len() int

	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	sessions chan model.Session
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.sessions = make(chan model.Session, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	q.report()
	return q
}

// Enqueue implements Queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, s model.Session) error { //nolint:gocritic // hugeParam: sessions travel by value over the channel
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}

	select {
	case q.sessions <- s.Clone():
		metrics.RecordQueueEnqueue()
		q.report()
		return nil
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return ctx.Err()
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

// Dequeue implements Queue. Only one consumer is expected; the live path
// relies on a single worker to keep sessions in order.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan model.Session {
	out := make(chan model.Session)
	go func() {
		defer close(out)
		for s := range q.sessions {
			select {
			case out <- s:
				metrics.RecordQueueDequeue()
				q.report()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len implements Queue.
func (q *InMemoryQueue) Len() int {
	return len(q.sessions)
}

// Cap returns the number of sessions the queue holds before Enqueue fails
// with ErrFull.
func (q *InMemoryQueue) Cap() int { return q.capacity }

// Close stops accepting sessions. Pending sessions are still delivered.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.sessions)
	q.closed = true
	return nil
}

// IsClosed implements Queue.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *InMemoryQueue) report() {
	size := len(q.sessions)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}
