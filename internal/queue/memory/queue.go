// Package memory provides the bounded handoff queue between the HTTP handlers
// and the enqueue forwarders.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawl-admission/internal/admission"
	"github.com/JakeFAU/crawl-admission/internal/queue"
)

// Queue is a bounded in-memory queue.Queue.
type Queue struct {
	ch      chan admission.EnqueuePayload
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan admission.EnqueuePayload, capacity),
	}
}

// Enqueue pushes a payload into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, payload admission.EnqueuePayload) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return queue.ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- payload:
		return nil
	}
}

// TryEnqueue pushes a payload without blocking.
func (q *Queue) TryEnqueue(payload admission.EnqueuePayload) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return queue.ErrClosed
	}
	select {
	case q.ch <- payload:
		return nil
	default:
		return queue.ErrFull
	}
}

// Dequeue pops the next payload, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (admission.EnqueuePayload, error) {
	select {
	case <-ctx.Done():
		return admission.EnqueuePayload{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case payload, ok := <-q.ch:
		if !ok {
			return admission.EnqueuePayload{}, queue.ErrClosed
		}
		return payload, nil
	}
}

// Len reports the number of buffered payloads.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Buffered payloads can
// still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
