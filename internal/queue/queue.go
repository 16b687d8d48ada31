// Package queue defines the handoff queue that sits between admission and the
// forwarders publishing to the external job queue.
package queue

import (
	"context"
	"errors"

	"github.com/JakeFAU/crawl-admission/internal/admission"
)

// Queue errors.
var (
	ErrFull   = errors.New("queue full")
	ErrClosed = errors.New("queue closed")
)

// Queue buffers admitted payloads.
type Queue interface {
	// Enqueue blocks until there is room or ctx ends.
	Enqueue(ctx context.Context, payload admission.EnqueuePayload) error
	// TryEnqueue fails with ErrFull instead of blocking.
	TryEnqueue(payload admission.EnqueuePayload) error
	// Dequeue returns ErrClosed once the queue is closed and drained.
	Dequeue(ctx context.Context) (admission.EnqueuePayload, error)
}
