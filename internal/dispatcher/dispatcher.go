// Package dispatcher manages forwarder fan-out over the handoff queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-admission/internal/admission"
	"github.com/JakeFAU/crawl-admission/internal/forwarder"
	"github.com/JakeFAU/crawl-admission/internal/metrics"
	"github.com/JakeFAU/crawl-admission/internal/queue"
)

// Dispatcher fans out queue work to a pool of forwarders.
type Dispatcher struct {
	queue      queue.Queue
	forwarders []*forwarder.Forwarder
	logger     *zap.Logger
}

// New creates a Dispatcher.
func New(q queue.Queue, forwarders []*forwarder.Forwarder, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:      q,
		forwarders: forwarders,
		logger:     logger,
	}
}

// Run starts all forwarders and blocks until they have all returned, which
// happens when ctx ends or the queue is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, f := range d.forwarders {
		wg.Add(1)
		go func(fw *forwarder.Forwarder) {
			defer wg.Done()
			fw.Run(ctx)
		}(f)
	}
	wg.Wait()
}

// Enqueue hands an accepted payload to the forwarders without blocking the
// caller.
func (d *Dispatcher) Enqueue(_ context.Context, payload admission.EnqueuePayload) error {
	if err := d.queue.TryEnqueue(payload); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	metrics.IncHandoffDepth()
	return nil
}

// Submit enqueues payload and logs a failure. Admission outcomes never depend
// on it.
func (d *Dispatcher) Submit(ctx context.Context, payload admission.EnqueuePayload) {
	if err := d.Enqueue(ctx, payload); err != nil {
		metrics.ObserveEnqueue("handoff", "dropped")
		d.logger.Error("handoff enqueue failed",
			zap.String("job_id", payload.JobID),
			zap.String("tenant_id", payload.TenantID),
			zap.Error(err),
		)
	}
}
