// Package forwarder drains admitted payloads from the handoff queue and
// publishes them to the external job queue.
package forwarder

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-admission/internal/admission"
	"github.com/JakeFAU/crawl-admission/internal/metrics"
	"github.com/JakeFAU/crawl-admission/internal/queue"
)

// Dequeuer yields payloads to forward.
type Dequeuer interface {
	Dequeue(ctx context.Context) (admission.EnqueuePayload, error)
}

// Publisher delivers one payload to a topic and returns the broker's message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload admission.EnqueuePayload) (string, error)
}

// Config controls Forwarder behavior.
type Config struct {
	Topic string
	// Backend labels metrics, e.g. "kafka".
	Backend     string
	MaxAttempts int
	Backoff     time.Duration
}

// Forwarder consumes queue items and publishes them.
type Forwarder struct {
	queue     Dequeuer
	publisher Publisher
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Forwarder.
func New(queue Dequeuer, publisher Publisher, cfg Config, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.Backend == "" {
		cfg.Backend = "unknown"
	}
	return &Forwarder{queue: queue, publisher: publisher, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed and drained.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		item, err := f.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrClosed) {
				f.logger.Debug("handoff queue closed")
				return
			}
			f.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		metrics.DecHandoffDepth()
		f.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		f.forward(ctx, item)
	}
}

func (f *Forwarder) forward(ctx context.Context, item admission.EnqueuePayload) {
	// Cancellation of ctx does not cut a publish short.
	pubCtx := context.WithoutCancel(ctx)
	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		msgID, err := f.publisher.Publish(pubCtx, f.cfg.Topic, item)
		if err == nil {
			metrics.ObserveEnqueue(f.cfg.Backend, "ok")
			f.logger.Info("job enqueued",
				zap.String("job_id", item.JobID),
				zap.String("tenant_id", item.TenantID),
				zap.String("message_id", msgID),
				zap.Int("attempt", attempt),
			)
			return
		}
		lastErr = err
		f.logger.Warn("publish attempt failed",
			zap.String("job_id", item.JobID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == f.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			metrics.ObserveEnqueue(f.cfg.Backend, "error")
			f.logger.Error("job enqueue abandoned on shutdown",
				zap.String("job_id", item.JobID),
				zap.String("tenant_id", item.TenantID),
				zap.Int("attempts", attempt),
				zap.Error(lastErr),
			)
			return
		case <-time.After(f.cfg.Backoff * time.Duration(attempt)):
		}
	}
	metrics.ObserveEnqueue(f.cfg.Backend, "error")
	f.logger.Error("job enqueue failed",
		zap.String("job_id", item.JobID),
		zap.String("tenant_id", item.TenantID),
		zap.Error(lastErr),
	)
}
