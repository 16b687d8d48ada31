// Package memory keeps admitted payloads in process. It backs the memory
// enqueue backend in development and lets tests inject publish failures.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-admission/internal/admission"
)

// PublishedMessage is one accepted publish.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload admission.EnqueuePayload
}

// Publisher records publishes in order.
type Publisher struct {
	mu       sync.Mutex
	messages []PublishedMessage
	failures int
	failErr  error
	logger   *zap.Logger
}

// New returns an empty Publisher.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// FailNext makes the next n publishes return err without recording.
func (p *Publisher) FailNext(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = n
	p.failErr = err
}

// Publish records payload under topic and returns a sequential message id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload admission.EnqueuePayload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish %s: %w", payload.JobID, err)
	}
	p.mu.Lock()
	if p.failures > 0 {
		p.failures--
		err := p.failErr
		p.mu.Unlock()
		return "", fmt.Errorf("publish %s: %w", payload.JobID, err)
	}
	msg := PublishedMessage{
		ID:      fmt.Sprintf("memory-%d", len(p.messages)+1),
		Topic:   topic,
		Payload: payload,
	}
	p.messages = append(p.messages, msg)
	p.mu.Unlock()

	p.logger.Info("payload published",
		zap.String("topic", topic),
		zap.String("message_id", msg.ID),
		zap.String("job_id", payload.JobID),
		zap.String("tenant_id", payload.TenantID),
	)
	return msg.ID, nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.messages...)
}

// Close is a no-op so the memory backend matches the external publishers.
func (p *Publisher) Close() error {
	return nil
}
