package forwarder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-admission/internal/admission"
	"github.com/JakeFAU/crawl-admission/internal/queue/memory"
)

type flakyPublisher struct {
	mu       sync.Mutex
	fails    int
	attempts int
	got      []admission.EnqueuePayload
	topics   []string
}

func (p *flakyPublisher) Publish(_ context.Context, topic string, payload admission.EnqueuePayload) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.attempts <= p.fails {
		return "", errors.New("broker unavailable")
	}
	p.got = append(p.got, payload)
	p.topics = append(p.topics, topic)
	return "msg-1", nil
}

func (p *flakyPublisher) snapshot() (int, []admission.EnqueuePayload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts, append([]admission.EnqueuePayload(nil), p.got...)
}

func runUntilDrained(t *testing.T, f *Forwarder, q *memory.Queue) {
	t.Helper()
	q.Close()
	done := make(chan struct{})
	go func() {
		f.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder did not stop after queue drained")
	}
}

func TestForwarderPublishesPayloads(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(2)
	require.NoError(t, q.TryEnqueue(admission.EnqueuePayload{JobID: "job-1"}))
	require.NoError(t, q.TryEnqueue(admission.EnqueuePayload{JobID: "job-2"}))

	pub := &flakyPublisher{}
	f := New(q, pub, Config{Topic: "crawl-jobs", Backend: "memory"}, zap.NewNop())
	runUntilDrained(t, f, q)

	_, got := pub.snapshot()
	require.Len(t, got, 2)
	require.Equal(t, "job-1", got[0].JobID)
	require.Equal(t, []string{"crawl-jobs", "crawl-jobs"}, pub.topics)
}

func TestForwarderRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	require.NoError(t, q.TryEnqueue(admission.EnqueuePayload{JobID: "job-retry"}))

	pub := &flakyPublisher{fails: 2}
	f := New(q, pub, Config{MaxAttempts: 3, Backoff: time.Millisecond}, nil)
	runUntilDrained(t, f, q)

	attempts, got := pub.snapshot()
	require.Equal(t, 3, attempts)
	require.Len(t, got, 1)
}

func TestForwarderGivesUp(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(2)
	require.NoError(t, q.TryEnqueue(admission.EnqueuePayload{JobID: "job-lost"}))
	require.NoError(t, q.TryEnqueue(admission.EnqueuePayload{JobID: "job-next"}))

	pub := &flakyPublisher{fails: 2}
	f := New(q, pub, Config{MaxAttempts: 2, Backoff: time.Millisecond}, nil)
	runUntilDrained(t, f, q)

	attempts, got := pub.snapshot()
	require.Equal(t, 3, attempts)
	require.Len(t, got, 1)
	require.Equal(t, "job-next", got[0].JobID)
}

func TestForwarderStopsOnCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	f := New(q, &flakyPublisher{}, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarder did not stop after cancel")
	}
}

func TestForwarderBackoffHonorsCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	require.NoError(t, q.TryEnqueue(admission.EnqueuePayload{JobID: "job-stuck"}))

	pub := &flakyPublisher{fails: 100}
	f := New(q, pub, Config{MaxAttempts: 5, Backoff: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		attempts, _ := pub.snapshot()
		return attempts == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarder stayed in backoff after cancel")
	}
	attempts, got := pub.snapshot()
	require.Equal(t, 1, attempts)
	require.Empty(t, got)
}
