package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-admission/internal/admission"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishWritesKeyedJSON(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	p := NewWithWriter(w)
	now := time.Unix(1700000000, 0)
	p.now = func() time.Time { return now }

	payload := admission.EnqueuePayload{JobID: "job-1", TenantID: "team-a", URL: "https://example.com/"}
	id, err := p.Publish(context.Background(), "crawl-jobs", payload)
	require.NoError(t, err)
	require.Equal(t, "job-1", id)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	require.Equal(t, "crawl-jobs", msg.Topic)
	require.Equal(t, []byte("job-1"), msg.Key)
	require.Equal(t, now.UTC(), msg.Time)
	require.Equal(t, "tenant_id", msg.Headers[0].Key)

	var decoded admission.EnqueuePayload
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	require.Equal(t, payload.URL, decoded.URL)

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	p := NewWithWriter(&fakeWriter{err: errors.New("leader not available")})
	_, err := p.Publish(context.Background(), "crawl-jobs", admission.EnqueuePayload{JobID: "job-1"})
	require.ErrorContains(t, err, "write kafka message")

	_, err = p.Publish(context.Background(), "", admission.EnqueuePayload{JobID: "job-1"})
	require.ErrorContains(t, err, "topic is required")
}

func TestNewRequiresBrokers(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Brokers: []string{" "}})
	require.Error(t, err)

	p, err := New(Config{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}
