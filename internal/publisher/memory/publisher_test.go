package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-admission/internal/admission"
)

func TestPublisherRecordsInOrder(t *testing.T) {
	t.Parallel()

	pub := New(nil)
	id1, err := pub.Publish(context.Background(), "crawl-jobs", admission.EnqueuePayload{JobID: "job-1", TenantID: "team-a"})
	require.NoError(t, err)
	id2, err := pub.Publish(context.Background(), "crawl-jobs", admission.EnqueuePayload{JobID: "job-2", TenantID: "team-b"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "job-2", msgs[1].Payload.JobID)
	require.Equal(t, id1, msgs[0].ID)

	msgs[0].Topic = "changed"
	require.Equal(t, "crawl-jobs", pub.Messages()[0].Topic)
	require.NoError(t, pub.Close())
}

func TestPublisherInjectedFailures(t *testing.T) {
	t.Parallel()

	pub := New(nil)
	boom := errors.New("broker unavailable")
	pub.FailNext(2, boom)

	payload := admission.EnqueuePayload{JobID: "job-1"}
	for i := 0; i < 2; i++ {
		_, err := pub.Publish(context.Background(), "crawl-jobs", payload)
		require.ErrorIs(t, err, boom)
	}
	id, err := pub.Publish(context.Background(), "crawl-jobs", payload)
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)
	require.Len(t, pub.Messages(), 1)
}

func TestPublisherHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Publish(ctx, "crawl-jobs", admission.EnqueuePayload{JobID: "job-1"})
	require.ErrorIs(t, err, context.Canceled)
}
