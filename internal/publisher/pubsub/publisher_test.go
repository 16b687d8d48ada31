package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/crawl-admission/internal/admission"
)

func TestPublishToFakeServer(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)

	_, err = client.CreateTopic(ctx, "crawl-jobs")
	require.NoError(t, err)

	pub := New(client)
	payload := admission.EnqueuePayload{JobID: "job-1", TenantID: "team-a", URL: "https://example.com/"}
	id, err := pub.Publish(ctx, "crawl-jobs", payload)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "job-1", msgs[0].Attributes["job_id"])
	require.Equal(t, "team-a", msgs[0].Attributes["tenant_id"])

	var decoded admission.EnqueuePayload
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, payload.URL, decoded.URL)

	require.NoError(t, pub.Close())
}

func TestPublishWithoutClient(t *testing.T) {
	pub := New(nil)
	_, err := pub.Publish(context.Background(), "crawl-jobs", admission.EnqueuePayload{})
	require.ErrorContains(t, err, "not configured")
	require.NoError(t, pub.Close())
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), "")
	require.Error(t, err)
}
