package broker

import (
	"context"
	"testing"
	"time"

	"closet-api/internal/jobdb"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newClient(t *testing.T) *pubsub.Client {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "closet-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEnsureTopicIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)

	require.NoError(t, EnsureTopic(ctx, client, "crop-jobs"))
	require.NoError(t, EnsureTopic(ctx, client, "crop-jobs"))

	exists, err := client.Topic("crop-jobs").Exists(ctx)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestEnsureTopicWithRetryStopsOnCancel(t *testing.T) {
	client := newClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := EnsureTopicWithRetry(ctx, client, "crop-jobs", 3, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEnsureSubscription(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	require.NoError(t, EnsureTopic(ctx, client, "crop-jobs"))

	require.NoError(t, EnsureSubscription(ctx, client, "crop-jobs", "crop-jobs-push", ""))
	require.NoError(t, EnsureSubscription(ctx, client, "crop-jobs", "crop-jobs-push", ""))

	cfg, err := client.Subscription("crop-jobs-push").Config(ctx)
	require.NoError(t, err)
	require.Equal(t, "crop-jobs", cfg.Topic.ID())
}

func TestTopicCheck(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)

	check := TopicCheck(client.Topic("crop-jobs"))
	require.Error(t, check(ctx))

	require.NoError(t, EnsureTopic(ctx, client, "crop-jobs"))
	require.NoError(t, check(ctx))
}

func TestMessageCarriesJobID(t *testing.T) {
	msg := Message(jobdb.OutboxMessage{JobID: "job-1", Payload: []byte(`{"jobId":"job-1"}`)})
	require.Equal(t, "job-1", msg.Attributes["job_id"])
	require.JSONEq(t, `{"jobId":"job-1"}`, string(msg.Data))
}
