// Package broker relays job outbox rows to Pub/Sub and bootstraps the topic
// and push subscription when running against the emulator.
package broker

import (
	"context"
	"database/sql"
	"time"

	"closet-api/internal/jobdb"

	"cloud.google.com/go/pubsub"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const jobIDAttribute = "job_id"

// Publish sends msg and records the outcome on its outbox row. A failed
// publish returns the row to the pending queue.
func Publish(ctx context.Context, db *sql.DB, topic *pubsub.Topic, msg jobdb.OutboxMessage) error {
	result := topic.Publish(ctx, Message(msg))
	if _, err := result.Get(ctx); err != nil {
		_ = jobdb.RecordOutboxError(db, msg.ID, err.Error())
		return err
	}
	return jobdb.MarkOutboxPublished(db, msg.ID)
}

func Message(msg jobdb.OutboxMessage) *pubsub.Message {
	return &pubsub.Message{
		Data:       msg.Payload,
		Attributes: map[string]string{jobIDAttribute: msg.JobID},
	}
}

func EnsureTopic(ctx context.Context, client *pubsub.Client, topicName string) error {
	exists, err := client.Topic(topicName).Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = client.CreateTopic(ctx, topicName)
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}

// EnsureTopicWithRetry retries EnsureTopic while the emulator starts up.
func EnsureTopicWithRetry(ctx context.Context, client *pubsub.Client, topicName string, attempts int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = EnsureTopic(ctx, client, topicName)
		if lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// EnsureSubscription creates a push subscription on topicName. An empty
// pushEndpoint creates a pull subscription.
func EnsureSubscription(ctx context.Context, client *pubsub.Client, topicName, subName, pushEndpoint string) error {
	exists, err := client.Subscription(subName).Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = client.CreateSubscription(ctx, subName, pubsub.SubscriptionConfig{
		Topic:      client.Topic(topicName),
		PushConfig: pubsub.PushConfig{Endpoint: pushEndpoint},
	})
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}

// TopicCheck reports an error when topic cannot be reached or is missing.
func TopicCheck(topic *pubsub.Topic) func(context.Context) error {
	return func(ctx context.Context) error {
		exists, err := topic.Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return status.Errorf(codes.NotFound, "topic %s does not exist", topic.ID())
		}
		return nil
	}
}
