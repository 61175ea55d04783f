package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"closet-api/internal/broker"
	"closet-api/internal/config"
	"closet-api/internal/health"
	"closet-api/internal/jobdb"

	"cloud.google.com/go/pubsub"
	_ "github.com/go-sql-driver/mysql"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg, err := config.FromEnv()
	if err != nil {
		fatal("invalid configuration", "err", err)
	}
	if err := cfg.Require("JOB_DB_DSN", "GCP_PROJECT_ID", "PUBSUB_TOPIC"); err != nil {
		fatal("invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := jobdb.Open(cfg.JobDBDSN)
	if err != nil {
		fatal("failed to open job db", "err", err)
	}
	defer db.Close()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		fatal("failed to create pubsub client", "err", err)
	}
	defer pubsubClient.Close()

	publisher := pubsubClient.Topic(cfg.PubSubTopic)
	defer publisher.Stop()

	if cfg.PubSubMode == config.PubSubEmulator {
		if err := broker.EnsureTopicWithRetry(ctx, pubsubClient, cfg.PubSubTopic, 10, 500*time.Millisecond); err != nil {
			fatal("failed to ensure pubsub topic", "err", err)
		}
		if err := broker.EnsureSubscription(ctx, pubsubClient, cfg.PubSubTopic, cfg.PubSubSubscription, cfg.PubSubPushEndpoint); err != nil {
			fatal("failed to ensure pubsub subscription", "err", err)
		}
	}

	go runPublisherLoop(ctx, db, publisher, cfg.OutboxPollInterval, cfg.OutboxBatchSize)

	mux := http.NewServeMux()
	health.Register(mux, map[string]health.Checker{
		"jobdb":  db.PingContext,
		"pubsub": broker.TopicCheck(publisher),
	})

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("publisher listening", "addr", httpServer.Addr, "topic", cfg.PubSubTopic)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fatal("publisher server failed", "err", err)
	}
}

// runPublisherLoop relays claimed outbox rows to Pub/Sub until ctx is done.
// A failed publish puts the row back in the pending queue.
func runPublisherLoop(ctx context.Context, db *sql.DB, publisher *pubsub.Topic, pollInterval time.Duration, batchSize int) {
	for ctx.Err() == nil {
		messages, err := jobdb.ClaimOutboxBatch(ctx, db, batchSize)
		if err != nil {
			slog.Error("outbox claim failed", "err", err)
			sleep(ctx, pollInterval)
			continue
		}
		if len(messages) == 0 {
			sleep(ctx, pollInterval)
			continue
		}

		published := 0
		for _, msg := range messages {
			if err := broker.Publish(ctx, db, publisher, msg); err != nil {
				slog.Warn("outbox relay failed", "outbox_id", msg.ID, "job_id", msg.JobID, "attempts", msg.Attempts+1, "err", err)
				continue
			}
			published++
		}
		slog.Debug("outbox batch relayed", "claimed", len(messages), "published", published)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func fatal(msg string, attrs ...any) {
	slog.Error(msg, attrs...)
	os.Exit(1)
}
