package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"closet-api/internal/config"
	"closet-api/internal/health"
	"closet-api/internal/jobdb"
	"closet-api/internal/netfetch"
	"closet-api/internal/renderjob"

	"github.com/go-chi/chi/v5"
	_ "github.com/go-sql-driver/mysql"
)

const jobTimeout = 2 * time.Minute

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg, err := config.FromEnv()
	if err != nil {
		fatal("invalid configuration", "err", err)
	}
	if err := cfg.Require("JOB_DB_DSN"); err != nil {
		fatal("invalid configuration", "err", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := jobdb.Open(cfg.JobDBDSN)
	if err != nil {
		fatal("failed to open job db", "err", err)
	}
	defer db.Close()

	if err := jobdb.Init(db); err != nil {
		fatal("failed to init job db", "err", err)
	}

	store, closeStore, err := cfg.OpenImageStore(ctx)
	if err != nil {
		fatal("failed to open image store", "err", err)
	}
	defer closeStore()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	proc := &renderjob.Processor{
		Fetch:     netfetch.Fetcher(httpClient, netfetch.Options{MaxBytes: cfg.MaxImageBytes, RequireImage: true}),
		Store:     store,
		MaxPixels: cfg.MaxImagePixels,
	}

	wake := make(chan struct{}, 1)

	router := chi.NewRouter()
	health.Register(router, map[string]health.Checker{"jobdb": db.PingContext})
	router.Post("/pubsub/jobs", pushHandler(wake))

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		slog.Info("worker listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("worker server failed", "err", err)
		}
	}()

	runWorker(ctx, db, proc, cfg.JobPollInterval, wake)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

// runWorker claims and processes jobs until ctx is done. It sleeps for
// pollInterval when the queue is empty unless woken by a push delivery.
func runWorker(ctx context.Context, db *sql.DB, proc *renderjob.Processor, pollInterval time.Duration, wake <-chan struct{}) {
	for ctx.Err() == nil {
		job, ok, err := jobdb.ClaimJob(ctx, db)
		if err != nil {
			slog.Error("claim failed", "err", err)
			sleep(ctx, pollInterval, wake)
			continue
		}
		if !ok {
			sleep(ctx, pollInterval, wake)
			continue
		}
		processJob(ctx, db, proc, job)
	}
}

func processJob(ctx context.Context, db *sql.DB, proc *renderjob.Processor, job jobdb.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	started := time.Now()
	result, err := proc.Process(jobCtx, job.Payload)
	if err != nil {
		slog.Warn("job failed", "job_id", job.ID, "err", err)
		if err := jobdb.FailJob(db, job.ID, err.Error()); err != nil {
			slog.Error("failed to mark job failed", "job_id", job.ID, "err", err)
		}
		return
	}
	if err := jobdb.CompleteJob(db, job.ID, result); err != nil {
		slog.Error("failed to mark job done", "job_id", job.ID, "err", err)
		return
	}
	slog.Info("job done", "job_id", job.ID, "duration", time.Since(started))
}

func sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-wake:
	}
}

type pushRequest struct {
	Message struct {
		Data      []byte `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// pushHandler accepts Pub/Sub push deliveries. The job itself is claimed
// from the database, so a delivery only wakes the poll loop.
func pushHandler(wake chan<- struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var push pushRequest
		if err := json.NewDecoder(r.Body).Decode(&push); err != nil {
			http.Error(w, "invalid push body", http.StatusBadRequest)
			return
		}
		var env jobdb.Envelope
		if err := json.Unmarshal(push.Message.Data, &env); err != nil || env.JobID == "" {
			// Ack malformed messages so Pub/Sub stops redelivering them.
			slog.Warn("ignoring malformed job message", "message_id", push.Message.MessageID)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		slog.Debug("job message received", "job_id", env.JobID, "message_id", push.Message.MessageID)
		select {
		case wake <- struct{}{}:
		default:
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func fatal(msg string, attrs ...any) {
	slog.Error(msg, attrs...)
	os.Exit(1)
}
