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

	"closet-api/internal/api"
	"closet-api/internal/bgremove"
	"closet-api/internal/broker"
	"closet-api/internal/config"
	"closet-api/internal/health"
	"closet-api/internal/imageproc"
	"closet-api/internal/imagestore"
	"closet-api/internal/jobdb"
	"closet-api/internal/netfetch"
	"closet-api/internal/sessions"

	"cloud.google.com/go/pubsub"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	_ "github.com/go-sql-driver/mysql"
	middleware "github.com/oapi-codegen/chi-middleware"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg, err := config.FromEnv()
	if err != nil {
		fatal("invalid configuration", "err", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	images, closeStore, err := cfg.OpenImageStore(ctx)
	if err != nil {
		fatal("failed to open image store", "err", err)
	}
	defer closeStore()

	if !cfg.OutputFormat.HasAlpha() {
		slog.Info("output format has no alpha channel, uncovered crop regions default to white", "format", cfg.OutputFormat)
	}

	registry := sessions.New(cfg.SessionTTL)
	go registry.Sweep(ctx, time.Minute)

	httpClient := &http.Client{Timeout: 20 * time.Second}
	srv := &api.Server{
		Sessions: registry,
		Images:   images,
		Cutouts:  imagestore.New(images.Backend, images.Prefix+"/cutouts", cutoutFormat(cfg.OutputFormat)),
		Remover:  bgremove.NewPipeline(bgremove.NewRemover()),
		Fetch:    netfetch.Fetcher(httpClient, netfetch.Options{MaxBytes: cfg.MaxImageBytes, RequireImage: true}),

		MaxImageBytes:  cfg.MaxImageBytes,
		MaxImagePixels: cfg.MaxImagePixels,
	}

	var (
		db    *sql.DB
		topic *pubsub.Topic
	)
	if cfg.JobDBDSN != "" {
		db, err = jobdb.Open(cfg.JobDBDSN)
		if err != nil {
			fatal("failed to open job db", "err", err)
		}
		defer db.Close()
		srv.DB = db

		if cfg.PubSubTopic != "" {
			if err := cfg.Require("GCP_PROJECT_ID"); err != nil {
				fatal("invalid configuration", "err", err)
			}
			pubsubClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
			if err != nil {
				fatal("failed to create pubsub client", "err", err)
			}
			defer pubsubClient.Close()

			topic = pubsubClient.Topic(cfg.PubSubTopic)
			defer topic.Stop()

			if cfg.PubSubMode == config.PubSubEmulator {
				if err := broker.EnsureTopicWithRetry(ctx, pubsubClient, cfg.PubSubTopic, 10, 500*time.Millisecond); err != nil {
					fatal("failed to ensure pubsub topic", "err", err)
				}
			}
			srv.Publisher = &topicPublisher{db: db, topic: topic}
		}
	} else {
		slog.Warn("JOB_DB_DSN is not set, render jobs are disabled")
	}

	checks := map[string]health.Checker{}
	if db != nil {
		checks["jobdb"] = db.PingContext
	}
	if topic != nil {
		checks["pubsub"] = broker.TopicCheck(topic)
	}

	router := chi.NewRouter()
	health.Register(router, checks)

	swagger, err := loadOpenAPISpec(cfg.OpenAPISpecPath)
	if err != nil {
		fatal("failed to load openapi spec", "err", err)
	}
	if err := swagger.Validate(ctx); err != nil {
		fatal("invalid openapi spec", "err", err)
	}
	swagger.Servers = nil

	apiRouter := chi.NewRouter()
	apiRouter.Use(middleware.OapiRequestValidator(swagger))
	api.HandlerFromMux(srv, apiRouter)
	router.Mount("/", apiRouter)

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "addr", httpServer.Addr, "storage", cfg.StorageBackend, "jobs", db != nil)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fatal("api server failed", "err", err)
	}
}

// topicPublisher publishes outbox messages straight to Pub/Sub and records
// the outcome on the outbox row.
type topicPublisher struct {
	db    *sql.DB
	topic *pubsub.Topic
}

func (p *topicPublisher) PublishJob(ctx context.Context, msg jobdb.OutboxMessage) error {
	publishCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return broker.Publish(publishCtx, p.db, p.topic, msg)
}

// cutoutFormat keeps the output format when it can carry transparency.
func cutoutFormat(f imageproc.Format) imageproc.Format {
	if f.HasAlpha() {
		return f
	}
	return imageproc.FormatPNG
}

func loadOpenAPISpec(path string) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	return loader.LoadFromFile(path)
}

func fatal(msg string, attrs ...any) {
	slog.Error(msg, attrs...)
	os.Exit(1)
}
