// Package config reads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"closet-api/internal/imageproc"
)

const (
	StorageLocal = "local"
	StorageGCS   = "gcs"

	PubSubCloud    = "cloud"
	PubSubEmulator = "emulator"
)

var ErrMissing = errors.New("required setting is missing")

type Config struct {
	Port            string
	OpenAPISpecPath string
	MigrationsPath  string

	JobDBDSN           string
	JobPollInterval    time.Duration
	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	ProjectID          string
	PubSubTopic        string
	PubSubMode         string
	PubSubSubscription string
	PubSubPushEndpoint string

	StorageBackend  string
	LocalStorageDir string
	PublicBaseURL   string
	GCSBucket       string
	GCSMakePublic   bool
	ImagePrefix     string
	OutputFormat    imageproc.Format
	OutputQuality   int

	SessionTTL     time.Duration
	MaxImageBytes  int64
	MaxImagePixels int
	CutoutWorkers  int
}

// FromEnv reads every setting, applying defaults for the optional ones.
// Malformed values are reported, missing required ones are left empty for
// Require to catch.
func FromEnv() (Config, error) {
	var errs []error
	cfg := Config{
		Port:            getenv("PORT", "8080"),
		OpenAPISpecPath: getenv("OPENAPI_SPEC_PATH", "openapi.yaml"),
		MigrationsPath:  getenv("MIGRATIONS_PATH", "migrations"),

		JobDBDSN:           os.Getenv("JOB_DB_DSN"),
		JobPollInterval:    seconds("JOB_POLL_INTERVAL", time.Second, &errs),
		OutboxPollInterval: seconds("OUTBOX_POLL_INTERVAL", 2*time.Second, &errs),
		OutboxBatchSize:    positiveInt("OUTBOX_BATCH_SIZE", 10, &errs),

		ProjectID:          os.Getenv("GCP_PROJECT_ID"),
		PubSubTopic:        os.Getenv("PUBSUB_TOPIC"),
		PubSubMode:         getenv("PUBSUB_MODE", PubSubCloud),
		PubSubSubscription: getenv("PUBSUB_SUBSCRIPTION", "crop-jobs-push"),
		PubSubPushEndpoint: getenv("PUBSUB_PUSH_ENDPOINT", "http://worker:8080/pubsub/jobs"),

		StorageBackend:  getenv("STORAGE_BACKEND", StorageLocal),
		LocalStorageDir: getenv("LOCAL_STORAGE_DIR", "data/images"),
		PublicBaseURL:   os.Getenv("PUBLIC_BASE_URL"),
		GCSBucket:       os.Getenv("GCS_BUCKET"),
		GCSMakePublic:   boolean("GCS_MAKE_PUBLIC", false, &errs),
		ImagePrefix:     getenv("IMAGE_PREFIX", "closet"),
		OutputQuality:   positiveInt("OUTPUT_QUALITY", imageproc.DefaultJPEGQuality, &errs),

		SessionTTL:     duration("SESSION_TTL", 15*time.Minute, &errs),
		MaxImageBytes:  int64(positiveInt("MAX_IMAGE_BYTES", 20<<20, &errs)),
		MaxImagePixels: positiveInt("MAX_IMAGE_PIXELS", 40_000_000, &errs),
		CutoutWorkers:  positiveInt("CUTOUT_WORKERS", 4, &errs),
	}

	format, err := imageproc.ParseFormat(getenv("OUTPUT_FORMAT", string(imageproc.FormatJPEG)))
	if err != nil {
		errs = append(errs, fmt.Errorf("OUTPUT_FORMAT: %w", err))
	}
	cfg.OutputFormat = format

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that depend on each other.
func (c Config) Validate() error {
	switch c.StorageBackend {
	case StorageLocal:
		if c.LocalStorageDir == "" {
			return fmt.Errorf("%w: LOCAL_STORAGE_DIR", ErrMissing)
		}
	case StorageGCS:
		if c.GCSBucket == "" {
			return fmt.Errorf("%w: GCS_BUCKET", ErrMissing)
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StorageLocal, StorageGCS, c.StorageBackend)
	}
	switch c.PubSubMode {
	case PubSubCloud, PubSubEmulator:
	default:
		return fmt.Errorf("PUBSUB_MODE must be %q or %q, got %q", PubSubCloud, PubSubEmulator, c.PubSubMode)
	}
	return nil
}

// Require reports the first of the named environment settings that is empty.
func (c Config) Require(names ...string) error {
	values := map[string]string{
		"JOB_DB_DSN":     c.JobDBDSN,
		"GCP_PROJECT_ID": c.ProjectID,
		"PUBSUB_TOPIC":   c.PubSubTopic,
		"GCS_BUCKET":     c.GCSBucket,
	}
	for _, name := range names {
		v, ok := values[name]
		if !ok {
			return fmt.Errorf("unknown setting %q", name)
		}
		if v == "" {
			return fmt.Errorf("%w: %s", ErrMissing, name)
		}
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// seconds accepts a float number of seconds.
func seconds(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: expected positive seconds, got %q", key, raw))
		return fallback
	}
	return time.Duration(v * float64(time.Second))
}

func duration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func positiveInt(key string, fallback int, errs *[]error) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: expected positive integer, got %q", key, raw))
		return fallback
	}
	return v
}

func boolean(key string, fallback bool, errs *[]error) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}
