package config

import (
	"context"
	"fmt"

	"closet-api/internal/gcs"
	"closet-api/internal/imagestore"
	"closet-api/internal/localstore"

	"cloud.google.com/go/storage"
)

// OpenImageStore builds the image store for the configured backend. The
// returned close function releases any client the backend holds.
func (c Config) OpenImageStore(ctx context.Context) (*imagestore.Store, func() error, error) {
	var backend imagestore.Backend
	closeFn := func() error { return nil }

	switch c.StorageBackend {
	case StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		backend = gcs.New(client, c.GCSBucket, c.GCSMakePublic, true)
		closeFn = client.Close
	case StorageLocal:
		backend = localstore.New(c.LocalStorageDir, c.PublicBaseURL)
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	store := imagestore.New(backend, c.ImagePrefix, c.OutputFormat)
	store.Quality = c.OutputQuality
	return store, closeFn, nil
}
