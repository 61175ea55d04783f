package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

var ErrBucketRequired = errors.New("bucket is required")

// Store keeps objects in a Cloud Storage bucket.
type Store struct {
	Client                *storage.Client
	Bucket                string
	MakePublic            bool
	AllowPublicACLFailure bool
}

func New(client *storage.Client, bucket string, makePublic bool, allowPublicACLFailure bool) *Store {
	return &Store{
		Client:                client,
		Bucket:                bucket,
		MakePublic:            makePublic,
		AllowPublicACLFailure: allowPublicACLFailure,
	}
}

func (s *Store) Upload(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	// Write the object and optionally make it public, returning the public URL.
	obj, err := s.object(objectName)
	if err != nil {
		return "", err
	}

	writer := obj.NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	if s.MakePublic {
		if err := obj.ACL().Set(ctx, storage.AllUsers, storage.RoleReader); err != nil {
			if s.AllowPublicACLFailure && strings.Contains(err.Error(), "uniform bucket-level access") {
				return publicURL(s.Bucket, objectName), nil
			}
			return "", err
		}
	}

	return publicURL(s.Bucket, objectName), nil
}

func (s *Store) Download(ctx context.Context, objectName string) ([]byte, error) {
	obj, err := s.object(objectName)
	if err != nil {
		return nil, err
	}
	reader, err := obj.NewReader(ctx)
	if err != nil {
		return nil, notExist(err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (s *Store) Delete(ctx context.Context, objectName string) error {
	obj, err := s.object(objectName)
	if err != nil {
		return err
	}
	return notExist(obj.Delete(ctx))
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	it := s.Client.Bucket(s.Bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

func (s *Store) object(objectName string) (*storage.ObjectHandle, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if objectName == "" {
		return nil, errors.New("object name is required")
	}
	return s.Client.Bucket(s.Bucket).Object(objectName), nil
}

func (s *Store) check() error {
	if s.Client == nil {
		return errors.New("storage client is required")
	}
	if s.Bucket == "" {
		return ErrBucketRequired
	}
	return nil
}

func notExist(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %v", fs.ErrNotExist, err)
	}
	return err
}

func publicURL(bucket, objectName string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, objectName)
}
