package gcs

import (
	"context"
	"errors"
	"io/fs"
	"testing"

	"cloud.google.com/go/storage"
)

func TestRequiresClientAndBucket(t *testing.T) {
	s := New(nil, "closet", false, false)
	if _, err := s.Upload(context.Background(), "a.jpg", nil, ""); err == nil {
		t.Fatalf("expected error without client")
	}

	s = &Store{Client: &storage.Client{}}
	if _, err := s.Download(context.Background(), "a.jpg"); !errors.Is(err, ErrBucketRequired) {
		t.Fatalf("expected ErrBucketRequired, got %v", err)
	}
}

func TestNotExistMapping(t *testing.T) {
	if err := notExist(storage.ErrObjectNotExist); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
	other := errors.New("boom")
	if err := notExist(other); err != other {
		t.Fatalf("expected passthrough, got %v", err)
	}
	if notExist(nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
}

func TestPublicURL(t *testing.T) {
	if got := publicURL("bucket", "closet/x.jpg"); got != "https://storage.googleapis.com/bucket/closet/x.jpg" {
		t.Fatalf("unexpected url: %s", got)
	}
}
