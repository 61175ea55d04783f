// Package imagestore keeps closet images on an object backend under
// generated identifiers.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"sort"
	"strings"

	"closet-api/internal/imageproc"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("image not found")

// Backend stores opaque objects by name. Implementations report missing
// objects with an error wrapping fs.ErrNotExist.
type Backend interface {
	Upload(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, objectName string) ([]byte, error)
	Delete(ctx context.Context, objectName string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

type Ref struct {
	ID          uuid.UUID `json:"id"`
	URL         string    `json:"url,omitempty"`
	ContentType string    `json:"contentType"`
}

type Store struct {
	Backend Backend
	Prefix  string
	Format  imageproc.Format
	Quality int
}

func New(backend Backend, prefix string, format imageproc.Format) *Store {
	return &Store{
		Backend: backend,
		Prefix:  strings.Trim(prefix, "/"),
		Format:  format,
		Quality: imageproc.DefaultJPEGQuality,
	}
}

// Save encodes img and stores it under a new identifier.
func (s *Store) Save(ctx context.Context, img image.Image) (Ref, error) {
	return s.SaveWithID(ctx, uuid.New(), img)
}

func (s *Store) SaveWithID(ctx context.Context, id uuid.UUID, img image.Image) (Ref, error) {
	data, err := imageproc.Encode(img, s.Format, s.Quality)
	if err != nil {
		return Ref{}, fmt.Errorf("encode image %s: %w", id, err)
	}
	url, err := s.Backend.Upload(ctx, s.objectName(id), data, s.Format.ContentType())
	if err != nil {
		return Ref{}, fmt.Errorf("upload image %s: %w", id, err)
	}
	return Ref{ID: id, URL: url, ContentType: s.Format.ContentType()}, nil
}

// Raw returns the encoded bytes of a stored image.
func (s *Store) Raw(ctx context.Context, id uuid.UUID) ([]byte, string, error) {
	data, err := s.Backend.Download(ctx, s.objectName(id))
	if err != nil {
		return nil, "", mapNotFound(err)
	}
	return data, s.Format.ContentType(), nil
}

func (s *Store) Load(ctx context.Context, id uuid.UUID) (image.Image, error) {
	data, _, err := s.Raw(ctx, id)
	if err != nil {
		return nil, err
	}
	return imageproc.DecodeImage(data)
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	return mapNotFound(s.Backend.Delete(ctx, s.objectName(id)))
}

// List returns the identifiers of all images stored directly under the
// prefix, sorted.
func (s *Store) List(ctx context.Context) ([]uuid.UUID, error) {
	names, err := s.Backend.List(ctx, s.dir())
	if err != nil {
		return nil, err
	}
	ext := s.Format.Ext()
	ids := make([]uuid.UUID, 0, len(names))
	for _, name := range names {
		base := strings.TrimPrefix(name, s.dir())
		if strings.Contains(base, "/") || !strings.HasSuffix(base, ext) {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(base, ext))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (s *Store) dir() string {
	if s.Prefix == "" {
		return ""
	}
	return s.Prefix + "/"
}

func (s *Store) objectName(id uuid.UUID) string {
	return s.dir() + id.String() + s.Format.Ext()
}

func mapNotFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
