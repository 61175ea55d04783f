package localstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrInvalidObjectName = errors.New("invalid object name")

// Store keeps objects as files under Dir, optionally served from BaseURL.
type Store struct {
	Dir     string
	BaseURL string
}

func New(dir string, baseURL string) *Store {
	return &Store{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}
}

// Upload writes data under objectName. Files carry no metadata, so the
// content type is implied by the object's extension.
func (s *Store) Upload(ctx context.Context, objectName string, data []byte, _ string) (string, error) {
	fullPath, clean, err := s.resolve(objectName)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", err
	}

	// Write to a sibling temp file so readers never see a partial image.
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}

	if s.BaseURL == "" {
		return "", nil
	}
	escaped, err := escapePath(clean)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", s.BaseURL, escaped), nil
}

func (s *Store) Download(ctx context.Context, objectName string) ([]byte, error) {
	fullPath, _, err := s.resolve(objectName)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(fullPath)
}

func (s *Store) Delete(ctx context.Context, objectName string) error {
	fullPath, _, err := s.resolve(objectName)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.Remove(fullPath)
}

// List returns slash-separated object names under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if s.Dir == "" {
		return nil, errors.New("local storage dir is required")
	}
	var names []string
	err := filepath.WalkDir(s.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == s.Dir {
				return filepath.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.Dir, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (s *Store) resolve(objectName string) (string, string, error) {
	if s.Dir == "" {
		return "", "", errors.New("local storage dir is required")
	}
	if objectName == "" {
		return "", "", errors.New("object name is required")
	}
	clean, err := sanitizeObjectName(objectName)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(s.Dir, filepath.FromSlash(clean)), clean, nil
}

func sanitizeObjectName(objectName string) (string, error) {
	for _, part := range strings.Split(objectName, "/") {
		if part == ".." {
			return "", ErrInvalidObjectName
		}
	}
	clean := path.Clean("/" + objectName)
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return "", ErrInvalidObjectName
	}
	if strings.Contains(clean, "..") {
		return "", ErrInvalidObjectName
	}
	return clean, nil
}

func escapePath(p string) (string, error) {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/"), nil
}
