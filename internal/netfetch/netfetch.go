// Package netfetch downloads source images over HTTP with scheme, redirect
// and size guards.
package netfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

const defaultUserAgent = "closet-api/1.0"

var (
	ErrTooLarge         = errors.New("content exceeds maximum size")
	ErrDownloadFailed   = errors.New("download failed")
	ErrInvalidURL       = errors.New("url must use http or https")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrNotImage         = errors.New("response is not an image")
)

type Options struct {
	MaxBytes     int64
	MaxRedirects int
	UserAgent    string
	// RequireImage rejects responses whose Content-Type is set and is not image/*.
	RequireImage bool
}

// Fetcher returns a download func bound to client and opts.
func Fetcher(client *http.Client, opts Options) func(ctx context.Context, rawURL string) ([]byte, error) {
	return func(ctx context.Context, rawURL string) ([]byte, error) {
		data, _, err := Download(ctx, client, rawURL, opts)
		return data, err
	}
}

func Download(ctx context.Context, client *http.Client, rawURL string, opts Options) ([]byte, string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if !isAllowedScheme(rawURL) {
		return nil, "", ErrInvalidURL
	}

	clientCopy := *client
	redirectLimit := opts.MaxRedirects
	if redirectLimit <= 0 {
		redirectLimit = 3
	}
	clientCopy.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= redirectLimit {
			return ErrTooManyRedirects
		}
		if !isAllowedScheme(req.URL.String()) {
			return ErrInvalidURL
		}
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := clientCopy.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, "", fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if opts.RequireImage && !isImageType(contentType) {
		return nil, "", fmt.Errorf("%w: %s", ErrNotImage, contentType)
	}

	if opts.MaxBytes > 0 && resp.ContentLength > opts.MaxBytes {
		return nil, "", ErrTooLarge
	}

	// Content-Length can be absent or wrong, so the read is capped as well.
	var limit io.Reader = resp.Body
	if opts.MaxBytes > 0 {
		limit = io.LimitReader(resp.Body, opts.MaxBytes+1)
	}

	data, err := io.ReadAll(limit)
	if err != nil {
		return nil, "", err
	}
	if opts.MaxBytes > 0 && int64(len(data)) > opts.MaxBytes {
		return nil, "", ErrTooLarge
	}

	return data, contentType, nil
}

func isAllowedScheme(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch parsed.Scheme {
	case "http", "https":
		return parsed.Host != ""
	default:
		return false
	}
}

// isImageType accepts a missing Content-Type since object stores often omit it.
func isImageType(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/octet-stream"
}
