package api

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"closet-api/internal/bgremove"
	"closet-api/internal/imagestore"
	"closet-api/internal/jobdb"
	"closet-api/internal/renderjob"
	"closet-api/internal/sessions"

	"github.com/google/uuid"
)

// JobPublisher pushes a freshly created outbox message to the message bus.
type JobPublisher interface {
	PublishJob(ctx context.Context, msg jobdb.OutboxMessage) error
}

// Server implements ServerInterface. DB and Publisher may be nil, in which
// case the job operations answer 503.
type Server struct {
	DB        *sql.DB
	Publisher JobPublisher

	Sessions *sessions.Registry
	Images   *imagestore.Store
	Cutouts  *imagestore.Store
	Remover  *bgremove.Pipeline
	Fetch    renderjob.Fetcher

	MaxImageBytes  int64
	MaxImagePixels int
}

var _ ServerInterface = (*Server)(nil)

// maxBodyBytes bounds request bodies, leaving room for base64 overhead.
func (s *Server) maxBodyBytes() int64 {
	if s.MaxImageBytes <= 0 {
		return 64 << 20
	}
	return s.MaxImageBytes*4/3 + 64<<10
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes()))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return nil, false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, ErrorResponse{Message: message}, status)
}

func writeBytes(w http.ResponseWriter, data []byte, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func imageResponse(ref imagestore.Ref) ImageResponse {
	resp := ImageResponse{Id: ref.ID, ContentType: ref.ContentType}
	if ref.URL != "" {
		url := ref.URL
		resp.Url = &url
	}
	return resp
}

func mustParseUUID(id string) uuid.UUID {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

func hashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
