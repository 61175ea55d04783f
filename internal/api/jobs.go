package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"closet-api/internal/jobdb"
	"closet-api/internal/renderjob"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

// PostJobsCropRender validates a render request and enqueues it. Retries
// carrying the same Idempotency-Key and body return the original job.
func (s *Server) PostJobsCropRender(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeError(w, http.StatusServiceUnavailable, "render jobs are disabled")
		return
	}

	var req CropRenderRequest
	body, ok := s.readJSON(w, r, &req)
	if !ok {
		return
	}
	job := renderRequest(req)
	if err := job.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	payload, err := json.Marshal(job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode payload")
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey == "" {
		created, outbox, err := jobdb.InsertJobWithOutbox(s.DB, payload)
		if err != nil {
			slog.Error("failed to create job", "err", err)
			writeError(w, http.StatusInternalServerError, "failed to create job")
			return
		}
		s.publish(r, created, outbox)
		writeJSON(w, jobResponse(created), http.StatusCreated)
		return
	}

	created, outbox, reused, err := jobdb.InsertJobWithOutboxAndIdempotency(s.DB, payload, idemKey, hashBody(body))
	if err != nil {
		if errors.Is(err, jobdb.ErrIdempotencyKeyConflict) {
			writeError(w, http.StatusConflict, "idempotency key reused with different payload")
			return
		}
		slog.Error("failed to create job", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	status := http.StatusOK
	if !reused {
		s.publish(r, created, outbox)
		status = http.StatusCreated
	}
	writeJSON(w, jobResponse(created), status)
}

func (s *Server) GetJobsId(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	if s.DB == nil {
		writeError(w, http.StatusServiceUnavailable, "render jobs are disabled")
		return
	}
	job, ok, err := jobdb.GetJob(s.DB, id.String())
	if err != nil {
		slog.Error("failed to fetch job", "job_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, jobResponse(job), http.StatusOK)
}

// publish is the fast path; the outbox relay retries anything that fails here.
func (s *Server) publish(r *http.Request, job jobdb.Job, outbox jobdb.OutboxMessage) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.PublishJob(r.Context(), outbox); err != nil {
		slog.Error("publish failed for job", "job_id", job.ID, "err", err)
	}
}

func renderRequest(req CropRenderRequest) renderjob.Request {
	out := renderjob.Request{
		ImageURL:        req.ImageUrl,
		ContainerWidth:  req.ContainerWidth,
		ContainerHeight: req.ContainerHeight,
		Scale:           req.Scale,
		Correct:         true,
	}
	if req.OffsetX != nil {
		out.OffsetX = *req.OffsetX
	}
	if req.OffsetY != nil {
		out.OffsetY = *req.OffsetY
	}
	if req.Correct != nil {
		out.Correct = *req.Correct
	}
	if req.Background != nil {
		out.Background = *req.Background
	}
	return out
}

func jobResponse(job jobdb.Job) JobResponse {
	resp := JobResponse{
		Id:        mustParseUUID(job.ID),
		Status:    job.Status,
		Error:     extractError(job.Error),
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if res, ok := extractResult(job.Result); ok {
		resp.CroppedImageUrl = &res.CroppedImageURL
		resp.ImageId = &res.ImageID
	}
	return resp
}

func extractResult(result json.RawMessage) (renderjob.Result, bool) {
	if len(result) == 0 {
		return renderjob.Result{}, false
	}
	var res renderjob.Result
	if err := json.Unmarshal(result, &res); err != nil || res.ImageID == "" {
		return renderjob.Result{}, false
	}
	return res, true
}

func extractError(errText sql.NullString) *string {
	if !errText.Valid || errText.String == "" {
		return nil
	}
	return &errText.String
}
