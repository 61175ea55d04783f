package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strings"

	"closet-api/internal/cropengine"
	"closet-api/internal/imageproc"
	"closet-api/internal/imagestore"
	"closet-api/internal/netfetch"
	"closet-api/internal/sessions"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

var (
	errBadSource   = errors.New("exactly one of imageBase64, imageUrl or imageId is required")
	errUndecodable = errors.New("image could not be decoded")
)

func (s *Server) PostSessions(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if _, ok := s.readJSON(w, r, &req); !ok {
		return
	}

	bg := imageproc.DefaultBackground(s.Images.Format)
	if req.Background != nil {
		bg = *req.Background
	}
	background, err := imageproc.ParseColor(bg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	src, err := s.loadSource(r.Context(), req)
	if err != nil {
		writeSourceError(w, err)
		return
	}

	b := src.Bounds()
	cropSize, base, err := cropengine.Layout(
		cropengine.Size{W: float64(b.Dx()), H: float64(b.Dy())},
		cropengine.Size{W: req.ContainerWidth, H: req.ContainerHeight},
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("container must be larger than %v points on both sides", cropengine.ViewportInset))
		return
	}

	id := uuid.New()
	session, err := cropengine.NewSession(src, cropSize, base,
		cropengine.WithRenderOptions(cropengine.RenderOptions{Background: background}),
		cropengine.OnCancel(func() { slog.Info("crop session cancelled", "session_id", id) }),
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Sessions.AddWithID(id, session); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.Info("crop session started", "session_id", id, "crop_size", cropSize, "base_w", base.W, "base_h", base.H)

	writeJSON(w, sessionResponse(id, session), http.StatusCreated)
}

func (s *Server) GetSessionsId(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	var resp SessionResponse
	err := s.Sessions.With(id, func(session *cropengine.Session) error {
		resp = sessionResponse(id, session)
		return nil
	})
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

func (s *Server) DeleteSessionsId(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	if err := s.Sessions.Cancel(id); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) PostSessionsIdGestures(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	var batch GestureBatch
	if _, ok := s.readJSON(w, r, &batch); !ok {
		return
	}
	if len(batch.Gestures) == 0 {
		writeError(w, http.StatusBadRequest, "gestures must not be empty")
		return
	}
	for i, g := range batch.Gestures {
		if err := validateGesture(g); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("gesture %d: %v", i, err))
			return
		}
	}

	var resp SessionResponse
	err := s.Sessions.With(id, func(session *cropengine.Session) error {
		for _, g := range batch.Gestures {
			if err := applyGesture(session, g); err != nil {
				return err
			}
		}
		resp = sessionResponse(id, session)
		return nil
	})
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

func (s *Server) PostSessionsIdReset(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	var resp SessionResponse
	err := s.Sessions.With(id, func(session *cropengine.Session) error {
		if err := session.Reset(); err != nil {
			return err
		}
		resp = sessionResponse(id, session)
		return nil
	})
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

func (s *Server) GetSessionsIdPreview(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	var data []byte
	err := s.Sessions.With(id, func(session *cropengine.Session) error {
		out, err := session.Preview(r.Context())
		if err != nil {
			return err
		}
		data, err = imageproc.Encode(out, s.Images.Format, s.Images.Quality)
		return err
	})
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeBytes(w, data, s.Images.Format.ContentType())
}

// PostSessionsIdCommit renders the session, stores the output and closes the
// session. A storage failure leaves the session open for another attempt.
func (s *Server) PostSessionsIdCommit(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	var ref imagestore.Ref
	err := s.Sessions.With(id, func(session *cropengine.Session) error {
		_, err := session.CommitFunc(r.Context(), func(out *image.RGBA) error {
			var err error
			ref, err = s.Images.Save(r.Context(), out)
			return err
		})
		return err
	})
	if err != nil {
		writeSessionError(w, err)
		return
	}
	slog.Info("crop session committed", "session_id", id, "image_id", ref.ID)
	writeJSON(w, imageResponse(ref), http.StatusCreated)
}

func (s *Server) loadSource(ctx context.Context, req CreateSessionRequest) (image.Image, error) {
	sources := 0
	for _, set := range []bool{req.ImageBase64 != nil, req.ImageUrl != nil, req.ImageId != nil} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return nil, errBadSource
	}

	var img image.Image
	switch {
	case req.ImageId != nil:
		loaded, err := s.loadImage(ctx, *req.ImageId)
		if err != nil {
			return nil, err
		}
		img = loaded
	default:
		data, err := s.sourceBytes(ctx, req)
		if err != nil {
			return nil, err
		}
		img, err = imageproc.DecodeImage(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errUndecodable, err)
		}
	}
	if err := imageproc.ValidateImage(img, s.MaxImagePixels); err != nil {
		return nil, err
	}
	return img, nil
}

func (s *Server) sourceBytes(ctx context.Context, req CreateSessionRequest) ([]byte, error) {
	if req.ImageUrl != nil {
		if s.Fetch == nil {
			return nil, errors.New("fetching images by url is disabled")
		}
		return s.Fetch(ctx, *req.ImageUrl)
	}

	raw := *req.ImageBase64
	if i := strings.Index(raw, ";base64,"); i >= 0 && strings.HasPrefix(raw, "data:") {
		raw = raw[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64", errUndecodable)
	}
	if s.MaxImageBytes > 0 && int64(len(data)) > s.MaxImageBytes {
		return nil, netfetch.ErrTooLarge
	}
	return data, nil
}

func validateGesture(g Gesture) error {
	switch g.Phase {
	case GesturePhaseChanged, GesturePhaseEnded:
	default:
		return fmt.Errorf("unknown phase %q", g.Phase)
	}
	switch g.Kind {
	case GestureKindMagnify:
		if g.Phase == GesturePhaseChanged && g.Value == nil {
			return errors.New("magnify requires value")
		}
		if g.Value != nil && !(*g.Value > 0) {
			return errors.New("magnify value must be positive")
		}
	case GestureKindDrag:
		if g.Phase == GesturePhaseChanged && (g.Dx == nil || g.Dy == nil) {
			return errors.New("drag requires dx and dy")
		}
		if (g.Dx == nil) != (g.Dy == nil) {
			return errors.New("drag requires both dx and dy")
		}
	default:
		return fmt.Errorf("unknown kind %q", g.Kind)
	}
	return nil
}

// applyGesture feeds one update to the session. An ended update that carries
// a final value applies it before the correction pass.
func applyGesture(session *cropengine.Session, g Gesture) error {
	switch g.Kind {
	case GestureKindMagnify:
		if g.Value != nil {
			if err := session.Magnify(*g.Value); err != nil {
				return err
			}
		}
		if g.Phase == GesturePhaseEnded {
			return session.EndMagnify()
		}
	case GestureKindDrag:
		if g.Dx != nil {
			if err := session.Drag(*g.Dx, *g.Dy); err != nil {
				return err
			}
		}
		if g.Phase == GesturePhaseEnded {
			return session.EndDrag()
		}
	}
	return nil
}

func sessionResponse(id openapi_types.UUID, session *cropengine.Session) SessionResponse {
	t := session.Transform()
	base := session.BaseDisplaySize()
	limits := session.PanLimits()
	return SessionResponse{
		Id:         id,
		State:      string(session.State()),
		CropSize:   session.CropSize(),
		BaseWidth:  base.W,
		BaseHeight: base.H,
		Scale:      t.Scale,
		OffsetX:    t.Offset.X,
		OffsetY:    t.Offset.Y,
		MinScale:   session.MinScale(),
		MaxScale:   cropengine.MaxScale,
		PanLimitX:  limits.X,
		PanLimitY:  limits.Y,
	}
}

func writeSourceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, imagestore.ErrNotFound):
		writeError(w, http.StatusNotFound, "image not found")
	case errors.Is(err, netfetch.ErrTooLarge), errors.Is(err, imageproc.ErrImageTooManyPixels):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, errBadSource), errors.Is(err, errUndecodable), errors.Is(err, netfetch.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, netfetch.ErrDownloadFailed), errors.Is(err, netfetch.ErrTooManyRedirects):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("failed to load session image", "err", err)
		writeError(w, http.StatusBadGateway, "failed to load image")
	}
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessions.ErrNotFound), errors.Is(err, cropengine.ErrSessionClosed):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, cropengine.ErrInvalidTransform):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		slog.Error("crop session operation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "crop session operation failed")
	}
}
