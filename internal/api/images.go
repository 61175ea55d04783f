package api

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"

	"closet-api/internal/imageproc"
	"closet-api/internal/imagestore"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

func (s *Server) GetImages(w http.ResponseWriter, r *http.Request) {
	ids := []openapi_types.UUID{}
	for _, store := range s.stores() {
		found, err := store.List(r.Context())
		if err != nil {
			slog.Error("failed to list images", "prefix", store.Prefix, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to list images")
			return
		}
		ids = append(ids, found...)
	}
	writeJSON(w, ImageList{Images: ids}, http.StatusOK)
}

func (s *Server) GetImagesId(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	var (
		data        []byte
		contentType string
	)
	err := s.eachStore(func(store *imagestore.Store) error {
		var err error
		data, contentType, err = store.Raw(r.Context(), id)
		return err
	})
	if err != nil {
		writeImageError(w, err)
		return
	}
	writeBytes(w, data, contentType)
}

func (s *Server) DeleteImagesId(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	err := s.eachStore(func(store *imagestore.Store) error {
		return store.Delete(r.Context(), id)
	})
	if err != nil {
		writeImageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MaxCutoutBatch bounds how many images one cut-out request decodes.
const MaxCutoutBatch = 20

// PostImagesCutouts removes the background of stored images and stores each
// cut-out as a new image. Results are in request order. Either every cut-out
// is stored or none is.
func (s *Server) PostImagesCutouts(w http.ResponseWriter, r *http.Request) {
	if s.Remover == nil || s.Cutouts == nil {
		writeError(w, http.StatusServiceUnavailable, "cutouts are disabled")
		return
	}
	var req CutoutRequest
	if _, ok := s.readJSON(w, r, &req); !ok {
		return
	}
	if len(req.ImageIds) == 0 || len(req.ImageIds) > MaxCutoutBatch {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("imageIds must hold between 1 and %d ids", MaxCutoutBatch))
		return
	}

	ctx := r.Context()
	imgs := make([]image.Image, len(req.ImageIds))
	for i, id := range req.ImageIds {
		img, err := s.loadImage(ctx, id)
		if err != nil {
			writeImageError(w, err)
			return
		}
		if req.Crop != nil {
			img, err = imageproc.CropImage(img, imageproc.Crop{
				X:      req.Crop.X,
				Y:      req.Crop.Y,
				Width:  req.Crop.Width,
				Height: req.Crop.Height,
			})
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("image %s: %v", id, err))
				return
			}
		}
		imgs[i] = img
	}

	outs, err := s.Remover.Process(ctx, imgs)
	if err != nil {
		slog.Error("cutout pipeline failed", "err", err)
		writeError(w, http.StatusInternalServerError, "cutout failed")
		return
	}

	resp := CutoutResponse{Images: make([]ImageResponse, 0, len(outs))}
	for i, out := range outs {
		ref, err := s.Cutouts.Save(ctx, out)
		if err != nil {
			slog.Error("failed to store cutout", "source_id", req.ImageIds[i], "err", err)
			s.discardCutouts(ctx, resp.Images)
			writeError(w, http.StatusBadGateway, "failed to store cutout")
			return
		}
		resp.Images = append(resp.Images, imageResponse(ref))
	}
	writeJSON(w, resp, http.StatusCreated)
}

func (s *Server) discardCutouts(ctx context.Context, stored []ImageResponse) {
	for _, img := range stored {
		if err := s.Cutouts.Delete(ctx, img.Id); err != nil {
			slog.Warn("failed to discard cutout", "image_id", img.Id, "err", err)
		}
	}
}

// stores lists the image store followed by the cut-out store when it is a
// separate one.
func (s *Server) stores() []*imagestore.Store {
	if s.Cutouts == nil || s.Cutouts == s.Images {
		return []*imagestore.Store{s.Images}
	}
	return []*imagestore.Store{s.Images, s.Cutouts}
}

// eachStore runs fn against each store until one does not report ErrNotFound.
func (s *Server) eachStore(fn func(*imagestore.Store) error) error {
	err := imagestore.ErrNotFound
	for _, store := range s.stores() {
		if err = fn(store); !errors.Is(err, imagestore.ErrNotFound) {
			return err
		}
	}
	return err
}

func (s *Server) loadImage(ctx context.Context, id openapi_types.UUID) (image.Image, error) {
	var img image.Image
	err := s.eachStore(func(store *imagestore.Store) error {
		var err error
		img, err = store.Load(ctx, id)
		return err
	})
	return img, err
}

func writeImageError(w http.ResponseWriter, err error) {
	if errors.Is(err, imagestore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	slog.Error("image store operation failed", "err", err)
	writeError(w, http.StatusBadGateway, "image store operation failed")
}
