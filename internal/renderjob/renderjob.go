// Package renderjob executes asynchronous crop-render jobs: fetch the source
// image, apply a crop transform and store the 1080×1080 result.
package renderjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"closet-api/internal/cropengine"
	"closet-api/internal/imageproc"
	"closet-api/internal/imagestore"
)

var ErrInvalidRequest = errors.New("invalid render request")

// Request describes a crop the client framed on a device. When Scale is nil
// the transform starts from the initial fill; Correct runs the bounds
// correction pass before rendering.
type Request struct {
	ImageURL        string   `json:"imageUrl"`
	ContainerWidth  float64  `json:"containerWidth"`
	ContainerHeight float64  `json:"containerHeight"`
	Scale           *float64 `json:"scale,omitempty"`
	OffsetX         float64  `json:"offsetX"`
	OffsetY         float64  `json:"offsetY"`
	Correct         bool     `json:"correct"`
	Background      string   `json:"background,omitempty"`
}

func (r Request) Validate() error {
	if r.ImageURL == "" {
		return fmt.Errorf("%w: imageUrl is required", ErrInvalidRequest)
	}
	if cropengine.ViewportSide(r.ContainerWidth, r.ContainerHeight) <= 0 {
		return fmt.Errorf("%w: container must be larger than %v points on both sides", ErrInvalidRequest, cropengine.ViewportInset)
	}
	if r.Scale != nil && *r.Scale <= 0 {
		return fmt.Errorf("%w: scale must be greater than 0", ErrInvalidRequest)
	}
	if _, err := imageproc.ParseColor(r.Background); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

type Result struct {
	CroppedImageURL string               `json:"croppedImageUrl"`
	ImageID         string               `json:"imageId"`
	Transform       cropengine.Transform `json:"transform"`
	CropSize        float64              `json:"cropSize"`
}

// Fetcher downloads the bytes behind a URL.
type Fetcher func(ctx context.Context, url string) ([]byte, error)

type Processor struct {
	Fetch     Fetcher
	Store     *imagestore.Store
	MaxPixels int
}

// Process runs the job payload and returns the result JSON stored on the job.
func (p *Processor) Process(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	res, err := p.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

func (p *Processor) Run(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	data, err := p.Fetch(ctx, req.ImageURL)
	if err != nil {
		return Result{}, fmt.Errorf("fetch source image: %w", err)
	}
	src, err := imageproc.DecodeImage(data)
	if err != nil {
		return Result{}, fmt.Errorf("decode source image: %w", err)
	}
	if err := imageproc.ValidateImage(src, p.MaxPixels); err != nil {
		return Result{}, err
	}

	if req.Background == "" {
		req.Background = imageproc.DefaultBackground(p.Store.Format)
	}
	out, t, cropSize, err := Render(src, req)
	if err != nil {
		return Result{}, err
	}

	ref, err := p.Store.Save(ctx, out)
	if err != nil {
		return Result{}, err
	}
	return Result{
		CroppedImageURL: ref.URL,
		ImageID:         ref.ID.String(),
		Transform:       t,
		CropSize:        cropSize,
	}, nil
}

// Render frames src as described by req and rasterizes it.
func Render(src image.Image, req Request) (*image.RGBA, cropengine.Transform, float64, error) {
	b := src.Bounds()
	imgSize := cropengine.Size{W: float64(b.Dx()), H: float64(b.Dy())}
	container := cropengine.Size{W: req.ContainerWidth, H: req.ContainerHeight}
	cropSize, base, err := cropengine.Layout(imgSize, container)
	if err != nil {
		return nil, cropengine.Transform{}, 0, err
	}

	t := cropengine.ResetToFit(base, cropSize)
	if req.Scale != nil {
		t.Scale = *req.Scale
	}
	t.Offset = cropengine.Vec{X: req.OffsetX, Y: req.OffsetY}
	if req.Correct {
		t = cropengine.Correct(t, base, cropSize)
	}

	bg, err := imageproc.ParseColor(req.Background)
	if err != nil {
		return nil, cropengine.Transform{}, 0, err
	}
	out, err := cropengine.Render(src, t, base, cropSize, cropengine.RenderOptions{Background: bg})
	if err != nil {
		return nil, cropengine.Transform{}, 0, err
	}
	return out, t, cropSize, nil
}
