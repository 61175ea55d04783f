// Package bgremove cuts clothing photos out of their background. A segmenter
// produces a foreground mask; when it cannot, a high-contrast monochrome
// filter is applied instead so every input still yields an image.
package bgremove

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"runtime"

	"github.com/disintegration/imaging"
	"github.com/sourcegraph/conc/pool"
)

var ErrNoForeground = errors.New("no distinct foreground found")

// Segmenter returns an alpha mask over img's bounds where opaque marks the subject.
type Segmenter interface {
	Segment(ctx context.Context, img image.Image) (*image.Alpha, error)
}

// Filter is applied when segmentation fails.
type Filter interface {
	Apply(img image.Image) (image.Image, error)
}

// BorderSegmenter treats every pixel connected to the image border whose
// colour is within Tolerance of the average border colour as background.
type BorderSegmenter struct {
	// Tolerance is the maximum per-pixel RGB distance (0-441) from the border colour.
	Tolerance float64
	// MinCoverage and MaxCoverage bound the foreground fraction accepted as a real subject.
	MinCoverage float64
	MaxCoverage float64
}

func NewBorderSegmenter() *BorderSegmenter {
	return &BorderSegmenter{Tolerance: 48, MinCoverage: 0.01, MaxCoverage: 0.99}
}

func (s *BorderSegmenter) Segment(ctx context.Context, img image.Image) (*image.Alpha, error) {
	src := imaging.Clone(img)
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, ErrNoForeground
	}

	ref := borderColor(src)
	tol2 := s.Tolerance * s.Tolerance
	near := func(i int) bool {
		p := src.Pix[i*4 : i*4+4]
		if p[3] == 0 {
			return true
		}
		dr := float64(p[0]) - ref[0]
		dg := float64(p[1]) - ref[1]
		db := float64(p[2]) - ref[2]
		return dr*dr+dg*dg+db*db <= tol2
	}

	// 4-connected flood fill from every border pixel
	background := make([]bool, w*h)
	queue := make([]int, 0, 2*(w+h))
	push := func(i int) {
		if !background[i] && near(i) {
			background[i] = true
			queue = append(queue, i)
		}
	}
	for x := 0; x < w; x++ {
		push(x)
		push((h-1)*w + x)
	}
	for y := 0; y < h; y++ {
		push(y * w)
		push(y*w + w - 1)
	}

	for n := 0; len(queue) > 0; n++ {
		if n%65536 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		curr := queue[0]
		queue = queue[1:]
		cx, cy := curr%w, curr/w
		if cx > 0 {
			push(curr - 1)
		}
		if cx < w-1 {
			push(curr + 1)
		}
		if cy > 0 {
			push(curr - w)
		}
		if cy < h-1 {
			push(curr + w)
		}
	}

	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	foreground := 0
	for i, bg := range background {
		if !bg {
			mask.Pix[i] = 0xff
			foreground++
		}
	}

	coverage := float64(foreground) / float64(w*h)
	if coverage < s.MinCoverage || coverage > s.MaxCoverage {
		return nil, ErrNoForeground
	}
	return mask, nil
}

func borderColor(img *image.NRGBA) [3]float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var sum [3]float64
	n := 0
	add := func(x, y int) {
		p := img.Pix[y*img.Stride+x*4:]
		sum[0] += float64(p[0])
		sum[1] += float64(p[1])
		sum[2] += float64(p[2])
		n++
	}
	for x := 0; x < w; x++ {
		add(x, 0)
		add(x, h-1)
	}
	for y := 1; y < h-1; y++ {
		add(0, y)
		add(w-1, y)
	}
	return [3]float64{sum[0] / float64(n), sum[1] / float64(n), sum[2] / float64(n)}
}

// NoirFilter is the editorial black-and-white look used when a cut-out fails.
type NoirFilter struct {
	Contrast   float64
	Brightness float64
}

func NewNoirFilter() NoirFilter {
	return NoirFilter{Contrast: 20, Brightness: 5}
}

func (f NoirFilter) Apply(img image.Image) (image.Image, error) {
	if img.Bounds().Empty() {
		return nil, errors.New("empty image")
	}
	out := imaging.Grayscale(img)
	out = imaging.AdjustContrast(out, f.Contrast)
	out = imaging.AdjustBrightness(out, f.Brightness)
	return out, nil
}

// ApplyMask returns img with its alpha multiplied by mask, over a clear background.
func ApplyMask(img image.Image, mask *image.Alpha) *image.NRGBA {
	out := imaging.Clone(img)
	b := out.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			i := y*out.Stride + x*4 + 3
			m := mask.AlphaAt(mask.Rect.Min.X+x, mask.Rect.Min.Y+y).A
			out.Pix[i] = uint8(uint16(out.Pix[i]) * uint16(m) / 0xff)
		}
	}
	return out
}

type Remover struct {
	Segmenter Segmenter
	Fallback  Filter
}

func NewRemover() *Remover {
	return &Remover{Segmenter: NewBorderSegmenter(), Fallback: NewNoirFilter()}
}

// Remove cuts the subject out of img. It never fails on image content: a
// failed cut-out uses the fallback filter and a failed filter returns img.
func (r *Remover) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mask, err := r.Segmenter.Segment(ctx, img)
	if err == nil {
		return ApplyMask(img, mask), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	slog.Debug("segmentation failed, applying fallback filter", "err", err)

	if r.Fallback == nil {
		return img, nil
	}
	out, err := r.Fallback.Apply(img)
	if err != nil {
		slog.Warn("fallback filter failed, keeping original", "err", err)
		return img, nil
	}
	return out, nil
}

// Pipeline runs a Remover over a batch of images in parallel.
type Pipeline struct {
	Remover *Remover
	Workers int
}

func NewPipeline(r *Remover) *Pipeline {
	return &Pipeline{Remover: r, Workers: runtime.NumCPU()}
}

// Process returns one output per input, in input order.
func (p *Pipeline) Process(ctx context.Context, imgs []image.Image) ([]image.Image, error) {
	if len(imgs) == 0 {
		return nil, nil
	}
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]image.Image, len(imgs))
	pooler := pool.New().WithErrors().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(workers)
	for i, img := range imgs {
		pooler.Go(func(ctx context.Context) error {
			out, err := p.Remover.Remove(ctx, img)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := pooler.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
