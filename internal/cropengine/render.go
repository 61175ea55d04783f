package cropengine

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// RenderOptions control how the framed region is rasterized.
type RenderOptions struct {
	// Background fills canvas regions the image does not cover. Nil means transparent.
	Background color.Color
	// Interpolator resamples the source. Nil means Catmull-Rom.
	Interpolator draw.Interpolator
}

func (o RenderOptions) background() color.Color {
	if o.Background == nil {
		return color.Transparent
	}
	return o.Background
}

func (o RenderOptions) interpolator() draw.Interpolator {
	if o.Interpolator == nil {
		return draw.CatmullRom
	}
	return o.Interpolator
}

// Placement is where the image lands on the output canvas.
type Placement struct {
	X, Y, W, H float64
}

// OutputPlacement maps the image rectangle shown in the viewport onto an
// OutputSize square canvas.
func OutputPlacement(t Transform, base Size, cropSize float64) Placement {
	outputScale := OutputSize / cropSize

	renderedW := base.W * t.Scale
	renderedH := base.H * t.Scale

	centerX := cropSize/2 + t.Offset.X
	centerY := cropSize/2 + t.Offset.Y

	return Placement{
		X: (centerX - renderedW/2) * outputScale,
		Y: (centerY - renderedH/2) * outputScale,
		W: renderedW * outputScale,
		H: renderedH * outputScale,
	}
}

// Render draws src into an OutputSize×OutputSize canvas the way the viewport
// displayed it under t. The same inputs always produce the same pixels.
func Render(src image.Image, t Transform, base Size, cropSize float64, opts RenderOptions) (*image.RGBA, error) {
	if err := ValidateGeometry(base, cropSize); err != nil {
		return nil, err
	}
	if !t.Valid() {
		return nil, ErrInvalidTransform
	}
	sr := src.Bounds()
	if sr.Empty() {
		return nil, ErrEmptyImage
	}

	dst := image.NewRGBA(image.Rect(0, 0, OutputSize, OutputSize))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(opts.background()), image.Point{}, draw.Src)

	p := OutputPlacement(t, base, cropSize)
	sx := p.W / float64(sr.Dx())
	sy := p.H / float64(sr.Dy())
	s2d := f64.Aff3{
		sx, 0, p.X - float64(sr.Min.X)*sx,
		0, sy, p.Y - float64(sr.Min.Y)*sy,
	}
	opts.interpolator().Transform(dst, s2d, src, sr, draw.Over, nil)

	return dst, nil
}
