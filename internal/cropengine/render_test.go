package cropengine

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"
)

func solidImage(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func posInf() float64 { return math.Inf(1) }

func requireRed(t *testing.T, img *image.RGBA, x, y int) {
	t.Helper()
	c := img.RGBAAt(x, y)
	require.Greater(t, c.R, uint8(250), "pixel (%d,%d) = %v", x, y, c)
	require.Less(t, c.G, uint8(5), "pixel (%d,%d) = %v", x, y, c)
	require.Greater(t, c.A, uint8(250), "pixel (%d,%d) = %v", x, y, c)
}

func TestOutputPlacement(t *testing.T) {
	p := OutputPlacement(Transform{Scale: 0.5, Offset: Vec{X: 30, Y: -15}}, Size{W: 300, H: 300}, 300)
	// rendered 150x150 centred at (180, 135) in viewport space, times 3.6
	require.InDelta(t, (180-75)*3.6, p.X, eps)
	require.InDelta(t, (135-75)*3.6, p.Y, eps)
	require.InDelta(t, 540, p.W, eps)
	require.InDelta(t, 540, p.H, eps)
}

func TestRenderFullCover(t *testing.T) {
	src := solidImage(100, 100, color.NRGBA{R: 255, A: 255})
	out, err := Render(src, Transform{Scale: 1}, Size{W: 300, H: 300}, 300, RenderOptions{})
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, OutputSize, OutputSize), out.Bounds())

	for _, pt := range []image.Point{{540, 540}, {10, 10}, {1070, 1070}, {10, 1070}} {
		requireRed(t, out, pt.X, pt.Y)
	}
}

func TestRenderUncoveredIsTransparentByDefault(t *testing.T) {
	src := solidImage(100, 100, color.NRGBA{R: 255, A: 255})
	out, err := Render(src, Transform{Scale: 0.5}, Size{W: 300, H: 300}, 300, RenderOptions{})
	require.NoError(t, err)

	require.Equal(t, color.RGBA{}, out.RGBAAt(100, 100))
	require.Equal(t, color.RGBA{}, out.RGBAAt(1000, 540))
	requireRed(t, out, 540, 540)
}

func TestRenderBackgroundAndOffset(t *testing.T) {
	src := solidImage(100, 100, color.NRGBA{R: 255, A: 255})
	opts := RenderOptions{Background: color.White}
	out, err := Render(src, Transform{Scale: 1, Offset: Vec{X: 150}}, Size{W: 300, H: 300}, 300, opts)
	require.NoError(t, err)

	// image now starts at x=540 on the canvas
	require.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, out.RGBAAt(100, 540))
	requireRed(t, out, 800, 540)
}

func TestRenderTranslucentSourceOverBackground(t *testing.T) {
	src := solidImage(50, 50, color.NRGBA{A: 0})
	opts := RenderOptions{Background: color.Black}
	out, err := Render(src, Transform{Scale: 1}, Size{W: 300, H: 300}, 300, opts)
	require.NoError(t, err)
	require.Equal(t, color.RGBA{A: 255}, out.RGBAAt(540, 540))
}

func TestRenderIsDeterministic(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for i := range src.Pix {
		src.Pix[i] = uint8(i * 31)
	}
	tr := Transform{Scale: 1.37, Offset: Vec{X: -12.5, Y: 33.25}}
	base := FitDisplaySize(Size{W: 64, H: 48}, Size{W: 390, H: 844})

	a, err := Render(src, tr, base, 350, RenderOptions{})
	require.NoError(t, err)
	b, err := Render(src, tr, base, 350, RenderOptions{})
	require.NoError(t, err)
	require.Equal(t, a.Pix, b.Pix)
}

func TestRenderHonoursSourceBoundsOrigin(t *testing.T) {
	full := solidImage(200, 200, color.NRGBA{B: 255, A: 255})
	draw.Draw(full, image.Rect(100, 100, 200, 200), image.NewUniform(color.NRGBA{R: 255, A: 255}), image.Point{}, draw.Src)
	sub := full.SubImage(image.Rect(100, 100, 200, 200))

	out, err := Render(sub, Transform{Scale: 1}, Size{W: 300, H: 300}, 300, RenderOptions{Interpolator: draw.NearestNeighbor})
	require.NoError(t, err)
	requireRed(t, out, 540, 540)
	requireRed(t, out, 5, 5)
}

func TestRenderErrors(t *testing.T) {
	src := solidImage(10, 10, color.White)

	_, err := Render(src, Transform{Scale: 1}, Size{W: 10, H: 10}, 0, RenderOptions{})
	require.ErrorIs(t, err, ErrInvalidGeometry)

	_, err = Render(src, Transform{Scale: math.NaN()}, Size{W: 10, H: 10}, 300, RenderOptions{})
	require.ErrorIs(t, err, ErrInvalidTransform)

	_, err = Render(src, Transform{Scale: 1, Offset: Vec{X: posInf()}}, Size{W: 10, H: 10}, 300, RenderOptions{})
	require.ErrorIs(t, err, ErrInvalidTransform)

	_, err = Render(image.NewNRGBA(image.Rectangle{}), Transform{Scale: 1}, Size{W: 10, H: 10}, 300, RenderOptions{})
	require.ErrorIs(t, err, ErrEmptyImage)
}
