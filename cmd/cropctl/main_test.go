package main

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"closet-api/internal/cropengine"
	"closet-api/internal/imageproc"

	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	data, err := imageproc.Encode(img, imageproc.FormatPNG, 0)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func garment(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: 245, G: 245, B: 245, A: 255}
			if x > w/4 && x < 3*w/4 && y > h/4 && y < 3*h/4 {
				c = color.NRGBA{R: 120, G: 20, B: 40, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func newSession(t *testing.T) *cropengine.Session {
	t.Helper()
	s, err := cropengine.NewSession(garment(40, 20), 350, cropengine.Size{W: 390, H: 195})
	require.NoError(t, err)
	return s
}

func TestReplayAppliesStepsInOrder(t *testing.T) {
	s := newSession(t)
	fill := s.Transform().Scale

	script := strings.Join([]string{
		`{"kind":"magnify","phase":"changed","value":1.5}`,
		`{"kind":"magnify","phase":"ended","value":2}`,
		``,
		`{"kind":"drag","phase":"changed","dx":30,"dy":-10}`,
		`{"kind":"drag","phase":"ended","dx":40,"dy":-10}`,
	}, "\n")
	require.NoError(t, replay(context.Background(), s, strings.NewReader(script)))

	got := s.Transform()
	require.InDelta(t, 2*fill, got.Scale, 1e-9)
	require.Equal(t, cropengine.Vec{X: 40, Y: -10}, got.Offset)
	require.Equal(t, cropengine.StateActive, s.State())
}

func TestReplayDragEndWithoutValueKeepsPan(t *testing.T) {
	s := newSession(t)
	script := `{"kind":"drag","phase":"changed","dx":50,"dy":10}
{"kind":"drag","phase":"ended"}
`
	require.NoError(t, replay(context.Background(), s, strings.NewReader(script)))
	require.Equal(t, cropengine.Vec{X: 50, Y: 10}, s.Transform().Offset)

	_, last := s.Checkpoint()
	require.Equal(t, cropengine.Vec{X: 50, Y: 10}, last)
}

func TestReplayRejectsIncompleteDrag(t *testing.T) {
	for _, line := range []string{
		`{"kind":"drag","phase":"changed"}`,
		`{"kind":"drag","phase":"ended","dx":5}`,
	} {
		err := replay(context.Background(), newSession(t), strings.NewReader(line))
		require.ErrorContains(t, err, "drag requires dx and dy", line)
	}
}

func TestReplayStopsAtCommit(t *testing.T) {
	s := newSession(t)
	script := `{"kind":"commit"}
{"kind":"drag","phase":"changed","dx":1,"dy":1}
`
	require.NoError(t, replay(context.Background(), s, strings.NewReader(script)))
	require.Equal(t, cropengine.StateSaved, s.State())
}

func TestReplayReportsLine(t *testing.T) {
	s := newSession(t)
	script := `{"kind":"reset"}
{"kind":"spin"}
`
	err := replay(context.Background(), s, strings.NewReader(script))
	require.ErrorContains(t, err, "line 2")

	err = replay(context.Background(), newSession(t), strings.NewReader(`{"kind":"magnify","phase":"changed"}`))
	require.ErrorContains(t, err, "magnify requires value")
}

func TestRenderCmdWritesOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "shirt.png")
	writePNG(t, src, garment(400, 200))
	script := filepath.Join(dir, "gestures.jsonl")
	require.NoError(t, os.WriteFile(script, []byte(`{"kind":"magnify","phase":"ended","value":40}`+"\n"), 0o644))

	out := filepath.Join(dir, "out.png")
	cmd := &renderCmd{Image: src, Script: script, Out: out, Width: 390, Height: 844, Background: "white", Format: "png"}
	require.NoError(t, cmd.Run(context.Background()))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	img, err := imageproc.DecodeImage(data)
	require.NoError(t, err)
	require.Equal(t, image.Pt(cropengine.OutputSize, cropengine.OutputSize), img.Bounds().Size())
}

func TestRenderCmdCancelWritesNothing(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "shirt.png")
	writePNG(t, src, garment(400, 200))
	script := filepath.Join(dir, "gestures.jsonl")
	require.NoError(t, os.WriteFile(script, []byte(`{"kind":"cancel"}`+"\n"), 0o644))

	out := filepath.Join(dir, "out.png")
	cmd := &renderCmd{Image: src, Script: script, Out: out, Width: 390, Height: 844, Background: "transparent", Format: "png"}
	require.NoError(t, cmd.Run(context.Background()))
	_, err := os.Stat(out)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCutoutCmd(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), garment(60, 60))
	writePNG(t, filepath.Join(dir, "b.png"), garment(80, 40))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	cmd := &cutoutCmd{Dir: dir, Workers: 2}
	require.NoError(t, cmd.Run(context.Background()))

	for _, name := range []string{"a.png", "b.png"} {
		data, err := os.ReadFile(filepath.Join(dir, "cutouts", name))
		require.NoError(t, err)
		img, err := imageproc.DecodeImage(data)
		require.NoError(t, err)
		_, _, _, a := img.At(0, 0).RGBA()
		require.Zero(t, a, name)
	}
	_, err := os.Stat(filepath.Join(dir, "cutouts", "notes.png"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
