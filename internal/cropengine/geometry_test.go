package cropengine

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

const eps = 1e-9

func TestViewportSide(t *testing.T) {
	require.Equal(t, 350.0, ViewportSide(390, 844))
	require.Equal(t, 350.0, ViewportSide(844, 390))
}

func TestFitDisplaySize(t *testing.T) {
	got := FitDisplaySize(Size{W: 4000, H: 2000}, Size{W: 390, H: 844})
	require.InDelta(t, 390, got.W, eps)
	require.InDelta(t, 195, got.H, eps)

	got = FitDisplaySize(Size{W: 100, H: 400}, Size{W: 390, H: 844})
	require.InDelta(t, 211, got.W, eps)
	require.InDelta(t, 844, got.H, eps)

	require.Equal(t, Size{}, FitDisplaySize(Size{}, Size{W: 1, H: 1}))
}

func TestCorrectScaleRange(t *testing.T) {
	base := Size{W: 2000, H: 1000}
	crop := 300.0

	require.InDelta(t, 0.15, FitScale(base, crop), eps)
	require.InDelta(t, 0.12, MinAllowedScale(base, crop), eps)

	got := Correct(Transform{Scale: 0.01}, base, crop)
	require.InDelta(t, 0.12, got.Scale, eps)

	got = Correct(Transform{Scale: 12}, base, crop)
	require.Equal(t, MaxScale, got.Scale)

	got = Correct(Transform{Scale: 1.5}, base, crop)
	require.Equal(t, 1.5, got.Scale)
}

func TestCorrectClampsLargeDrag(t *testing.T) {
	base := Size{W: 2000, H: 1000}
	crop := 300.0

	for _, scale := range []float64{0.12, 0.2, 1, 3} {
		got := Correct(Transform{Scale: scale, Offset: Vec{X: 10000, Y: -10000}}, base, crop)
		wantX := 150 + (2000*scale)/2 - 20
		wantY := 150 + (1000*scale)/2 - 20
		require.InDelta(t, wantX, got.Offset.X, eps, "scale %v", scale)
		require.InDelta(t, -wantY, got.Offset.Y, eps, "scale %v", scale)
	}
}

func TestCorrectCapsScaleForTinyImages(t *testing.T) {
	base := Size{W: 10, H: 10}
	require.InDelta(t, 24, MinAllowedScale(base, 300), eps)

	got := Correct(Transform{Scale: 1}, base, 300)
	require.Equal(t, MaxScale, got.Scale)
	require.True(t, InBounds(got, base, 300))

	got = Correct(Transform{Scale: 40}, base, 300)
	require.Equal(t, MaxScale, got.Scale)
}

func TestCorrectKeepsOffsetsInsideLimits(t *testing.T) {
	base := Size{W: 350, H: 175}
	got := Correct(Transform{Scale: 2, Offset: Vec{X: -30, Y: 12}}, base, 350)
	require.Equal(t, Transform{Scale: 2, Offset: Vec{X: -30, Y: 12}}, got)
}

func TestCorrectProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		base := Size{W: 1 + rng.Float64()*3000, H: 1 + rng.Float64()*3000}
		crop := 1 + rng.Float64()*800
		in := Transform{
			Scale:  rng.Float64() * 10,
			Offset: Vec{X: (rng.Float64() - 0.5) * 20000, Y: (rng.Float64() - 0.5) * 20000},
		}

		got := Correct(in, base, crop)

		minScale := math.Min(0.8*math.Min(crop/base.W, crop/base.H), MaxScale)
		require.GreaterOrEqual(t, got.Scale, minScale-eps)
		require.LessOrEqual(t, got.Scale, MaxScale)

		limits := PanLimits(base, got.Scale, crop)
		require.LessOrEqual(t, math.Abs(got.Offset.X), limits.X+eps)
		require.LessOrEqual(t, math.Abs(got.Offset.Y), limits.Y+eps)

		require.Equal(t, got, Correct(got, base, crop), "correction must be idempotent")
	}
}

func TestCorrectDegenerateGeometry(t *testing.T) {
	in := Transform{Scale: 40, Offset: Vec{X: 1e6}}
	require.Equal(t, in, Correct(in, Size{W: 0, H: 10}, 300))
	require.Equal(t, in, Correct(in, Size{W: 10, H: 10}, 0))
	require.Equal(t, in, Correct(in, Size{W: math.NaN(), H: 10}, 300))
}

func TestPanLimitsNeverNegative(t *testing.T) {
	limits := PanLimits(Size{W: 1, H: 1}, 0.1, 2)
	require.Equal(t, Vec{}, limits)
}

func TestResetToFit(t *testing.T) {
	t.Run("small image scales up on short side", func(t *testing.T) {
		got := ResetToFit(Size{W: 100, H: 50}, 300)
		require.InDelta(t, 6, got.Scale, eps)
		require.Equal(t, Vec{}, got.Offset)
	})

	t.Run("cover", func(t *testing.T) {
		got := ResetToFit(Size{W: 390, H: 195}, 350)
		require.InDelta(t, math.Max(350.0/390, 350.0/195), got.Scale, eps)
		require.Equal(t, Vec{}, got.Offset)
	})

	t.Run("one side smaller uses cover", func(t *testing.T) {
		got := ResetToFit(Size{W: 600, H: 100}, 300)
		require.InDelta(t, 3, got.Scale, eps)
	})

	t.Run("degenerate", func(t *testing.T) {
		require.Equal(t, Identity(), ResetToFit(Size{}, 300))
	})
}

func TestInBounds(t *testing.T) {
	base := Size{W: 2000, H: 1000}
	require.True(t, InBounds(Transform{Scale: 1}, base, 300))
	require.False(t, InBounds(Transform{Scale: 6}, base, 300))
	require.False(t, InBounds(Transform{Scale: 1, Offset: Vec{X: 5000}}, base, 300))
}

func TestLayout(t *testing.T) {
	cropSize, base, err := Layout(Size{W: 4000, H: 3000}, Size{W: 390, H: 844})
	require.NoError(t, err)
	require.Equal(t, 350.0, cropSize)
	require.InDelta(t, 390, base.W, eps)
	require.InDelta(t, 292.5, base.H, eps)

	_, _, err = Layout(Size{W: 4000, H: 3000}, Size{W: 30, H: 844})
	require.ErrorIs(t, err, ErrInvalidGeometry)

	_, _, err = Layout(Size{}, Size{W: 390, H: 844})
	require.ErrorIs(t, err, ErrInvalidGeometry)
}
