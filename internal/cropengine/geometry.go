// Package cropengine tracks the pan/zoom transform of an image inside a square
// crop viewport, keeps it within bounds between gestures and renders the
// framed region into a fixed-size square output.
package cropengine

import (
	"errors"
	"math"
)

const (
	// MaxScale caps magnification after a correction pass.
	MaxScale = 5.0
	// MinLiveScale is the floor applied while a magnification gesture is in progress.
	MinLiveScale = 0.1
	// MinScaleFactor is applied to the fit scale to get the smallest allowed scale.
	MinScaleFactor = 0.8
	// OverlapMargin is how many viewport points of the image must stay inside the viewport.
	OverlapMargin = 20.0
	// ViewportInset is subtracted from the container's short side to get the crop box side.
	ViewportInset = 40.0
	// OutputSize is the side of the rendered output in pixels.
	OutputSize = 1080
)

var (
	ErrInvalidGeometry  = errors.New("crop geometry must have positive finite dimensions")
	ErrInvalidTransform = errors.New("crop transform must be finite with positive scale")
	ErrEmptyImage       = errors.New("source image has no pixels")
)

type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec) Add(o Vec) Vec { return Vec{X: v.X + o.X, Y: v.Y + o.Y} }

type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (s Size) Valid() bool {
	return positiveFinite(s.W) && positiveFinite(s.H)
}

// Transform is the scale applied to the base display size and the offset of
// the image centre from the viewport centre.
type Transform struct {
	Scale  float64 `json:"scale"`
	Offset Vec     `json:"offset"`
}

func (t Transform) Valid() bool {
	return positiveFinite(t.Scale) && finite(t.Offset.X) && finite(t.Offset.Y)
}

// Identity is the transform at scale 1 with no offset.
func Identity() Transform {
	return Transform{Scale: 1}
}

// ViewportSide returns the crop box side for a host container.
func ViewportSide(containerW, containerH float64) float64 {
	return math.Min(containerW, containerH) - ViewportInset
}

// FitDisplaySize returns the size of an image laid out aspect-fit inside the
// container, which is the image's display size at scale 1.
func FitDisplaySize(img, container Size) Size {
	if !img.Valid() || !container.Valid() {
		return Size{}
	}
	ratio := math.Min(container.W/img.W, container.H/img.H)
	return Size{W: img.W * ratio, H: img.H * ratio}
}

// Layout derives the crop box side and the base display size for an image
// of the given pixel size shown in a host container.
func Layout(img, container Size) (float64, Size, error) {
	if !img.Valid() || !container.Valid() {
		return 0, Size{}, ErrInvalidGeometry
	}
	cropSize := ViewportSide(container.W, container.H)
	base := FitDisplaySize(img, container)
	if err := ValidateGeometry(base, cropSize); err != nil {
		return 0, Size{}, err
	}
	return cropSize, base, nil
}

func ValidateGeometry(base Size, cropSize float64) error {
	if !base.Valid() || !positiveFinite(cropSize) {
		return ErrInvalidGeometry
	}
	return nil
}

// FitScale is the scale at which the whole image fits inside the viewport.
func FitScale(base Size, cropSize float64) float64 {
	return math.Min(cropSize/base.W, cropSize/base.H)
}

func MinAllowedScale(base Size, cropSize float64) float64 {
	return FitScale(base, cropSize) * MinScaleFactor
}

// PanLimits returns the largest absolute offset per axis that still leaves
// OverlapMargin points of the image inside the viewport.
func PanLimits(base Size, scale, cropSize float64) Vec {
	limit := func(side float64) float64 {
		return math.Max(cropSize/2+side*scale/2-OverlapMargin, 0)
	}
	return Vec{X: limit(base.W), Y: limit(base.H)}
}

// Correct clamps t into the allowed scale range and pan limits. The minimum
// scale is applied before MaxScale, so MaxScale wins when the image is small
// enough that its fit scale exceeds it. Degenerate geometry leaves t unchanged.
func Correct(t Transform, base Size, cropSize float64) Transform {
	if ValidateGeometry(base, cropSize) != nil {
		return t
	}

	t.Scale = math.Min(math.Max(t.Scale, MinAllowedScale(base, cropSize)), MaxScale)

	limits := PanLimits(base, t.Scale, cropSize)
	t.Offset.X = clampAbs(t.Offset.X, limits.X)
	t.Offset.Y = clampAbs(t.Offset.Y, limits.Y)
	return t
}

// ResetToFit returns the initial transform: an image smaller than the
// viewport on both axes is scaled so its short side meets the viewport,
// anything else is scaled to cover the viewport.
func ResetToFit(base Size, cropSize float64) Transform {
	if ValidateGeometry(base, cropSize) != nil {
		return Identity()
	}

	var scale float64
	if base.W < cropSize && base.H < cropSize {
		scale = cropSize / math.Min(base.W, base.H)
	} else {
		scale = math.Max(cropSize/base.W, cropSize/base.H)
	}
	return Transform{Scale: scale}
}

// InBounds reports whether t would be left unchanged by Correct.
func InBounds(t Transform, base Size, cropSize float64) bool {
	return Correct(t, base, cropSize) == t
}

func clampAbs(v, limit float64) float64 {
	if math.Abs(v) <= limit {
		return v
	}
	if v > 0 {
		return limit
	}
	return -limit
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func positiveFinite(v float64) bool {
	return finite(v) && v > 0
}
