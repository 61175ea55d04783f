package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"
)

var (
	ErrImageTooLarge      = errors.New("image exceeds maximum size")
	ErrImageTooManyPixels = errors.New("image exceeds maximum pixel count")
	ErrCropOutOfBounds    = errors.New("crop rectangle exceeds image bounds")
	ErrCropInvalid        = errors.New("crop rectangle is invalid")
	ErrUnsupportedFormat  = errors.New("unsupported output format")
	ErrInvalidColor       = errors.New("invalid color")
)

// DefaultJPEGQuality matches the compression the closet app stores photos with.
const DefaultJPEGQuality = 80

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func (f Format) Ext() string {
	switch f {
	case FormatPNG:
		return ".png"
	case FormatWebP:
		return ".webp"
	default:
		return ".jpg"
	}
}

// HasAlpha reports whether the format keeps transparent canvas regions.
func (f Format) HasAlpha() bool {
	return f == FormatPNG || f == FormatWebP
}

type Crop struct {
	X      int
	Y      int
	Width  int
	Height int
}

type Limits struct {
	MaxBytes  int64
	MaxPixels int
}

// DecodeImage decodes data and applies any EXIF orientation so the returned
// image is upright.
func DecodeImage(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

func ValidateImage(img image.Image, maxPixels int) error {
	// Guard against images that are valid but too large for memory/time budgets.
	if maxPixels <= 0 {
		return nil
	}
	bounds := img.Bounds()
	pixels := bounds.Dx() * bounds.Dy()
	if pixels > maxPixels {
		return ErrImageTooManyPixels
	}
	return nil
}

func CropImage(img image.Image, crop Crop) (image.Image, error) {
	if crop.Width <= 0 || crop.Height <= 0 || crop.X < 0 || crop.Y < 0 {
		return nil, ErrCropInvalid
	}

	bounds := img.Bounds()
	if crop.X+crop.Width > bounds.Dx() || crop.Y+crop.Height > bounds.Dy() {
		return nil, ErrCropOutOfBounds
	}

	rect := image.Rect(
		bounds.Min.X+crop.X,
		bounds.Min.Y+crop.Y,
		bounds.Min.X+crop.X+crop.Width,
		bounds.Min.Y+crop.Y+crop.Height,
	)

	return imaging.Crop(img, rect), nil
}

// Encode writes img in the given format. quality only applies to JPEG.
func Encode(img image.Image, format Format, quality int) ([]byte, error) {
	switch format {
	case FormatJPEG, "":
		return EncodeJPEG(img, quality)
	case FormatPNG:
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatWebP:
		var buf bytes.Buffer
		if err := nativewebp.Encode(&buf, img, nil); err != nil {
			return nil, fmt.Errorf("webp encode: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DefaultBackground is the canvas colour used when a caller names none:
// transparent when format keeps alpha, white otherwise.
func DefaultBackground(format Format) string {
	if format.HasAlpha() {
		return "transparent"
	}
	return "white"
}

// ParseColor accepts "transparent", "white", "black", "#rrggbb" and
// "#rrggbbaa". An empty string is transparent.
func ParseColor(s string) (color.Color, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "", "transparent":
		return color.Transparent, nil
	case "white":
		return color.White, nil
	case "black":
		return color.Black, nil
	default:
		hex := strings.TrimPrefix(v, "#")
		if len(hex) != 6 && len(hex) != 8 || len(hex) == len(v) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidColor, s)
		}
		if len(hex) == 6 {
			hex += "ff"
		}
		n, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidColor, s)
		}
		return color.NRGBA{R: uint8(n >> 24), G: uint8(n >> 16), B: uint8(n >> 8), A: uint8(n)}, nil
	}
}
