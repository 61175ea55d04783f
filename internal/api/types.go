// Package api defines the HTTP surface described by openapi.yaml.
package api

import (
	openapi_types "github.com/oapi-codegen/runtime/types"
)

type ErrorResponse struct {
	Message string `json:"message"`
}

// CreateSessionRequest starts a crop session. Exactly one image source is set.
type CreateSessionRequest struct {
	ImageBase64     *string             `json:"imageBase64,omitempty"`
	ImageUrl        *string             `json:"imageUrl,omitempty"`
	ImageId         *openapi_types.UUID `json:"imageId,omitempty"`
	ContainerWidth  float64             `json:"containerWidth"`
	ContainerHeight float64             `json:"containerHeight"`
	Background      *string             `json:"background,omitempty"`
}

type SessionResponse struct {
	Id         openapi_types.UUID `json:"id"`
	State      string             `json:"state"`
	CropSize   float64            `json:"cropSize"`
	BaseWidth  float64            `json:"baseWidth"`
	BaseHeight float64            `json:"baseHeight"`
	Scale      float64            `json:"scale"`
	OffsetX    float64            `json:"offsetX"`
	OffsetY    float64            `json:"offsetY"`
	MinScale   float64            `json:"minScale"`
	MaxScale   float64            `json:"maxScale"`
	PanLimitX  float64            `json:"panLimitX"`
	PanLimitY  float64            `json:"panLimitY"`
}

type GestureKind string

const (
	GestureKindMagnify GestureKind = "magnify"
	GestureKindDrag    GestureKind = "drag"
)

type GesturePhase string

const (
	GesturePhaseChanged GesturePhase = "changed"
	GesturePhaseEnded   GesturePhase = "ended"
)

// Gesture is one update of a pinch or pan. Value is the cumulative
// magnification of a pinch; Dx and Dy the cumulative translation of a pan.
type Gesture struct {
	Kind  GestureKind  `json:"kind"`
	Phase GesturePhase `json:"phase"`
	Value *float64     `json:"value,omitempty"`
	Dx    *float64     `json:"dx,omitempty"`
	Dy    *float64     `json:"dy,omitempty"`
}

type GestureBatch struct {
	Gestures []Gesture `json:"gestures"`
}

type ImageResponse struct {
	Id          openapi_types.UUID `json:"id"`
	Url         *string            `json:"url,omitempty"`
	ContentType string             `json:"contentType"`
}

type ImageList struct {
	Images []openapi_types.UUID `json:"images"`
}

// CropRect is a pixel rectangle applied to each source before its
// background is removed.
type CropRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type CutoutRequest struct {
	ImageIds []openapi_types.UUID `json:"imageIds"`
	Crop     *CropRect            `json:"crop,omitempty"`
}

type CutoutResponse struct {
	Images []ImageResponse `json:"images"`
}

type CropRenderRequest struct {
	ImageUrl        string   `json:"imageUrl"`
	ContainerWidth  float64  `json:"containerWidth"`
	ContainerHeight float64  `json:"containerHeight"`
	Scale           *float64 `json:"scale,omitempty"`
	OffsetX         *float64 `json:"offsetX,omitempty"`
	OffsetY         *float64 `json:"offsetY,omitempty"`
	Correct         *bool    `json:"correct,omitempty"`
	Background      *string  `json:"background,omitempty"`
}

type JobResponse struct {
	Id              openapi_types.UUID `json:"id"`
	Status          string             `json:"status"`
	CroppedImageUrl *string            `json:"croppedImageUrl,omitempty"`
	ImageId         *string            `json:"imageId,omitempty"`
	Error           *string            `json:"error,omitempty"`
	CreatedAt       string             `json:"createdAt"`
	UpdatedAt       string             `json:"updatedAt"`
}
