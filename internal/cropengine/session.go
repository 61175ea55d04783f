package cropengine

import (
	"context"
	"errors"
	"image"
	"math"
)

var ErrSessionClosed = errors.New("crop session is closed")

type State string

const (
	StateActive    State = "active"
	StateSaved     State = "saved"
	StateCancelled State = "cancelled"
)

type Option func(*Session)

// OnSave is called with the rendered output when the session is committed.
func OnSave(fn func(image.Image)) Option {
	return func(s *Session) { s.onSave = fn }
}

// OnCancel is called when the session is cancelled.
func OnCancel(fn func()) Option {
	return func(s *Session) { s.onCancel = fn }
}

func WithRenderOptions(opts RenderOptions) Option {
	return func(s *Session) { s.render = opts }
}

// Session is one interactive crop of a source image. The crop size is
// captured when the session starts and used unchanged through Commit.
//
// A Session is not safe for concurrent use.
type Session struct {
	src      image.Image
	cropSize float64
	base     Size
	render   RenderOptions

	t          Transform
	lastScale  float64
	lastOffset Vec

	state    State
	onSave   func(image.Image)
	onCancel func()
}

// NewSession starts a crop of src inside a cropSize viewport where base is
// the image's display size at scale 1. The transform starts at ResetToFit.
func NewSession(src image.Image, cropSize float64, base Size, opts ...Option) (*Session, error) {
	if src == nil || src.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	if err := ValidateGeometry(base, cropSize); err != nil {
		return nil, err
	}

	s := &Session{
		src:      src,
		cropSize: cropSize,
		base:     base,
		state:    StateActive,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reset()
	return s, nil
}

func (s *Session) CropSize() float64 { return s.cropSize }
func (s *Session) BaseDisplaySize() Size { return s.base }
func (s *Session) Transform() Transform { return s.t }
func (s *Session) State() State { return s.state }
func (s *Session) MinScale() float64 { return MinAllowedScale(s.base, s.cropSize) }
func (s *Session) PanLimits() Vec { return PanLimits(s.base, s.t.Scale, s.cropSize) }
func (s *Session) Checkpoint() (float64, Vec) { return s.lastScale, s.lastOffset }

// Magnify applies a pinch update. value is the gesture's cumulative
// magnification, 1.0 meaning no change since the gesture started.
func (s *Session) Magnify(value float64) error {
	if err := s.active(); err != nil {
		return err
	}
	if !positiveFinite(value) {
		return ErrInvalidTransform
	}
	delta := value / s.lastScale
	s.lastScale = value
	s.t.Scale = math.Max(s.t.Scale*delta, MinLiveScale)
	return nil
}

// EndMagnify corrects the transform once the pinch ends.
func (s *Session) EndMagnify() error {
	if err := s.active(); err != nil {
		return err
	}
	s.lastScale = 1
	s.endGesture()
	return nil
}

// Drag applies a pan update. dx and dy are the translation since the drag started.
func (s *Session) Drag(dx, dy float64) error {
	if err := s.active(); err != nil {
		return err
	}
	if !finite(dx) || !finite(dy) {
		return ErrInvalidTransform
	}
	s.t.Offset = s.lastOffset.Add(Vec{X: dx, Y: dy})
	return nil
}

// EndDrag corrects the transform once the pan ends.
func (s *Session) EndDrag() error {
	if err := s.active(); err != nil {
		return err
	}
	s.lastOffset = s.t.Offset
	s.endGesture()
	return nil
}

func (s *Session) Reset() error {
	if err := s.active(); err != nil {
		return err
	}
	s.reset()
	return nil
}

// Preview renders the current transform without ending the session.
func (s *Session) Preview(ctx context.Context) (*image.RGBA, error) {
	if err := s.active(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Render(s.src, s.t, s.base, s.cropSize, s.render)
}

// Commit renders the output, hands it to the save callback and closes the
// session. A failed render leaves the session active.
func (s *Session) Commit(ctx context.Context) (*image.RGBA, error) {
	return s.CommitFunc(ctx, nil)
}

// CommitFunc is Commit with a persistence step: persist receives the
// rendered output before the session closes, and an error from it leaves the
// session active so the commit can be retried.
func (s *Session) CommitFunc(ctx context.Context, persist func(*image.RGBA) error) (*image.RGBA, error) {
	out, err := s.Preview(ctx)
	if err != nil {
		return nil, err
	}
	if persist != nil {
		if err := persist(out); err != nil {
			return nil, err
		}
	}
	s.state = StateSaved
	if s.onSave != nil {
		s.onSave(out)
	}
	return out, nil
}

func (s *Session) Cancel() error {
	if err := s.active(); err != nil {
		return err
	}
	s.state = StateCancelled
	if s.onCancel != nil {
		s.onCancel()
	}
	return nil
}

func (s *Session) endGesture() {
	s.t = Correct(s.t, s.base, s.cropSize)
	s.lastOffset = s.t.Offset
	s.lastScale = 1
}

func (s *Session) reset() {
	s.t = ResetToFit(s.base, s.cropSize)
	s.lastScale = 1
	s.lastOffset = Vec{}
}

func (s *Session) active() error {
	if s.state != StateActive {
		return ErrSessionClosed
	}
	return nil
}
