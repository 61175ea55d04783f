package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	"closet-api/internal/cropengine"
	"closet-api/internal/imageproc"

	"github.com/rs/zerolog/log"
)

type renderCmd struct {
	Image      string  `arg:"" help:"Source image" type:"existingfile"`
	Script     string  `help:"JSONL gesture script, - for stdin" default:"-"`
	Out        string  `help:"Output file" short:"o" required:""`
	Width      float64 `help:"Container width in points" default:"390"`
	Height     float64 `help:"Container height in points" default:"844"`
	Background string  `help:"Background for uncovered areas, white for JPEG and transparent otherwise when unset"`
	Format     string  `help:"Output format: jpeg, png or webp" default:"png"`
	Quality    int     `help:"JPEG quality" default:"80"`
}

// step is one line of a gesture script. kind is magnify, drag, reset,
// commit or cancel; phase applies to magnify and drag.
type step struct {
	Kind  string   `json:"kind"`
	Phase string   `json:"phase"`
	Value *float64 `json:"value"`
	Dx    *float64 `json:"dx"`
	Dy    *float64 `json:"dy"`
}

func (cmd *renderCmd) Run(ctx context.Context) error {
	format, err := imageproc.ParseFormat(cmd.Format)
	if err != nil {
		return err
	}
	if cmd.Background == "" {
		cmd.Background = imageproc.DefaultBackground(format)
	}
	background, err := imageproc.ParseColor(cmd.Background)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(cmd.Image)
	if err != nil {
		return fmt.Errorf("failed to read image %s: %w", cmd.Image, err)
	}
	src, err := imageproc.DecodeImage(data)
	if err != nil {
		return fmt.Errorf("failed to decode image %s: %w", cmd.Image, err)
	}

	b := src.Bounds()
	cropSize, base, err := cropengine.Layout(
		cropengine.Size{W: float64(b.Dx()), H: float64(b.Dy())},
		cropengine.Size{W: cmd.Width, H: cmd.Height},
	)
	if err != nil {
		return err
	}

	var saveErr error
	session, err := cropengine.NewSession(src, cropSize, base,
		cropengine.WithRenderOptions(cropengine.RenderOptions{Background: background}),
		cropengine.OnSave(func(img image.Image) {
			saveErr = writeImage(cmd.Out, img, format, cmd.Quality)
			if saveErr == nil {
				log.Ctx(ctx).Info().Str("out", cmd.Out).Msg("crop saved")
			}
		}),
		cropengine.OnCancel(func() {
			log.Ctx(ctx).Warn().Msg("crop cancelled, nothing written")
		}),
	)
	if err != nil {
		return err
	}
	log.Ctx(ctx).Debug().
		Float64("crop_size", cropSize).
		Float64("base_w", base.W).
		Float64("base_h", base.H).
		Float64("scale", session.Transform().Scale).
		Msg("session started")

	script, err := cmd.openScript()
	if err != nil {
		return err
	}
	defer script.Close()

	if err := replay(ctx, session, script); err != nil {
		return err
	}
	if session.State() == cropengine.StateActive {
		if _, err := session.Commit(ctx); err != nil {
			return err
		}
	}
	return saveErr
}

func (cmd *renderCmd) openScript() (io.ReadCloser, error) {
	if cmd.Script == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(cmd.Script)
	if err != nil {
		return nil, fmt.Errorf("failed to open script %s: %w", cmd.Script, err)
	}
	return f, nil
}

// replay applies script lines until the input ends or the session closes.
func replay(ctx context.Context, session *cropengine.Session, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var st step
		if err := json.Unmarshal(raw, &st); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := apply(ctx, session, st); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		t := session.Transform()
		log.Ctx(ctx).Debug().
			Int("line", line).
			Str("kind", st.Kind).
			Float64("scale", t.Scale).
			Float64("offset_x", t.Offset.X).
			Float64("offset_y", t.Offset.Y).
			Msg("step applied")
		if session.State() != cropengine.StateActive {
			return nil
		}
	}
	return scanner.Err()
}

func apply(ctx context.Context, session *cropengine.Session, st step) error {
	ended := st.Phase == "ended"
	switch st.Kind {
	case "magnify":
		if st.Value != nil {
			if err := session.Magnify(*st.Value); err != nil {
				return err
			}
		} else if !ended {
			return errors.New("magnify requires value")
		}
		if ended {
			return session.EndMagnify()
		}
		return nil
	case "drag":
		switch {
		case st.Dx != nil && st.Dy != nil:
			if err := session.Drag(*st.Dx, *st.Dy); err != nil {
				return err
			}
		case st.Dx != nil || st.Dy != nil || !ended:
			return errors.New("drag requires dx and dy")
		}
		if ended {
			return session.EndDrag()
		}
		return nil
	case "reset":
		return session.Reset()
	case "commit":
		_, err := session.Commit(ctx)
		return err
	case "cancel":
		return session.Cancel()
	default:
		return fmt.Errorf("unknown step %q", st.Kind)
	}
}

func writeImage(path string, img image.Image, format imageproc.Format, quality int) error {
	data, err := imageproc.Encode(img, format, quality)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
