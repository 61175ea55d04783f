package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"closet-api/internal/bgremove"
	"closet-api/internal/imageproc"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

type cutoutCmd struct {
	Dir     string `arg:"" help:"Directory of clothing photos" type:"existingdir"`
	Out     string `help:"Output directory, defaults to <dir>/cutouts"`
	Workers int    `help:"Images processed at once, defaults to the CPU count"`
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

func (cmd *cutoutCmd) Run(ctx context.Context) error {
	outDir := cmd.Out
	if outDir == "" {
		outDir = filepath.Join(cmd.Dir, "cutouts")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outDir, err)
	}

	files, err := listImages(cmd.Dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		log.Ctx(ctx).Warn().Str("dir", cmd.Dir).Msg("no images found")
		return nil
	}

	workers := cmd.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	remover := bgremove.NewRemover()

	pooler := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(workers)
	for _, name := range files {
		pooler.Go(func(ctx context.Context) error {
			if err := cutoutFile(ctx, remover, filepath.Join(cmd.Dir, name), outDir); err != nil {
				log.Ctx(ctx).Error().Err(err).Str("filename", name).Msg("failed to cut out image")
				return err
			}
			return nil
		})
	}
	if err := pooler.Wait(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("finished with errors")
		return err
	}
	log.Ctx(ctx).Info().Int("count", len(files)).Str("out", outDir).Msg("cutouts written")
	return nil
}

func cutoutFile(ctx context.Context, remover *bgremove.Remover, path, outDir string) error {
	log.Ctx(ctx).Info().Str("filename", filepath.Base(path)).Msg("removing background")
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	img, err := imageproc.DecodeImage(data)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	out, err := remover.Remove(ctx, img)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + imageproc.FormatPNG.Ext()
	return writeImage(filepath.Join(outDir, name), out, imageproc.FormatPNG, 0)
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, e.Name())
	}
	return files, nil
}
