// Package normalizer removes photometric differences between an aligned image
// pair: local contrast equalization on both images, then histogram matching of
// current onto baseline.
package normalizer

import (
	"context"
	"errors"
	"image"
	"log/slog"

	"github.com/cuongbtq/visual-diff/internal/imaging"
)

// Config controls the normalization steps.
type Config struct {
	// ClipLimit is the CLAHE contrast limit; <= 0 disables CLAHE
	ClipLimit float64
	// TileGrid is the number of CLAHE tiles per axis
	TileGrid int
	// DisableHistogramMatching skips the matching step
	DisableHistogramMatching bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{ClipLimit: 2.0, TileGrid: 8}
}

// Result is the normalized pair plus similarity metrics between the two.
type Result struct {
	Baseline *image.NRGBA
	Current  *image.NRGBA
	SSIM     float64
	PSNR     float64
}

type Normalizer struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{cfg: cfg, logger: logger}
}

// Normalize is deterministic. The inputs are not modified.
func (n *Normalizer) Normalize(ctx context.Context, baseline, current *image.NRGBA) (*Result, error) {
	if baseline == nil || current == nil {
		return nil, errors.New("nil image")
	}
	if baseline.Rect.Dx() != current.Rect.Dx() || baseline.Rect.Dy() != current.Rect.Dy() {
		return nil, errors.New("image dimensions differ")
	}

	b, c := baseline, current
	if n.cfg.ClipLimit > 0 {
		b = CLAHE(baseline, n.cfg.ClipLimit, n.cfg.TileGrid)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c = CLAHE(current, n.cfg.ClipLimit, n.cfg.TileGrid)
	} else {
		b, c = imaging.Clone(baseline), imaging.Clone(current)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !n.cfg.DisableHistogramMatching {
		c = MatchHistograms(c, b)
	}

	res := &Result{
		Baseline: b,
		Current:  c,
		SSIM:     SSIM(b, c),
		PSNR:     PSNR(b, c),
	}

	n.logger.Debug("Photometric normalization done",
		slog.Float64("ssim", res.SSIM),
		slog.Float64("psnr", res.PSNR),
	)
	return res, nil
}
