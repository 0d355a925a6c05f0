// Package pipeline holds the comparison stages. Each stage takes the output of
// the previous one plus the shared inference handle; sequencing, progress and
// persistence belong to the orchestrator.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/cuongbtq/visual-diff/internal/changes"
	"github.com/cuongbtq/visual-diff/internal/classifier"
	"github.com/cuongbtq/visual-diff/internal/imaging"
	"github.com/cuongbtq/visual-diff/internal/inference"
	"github.com/cuongbtq/visual-diff/internal/normalizer"
	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
	"github.com/cuongbtq/visual-diff/internal/registrar"
)

// Config bundles the per-stage settings.
type Config struct {
	MaxPixels             int
	Registrar             registrar.Config
	Normalizer            normalizer.Config
	Changes               changes.Config
	Classifier            classifier.Config
	EnableChangeDetection bool
	PersistNormalized     bool
}

// DefaultConfig returns the stage defaults with change detection on.
func DefaultConfig() Config {
	return Config{
		Registrar:             registrar.DefaultConfig(),
		Normalizer:            normalizer.DefaultConfig(),
		Changes:               changes.DefaultConfig(),
		Classifier:            classifier.DefaultConfig(),
		EnableChangeDetection: true,
	}
}

type Pipeline struct {
	cfg        Config
	loader     imaging.Loader
	normalizer *normalizer.Normalizer
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:        cfg,
		loader:     imaging.Loader{MaxPixels: cfg.MaxPixels},
		normalizer: normalizer.New(cfg.Normalizer, logger),
		logger:     logger,
	}
}

func (p *Pipeline) Config() Config { return p.cfg }

// Load decodes the submitted images. The error names the offending image.
func (p *Pipeline) Load(ctx context.Context, baseline, current []byte) (*imaging.Pair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pair, err := p.loader.Load(baseline, current)
	if err != nil {
		return nil, Wrap(StageLoad, err)
	}
	if pair.Resized {
		p.logger.Info("Current image resized to baseline dimensions",
			slog.Int("width", pair.Baseline.Rect.Dx()),
			slog.Int("height", pair.Baseline.Rect.Dy()),
		)
	}
	return pair, nil
}

// ResolveROI turns the submitted region of interest into a frame-clamped box.
// A nil roi means the whole image.
func ResolveROI(roi *domain.BBox, width, height int) (*imaging.Box, error) {
	if roi == nil {
		return nil, nil
	}
	box, err := imaging.SanitizeBox(imaging.Box{X0: roi.X0, Y0: roi.Y0, X1: roi.X1, Y1: roi.Y1}, width, height)
	if err != nil {
		return nil, fmt.Errorf("region of interest: %w", err)
	}
	return &box, nil
}

// Align registers current onto baseline. Low-quality geometry degrades, only
// a failing matcher is an error.
func (p *Pipeline) Align(ctx context.Context, models *inference.Models, pair *imaging.Pair) (*registrar.Result, error) {
	res, err := registrar.New(models.Matcher, p.cfg.Registrar, p.logger).Align(ctx, pair.Baseline, pair.Current)
	if err != nil {
		return nil, Wrap(StageAlign, err)
	}
	return res, nil
}

func (p *Pipeline) Normalize(ctx context.Context, baseline, aligned *image.NRGBA) (*normalizer.Result, error) {
	res, err := p.normalizer.Normalize(ctx, baseline, aligned)
	if err != nil {
		return nil, Wrap(StageNormalize, err)
	}
	return res, nil
}

// Detect extracts change regions from the normalized pair. With change
// detection disabled it returns no regions.
func (p *Pipeline) Detect(ctx context.Context, models *inference.Models, norm *normalizer.Result, roi *imaging.Box) ([]changes.Region, error) {
	if !p.cfg.EnableChangeDetection {
		return nil, nil
	}
	regions, err := changes.New(models.Segmenter, p.cfg.Changes, p.logger).Extract(ctx, norm.Baseline, norm.Current, roi)
	if err != nil {
		return nil, Wrap(StageDetect, err)
	}
	return regions, nil
}

// Classify labels regions on the unnormalized images so the labeler sees true
// colours. Per-region failures come back as unknown labels.
func (p *Pipeline) Classify(ctx context.Context, models *inference.Models, baseline, aligned *image.NRGBA, regions []changes.Region) ([]classifier.Result, error) {
	if len(regions) == 0 {
		return nil, nil
	}
	results, err := classifier.New(models.Labeler, p.cfg.Classifier, p.logger).Classify(ctx, baseline, aligned, regions)
	if err != nil {
		return nil, Wrap(StageClassify, err)
	}
	return results, nil
}
