// Package registrar aligns the current image onto the baseline frame from
// keypoint correspondences supplied by an external feature matcher.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/cuongbtq/visual-diff/internal/imaging"
)

// Point is an image coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Correspondence pairs the same physical point seen in both images.
type Correspondence struct {
	Baseline   Point   `json:"baseline"`
	Current    Point   `json:"current"`
	Confidence float64 `json:"confidence"`
}

// Matcher is the feature-matching capability. Implementations must be safe
// for concurrent use.
type Matcher interface {
	Match(ctx context.Context, baseline, current *image.NRGBA) ([]Correspondence, error)
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(ctx context.Context, baseline, current *image.NRGBA) ([]Correspondence, error)

func (f MatcherFunc) Match(ctx context.Context, baseline, current *image.NRGBA) ([]Correspondence, error) {
	return f(ctx, baseline, current)
}

// Config tunes the estimator and the degradation policy.
type Config struct {
	ReprojThreshold    float64
	MaxIterations      int
	Confidence         float64
	MinInlierRatio     float64
	MinMatchConfidence float64
	Seed               uint64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ReprojThreshold: 4.0,
		MaxIterations:   2000,
		Confidence:      0.995,
		MinInlierRatio:  0.3,
		Seed:            1,
	}
}

// Degradation reasons reported in Result.DegradeReason.
const (
	ReasonNoMatches      = "no correspondences"
	ReasonTooFewMatches  = "too few correspondences"
	ReasonNoConsensus    = "no consensus transform"
	ReasonLowInlierRatio = "inlier ratio below minimum"
	ReasonWarpFailed     = "transform not invertible"
)

// Result is the outcome of Align. Transform is nil when alignment degraded,
// in which case Warped is an unwarped copy of the current image.
type Result struct {
	Transform     *imaging.Homography
	Matches       int
	Inliers       int
	InlierRatio   float64
	Degraded      bool
	DegradeReason string
	Warped        *image.NRGBA
	Coverage      float64
}

// Registrar estimates and applies the current→baseline transform.
type Registrar struct {
	matcher Matcher
	cfg     Config
	logger  *slog.Logger
}

// New creates a Registrar.
func New(matcher Matcher, cfg Config, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{matcher: matcher, cfg: cfg, logger: logger}
}

// Align warps current into the baseline frame. A matcher error is returned to
// the caller; weak or missing geometry only degrades the result.
func (r *Registrar) Align(ctx context.Context, baseline, current *image.NRGBA) (*Result, error) {
	if baseline == nil || current == nil || baseline.Rect.Empty() || current.Rect.Empty() {
		return nil, errors.New("empty image")
	}

	matches, err := r.matcher.Match(ctx, baseline, current)
	if err != nil {
		return nil, fmt.Errorf("feature matching failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := make([]Point, 0, len(matches))
	dst := make([]Point, 0, len(matches))
	for _, m := range matches {
		if m.Confidence < r.cfg.MinMatchConfidence {
			continue
		}
		src = append(src, m.Current)
		dst = append(dst, m.Baseline)
	}

	res := &Result{Matches: len(src)}
	switch {
	case len(src) == 0:
		return r.degrade(res, current, ReasonNoMatches), nil
	case len(src) < minSampleSize:
		return r.degrade(res, current, ReasonTooFewMatches), nil
	}

	est, err := EstimateHomography(src, dst, RANSACParams{
		ReprojThreshold: r.cfg.ReprojThreshold,
		MaxIterations:   r.cfg.MaxIterations,
		Confidence:      r.cfg.Confidence,
		Seed:            r.cfg.Seed,
	})
	if err != nil {
		return r.degrade(res, current, ReasonNoConsensus), nil
	}

	res.Inliers = est.InlierCount
	res.InlierRatio = float64(est.InlierCount) / float64(len(src))
	if res.InlierRatio < r.cfg.MinInlierRatio {
		return r.degrade(res, current, ReasonLowInlierRatio), nil
	}

	w, h := baseline.Rect.Dx(), baseline.Rect.Dy()
	warped, coverage, err := imaging.WarpPerspective(current, est.H, w, h, baseline)
	if err != nil {
		return r.degrade(res, current, ReasonWarpFailed), nil
	}

	transform := est.H
	res.Transform = &transform
	res.Warped = warped
	res.Coverage = coverage

	r.logger.Debug("Alignment estimated",
		slog.Int("matches", res.Matches),
		slog.Int("inliers", res.Inliers),
		slog.Float64("inlier_ratio", res.InlierRatio),
		slog.Int("iterations", est.Iterations),
		slog.Float64("coverage", coverage),
	)

	return res, nil
}

func (r *Registrar) degrade(res *Result, current *image.NRGBA, reason string) *Result {
	res.Transform = nil
	res.Degraded = true
	res.DegradeReason = reason
	res.Warped = imaging.Clone(current)
	res.Coverage = 1

	r.logger.Warn("Alignment degraded, comparing unwarped images",
		slog.String("reason", reason),
		slog.Int("matches", res.Matches),
		slog.Int("inliers", res.Inliers),
		slog.Float64("inlier_ratio", res.InlierRatio),
	)
	return res
}
