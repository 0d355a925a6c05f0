// Package classifier attaches semantic labels to change regions through an
// external zero-shot labeling capability. A failure on one region never fails
// the batch: the region is labeled Unknown and the error recorded.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/visual-diff/internal/changes"
	"github.com/cuongbtq/visual-diff/internal/imaging"
)

// UnknownLabel is adopted by regions whose classification failed.
const UnknownLabel = "unknown"

// DefaultVocabulary names the inspected sub-components.
var DefaultVocabulary = []string{
	"Rear Wing", "Front Wing", "Floor", "Sidepods", "Diffuser", "Brake Ducts",
	"Suspension", "Bargeboard", "DRS System", "Engine Cover", "Tires", "Halo",
}

// ErrNoLabels is recorded when the labeler returned no usable scores.
var ErrNoLabels = errors.New("labeler returned no labels")

// Score is one candidate label.
type Score struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Request carries the crops of one region to the labeler.
type Request struct {
	RegionID int
	Box      imaging.Box
	Baseline *image.NRGBA
	Current  *image.NRGBA
	Labels   []string
}

// Labeler is the zero-shot labeling capability. Scores need not be sorted or
// bounded; the classifier sanitizes them.
type Labeler interface {
	Label(ctx context.Context, req Request) ([]Score, error)
}

// LabelerFunc adapts a function to Labeler.
type LabelerFunc func(ctx context.Context, req Request) ([]Score, error)

func (f LabelerFunc) Label(ctx context.Context, req Request) ([]Score, error) { return f(ctx, req) }

// Config tunes the classifier.
type Config struct {
	TopK        int
	Padding     float64
	Concurrency int
	Vocabulary  []string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{TopK: 3, Padding: 0.1, Concurrency: 4, Vocabulary: DefaultVocabulary}
}

// Result is the classification of one region. Labels is sorted by descending
// confidence and never empty; Labels[0] is the adopted label.
type Result struct {
	RegionID int     `json:"region_id"`
	Labels   []Score `json:"labels"`
	Error    string  `json:"error,omitempty"`
}

// Top returns the adopted label.
func (r Result) Top() Score { return r.Labels[0] }

// Failed reports whether the region fell back to UnknownLabel.
func (r Result) Failed() bool { return r.Error != "" }

type Classifier struct {
	labeler Labeler
	cfg     Config
	logger  *slog.Logger
}

func New(labeler Labeler, cfg Config, logger *slog.Logger) *Classifier {
	if cfg.TopK < 1 {
		cfg.TopK = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if len(cfg.Vocabulary) == 0 {
		cfg.Vocabulary = DefaultVocabulary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{labeler: labeler, cfg: cfg, logger: logger}
}

// ClassifyRegion labels a single region. It only fails when ctx is done.
func (c *Classifier) ClassifyRegion(ctx context.Context, baseline, current *image.NRGBA, region changes.Region) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	w, h := baseline.Rect.Dx(), baseline.Rect.Dy()
	box := region.Box.Pad(c.cfg.Padding, w, h)
	req := Request{
		RegionID: region.ID,
		Box:      box,
		Baseline: imaging.Crop(baseline, box),
		Current:  imaging.Crop(current, box),
		Labels:   c.cfg.Vocabulary,
	}

	scores, err := c.labeler.Label(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return c.unknown(region.ID, fmt.Errorf("classification failed: %w", err)), nil
	}

	labels := Sanitize(scores, c.cfg.TopK)
	if len(labels) == 0 {
		return c.unknown(region.ID, ErrNoLabels), nil
	}
	return Result{RegionID: region.ID, Labels: labels}, nil
}

// Classify labels every region with bounded concurrency. Results follow the
// order of regions.
func (c *Classifier) Classify(ctx context.Context, baseline, current *image.NRGBA, regions []changes.Region) ([]Result, error) {
	results := make([]Result, len(regions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, region := range regions {
		g.Go(func() error {
			res, err := c.ClassifyRegion(gctx, baseline, current, region)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Classifier) unknown(regionID int, err error) Result {
	c.logger.Warn("Region classification failed, using unknown label",
		slog.Int("region_id", regionID),
		slog.String("error", err.Error()),
	)
	return Result{
		RegionID: regionID,
		Labels:   []Score{{Label: UnknownLabel, Confidence: 0}},
		Error:    err.Error(),
	}
}

// Sanitize clamps confidences to [0,1] (NaN becomes 0), keeps the best score
// per label, drops blank labels and returns at most k scores sorted by
// descending confidence, ties by label.
func Sanitize(scores []Score, k int) []Score {
	best := make(map[string]float64, len(scores))
	for _, s := range scores {
		label := strings.TrimSpace(s.Label)
		if label == "" {
			continue
		}
		conf := s.Confidence
		switch {
		case math.IsNaN(conf) || conf < 0:
			conf = 0
		case conf > 1:
			conf = 1
		}
		if prev, ok := best[label]; !ok || conf > prev {
			best[label] = conf
		}
	}

	out := make([]Score, 0, len(best))
	for label, conf := range best {
		out = append(out, Score{Label: label, Confidence: conf})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Label < out[j].Label
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
