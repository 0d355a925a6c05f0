// Package changes finds regions that differ between two normalized images by
// matching segmentation proposals across time and scoring each pair.
//
// Change confidence is in degrees on [0, 180): 2*atan(e/f), where e is the
// mean per-pixel L*a*b* distance above the noise floor f inside the region.
// 0 means no pixel changed by more than the floor; the default threshold of
// 145 needs a mean excess of a little over three floors.
package changes

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/visual-diff/internal/imaging"
	"github.com/cuongbtq/visual-diff/internal/segment"
)

// MaxConfidence is the upper bound of the change confidence scale.
const MaxConfidence = 180.0

// Kind says how a region was derived.
type Kind string

const (
	// KindModified is a region present in both images whose content changed
	KindModified Kind = "modified"
	// KindDisappeared is a baseline region with no counterpart in current
	KindDisappeared Kind = "disappeared"
	// KindAppeared is a current region with no counterpart in baseline
	KindAppeared Kind = "appeared"
)

// Config holds the extraction thresholds.
type Config struct {
	// ConfidenceThreshold discards regions scoring below it (degrees)
	ConfidenceThreshold float64
	// AreaThreshold discards regions covering more than this fraction of the image
	AreaThreshold float64
	// NMSThreshold is the box IoU above which lower-ranked regions are suppressed
	NMSThreshold float64
	// MatchIoU is the minimum mask IoU for two proposals to be the same object
	MatchIoU float64
	// NoiseFloor is the per-pixel colour distance treated as noise (L*a*b* units)
	NoiseFloor float64
	// MergeDistance joins touching proposals whose mean colours are closer
	// than this before matching; <= 0 disables it
	MergeDistance float64
	Segmentation  segment.Options
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 145,
		AreaThreshold:       0.8,
		NMSThreshold:        0.7,
		MatchIoU:            0.5,
		NoiseFloor:          10,
		MergeDistance:       15,
		Segmentation:        segment.DefaultOptions(),
	}
}

// Region is one detected change in baseline coordinates.
type Region struct {
	ID         int           `json:"id"`
	Box        imaging.Box   `json:"bbox"`
	Area       int           `json:"area"`
	Confidence float64       `json:"change_confidence"`
	Kind       Kind          `json:"kind"`
	Mask       *segment.Mask `json:"-"`
}

// Extractor runs segmentation on both images and reduces the proposals to
// scored change regions.
type Extractor struct {
	segmenter segment.Segmenter
	cfg       Config
	logger    *slog.Logger
}

func New(segmenter segment.Segmenter, cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{segmenter: segmenter, cfg: cfg, logger: logger}
}

// Extract returns the surviving regions sorted by descending confidence, ties
// broken by ascending id. roi, when non-nil, restricts the proposals; it must
// already be clamped to the frame. No proposals yields an empty result.
func (e *Extractor) Extract(ctx context.Context, baseline, current *image.NRGBA, roi *imaging.Box) ([]Region, error) {
	w, h := baseline.Rect.Dx(), baseline.Rect.Dy()
	if current.Rect.Dx() != w || current.Rect.Dy() != h {
		return nil, fmt.Errorf("image dimensions differ: %dx%d vs %dx%d", w, h, current.Rect.Dx(), current.Rect.Dy())
	}

	var baseProps, curProps []*segment.Mask
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		props, err := e.segmenter.Segment(gctx, baseline, e.cfg.Segmentation)
		if err != nil {
			return fmt.Errorf("segment baseline: %w", err)
		}
		baseProps = prepare(props, roi, w, h)
		return nil
	})
	g.Go(func() error {
		props, err := e.segmenter.Segment(gctx, current, e.cfg.Segmentation)
		if err != nil {
			return fmt.Errorf("segment current: %w", err)
		}
		curProps = prepare(props, roi, w, h)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	baseLab, curLab := imaging.LabPlane(baseline), imaging.LabPlane(current)
	baseProps = mergeFragments(baseLab, baseProps, e.cfg.MergeDistance)
	curProps = mergeFragments(curLab, curProps, e.cfg.MergeDistance)

	candidates := e.candidates(baseLab, curLab, baseProps, curProps)
	regions := Select(candidates, e.cfg, w*h)

	e.logger.Debug("Change extraction done",
		slog.Int("baseline_proposals", len(baseProps)),
		slog.Int("current_proposals", len(curProps)),
		slog.Int("candidates", len(candidates)),
		slog.Int("regions", len(regions)),
	)
	return regions, nil
}

// prepare clips proposals to roi and drops the ones left empty or sized for a
// different frame.
func prepare(props []segment.Proposal, roi *imaging.Box, w, h int) []*segment.Mask {
	out := make([]*segment.Mask, 0, len(props))
	for _, p := range props {
		if p.Mask == nil || p.Mask.Width != w || p.Mask.Height != h {
			continue
		}
		m := p.Mask
		if roi != nil {
			m = m.Clip(*roi)
		}
		if m.Area() == 0 {
			continue
		}
		m.Box()
		out = append(out, m)
	}
	return out
}

// candidates pairs proposals bitemporally and scores every pair and every
// unmatched proposal. Ids follow the order: matched pairs, unmatched baseline,
// unmatched current.
func (e *Extractor) candidates(baseLab, curLab []imaging.Lab, base, cur []*segment.Mask) []Region {
	iou := make([][]float64, len(base))
	for i := range base {
		iou[i] = make([]float64, len(cur))
		for j := range cur {
			iou[i][j] = base[i].IoU(cur[j])
		}
	}

	bestForBase := make([]int, len(base))
	bestIoUBase := make([]float64, len(base))
	for i := range base {
		bestForBase[i] = -1
		for j := range cur {
			if iou[i][j] > bestIoUBase[i] {
				bestIoUBase[i], bestForBase[i] = iou[i][j], j
			}
		}
	}
	bestForCur := make([]int, len(cur))
	bestIoUCur := make([]float64, len(cur))
	for j := range cur {
		bestForCur[j] = -1
		for i := range base {
			if iou[i][j] > bestIoUCur[j] {
				bestIoUCur[j], bestForCur[j] = iou[i][j], i
			}
		}
	}

	var out []Region
	nextID := 1
	add := func(mask *segment.Mask, conf float64, kind Kind) {
		out = append(out, Region{
			ID:         nextID,
			Box:        mask.Box(),
			Area:       mask.Area(),
			Confidence: conf,
			Kind:       kind,
			Mask:       mask,
		})
		nextID++
	}

	matchedBase := make([]bool, len(base))
	matchedCur := make([]bool, len(cur))
	for i := range base {
		j := bestForBase[i]
		if j < 0 || bestForCur[j] != i || iou[i][j] < e.cfg.MatchIoU {
			continue
		}
		matchedBase[i], matchedCur[j] = true, true
		union := base[i].Union(cur[j])
		add(union, changeScore(baseLab, curLab, union, e.cfg.NoiseFloor), KindModified)
	}
	for i := range base {
		if !matchedBase[i] {
			add(base[i], changeScore(baseLab, curLab, base[i], e.cfg.NoiseFloor), KindDisappeared)
		}
	}
	for j := range cur {
		if !matchedCur[j] {
			add(cur[j], changeScore(baseLab, curLab, cur[j], e.cfg.NoiseFloor), KindAppeared)
		}
	}
	return out
}

// Select applies the confidence threshold, orders the survivors, suppresses
// overlaps and finally drops oversized regions. Running the area filter after
// suppression keeps the output monotone in both thresholds. The input slice is
// not modified.
func Select(candidates []Region, cfg Config, totalArea int) []Region {
	kept := make([]Region, 0, len(candidates))
	for _, r := range candidates {
		if r.Confidence > 0 && r.Confidence >= cfg.ConfidenceThreshold && r.Area > 0 {
			kept = append(kept, r)
		}
	}

	SortRegions(kept)
	kept = NMS(kept, cfg.NMSThreshold)

	out := kept[:0]
	for _, r := range kept {
		if totalArea > 0 && float64(r.Area)/float64(totalArea) > cfg.AreaThreshold {
			continue
		}
		out = append(out, r)
	}
	return out
}
