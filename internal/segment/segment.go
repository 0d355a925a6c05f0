// Package segment defines the region-proposal capability used by change
// extraction, the mask type it produces, and a local region-growing
// implementation that needs no model.
package segment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"

	"github.com/cuongbtq/visual-diff/internal/imaging"
)

// Options are the density and quality knobs passed to a Segmenter.
type Options struct {
	// PointsPerSide is the seed grid density per image axis
	PointsPerSide int
	// PredIoUThresh drops proposals whose predicted mask quality is lower
	PredIoUThresh float64
	// StabilityScoreThresh drops proposals whose mask is unstable under threshold changes
	StabilityScoreThresh float64
	// MinRegionArea drops proposals smaller than this fraction of the image
	MinRegionArea float64
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		PointsPerSide:        32,
		PredIoUThresh:        0.88,
		StabilityScoreThresh: 0.95,
		MinRegionArea:        0.002,
	}
}

// Proposal is one candidate region.
type Proposal struct {
	Mask           *Mask
	PredictedIoU   float64
	StabilityScore float64
}

// Box returns the tight bounding box of the proposal mask.
func (p Proposal) Box() imaging.Box { return p.Mask.Box() }

// Area returns the pixel count of the proposal mask.
func (p Proposal) Area() int { return p.Mask.Area() }

// Segmenter proposes regions for one image. Implementations must be safe for
// concurrent use and return fresh masks sized to the input image; masks are
// not shared between calls.
type Segmenter interface {
	Segment(ctx context.Context, img *image.NRGBA, opts Options) ([]Proposal, error)
}

// Filter applies the quality and size thresholds, drops empty masks and
// orders the survivors by descending area, then by box position. The input
// slice is not modified.
func Filter(props []Proposal, opts Options, width, height int) []Proposal {
	minArea := opts.MinRegionArea * float64(width*height)
	out := make([]Proposal, 0, len(props))
	for _, p := range props {
		if p.Mask == nil || p.Mask.Width != width || p.Mask.Height != height {
			continue
		}
		if p.Area() == 0 || float64(p.Area()) < minArea {
			continue
		}
		if p.PredictedIoU < opts.PredIoUThresh || p.StabilityScore < opts.StabilityScoreThresh {
			continue
		}
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Area() != out[j].Area() {
			return out[i].Area() > out[j].Area()
		}
		bi, bj := out[i].Box(), out[j].Box()
		if bi.Y0 != bj.Y0 {
			return bi.Y0 < bj.Y0
		}
		return bi.X0 < bj.X0
	})
	return out
}

// ErrBadRLE is returned for run-length encodings that do not fit the frame.
var ErrBadRLE = errors.New("malformed run-length mask")

// DecodeRLE expands an uncompressed COCO run-length encoding. Runs alternate
// unset/set starting with unset and walk the frame column by column.
func DecodeRLE(counts []int, width, height int) (*Mask, error) {
	total := width * height
	bits := make([]bool, total)
	pos := 0
	set := false
	for _, n := range counts {
		if n < 0 || pos+n > total {
			return nil, fmt.Errorf("%w: run exceeds %dx%d frame", ErrBadRLE, width, height)
		}
		if set {
			for k := pos; k < pos+n; k++ {
				x, y := k/height, k%height
				bits[y*width+x] = true
			}
		}
		pos += n
		set = !set
	}
	if pos != total {
		return nil, fmt.Errorf("%w: runs cover %d of %d pixels", ErrBadRLE, pos, total)
	}
	return MaskFromBits(width, height, bits), nil
}

// EncodeRLE is the inverse of DecodeRLE.
func EncodeRLE(m *Mask) []int {
	var counts []int
	run := 0
	current := false
	for x := 0; x < m.Width; x++ {
		for y := 0; y < m.Height; y++ {
			if m.Get(x, y) != current {
				counts = append(counts, run)
				run = 0
				current = !current
			}
			run++
		}
	}
	return append(counts, run)
}
