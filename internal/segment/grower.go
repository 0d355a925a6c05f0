package segment

import (
	"context"
	"image"

	"github.com/cuongbtq/visual-diff/internal/imaging"
)

// RegionGrower is a model-free Segmenter. Seeds are laid on a regular grid;
// each unclaimed seed floods the 4-connected unclaimed pixels within
// Tolerance (CIE76) of its colour. Every grown region claims its pixels, even
// when the quality filters later reject it.
//
// StabilityScore is area(Tolerance-Delta) / area(Tolerance+Delta) and
// PredictedIoU is 1 - mean colour distance / Tolerance, mirroring the scores a
// mask-generating model reports.
type RegionGrower struct {
	Tolerance float64
	Delta     float64
}

// NewRegionGrower returns a grower with the default tolerances.
func NewRegionGrower() *RegionGrower {
	return &RegionGrower{Tolerance: 12, Delta: 2}
}

// Segment implements Segmenter.
func (g *RegionGrower) Segment(ctx context.Context, img *image.NRGBA, opts Options) ([]Proposal, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w == 0 || h == 0 {
		return nil, nil
	}
	lab := imaging.LabPlane(img)
	claimed := make([]bool, w*h)
	visited := make([]int32, w*h)
	stamp := int32(0)
	queue := make([]int, 0, 256)

	// flood returns the pixels reachable from seed within tol, without claiming them.
	flood := func(seed int, tol float64, collect bool) ([]int, int) {
		stamp++
		ref := lab[seed]
		queue = append(queue[:0], seed)
		visited[seed] = stamp
		var members []int
		count := 0
		for head := 0; head < len(queue); head++ {
			p := queue[head]
			count++
			if collect {
				members = append(members, p)
			}
			x, y := p%w, p/w
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				if n[0] < 0 || n[1] < 0 || n[0] >= w || n[1] >= h {
					continue
				}
				q := n[1]*w + n[0]
				if visited[q] == stamp || claimed[q] {
					continue
				}
				visited[q] = stamp
				if imaging.Distance(lab[q], ref) <= tol {
					queue = append(queue, q)
				}
			}
		}
		return members, count
	}

	pps := max(opts.PointsPerSide, 1)
	var props []Proposal
	for j := 0; j < pps; j++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sy := min(int((float64(j)+0.5)*float64(h)/float64(pps)), h-1)
		for i := 0; i < pps; i++ {
			sx := min(int((float64(i)+0.5)*float64(w)/float64(pps)), w-1)
			seed := sy*w + sx
			if claimed[seed] {
				continue
			}

			members, area := flood(seed, g.Tolerance, true)
			_, low := flood(seed, g.Tolerance-g.Delta, false)
			_, high := flood(seed, g.Tolerance+g.Delta, false)

			mask := NewMask(w, h)
			var dist float64
			for _, p := range members {
				claimed[p] = true
				mask.Set(p%w, p/w)
				dist += imaging.Distance(lab[p], lab[seed])
			}
			mask.Box()

			pred := 1.0
			if g.Tolerance > 0 {
				pred = 1 - dist/float64(area)/g.Tolerance
			}
			props = append(props, Proposal{
				Mask:           mask,
				PredictedIoU:   pred,
				StabilityScore: float64(low) / float64(high),
			})
		}
	}

	return Filter(props, opts, w, h), nil
}
