package changes

import (
	"github.com/cuongbtq/visual-diff/internal/imaging"
	"github.com/cuongbtq/visual-diff/internal/segment"
)

// mergeFragments joins proposals of one image that touch and have nearly the
// same mean colour, so an object split by the segmenter is matched and scored
// as one region. Each pixel belongs to the first mask covering it; two masks
// touch when 4-neighbouring pixels belong to them. The merged mask keeps the
// position of its earliest member. maxDist <= 0 disables merging.
func mergeFragments(lab []imaging.Lab, masks []*segment.Mask, maxDist float64) []*segment.Mask {
	if maxDist <= 0 || len(masks) < 2 {
		return masks
	}
	w, h := masks[0].Width, masks[0].Height

	owner := make([]int, w*h)
	for i := range owner {
		owner[i] = -1
	}
	means := make([]imaging.Lab, len(masks))
	for k, m := range masks {
		box := m.Box()
		n := 0
		var sum imaging.Lab
		for y := box.Y0; y < box.Y1; y++ {
			for x := box.X0; x < box.X1; x++ {
				if !m.Get(x, y) {
					continue
				}
				i := y*w + x
				if owner[i] < 0 {
					owner[i] = k
				}
				sum.L += lab[i].L
				sum.A += lab[i].A
				sum.B += lab[i].B
				n++
			}
		}
		if n > 0 {
			means[k] = imaging.Lab{L: sum.L / float64(n), A: sum.A / float64(n), B: sum.B / float64(n)}
		}
	}

	parent := make([]int, len(masks))
	for k := range parent {
		parent[k] = k
	}
	find := func(k int) int {
		for parent[k] != k {
			parent[k] = parent[parent[k]]
			k = parent[k]
		}
		return k
	}
	join := func(a, b int) {
		if a < 0 || b < 0 || a == b {
			return
		}
		ra, rb := find(a), find(b)
		if ra == rb || imaging.Distance(means[a], means[b]) > maxDist {
			return
		}
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if x+1 < w {
				join(owner[i], owner[i+1])
			}
			if y+1 < h {
				join(owner[i], owner[i+w])
			}
		}
	}

	merged := make([]*segment.Mask, len(masks))
	for k, m := range masks {
		r := find(k)
		if merged[r] == nil {
			merged[r] = m
			continue
		}
		merged[r] = merged[r].Union(m)
	}
	out := make([]*segment.Mask, 0, len(masks))
	for _, m := range merged {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}
