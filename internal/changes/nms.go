package changes

import "sort"

// SortRegions orders by descending confidence, ties by ascending id.
func SortRegions(regions []Region) {
	sort.SliceStable(regions, func(i, j int) bool {
		if regions[i].Confidence != regions[j].Confidence {
			return regions[i].Confidence > regions[j].Confidence
		}
		return regions[i].ID < regions[j].ID
	})
}

// NMS greedily keeps the highest-ranked box of every cluster whose pairwise
// box IoU exceeds thresh. regions must already be sorted with SortRegions.
func NMS(regions []Region, thresh float64) []Region {
	kept := make([]Region, 0, len(regions))
	for _, r := range regions {
		suppressed := false
		for _, k := range kept {
			if k.Box.IoU(r.Box) > thresh {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, r)
		}
	}
	return kept
}
