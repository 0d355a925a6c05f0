package changes

import (
	"math"

	"github.com/cuongbtq/visual-diff/internal/imaging"
	"github.com/cuongbtq/visual-diff/internal/segment"
)

// changeScore compares the two images inside mask. Every pixel contributes
// its CIE76 distance above floor and the mean excess e is mapped onto the
// confidence scale as 2*atan(e/floor) degrees: 0 when no pixel moved by more
// than the floor, 90 when e equals the floor, approaching 180 as e grows.
//
// The score depends only on the raw per-pixel colour difference, so a region
// that looks the same in both images scores near 0 whether or not its
// proposal found a counterpart.
func changeScore(baseline, current []imaging.Lab, mask *segment.Mask, floor float64) float64 {
	box := mask.Box()
	n := 0
	var excess float64
	for y := box.Y0; y < box.Y1; y++ {
		for x := box.X0; x < box.X1; x++ {
			if !mask.Get(x, y) {
				continue
			}
			i := y*mask.Width + x
			if d := imaging.Distance(baseline[i], current[i]) - floor; d > 0 {
				excess += d
			}
			n++
		}
	}
	if n == 0 || excess == 0 {
		return 0
	}
	excess /= float64(n)
	return 2 * math.Atan2(excess, math.Max(floor, 0)) * 180 / math.Pi
}
