package normalizer

import (
	"image"
	"math"
	"sort"

	"github.com/cuongbtq/visual-diff/internal/imaging"
)

// MatchHistograms remaps every RGB channel of src so that its cumulative
// distribution follows ref. The quantile map is reduced to the gain and
// offset that best fit it over the source pixels, so a region that exists in
// one image only shifts the mapping of the rest a little instead of bending
// it around the new values. Two images with the same histograms pass through
// unchanged.
func MatchHistograms(src, ref *image.NRGBA) *image.NRGBA {
	dst := imaging.Clone(src)
	for c := 0; c < 3; c++ {
		lut := channelLUT(channelHistogram(src, c), channelHistogram(ref, c))
		for i := c; i < len(dst.Pix); i += 4 {
			dst.Pix[i] = lut[dst.Pix[i]]
		}
	}
	return dst
}

func channelHistogram(img *image.NRGBA, channel int) [histBins]int {
	var hist [histBins]int
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			hist[img.Pix[row+x*4+channel]]++
		}
	}
	return hist
}

// quantiles returns the occupied values and their cumulative fractions.
func quantiles(hist [histBins]int) ([]float64, []float64) {
	total := 0
	for _, n := range hist {
		total += n
	}
	var values, q []float64
	if total == 0 {
		return values, q
	}
	sum := 0
	for v, n := range hist {
		if n == 0 {
			continue
		}
		sum += n
		values = append(values, float64(v))
		q = append(q, float64(sum)/float64(total))
	}
	return values, q
}

func channelLUT(srcHist, refHist [histBins]int) [histBins]uint8 {
	var lut [histBins]uint8
	for i := range lut {
		lut[i] = uint8(i)
	}

	srcValues, srcQ := quantiles(srcHist)
	refValues, refQ := quantiles(refHist)
	if len(srcValues) == 0 || len(refValues) == 0 {
		return lut
	}

	mapped := make([]float64, len(srcValues))
	identity := true
	for i, q := range srcQ {
		mapped[i] = math.Round(interpolate(q, refQ, refValues))
		if mapped[i] != srcValues[i] {
			identity = false
		}
	}
	if identity {
		return lut
	}

	gain, offset := fitLine(srcValues, mapped, srcHist)
	for i := range lut {
		lut[i] = uint8(math.Round(math.Max(0, math.Min(255, gain*float64(i)+offset))))
	}
	return lut
}

// fitLine is the least-squares line through (xs, ys) with every point
// weighted by the pixel count of its value.
func fitLine(xs, ys []float64, hist [histBins]int) (gain, offset float64) {
	var sw, sx, sy float64
	for i, x := range xs {
		w := float64(hist[int(x)])
		sw += w
		sx += w * x
		sy += w * ys[i]
	}
	mx, my := sx/sw, sy/sw

	var sxx, sxy float64
	for i, x := range xs {
		w := float64(hist[int(x)])
		sxx += w * (x - mx) * (x - mx)
		sxy += w * (x - mx) * (ys[i] - my)
	}
	if sxx == 0 {
		return 1, my - mx
	}
	gain = sxy / sxx
	return gain, my - gain*mx
}

// interpolate is piecewise-linear interpolation of (xs, ys) at x, clamped to
// the end points. xs is strictly increasing.
func interpolate(x float64, xs, ys []float64) float64 {
	if x <= xs[0] {
		return ys[0]
	}
	last := len(xs) - 1
	if x >= xs[last] {
		return ys[last]
	}
	j := sort.SearchFloat64s(xs, x)
	if xs[j] == x {
		return ys[j]
	}
	t := (x - xs[j-1]) / (xs[j] - xs[j-1])
	return ys[j-1] + t*(ys[j]-ys[j-1])
}
