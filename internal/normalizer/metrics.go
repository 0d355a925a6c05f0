package normalizer

import (
	"image"
	"math"

	"github.com/cuongbtq/visual-diff/internal/imaging"
)

const (
	ssimBlock = 8
	ssimC1    = (0.01 * 255) * (0.01 * 255)
	ssimC2    = (0.03 * 255) * (0.03 * 255)

	// MaxPSNR is reported for identical images.
	MaxPSNR = 100.0
)

// SSIM is the mean structural similarity of the luma planes over
// non-overlapping 8x8 blocks. Images must share dimensions.
func SSIM(a, b *image.NRGBA) float64 {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	la, lb := imaging.Luma(a), imaging.Luma(b)

	var total float64
	blocks := 0
	for by := 0; by < h; by += ssimBlock {
		for bx := 0; bx < w; bx += ssimBlock {
			x1, y1 := min(bx+ssimBlock, w), min(by+ssimBlock, h)
			n := float64((x1 - bx) * (y1 - by))

			var ma, mb float64
			for y := by; y < y1; y++ {
				for x := bx; x < x1; x++ {
					ma += la[y*w+x]
					mb += lb[y*w+x]
				}
			}
			ma /= n
			mb /= n

			var va, vb, cov float64
			for y := by; y < y1; y++ {
				for x := bx; x < x1; x++ {
					da, db := la[y*w+x]-ma, lb[y*w+x]-mb
					va += da * da
					vb += db * db
					cov += da * db
				}
			}
			va /= n
			vb /= n
			cov /= n

			total += ((2*ma*mb + ssimC1) * (2*cov + ssimC2)) /
				((ma*ma + mb*mb + ssimC1) * (va + vb + ssimC2))
			blocks++
		}
	}
	if blocks == 0 {
		return 1
	}
	return total / float64(blocks)
}

// PSNR is the peak signal-to-noise ratio in dB over the RGB channels, capped
// at MaxPSNR.
func PSNR(a, b *image.NRGBA) float64 {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	var sum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			oa := y*a.Stride + x*4
			ob := y*b.Stride + x*4
			for c := 0; c < 3; c++ {
				d := float64(a.Pix[oa+c]) - float64(b.Pix[ob+c])
				sum += d * d
			}
		}
	}
	mse := sum / float64(w*h*3)
	if mse == 0 {
		return MaxPSNR
	}
	return math.Min(10*math.Log10(255*255/mse), MaxPSNR)
}
