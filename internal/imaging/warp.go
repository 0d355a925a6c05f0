package imaging

import (
	"image"
	"math"
)

// coverageEpsilon tolerates preimages that land a hair outside the source
// because of floating-point error in the inverse transform.
const coverageEpsilon = 1e-6

// WarpPerspective maps src into a width x height frame using h, which takes
// source coordinates to destination coordinates. Destination pixels whose
// preimage falls outside src are copied from fill, or left black when fill is
// nil. It returns the warped raster and the fraction of destination pixels
// that src covered.
func WarpPerspective(src *image.NRGBA, h Homography, width, height int, fill *image.NRGBA) (*image.NRGBA, float64, error) {
	inv, ok := h.Inverse()
	if !ok {
		return nil, 0, ErrSingularTransform
	}
	return warpBackend(src, h, inv, width, height, fill)
}

// warpBilinear is the pure-Go backend. inv maps destination to source.
func warpBilinear(src *image.NRGBA, inv Homography, width, height int, fill *image.NRGBA) (*image.NRGBA, float64, error) {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	sw, sh := float64(src.Rect.Dx()-1), float64(src.Rect.Dy()-1)
	covered := 0

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			o := y*dst.Stride + x*4
			sx, sy, ok := inv.Apply(float64(x), float64(y))
			if ok && sx >= -coverageEpsilon && sy >= -coverageEpsilon && sx <= sw+coverageEpsilon && sy <= sh+coverageEpsilon {
				sampleBilinear(src, math.Min(math.Max(sx, 0), sw), math.Min(math.Max(sy, 0), sh), dst.Pix[o:o+4])
				covered++
				continue
			}
			fillPixel(dst, fill, x, y)
		}
	}

	return dst, float64(covered) / float64(width*height), nil
}

func fillPixel(dst, fill *image.NRGBA, x, y int) {
	o := y*dst.Stride + x*4
	if fill != nil && x < fill.Rect.Dx() && y < fill.Rect.Dy() {
		fo := y*fill.Stride + x*4
		copy(dst.Pix[o:o+4], fill.Pix[fo:fo+4])
		dst.Pix[o+3] = 0xff
		return
	}
	dst.Pix[o], dst.Pix[o+1], dst.Pix[o+2], dst.Pix[o+3] = 0, 0, 0, 0xff
}
