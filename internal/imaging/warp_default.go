//go:build !gocv
// +build !gocv

package imaging

import "image"

func warpBackend(src *image.NRGBA, _ Homography, inv Homography, width, height int, fill *image.NRGBA) (*image.NRGBA, float64, error) {
	return warpBilinear(src, inv, width, height, fill)
}
