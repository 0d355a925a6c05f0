//go:build gocv
// +build gocv

package imaging

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// warpBackend delegates the warp to OpenCV. Border pixels come back fully
// transparent and are replaced from fill, matching the pure-Go backend.
func warpBackend(src *image.NRGBA, h Homography, _ Homography, width, height int, fill *image.NRGBA) (*image.NRGBA, float64, error) {
	mat, err := gocv.ImageToMatRGBA(src)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to convert source to mat: %w", err)
	}
	defer mat.Close()

	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer m.Close()
	for i := 0; i < 9; i++ {
		m.SetDoubleAt(i/3, i%3, h[i])
	}

	warped := gocv.NewMat()
	defer warped.Close()
	gocv.WarpPerspectiveWithParams(mat, &warped, m, image.Pt(width, height),
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})

	img, err := warped.ToImage()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to convert warped mat: %w", err)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	covered := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.A < 0x80 {
				fillPixel(dst, fill, x, y)
				continue
			}
			o := y*dst.Stride + x*4
			dst.Pix[o], dst.Pix[o+1], dst.Pix[o+2], dst.Pix[o+3] = c.R, c.G, c.B, 0xff
			covered++
		}
	}

	return dst, float64(covered) / float64(width*height), nil
}
