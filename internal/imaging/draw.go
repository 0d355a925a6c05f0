package imaging

import (
	"image"
	"image/color"
)

// Palette used by the rendered artifacts.
var (
	ColorChange   = color.NRGBA{R: 0xff, G: 0x30, B: 0x30, A: 0xff}
	ColorBaseline = color.NRGBA{R: 0x30, G: 0xc0, B: 0xff, A: 0xff}
	ColorDegraded = color.NRGBA{R: 0xff, G: 0xc0, B: 0x00, A: 0xff}
)

// DrawBox strokes the outline of box onto img.
func DrawBox(img *image.NRGBA, box Box, c color.NRGBA, thickness int) {
	box = box.Clamp(img.Rect.Dx(), img.Rect.Dy())
	if box.Empty() {
		return
	}
	if thickness < 1 {
		thickness = 1
	}
	for t := 0; t < thickness; t++ {
		for x := box.X0; x < box.X1; x++ {
			setIfInside(img, x, box.Y0+t, c)
			setIfInside(img, x, box.Y1-1-t, c)
		}
		for y := box.Y0; y < box.Y1; y++ {
			setIfInside(img, box.X0+t, y, c)
			setIfInside(img, box.X1-1-t, y, c)
		}
	}
}

// Tint blends c into every pixel for which inside returns true.
func Tint(img *image.NRGBA, inside func(x, y int) bool, c color.NRGBA, alpha float64) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !inside(x, y) {
				continue
			}
			o := y*img.Stride + x*4
			img.Pix[o] = clampUint8(float64(img.Pix[o])*(1-alpha) + float64(c.R)*alpha)
			img.Pix[o+1] = clampUint8(float64(img.Pix[o+1])*(1-alpha) + float64(c.G)*alpha)
			img.Pix[o+2] = clampUint8(float64(img.Pix[o+2])*(1-alpha) + float64(c.B)*alpha)
		}
	}
}

// Anaglyph renders a registration check: baseline luma in the red channel,
// the other image's luma in green and blue. Aligned structure turns grey,
// misalignment shows as red/cyan fringes.
func Anaglyph(baseline, other *image.NRGBA) *image.NRGBA {
	w, h := baseline.Rect.Dx(), baseline.Rect.Dy()
	lb := Luma(baseline)
	lo := Luma(other)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		o := i * 4
		dst.Pix[o] = clampUint8(lb[i])
		dst.Pix[o+1] = clampUint8(lo[i])
		dst.Pix[o+2] = clampUint8(lo[i])
		dst.Pix[o+3] = 0xff
	}
	return dst
}

func setIfInside(img *image.NRGBA, x, y int, c color.NRGBA) {
	if x < 0 || y < 0 || x >= img.Rect.Dx() || y >= img.Rect.Dy() {
		return
	}
	img.SetNRGBA(x, y, c)
}
