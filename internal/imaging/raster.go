package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"
)

// ToNRGBA copies img into an origin-anchored NRGBA with opaque alpha.
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

// Clone returns a deep copy.
func Clone(src *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}

// Equal reports whether two rasters have identical size and pixels.
func Equal(a, b *image.NRGBA) bool {
	if a.Rect != b.Rect {
		return false
	}
	return bytes.Equal(a.Pix, b.Pix)
}

// Crop copies the box out of src.
func Crop(src *image.NRGBA, box Box) *image.NRGBA {
	box = box.Clamp(src.Rect.Dx(), src.Rect.Dy())
	dst := image.NewNRGBA(image.Rect(0, 0, box.Width(), box.Height()))
	for y := 0; y < box.Height(); y++ {
		so := (box.Y0+y)*src.Stride + box.X0*4
		do := y * dst.Stride
		copy(dst.Pix[do:do+box.Width()*4], src.Pix[so:so+box.Width()*4])
	}
	return dst
}

// ResizeBilinear resamples src to width x height using pixel-centre alignment.
func ResizeBilinear(src *image.NRGBA, width, height int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	scaleX := float64(sw) / float64(width)
	scaleY := float64(sh) / float64(height)

	for y := 0; y < height; y++ {
		sy := (float64(y)+0.5)*scaleY - 0.5
		sy = math.Min(math.Max(sy, 0), float64(sh-1))
		for x := 0; x < width; x++ {
			sx := (float64(x)+0.5)*scaleX - 0.5
			sx = math.Min(math.Max(sx, 0), float64(sw-1))
			o := y*dst.Stride + x*4
			sampleBilinear(src, sx, sy, dst.Pix[o:o+4])
		}
	}
	return dst
}

// sampleBilinear writes the interpolated RGB at (x,y) into out. The caller
// guarantees 0 <= x <= w-1 and 0 <= y <= h-1.
func sampleBilinear(src *image.NRGBA, x, y float64, out []uint8) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	x1 := min(x0+1, w-1)
	y1 := min(y0+1, h-1)
	fx := x - float64(x0)
	fy := y - float64(y0)

	p00 := y0*src.Stride + x0*4
	p10 := y0*src.Stride + x1*4
	p01 := y1*src.Stride + x0*4
	p11 := y1*src.Stride + x1*4

	for c := 0; c < 3; c++ {
		top := float64(src.Pix[p00+c])*(1-fx) + float64(src.Pix[p10+c])*fx
		bottom := float64(src.Pix[p01+c])*(1-fx) + float64(src.Pix[p11+c])*fx
		out[c] = clampUint8(top*(1-fy) + bottom*fy)
	}
	out[3] = 0xff
}

func clampUint8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Luma returns the Rec. 601 luma plane of img.
func Luma(img *image.NRGBA) []float64 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := y*img.Stride + x*4
			out[y*w+x] = 0.299*float64(img.Pix[o]) + 0.587*float64(img.Pix[o+1]) + 0.114*float64(img.Pix[o+2])
		}
	}
	return out
}
