package imaging

import (
	"image"
	"math"
)

// Lab is a CIE L*a*b* colour under the D65 white point.
type Lab struct {
	L float64
	A float64
	B float64
}

const (
	whiteX = 0.95047
	whiteY = 1.0
	whiteZ = 1.08883

	labEpsilon = 6.0 / 29.0
)

var srgbToLinear = func() [256]float64 {
	var t [256]float64
	for i := range t {
		c := float64(i) / 255
		if c <= 0.04045 {
			t[i] = c / 12.92
		} else {
			t[i] = math.Pow((c+0.055)/1.055, 2.4)
		}
	}
	return t
}()

func linearToSRGB(c float64) float64 {
	if c <= 0.0031308 {
		return 12.92 * c
	}
	return 1.055*math.Pow(c, 1/2.4) - 0.055
}

func labF(t float64) float64 {
	if t > labEpsilon*labEpsilon*labEpsilon {
		return math.Cbrt(t)
	}
	return t/(3*labEpsilon*labEpsilon) + 4.0/29.0
}

func labFInv(t float64) float64 {
	if t > labEpsilon {
		return t * t * t
	}
	return 3 * labEpsilon * labEpsilon * (t - 4.0/29.0)
}

// RGBToLab converts an sRGB triple.
func RGBToLab(r, g, b uint8) Lab {
	rl, gl, bl := srgbToLinear[r], srgbToLinear[g], srgbToLinear[b]

	x := 0.4124564*rl + 0.3575761*gl + 0.1804375*bl
	y := 0.2126729*rl + 0.7151522*gl + 0.0721750*bl
	z := 0.0193339*rl + 0.1191920*gl + 0.9503041*bl

	fx := labF(x / whiteX)
	fy := labF(y / whiteY)
	fz := labF(z / whiteZ)

	return Lab{
		L: 116*fy - 16,
		A: 500 * (fx - fy),
		B: 200 * (fy - fz),
	}
}

// LabToRGB converts back to sRGB, clamping out-of-gamut values.
func LabToRGB(c Lab) (uint8, uint8, uint8) {
	fy := (c.L + 16) / 116
	fx := fy + c.A/500
	fz := fy - c.B/200

	x := whiteX * labFInv(fx)
	y := whiteY * labFInv(fy)
	z := whiteZ * labFInv(fz)

	rl := 3.2404542*x - 1.5371385*y - 0.4985314*z
	gl := -0.9692660*x + 1.8760108*y + 0.0415560*z
	bl := 0.0556434*x - 0.2040259*y + 1.0572252*z

	return clampUint8(linearToSRGB(rl) * 255),
		clampUint8(linearToSRGB(gl) * 255),
		clampUint8(linearToSRGB(bl) * 255)
}

// LabPlane converts every pixel of img, row-major.
func LabPlane(img *image.NRGBA) []Lab {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := make([]Lab, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := y*img.Stride + x*4
			out[y*w+x] = RGBToLab(img.Pix[o], img.Pix[o+1], img.Pix[o+2])
		}
	}
	return out
}

// Distance is the CIE76 colour difference.
func Distance(a, b Lab) float64 {
	dl, da, db := a.L-b.L, a.A-b.A, a.B-b.B
	return math.Sqrt(dl*dl + da*da + db*db)
}
