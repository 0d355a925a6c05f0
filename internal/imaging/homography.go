package imaging

import (
	"errors"
	"math"
)

// ErrSingularTransform is returned when a transform cannot be inverted.
var ErrSingularTransform = errors.New("singular transform")

// Homography is a row-major 3x3 projective transform.
type Homography [9]float64

// Identity returns the identity transform.
func Identity() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Apply maps (x,y). ok is false when the point maps to infinity.
func (h Homography) Apply(x, y float64) (float64, float64, bool) {
	w := h[6]*x + h[7]*y + h[8]
	if math.Abs(w) < 1e-12 {
		return 0, 0, false
	}
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w, true
}

// Mul returns h*o, the transform applying o first and then h.
func (h Homography) Mul(o Homography) Homography {
	var r Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float64
			for k := 0; k < 3; k++ {
				s += h[i*3+k] * o[k*3+j]
			}
			r[i*3+j] = s
		}
	}
	return r
}

// Inverse returns the inverse transform scaled so that element [8] is 1 when possible.
func (h Homography) Inverse() (Homography, bool) {
	a, b, c := h[0], h[1], h[2]
	d, e, f := h[3], h[4], h[5]
	g, i, k := h[6], h[7], h[8]

	co00 := e*k - f*i
	co01 := -(d*k - f*g)
	co02 := d*i - e*g

	det := a*co00 + b*co01 + c*co02
	if math.Abs(det) < 1e-12 {
		return Homography{}, false
	}

	inv := Homography{
		co00, -(b*k - c*i), b*f - c*e,
		co01, a*k - c*g, -(a*f - c*d),
		co02, -(a*i - b*g), a*e - b*d,
	}
	for n := range inv {
		inv[n] /= det
	}
	return inv.Normalized(), true
}

// Normalized rescales the matrix so that element [8] equals 1.
func (h Homography) Normalized() Homography {
	if math.Abs(h[8]) < 1e-12 {
		return h
	}
	s := h[8]
	for n := range h {
		h[n] /= s
	}
	return h
}
