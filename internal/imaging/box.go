package imaging

import (
	"fmt"
	"image"
)

// Box is a half-open pixel rectangle [X0,X1) x [Y0,Y1).
type Box struct {
	X0 int
	Y0 int
	X1 int
	Y1 int
}

// BoxFromRect converts an image.Rectangle.
func BoxFromRect(r image.Rectangle) Box {
	return Box{X0: r.Min.X, Y0: r.Min.Y, X1: r.Max.X, Y1: r.Max.Y}
}

func (b Box) Width() int  { return b.X1 - b.X0 }
func (b Box) Height() int { return b.Y1 - b.Y0 }

// Empty reports whether the box covers no pixels.
func (b Box) Empty() bool {
	return b.X1 <= b.X0 || b.Y1 <= b.Y0
}

func (b Box) Area() int {
	if b.Empty() {
		return 0
	}
	return b.Width() * b.Height()
}

func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X0, b.Y0, b.X1, b.Y1)
}

func (b Box) Intersect(o Box) Box {
	r := Box{
		X0: max(b.X0, o.X0),
		Y0: max(b.Y0, o.Y0),
		X1: min(b.X1, o.X1),
		Y1: min(b.Y1, o.Y1),
	}
	if r.Empty() {
		return Box{}
	}
	return r
}

func (b Box) Union(o Box) Box {
	if b.Empty() {
		return o
	}
	if o.Empty() {
		return b
	}
	return Box{
		X0: min(b.X0, o.X0),
		Y0: min(b.Y0, o.Y0),
		X1: max(b.X1, o.X1),
		Y1: max(b.Y1, o.Y1),
	}
}

// IoU returns the intersection-over-union of two boxes.
func (b Box) IoU(o Box) float64 {
	inter := b.Intersect(o).Area()
	if inter == 0 {
		return 0
	}
	union := b.Area() + o.Area() - inter
	return float64(inter) / float64(union)
}

// Clamp restricts the box to a width x height frame.
func (b Box) Clamp(width, height int) Box {
	r := Box{
		X0: min(max(b.X0, 0), width),
		Y0: min(max(b.Y0, 0), height),
		X1: min(max(b.X1, 0), width),
		Y1: min(max(b.Y1, 0), height),
	}
	if r.Empty() {
		return Box{}
	}
	return r
}

// Pad grows the box by frac of its size on every side, clamped to the frame.
func (b Box) Pad(frac float64, width, height int) Box {
	dx := int(float64(b.Width())*frac + 0.5)
	dy := int(float64(b.Height())*frac + 0.5)
	return Box{X0: b.X0 - dx, Y0: b.Y0 - dy, X1: b.X1 + dx, Y1: b.Y1 + dy}.Clamp(width, height)
}

func (b Box) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", b.X0, b.Y0, b.X1, b.Y1)
}

// SanitizeBox orders the corners of a caller-supplied box and clamps it to the
// frame. It fails when nothing of the box remains inside the image.
func SanitizeBox(b Box, width, height int) (Box, error) {
	if b.X0 > b.X1 {
		b.X0, b.X1 = b.X1, b.X0
	}
	if b.Y0 > b.Y1 {
		b.Y0, b.Y1 = b.Y1, b.Y0
	}
	c := b.Clamp(width, height)
	if c.Empty() {
		return Box{}, fmt.Errorf("%w: %s outside %dx%d", ErrInvalidBox, b, width, height)
	}
	return c, nil
}

// BoxFromRatio converts fractional coordinates (0..1) into pixels.
func BoxFromRatio(x0, y0, x1, y1 float64, width, height int) Box {
	return Box{
		X0: int(x0 * float64(width)),
		Y0: int(y0 * float64(height)),
		X1: int(x1*float64(width) + 0.5),
		Y1: int(y1*float64(height) + 0.5),
	}
}
