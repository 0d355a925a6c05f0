package segment

import (
	"github.com/cuongbtq/visual-diff/internal/imaging"
)

// Mask is a binary pixel mask over a Width x Height frame, row-major.
type Mask struct {
	Width  int
	Height int

	bits []bool
	area int
	box  imaging.Box
	// dirty is set by mutations until area and box are recomputed
	dirty bool
}

// NewMask allocates an empty mask.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, bits: make([]bool, width*height)}
}

// MaskFromBits wraps a row-major bit slice of length width*height.
func MaskFromBits(width, height int, bits []bool) *Mask {
	return &Mask{Width: width, Height: height, bits: bits, dirty: true}
}

// Set marks (x,y).
func (m *Mask) Set(x, y int) {
	m.bits[y*m.Width+x] = true
	m.dirty = true
}

// Get reports whether (x,y) is set; out-of-frame coordinates are unset.
func (m *Mask) Get(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.bits[y*m.Width+x]
}

func (m *Mask) refresh() {
	if !m.dirty {
		return
	}
	m.area = 0
	box := imaging.Box{X0: m.Width, Y0: m.Height}
	for y := 0; y < m.Height; y++ {
		row := y * m.Width
		for x := 0; x < m.Width; x++ {
			if !m.bits[row+x] {
				continue
			}
			m.area++
			box.X0 = min(box.X0, x)
			box.Y0 = min(box.Y0, y)
			box.X1 = max(box.X1, x+1)
			box.Y1 = max(box.Y1, y+1)
		}
	}
	if m.area == 0 {
		box = imaging.Box{}
	}
	m.box = box
	m.dirty = false
}

// Area is the number of set pixels.
func (m *Mask) Area() int {
	m.refresh()
	return m.area
}

// Box is the tight bounding box of the set pixels.
func (m *Mask) Box() imaging.Box {
	m.refresh()
	return m.box
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	c := NewMask(m.Width, m.Height)
	copy(c.bits, m.bits)
	c.dirty = true
	return c
}

// Clip returns a copy restricted to box.
func (m *Mask) Clip(box imaging.Box) *Mask {
	c := NewMask(m.Width, m.Height)
	b := box.Clamp(m.Width, m.Height)
	for y := b.Y0; y < b.Y1; y++ {
		row := y * m.Width
		copy(c.bits[row+b.X0:row+b.X1], m.bits[row+b.X0:row+b.X1])
	}
	c.dirty = true
	return c
}

// Union returns a new mask set wherever either mask is set.
func (m *Mask) Union(o *Mask) *Mask {
	c := m.Clone()
	for i, v := range o.bits {
		if v {
			c.bits[i] = true
		}
	}
	c.dirty = true
	return c
}

// Intersection counts pixels set in both masks.
func (m *Mask) Intersection(o *Mask) int {
	b := m.Box().Intersect(o.Box())
	n := 0
	for y := b.Y0; y < b.Y1; y++ {
		row := y * m.Width
		for x := b.X0; x < b.X1; x++ {
			if m.bits[row+x] && o.bits[row+x] {
				n++
			}
		}
	}
	return n
}

// IoU is the pixel intersection-over-union of two masks on the same frame.
func (m *Mask) IoU(o *Mask) float64 {
	inter := m.Intersection(o)
	if inter == 0 {
		return 0
	}
	return float64(inter) / float64(m.Area()+o.Area()-inter)
}
