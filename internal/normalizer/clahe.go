package normalizer

import (
	"image"
	"math"

	"github.com/cuongbtq/visual-diff/internal/imaging"
)

const histBins = 256

// CLAHE equalizes the L* channel of img with contrast-limited adaptive
// histogram equalization on a grid x grid tiling. Chroma is left untouched and
// pixels whose lightness bin maps to itself keep their exact RGB value.
func CLAHE(img *image.NRGBA, clipLimit float64, grid int) *image.NRGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if grid < 1 {
		grid = 1
	}
	tilesX, tilesY := min(grid, w), min(grid, h)
	tileW := (w + tilesX - 1) / tilesX
	tileH := (h + tilesY - 1) / tilesY
	tilesX = (w + tileW - 1) / tileW
	tilesY = (h + tileH - 1) / tileH

	lab := imaging.LabPlane(img)
	l8 := make([]uint8, len(lab))
	for i, c := range lab {
		l8[i] = lightnessBin(c.L)
	}

	luts := make([][histBins]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			x0, y0 := tx*tileW, ty*tileH
			x1, y1 := min(x0+tileW, w), min(y0+tileH, h)
			luts[ty*tilesX+tx] = tileLUT(l8, w, x0, y0, x1, y1, clipLimit)
		}
	}

	dst := imaging.Clone(img)
	for y := 0; y < h; y++ {
		tyf := (float64(y)+0.5)/float64(tileH) - 0.5
		ty1 := int(math.Floor(tyf))
		py := tyf - float64(ty1)
		ty2 := min(ty1+1, tilesY-1)
		ty1 = max(ty1, 0)

		for x := 0; x < w; x++ {
			txf := (float64(x)+0.5)/float64(tileW) - 0.5
			tx1 := int(math.Floor(txf))
			px := txf - float64(tx1)
			tx2 := min(tx1+1, tilesX-1)
			tx1 = max(tx1, 0)

			i := y*w + x
			v := l8[i]
			top := float64(luts[ty1*tilesX+tx1][v])*(1-px) + float64(luts[ty1*tilesX+tx2][v])*px
			bottom := float64(luts[ty2*tilesX+tx1][v])*(1-px) + float64(luts[ty2*tilesX+tx2][v])*px
			out := math.Round(top*(1-py) + bottom*py)

			delta := out - float64(v)
			if delta == 0 {
				continue
			}
			c := lab[i]
			c.L = math.Min(math.Max(c.L+delta*100/255, 0), 100)
			r, g, b := imaging.LabToRGB(c)
			o := y*dst.Stride + x*4
			dst.Pix[o], dst.Pix[o+1], dst.Pix[o+2] = r, g, b
		}
	}
	return dst
}

func lightnessBin(l float64) uint8 {
	v := math.Round(l * 255 / 100)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// tileLUT builds the clipped, redistributed equalization table of one tile.
func tileLUT(l8 []uint8, stride, x0, y0, x1, y1 int, clipLimit float64) [histBins]uint8 {
	var hist [histBins]int
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[l8[y*stride+x]]++
		}
	}
	area := (x1 - x0) * (y1 - y0)

	if clipLimit > 0 {
		limit := max(int(clipLimit*float64(area)/histBins), 1)
		excess := 0
		for i := range hist {
			if hist[i] > limit {
				excess += hist[i] - limit
				hist[i] = limit
			}
		}

		batch := excess / histBins
		residual := excess - batch*histBins
		for i := range hist {
			hist[i] += batch
		}
		if residual > 0 {
			step := max(histBins/residual, 1)
			for i := 0; i < histBins && residual > 0; i += step {
				hist[i]++
				residual--
			}
		}
	}

	var lut [histBins]uint8
	scale := float64(histBins-1) / float64(area)
	sum := 0
	for i := range hist {
		sum += hist[i]
		v := math.Round(float64(sum) * scale)
		lut[i] = uint8(math.Min(v, 255))
	}
	return lut
}
