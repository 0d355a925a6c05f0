package imaging

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 90, A: 255})
		}
	}
	return img
}

func mustPNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	data, err := EncodePNG(img)
	require.NoError(t, err)
	return data
}

func TestBox(t *testing.T) {
	tests := []struct {
		name string
		a, b Box
		iou  float64
	}{
		{name: "identical", a: Box{0, 0, 10, 10}, b: Box{0, 0, 10, 10}, iou: 1},
		{name: "disjoint", a: Box{0, 0, 10, 10}, b: Box{20, 20, 30, 30}, iou: 0},
		{name: "touching edges", a: Box{0, 0, 10, 10}, b: Box{10, 0, 20, 10}, iou: 0},
		{name: "half overlap", a: Box{0, 0, 10, 10}, b: Box{5, 0, 15, 10}, iou: 50.0 / 150.0},
		{name: "contained", a: Box{0, 0, 10, 10}, b: Box{0, 0, 5, 10}, iou: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.iou, tt.a.IoU(tt.b), 1e-9)
			assert.InDelta(t, tt.iou, tt.b.IoU(tt.a), 1e-9)
		})
	}
}

func TestSanitizeBox(t *testing.T) {
	t.Run("swaps and clamps", func(t *testing.T) {
		b, err := SanitizeBox(Box{X0: 120, Y0: 50, X1: -5, Y1: 10}, 100, 80)
		require.NoError(t, err)
		assert.Equal(t, Box{X0: 0, Y0: 10, X1: 100, Y1: 50}, b)
	})

	t.Run("outside the frame", func(t *testing.T) {
		_, err := SanitizeBox(Box{X0: 200, Y0: 200, X1: 300, Y1: 300}, 100, 80)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidBox)
	})

	t.Run("degenerate", func(t *testing.T) {
		_, err := SanitizeBox(Box{X0: 10, Y0: 10, X1: 10, Y1: 40}, 100, 80)
		assert.ErrorIs(t, err, ErrInvalidBox)
	})
}

func TestLoader_Load(t *testing.T) {
	good := mustPNG(t, gradient(40, 30))

	tests := []struct {
		name      string
		baseline  []byte
		current   []byte
		maxPixels int
		wantErr   error
		errString string
	}{
		{name: "corrupt baseline", baseline: []byte("not an image"), current: good, wantErr: ErrUndecodable, errString: "baseline"},
		{name: "corrupt current", baseline: good, current: []byte{0x89, 0x50, 0x4e, 0x47}, wantErr: ErrUndecodable, errString: "current"},
		{name: "empty baseline", baseline: nil, current: good, wantErr: ErrEmptyInput, errString: "baseline"},
		{name: "too large", baseline: good, current: good, maxPixels: 100, wantErr: ErrTooLarge, errString: "baseline"},
		{name: "valid", baseline: good, current: good},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, err := Loader{MaxPixels: tt.maxPixels}.Load(tt.baseline, tt.current)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, pair)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 40, pair.Baseline.Rect.Dx())
			assert.Equal(t, 30, pair.Baseline.Rect.Dy())
			assert.False(t, pair.Resized)
		})
	}
}

func TestLoader_ResizesCurrent(t *testing.T) {
	baseline := mustPNG(t, gradient(40, 30))
	current := mustPNG(t, gradient(80, 60))

	pair, err := Loader{}.Load(baseline, current)
	require.NoError(t, err)
	assert.True(t, pair.Resized)
	assert.Equal(t, pair.Baseline.Rect, pair.Current.Rect)
}

func TestHomographyInverse(t *testing.T) {
	h := Homography{1.02, 0.05, 3, -0.04, 0.98, -7, 0.0001, -0.0002, 1}
	inv, ok := h.Inverse()
	require.True(t, ok)

	for _, p := range [][2]float64{{0, 0}, {10, 20}, {-5, 40}, {100, 3}} {
		x, y, ok := h.Apply(p[0], p[1])
		require.True(t, ok)
		bx, by, ok := inv.Apply(x, y)
		require.True(t, ok)
		assert.InDelta(t, p[0], bx, 1e-9)
		assert.InDelta(t, p[1], by, 1e-9)
	}

	_, ok = Homography{}.Inverse()
	assert.False(t, ok)
}

func TestWarpPerspective(t *testing.T) {
	src := gradient(32, 24)

	t.Run("identity keeps pixels", func(t *testing.T) {
		out, coverage, err := warpBilinear(src, Identity(), 32, 24, nil)
		require.NoError(t, err)
		assert.True(t, Equal(src, out))
		assert.Equal(t, 1.0, coverage)
	})

	t.Run("translation fills uncovered pixels", func(t *testing.T) {
		fill := solid(32, 24, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
		shift := Homography{1, 0, 4, 0, 1, 0, 0, 0, 1}
		inv, ok := shift.Inverse()
		require.True(t, ok)

		out, coverage, err := warpBilinear(src, inv, 32, 24, fill)
		require.NoError(t, err)
		assert.InDelta(t, 28.0/32.0, coverage, 1e-9)
		assert.Equal(t, color.NRGBA{R: 1, G: 2, B: 3, A: 255}, out.NRGBAAt(0, 0))
		assert.Equal(t, src.NRGBAAt(0, 5), out.NRGBAAt(4, 5))
	})

	t.Run("deterministic", func(t *testing.T) {
		rot := Homography{math.Cos(0.1), -math.Sin(0.1), 3, math.Sin(0.1), math.Cos(0.1), -2, 0, 0, 1}
		inv, ok := rot.Inverse()
		require.True(t, ok)
		a, _, err := warpBilinear(src, inv, 32, 24, src)
		require.NoError(t, err)
		b, _, err := warpBilinear(src, inv, 32, 24, src)
		require.NoError(t, err)
		assert.True(t, Equal(a, b))
	})

	t.Run("singular transform", func(t *testing.T) {
		_, _, err := WarpPerspective(src, Homography{}, 32, 24, nil)
		assert.ErrorIs(t, err, ErrSingularTransform)
	})
}

func TestLabRoundTrip(t *testing.T) {
	colors := []color.NRGBA{
		{R: 0, G: 0, B: 0}, {R: 255, G: 255, B: 255}, {R: 128, G: 128, B: 128},
		{R: 255, G: 0, B: 0}, {R: 20, G: 40, B: 160}, {R: 255, G: 220, B: 0},
	}
	for _, c := range colors {
		lab := RGBToLab(c.R, c.G, c.B)
		r, g, b := LabToRGB(lab)
		assert.InDelta(t, float64(c.R), float64(r), 1, "red of %v", c)
		assert.InDelta(t, float64(c.G), float64(g), 1, "green of %v", c)
		assert.InDelta(t, float64(c.B), float64(b), 1, "blue of %v", c)
	}

	white := RGBToLab(255, 255, 255)
	assert.InDelta(t, 100, white.L, 0.01)
	assert.InDelta(t, 0, white.A, 0.01)
	assert.InDelta(t, 0, white.B, 0.01)
}

func TestCropAndDraw(t *testing.T) {
	img := gradient(20, 20)
	c := Crop(img, Box{X0: 5, Y0: 6, X1: 10, Y1: 16})
	assert.Equal(t, 5, c.Rect.Dx())
	assert.Equal(t, 10, c.Rect.Dy())
	assert.Equal(t, img.NRGBAAt(5, 6), c.NRGBAAt(0, 0))

	DrawBox(img, Box{X0: 2, Y0: 2, X1: 8, Y1: 8}, ColorChange, 1)
	assert.Equal(t, ColorChange, img.NRGBAAt(2, 2))
	assert.Equal(t, ColorChange, img.NRGBAAt(7, 7))
	assert.NotEqual(t, ColorChange, img.NRGBAAt(4, 4))
}
