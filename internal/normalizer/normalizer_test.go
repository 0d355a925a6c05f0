package normalizer

import (
	"context"
	"image"
	"image/color"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/visual-diff/internal/imaging"
)

func scene(w, h int, shift int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(40 + (x*3+y*2)%150)
			c := color.NRGBA{R: v, G: uint8(int(v) * 3 / 4), B: uint8(200 - int(v)/2), A: 255}
			if x > w/3 && x < 2*w/3 && y > h/4 && y < h/2 {
				c = color.NRGBA{R: 220, G: 60, B: 50, A: 255}
			}
			c.R = uint8(min(int(c.R)+shift, 255))
			c.G = uint8(min(int(c.G)+shift, 255))
			c.B = uint8(min(int(c.B)+shift, 255))
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNormalize_IdenticalInputs(t *testing.T) {
	img := scene(64, 48, 0)
	n := New(DefaultConfig(), quiet())

	res, err := n.Normalize(context.Background(), img, imaging.Clone(img))
	require.NoError(t, err)

	assert.True(t, imaging.Equal(res.Baseline, res.Current))
	assert.Equal(t, MaxPSNR, res.PSNR)
	assert.InDelta(t, 1.0, res.SSIM, 1e-9)
}

func TestNormalize_Deterministic(t *testing.T) {
	baseline := scene(64, 48, 0)
	current := scene(64, 48, 30)
	n := New(DefaultConfig(), quiet())

	a, err := n.Normalize(context.Background(), baseline, current)
	require.NoError(t, err)
	b, err := n.Normalize(context.Background(), baseline, current)
	require.NoError(t, err)

	assert.True(t, imaging.Equal(a.Baseline, b.Baseline))
	assert.True(t, imaging.Equal(a.Current, b.Current))
	assert.Equal(t, a.SSIM, b.SSIM)
}

func TestNormalize_ReducesExposureDifference(t *testing.T) {
	baseline := scene(64, 48, 0)
	current := scene(64, 48, 40)
	before := PSNR(baseline, current)

	res, err := New(DefaultConfig(), quiet()).Normalize(context.Background(), baseline, current)
	require.NoError(t, err)

	assert.Greater(t, res.PSNR, before)
}

func TestNormalize_DoesNotMutateInputs(t *testing.T) {
	baseline := scene(32, 32, 0)
	current := scene(32, 32, 25)
	bCopy, cCopy := imaging.Clone(baseline), imaging.Clone(current)

	_, err := New(DefaultConfig(), quiet()).Normalize(context.Background(), baseline, current)
	require.NoError(t, err)

	assert.True(t, imaging.Equal(bCopy, baseline))
	assert.True(t, imaging.Equal(cCopy, current))
}

func TestNormalize_Errors(t *testing.T) {
	n := New(DefaultConfig(), quiet())

	_, err := n.Normalize(context.Background(), scene(10, 10, 0), scene(12, 10, 0))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = n.Normalize(ctx, scene(10, 10, 0), scene(10, 10, 0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatchHistograms(t *testing.T) {
	t.Run("same distribution is identity", func(t *testing.T) {
		img := scene(40, 30, 0)
		assert.True(t, imaging.Equal(img, MatchHistograms(img, imaging.Clone(img))))
	})

	t.Run("uniform offset is undone", func(t *testing.T) {
		ref := scene(40, 30, 0)
		src := scene(40, 30, 20)
		out := MatchHistograms(src, ref)
		assert.Greater(t, PSNR(out, ref), PSNR(src, ref))
	})

	t.Run("content in one image only does not tear the rest", func(t *testing.T) {
		paint := func(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA) {
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					img.SetNRGBA(x, y, c)
				}
			}
		}
		ref := image.NewNRGBA(image.Rect(0, 0, 64, 64))
		for y := 0; y < 64; y++ {
			for x := 0; x < 64; x++ {
				v := uint8(126 + x%5)
				ref.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
			}
		}
		paint(ref, 40, 40, 56, 56, color.NRGBA{R: 20, G: 40, B: 160, A: 255})
		src := imaging.Clone(ref)
		paint(src, 8, 8, 16, 16, color.NRGBA{R: 200, G: 0, B: 200, A: 255})

		for c := 0; c < 3; c++ {
			lut := channelLUT(channelHistogram(src, c), channelHistogram(ref, c))
			for v := 126; v < 130; v++ {
				step := int(lut[v+1]) - int(lut[v])
				assert.True(t, step == 0 || step == 1, "channel %d: %d -> %d, %d -> %d", c, v, lut[v], v+1, lut[v+1])
			}
		}

		out := MatchHistograms(src, ref)
		for y := 40; y < 56; y++ {
			for x := 40; x < 56; x++ {
				got, want := out.NRGBAAt(x, y), ref.NRGBAAt(x, y)
				assert.InDelta(t, int(want.R), int(got.R), 16)
				assert.InDelta(t, int(want.G), int(got.G), 16)
				assert.InDelta(t, int(want.B), int(got.B), 16)
			}
		}
	})
}

func TestInterpolate(t *testing.T) {
	xs := []float64{0.25, 0.5, 1}
	ys := []float64{10, 20, 40}

	tests := []struct {
		x, want float64
	}{
		{x: 0.1, want: 10},
		{x: 0.25, want: 10},
		{x: 0.375, want: 15},
		{x: 0.5, want: 20},
		{x: 0.75, want: 30},
		{x: 1, want: 40},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, interpolate(tt.x, xs, ys), 1e-12, "x=%v", tt.x)
	}
}

func TestCLAHE_UniformImageIsStable(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 90, 90, 90, 255
	}

	out := CLAHE(img, 2.0, 8)
	first := out.NRGBAAt(0, 0)
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			require.Equal(t, first, out.NRGBAAt(x, y))
		}
	}
}

func TestSSIM(t *testing.T) {
	a := scene(32, 32, 0)
	assert.InDelta(t, 1.0, SSIM(a, a), 1e-12)

	b := scene(32, 32, 60)
	assert.Less(t, SSIM(a, b), 1.0)
}
