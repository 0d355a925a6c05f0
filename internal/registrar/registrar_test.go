package registrar

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/visual-diff/internal/imaging"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// rotation returns the baseline→current transform rotating by deg about (cx,cy).
func rotation(deg, cx, cy float64) imaging.Homography {
	r := deg * math.Pi / 180
	c, s := math.Cos(r), math.Sin(r)
	return imaging.Homography{
		c, -s, cx - c*cx + s*cy,
		s, c, cy - s*cx - c*cy,
		0, 0, 1,
	}
}

// gridMatches maps a grid of baseline points through fwd and corrupts every
// fifth correspondence.
func gridMatches(fwd imaging.Homography, outliers bool) []Correspondence {
	var out []Correspondence
	i := 0
	for y := 8.0; y < 120; y += 12 {
		for x := 8.0; x < 120; x += 12 {
			cx, cy, _ := fwd.Apply(x, y)
			if outliers && i%5 == 4 {
				cx += float64(17 + (i*7)%23)
				cy -= float64(11 + (i*13)%19)
			}
			out = append(out, Correspondence{
				Baseline:   Point{X: x, Y: y},
				Current:    Point{X: cx, Y: cy},
				Confidence: 0.9,
			})
			i++
		}
	}
	return out
}

func staticMatcher(m []Correspondence, err error) Matcher {
	return MatcherFunc(func(context.Context, *image.NRGBA, *image.NRGBA) ([]Correspondence, error) {
		return m, err
	})
}

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 2), G: uint8(y * 2), B: uint8((x + y) % 256), A: 255})
		}
	}
	return img
}

func TestEstimateHomography_RecoversRotationWithOutliers(t *testing.T) {
	fwd := rotation(5, 64, 64)
	matches := gridMatches(fwd, true)

	src := make([]Point, len(matches))
	dst := make([]Point, len(matches))
	for i, m := range matches {
		src[i] = m.Current
		dst[i] = m.Baseline
	}

	est, err := EstimateHomography(src, dst, RANSACParams{ReprojThreshold: 4, MaxIterations: 2000, Confidence: 0.995, Seed: 7})
	require.NoError(t, err)

	want, ok := fwd.Inverse()
	require.True(t, ok)
	for i := range want {
		assert.InDelta(t, want[i], est.H[i], 1e-3, "element %d", i)
	}

	expectedInliers := len(matches) - len(matches)/5
	assert.Equal(t, expectedInliers, est.InlierCount)
	for i, in := range est.Inliers {
		assert.Equal(t, i%5 != 4, in, "correspondence %d", i)
	}
}

func TestEstimateHomography_Deterministic(t *testing.T) {
	matches := gridMatches(rotation(3, 50, 60), true)
	src := make([]Point, len(matches))
	dst := make([]Point, len(matches))
	for i, m := range matches {
		src[i] = m.Current
		dst[i] = m.Baseline
	}

	params := RANSACParams{ReprojThreshold: 4, MaxIterations: 500, Confidence: 0.99, Seed: 42}
	a, err := EstimateHomography(src, dst, params)
	require.NoError(t, err)
	b, err := EstimateHomography(src, dst, params)
	require.NoError(t, err)

	assert.Equal(t, a.H, b.H)
	assert.Equal(t, a.Inliers, b.Inliers)
}

func TestEstimateHomography_Errors(t *testing.T) {
	_, err := EstimateHomography([]Point{{0, 0}, {1, 1}}, []Point{{0, 0}, {1, 1}}, RANSACParams{ReprojThreshold: 4})
	assert.ErrorIs(t, err, ErrTooFewPoints)

	line := []Point{{0, 0}, {1, 1}, {2, 2}, {3, 3}, {4, 4}, {5, 5}}
	_, err = EstimateHomography(line, line, RANSACParams{ReprojThreshold: 4, MaxIterations: 50})
	assert.ErrorIs(t, err, ErrNoConsensus)
}

func TestRegistrar_Align(t *testing.T) {
	baseline := testImage(128, 128)
	current := testImage(128, 128)

	t.Run("rotation with outliers", func(t *testing.T) {
		r := New(staticMatcher(gridMatches(rotation(5, 64, 64), true), nil), DefaultConfig(), discardLogger())
		res, err := r.Align(context.Background(), baseline, current)
		require.NoError(t, err)

		assert.False(t, res.Degraded)
		require.NotNil(t, res.Transform)
		assert.Greater(t, res.InlierRatio, 0.5)
		assert.LessOrEqual(t, res.InlierRatio, 1.0)
		assert.Equal(t, 100, res.Matches)
		assert.Equal(t, baseline.Rect, res.Warped.Rect)
		assert.Greater(t, res.Coverage, 0.8)
		assert.Less(t, res.Coverage, 1.0)
	})

	t.Run("identity keeps current", func(t *testing.T) {
		r := New(staticMatcher(gridMatches(imaging.Identity(), false), nil), DefaultConfig(), discardLogger())
		res, err := r.Align(context.Background(), baseline, current)
		require.NoError(t, err)
		require.NotNil(t, res.Transform)
		assert.Equal(t, 1.0, res.InlierRatio)
		assert.True(t, imaging.Equal(current, res.Warped))
	})

	degraded := []struct {
		name    string
		matches []Correspondence
		reason  string
	}{
		{name: "zero correspondences", matches: nil, reason: ReasonNoMatches},
		{name: "three correspondences", matches: gridMatches(imaging.Identity(), false)[:3], reason: ReasonTooFewMatches},
		{name: "mostly outliers", matches: scrambled(), reason: ReasonLowInlierRatio},
	}
	for _, tt := range degraded {
		t.Run(tt.name, func(t *testing.T) {
			r := New(staticMatcher(tt.matches, nil), DefaultConfig(), discardLogger())
			res, err := r.Align(context.Background(), baseline, current)
			require.NoError(t, err)
			assert.True(t, res.Degraded)
			assert.Nil(t, res.Transform)
			assert.Equal(t, tt.reason, res.DegradeReason)
			assert.True(t, imaging.Equal(current, res.Warped))
			assert.GreaterOrEqual(t, res.InlierRatio, 0.0)
			assert.Less(t, res.InlierRatio, DefaultConfig().MinInlierRatio)
		})
	}

	t.Run("matcher failure is returned", func(t *testing.T) {
		r := New(staticMatcher(nil, errors.New("model unavailable")), DefaultConfig(), discardLogger())
		_, err := r.Align(context.Background(), baseline, current)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model unavailable")
	})

	t.Run("low confidence matches are ignored", func(t *testing.T) {
		matches := gridMatches(imaging.Identity(), false)
		for i := range matches {
			matches[i].Confidence = 0.1
		}
		cfg := DefaultConfig()
		cfg.MinMatchConfidence = 0.5
		res, err := New(staticMatcher(matches, nil), cfg, discardLogger()).Align(context.Background(), baseline, current)
		require.NoError(t, err)
		assert.True(t, res.Degraded)
		assert.Equal(t, 0, res.Matches)
	})
}

// scrambled returns correspondences with no common geometry: each current
// point is a pseudo-random scatter of its baseline point.
func scrambled() []Correspondence {
	var out []Correspondence
	seed := uint32(12345)
	next := func() float64 {
		seed = seed*1664525 + 1013904223
		return float64(seed>>8) / float64(1<<24)
	}
	for i := 0; i < 60; i++ {
		out = append(out, Correspondence{
			Baseline:   Point{X: next() * 128, Y: next() * 128},
			Current:    Point{X: next() * 128, Y: next() * 128},
			Confidence: 1,
		})
	}
	return out
}
