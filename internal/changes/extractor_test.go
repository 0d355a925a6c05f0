package changes

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/visual-diff/internal/imaging"
	"github.com/cuongbtq/visual-diff/internal/normalizer"
	"github.com/cuongbtq/visual-diff/internal/segment"
)

var (
	gray   = color.NRGBA{R: 128, G: 128, B: 128, A: 255}
	yellow = color.NRGBA{R: 255, G: 220, B: 0, A: 255}
	blue   = color.NRGBA{R: 20, G: 40, B: 160, A: 255}
	red    = color.NRGBA{R: 255, G: 0, B: 0, A: 255}

	patchBox = imaging.Box{X0: 80, Y0: 20, X1: 100, Y1: 40}
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fill(img *image.NRGBA, b imaging.Box, c color.NRGBA) {
	for y := b.Y0; y < b.Y1; y++ {
		for x := b.X0; x < b.X1; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}

func baseScene() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 128, 128))
	fill(img, imaging.Box{X1: 128, Y1: 128}, gray)
	fill(img, imaging.Box{X0: 20, Y0: 70, X1: 50, Y1: 100}, yellow)
	fill(img, imaging.Box{X0: 70, Y0: 75, X1: 105, Y1: 105}, blue)
	return img
}

func patchedScene() *image.NRGBA {
	img := baseScene()
	fill(img, patchBox, red)
	return img
}

type failingSegmenter struct{ err error }

func (f failingSegmenter) Segment(context.Context, *image.NRGBA, segment.Options) ([]segment.Proposal, error) {
	return nil, f.err
}

func TestExtract_IdenticalImagesYieldNothing(t *testing.T) {
	for _, threshold := range []float64{0, 1, 45, 145, 180} {
		cfg := DefaultConfig()
		cfg.ConfidenceThreshold = threshold
		e := New(segment.NewRegionGrower(), cfg, quiet())

		img := patchedScene()
		regions, err := e.Extract(context.Background(), img, imaging.Clone(img), nil)
		require.NoError(t, err)
		assert.Empty(t, regions, "threshold %v", threshold)
	}
}

func TestExtract_AddedPatch(t *testing.T) {
	e := New(segment.NewRegionGrower(), DefaultConfig(), quiet())

	regions, err := e.Extract(context.Background(), baseScene(), patchedScene(), nil)
	require.NoError(t, err)
	require.Len(t, regions, 1)

	r := regions[0]
	assert.Equal(t, patchBox, r.Box)
	assert.Equal(t, 400, r.Area)
	assert.Equal(t, KindAppeared, r.Kind)
	assert.GreaterOrEqual(t, r.Confidence, 145.0)
	assert.LessOrEqual(t, r.Confidence, MaxConfidence)
}

func TestExtract_RemovedPatch(t *testing.T) {
	e := New(segment.NewRegionGrower(), DefaultConfig(), quiet())

	regions, err := e.Extract(context.Background(), patchedScene(), baseScene(), nil)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, patchBox, regions[0].Box)
	assert.Equal(t, KindDisappeared, regions[0].Kind)
}

func TestExtract_ROIExcludesChange(t *testing.T) {
	e := New(segment.NewRegionGrower(), DefaultConfig(), quiet())

	roi := imaging.Box{X0: 0, Y0: 60, X1: 128, Y1: 128}
	regions, err := e.Extract(context.Background(), baseScene(), patchedScene(), &roi)
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestExtract_Deterministic(t *testing.T) {
	e := New(segment.NewRegionGrower(), DefaultConfig(), quiet())

	a, err := e.Extract(context.Background(), baseScene(), patchedScene(), nil)
	require.NoError(t, err)
	b, err := e.Extract(context.Background(), baseScene(), patchedScene(), nil)
	require.NoError(t, err)

	require.Len(t, b, len(a))
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
		assert.Equal(t, a[i].Box, b[i].Box)
		assert.Equal(t, a[i].Confidence, b[i].Confidence)
	}
}

func TestExtract_NoProposals(t *testing.T) {
	e := New(failingSegmenter{}, DefaultConfig(), quiet())
	regions, err := e.Extract(context.Background(), baseScene(), patchedScene(), nil)
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestExtract_SegmenterFailure(t *testing.T) {
	e := New(failingSegmenter{err: errors.New("segmentation backend down")}, DefaultConfig(), quiet())
	_, err := e.Extract(context.Background(), baseScene(), patchedScene(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "segmentation backend down")
}

// syntheticCandidates builds overlapping boxes with spread-out confidences and areas.
func syntheticCandidates() []Region {
	var out []Region
	id := 1
	for i := 0; i < 6; i++ {
		for j := 0; j < 5; j++ {
			b := imaging.Box{X0: i * 12, Y0: j * 15, X1: i*12 + 20 + j*3, Y1: j*15 + 18 + i*2}
			out = append(out, Region{
				ID:         id,
				Box:        b,
				Area:       b.Area() * (1 + (i*j)%7),
				Confidence: float64((id*37)%181) + 0.5*float64(j),
			})
			id++
		}
	}
	out = append(out, Region{ID: id, Box: imaging.Box{X1: 100, Y1: 100}, Area: 9500, Confidence: 170})
	return out
}

func TestSelect_ConfidenceMonotone(t *testing.T) {
	candidates := syntheticCandidates()
	prev := -1
	for th := 0.0; th <= 180; th += 5 {
		cfg := DefaultConfig()
		cfg.ConfidenceThreshold = th
		n := len(Select(candidates, cfg, 10000))
		if prev >= 0 {
			assert.LessOrEqual(t, n, prev, "threshold %v", th)
		}
		prev = n
	}
}

func TestSelect_AreaMonotone(t *testing.T) {
	candidates := syntheticCandidates()
	prev := -1
	for at := 0.0; at <= 1.0001; at += 0.01 {
		cfg := DefaultConfig()
		cfg.ConfidenceThreshold = 10
		cfg.AreaThreshold = at
		n := len(Select(candidates, cfg, 10000))
		assert.GreaterOrEqual(t, n, prev, "area threshold %v", at)
		prev = n
	}
}

func TestSelect_NMSAndOrdering(t *testing.T) {
	for _, nms := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		cfg := DefaultConfig()
		cfg.ConfidenceThreshold = 1
		cfg.AreaThreshold = 1
		cfg.NMSThreshold = nms

		out := Select(syntheticCandidates(), cfg, 10000)
		require.NotEmpty(t, out)
		for i := range out {
			for j := i + 1; j < len(out); j++ {
				assert.LessOrEqual(t, out[i].Box.IoU(out[j].Box), nms)
			}
			if i > 0 {
				prev, cur := out[i-1], out[i]
				ordered := prev.Confidence > cur.Confidence || (prev.Confidence == cur.Confidence && prev.ID < cur.ID)
				assert.True(t, ordered, "regions %d and %d out of order", prev.ID, cur.ID)
			}
		}
	}
}

func TestSelect_TiesBrokenByID(t *testing.T) {
	candidates := []Region{
		{ID: 3, Box: imaging.Box{X0: 50, X1: 60, Y1: 10}, Area: 100, Confidence: 150},
		{ID: 1, Box: imaging.Box{X1: 10, Y1: 10}, Area: 100, Confidence: 150},
		{ID: 2, Box: imaging.Box{X0: 20, X1: 30, Y1: 10}, Area: 100, Confidence: 160},
		{ID: 4, Box: imaging.Box{X0: 70, X1: 80, Y1: 10}, Area: 100, Confidence: 0},
	}
	cfg := DefaultConfig()
	cfg.ConfidenceThreshold = 0

	out := Select(candidates, cfg, 10000)
	require.Len(t, out, 3)
	assert.Equal(t, []int{2, 1, 3}, []int{out[0].ID, out[1].ID, out[2].ID})
}

func TestChangeScore(t *testing.T) {
	mask := segment.NewMask(4, 1)
	for x := 0; x < 4; x++ {
		mask.Set(x, 0)
	}
	g := imaging.RGBToLab(128, 128, 128)
	r := imaging.RGBToLab(255, 0, 0)

	same := []imaging.Lab{g, r, g, r}
	assert.Zero(t, changeScore(same, same, mask, 10))

	shifted := []imaging.Lab{
		imaging.RGBToLab(133, 130, 126), imaging.RGBToLab(250, 4, 3),
		imaging.RGBToLab(133, 130, 126), imaging.RGBToLab(250, 4, 3),
	}
	assert.Zero(t, changeScore(same, shifted, mask, 10), "offsets below the floor are noise")

	swapped := []imaging.Lab{r, g, r, g}
	score := changeScore(same, swapped, mask, 10)
	assert.Greater(t, score, 145.0)
	assert.Less(t, score, MaxConfidence)

	half := []imaging.Lab{g, r, r, r}
	assert.Less(t, changeScore(same, half, mask, 10), score)
}

func TestMergeFragments(t *testing.T) {
	img := baseScene()
	// two shades of one object split down the middle
	fill(img, imaging.Box{X0: 80, Y0: 20, X1: 90, Y1: 40}, color.NRGBA{R: 250, G: 0, B: 0, A: 255})
	fill(img, imaging.Box{X0: 90, Y0: 20, X1: 100, Y1: 40}, color.NRGBA{R: 235, G: 10, B: 5, A: 255})
	lab := imaging.LabPlane(img)

	boxMask := func(b imaging.Box) *segment.Mask {
		m := segment.NewMask(128, 128)
		for y := b.Y0; y < b.Y1; y++ {
			for x := b.X0; x < b.X1; x++ {
				m.Set(x, y)
			}
		}
		return m
	}
	left := boxMask(imaging.Box{X0: 80, Y0: 20, X1: 90, Y1: 40})
	right := boxMask(imaging.Box{X0: 90, Y0: 20, X1: 100, Y1: 40})
	yellowMask := boxMask(imaging.Box{X0: 20, Y0: 70, X1: 50, Y1: 100})
	grayStrip := boxMask(imaging.Box{X0: 100, Y0: 20, X1: 110, Y1: 40})

	out := mergeFragments(lab, []*segment.Mask{yellowMask, left, grayStrip, right}, DefaultConfig().MergeDistance)
	require.Len(t, out, 3)
	assert.Same(t, yellowMask, out[0])
	assert.Equal(t, patchBox, out[1].Box())
	assert.Equal(t, 400, out[1].Area())
	assert.Same(t, grayStrip, out[2])

	assert.Len(t, mergeFragments(lab, []*segment.Mask{left, right}, 0), 2)
}

func TestExtract_NormalizedPairFlagsOnlyChangedObjects(t *testing.T) {
	green := color.NRGBA{R: 0, G: 160, B: 0, A: 255}
	magenta := color.NRGBA{R: 200, G: 0, B: 200, A: 255}
	greenBox := imaging.Box{X0: 20, Y0: 20, X1: 40, Y1: 40}
	magentaBox := imaging.Box{X0: 45, Y0: 20, X1: 65, Y1: 40}
	unchanged := []imaging.Box{
		{X0: 20, Y0: 70, X1: 50, Y1: 100},
		{X0: 70, Y0: 75, X1: 105, Y1: 105},
	}

	brighter := func(img *image.NRGBA, by int) *image.NRGBA {
		out := imaging.Clone(img)
		for i := 0; i < len(out.Pix); i += 4 {
			for c := 0; c < 3; c++ {
				out.Pix[i+c] = uint8(min(int(out.Pix[i+c])+by, 255))
			}
		}
		return out
	}
	threePatches := func() *image.NRGBA {
		img := patchedScene()
		fill(img, greenBox, green)
		fill(img, magentaBox, magenta)
		return img
	}

	tests := []struct {
		name    string
		current *image.NRGBA
		want    []imaging.Box
	}{
		{"one patch", patchedScene(), []imaging.Box{patchBox}},
		{"one patch under brighter light", brighter(patchedScene(), 25), []imaging.Box{patchBox}},
		{"three patches", threePatches(), []imaging.Box{patchBox, greenBox, magentaBox}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			norm, err := normalizer.New(normalizer.DefaultConfig(), quiet()).Normalize(context.Background(), baseScene(), tt.current)
			require.NoError(t, err)

			regions, err := New(segment.NewRegionGrower(), DefaultConfig(), quiet()).
				Extract(context.Background(), norm.Baseline, norm.Current, nil)
			require.NoError(t, err)
			require.Len(t, regions, len(tt.want))

			for _, want := range tt.want {
				found := false
				for _, r := range regions {
					if r.Box.IoU(want) > 0.8 {
						found = true
					}
				}
				assert.True(t, found, "no region for %v", want)
			}
			for _, r := range regions {
				for _, b := range unchanged {
					assert.True(t, r.Box.Intersect(b).Empty(), "region %v overlaps unchanged object %v", r.Box, b)
				}
			}
		})
	}
}
