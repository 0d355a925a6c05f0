package classifier

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/visual-diff/internal/changes"
	"github.com/cuongbtq/visual-diff/internal/imaging"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func frame() *image.NRGBA { return image.NewNRGBA(image.Rect(0, 0, 100, 100)) }

func regions() []changes.Region {
	return []changes.Region{
		{ID: 1, Box: imaging.Box{X0: 10, Y0: 10, X1: 30, Y1: 30}, Area: 400, Confidence: 170},
		{ID: 2, Box: imaging.Box{X0: 50, Y0: 10, X1: 60, Y1: 40}, Area: 300, Confidence: 160},
		{ID: 3, Box: imaging.Box{X0: 0, Y0: 80, X1: 100, Y1: 100}, Area: 2000, Confidence: 150},
	}
}

func TestSanitize(t *testing.T) {
	in := []Score{
		{Label: "Floor", Confidence: 0.2},
		{Label: "Halo", Confidence: 1.7},
		{Label: "Tires", Confidence: math.NaN()},
		{Label: "Floor", Confidence: 0.6},
		{Label: "  ", Confidence: 0.9},
		{Label: "Diffuser", Confidence: -0.3},
		{Label: "Bargeboard", Confidence: 0.6},
	}

	out := Sanitize(in, 3)
	assert.Equal(t, []Score{
		{Label: "Halo", Confidence: 1},
		{Label: "Bargeboard", Confidence: 0.6},
		{Label: "Floor", Confidence: 0.6},
	}, out)

	all := Sanitize(in, 0)
	require.Len(t, all, 5)
	for i, s := range all {
		assert.GreaterOrEqual(t, s.Confidence, 0.0)
		assert.LessOrEqual(t, s.Confidence, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, all[i-1].Confidence, s.Confidence)
		}
	}
}

func TestClassify_OneRegionFails(t *testing.T) {
	labeler := LabelerFunc(func(_ context.Context, req Request) ([]Score, error) {
		if req.RegionID == 2 {
			return nil, errors.New("model exploded")
		}
		return []Score{
			{Label: "Rear Wing", Confidence: 0.7},
			{Label: "Floor", Confidence: 0.2},
			{Label: "Halo", Confidence: 0.05},
			{Label: "Tires", Confidence: 0.05},
		}, nil
	})

	c := New(labeler, DefaultConfig(), quiet())
	results, err := c.Classify(context.Background(), frame(), frame(), regions())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 1, results[0].RegionID)
	assert.Equal(t, "Rear Wing", results[0].Top().Label)
	assert.Len(t, results[0].Labels, 3)
	assert.False(t, results[0].Failed())

	assert.Equal(t, 2, results[1].RegionID)
	assert.Equal(t, UnknownLabel, results[1].Top().Label)
	assert.Zero(t, results[1].Top().Confidence)
	assert.Contains(t, results[1].Error, "model exploded")
	assert.True(t, results[1].Failed())

	assert.Equal(t, "Rear Wing", results[2].Top().Label)
}

func TestClassify_EmptyScoresBecomeUnknown(t *testing.T) {
	labeler := LabelerFunc(func(context.Context, Request) ([]Score, error) { return nil, nil })
	res, err := New(labeler, DefaultConfig(), quiet()).ClassifyRegion(context.Background(), frame(), frame(), regions()[0])
	require.NoError(t, err)
	assert.Equal(t, UnknownLabel, res.Top().Label)
	assert.Equal(t, ErrNoLabels.Error(), res.Error)
}

func TestClassify_CropsArePadded(t *testing.T) {
	var got Request
	labeler := LabelerFunc(func(_ context.Context, req Request) ([]Score, error) {
		got = req
		return []Score{{Label: "Floor", Confidence: 0.9}}, nil
	})

	_, err := New(labeler, DefaultConfig(), quiet()).ClassifyRegion(context.Background(), frame(), frame(), regions()[0])
	require.NoError(t, err)
	assert.Equal(t, imaging.Box{X0: 8, Y0: 8, X1: 32, Y1: 32}, got.Box)
	assert.Equal(t, 24, got.Baseline.Rect.Dx())
	assert.Equal(t, 24, got.Current.Rect.Dy())
	assert.Equal(t, DefaultVocabulary, got.Labels)
}

func TestClassify_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	labeler := LabelerFunc(func(ctx context.Context, _ Request) ([]Score, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		return []Score{{Label: "Halo", Confidence: 0.5}}, nil
	})

	cfg := DefaultConfig()
	cfg.Concurrency = 2
	var many []changes.Region
	for i := 1; i <= 8; i++ {
		many = append(many, changes.Region{ID: i, Box: imaging.Box{X0: i, Y0: i, X1: i + 10, Y1: i + 10}})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		results, err := New(labeler, cfg, quiet()).Classify(context.Background(), frame(), frame(), many)
		assert.NoError(t, err)
		assert.Len(t, results, 8)
	}()
	close(release)
	<-done
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestClassify_CanceledContextFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	labeler := LabelerFunc(func(ctx context.Context, _ Request) ([]Score, error) {
		cancel()
		return nil, ctx.Err()
	})

	_, err := New(labeler, DefaultConfig(), quiet()).Classify(ctx, frame(), frame(), regions())
	assert.ErrorIs(t, err, context.Canceled)
}
