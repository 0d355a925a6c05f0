package inference

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/visual-diff/internal/classifier"
	"github.com/cuongbtq/visual-diff/internal/imaging"
	"github.com/cuongbtq/visual-diff/internal/resilience"
	"github.com/cuongbtq/visual-diff/internal/segment"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	return NewClient("test", ClientConfig{
		BaseURL: url,
		Timeout: 5 * time.Second,
		Retry:   resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		Breaker: resilience.BreakerConfig{FailureThreshold: 10, ResetTimeout: time.Minute},
		Device:  "cpu",
	}, quiet())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func smallImage() *image.NRGBA { return image.NewNRGBA(image.Rect(0, 0, 6, 4)) }

func TestHTTPMatcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/match", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "cpu", r.FormValue("device"))
		_, _, err := r.FormFile("baseline")
		assert.NoError(t, err)
		_, _, err = r.FormFile("current")
		assert.NoError(t, err)

		writeJSON(w, map[string]any{"matches": []map[string]any{
			{"baseline": map[string]float64{"x": 1, "y": 2}, "current": map[string]float64{"x": 3, "y": 4}, "confidence": 0.8},
		}})
	}))
	defer srv.Close()

	matches, err := NewHTTPMatcher(testClient(t, srv.URL)).Match(context.Background(), smallImage(), smallImage())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 1.0, matches[0].Baseline.X)
	assert.Equal(t, 4.0, matches[0].Current.Y)
	assert.Equal(t, 0.8, matches[0].Confidence)
}

func TestHTTPSegmenter(t *testing.T) {
	mask := segment.NewMask(6, 4)
	for y := 1; y < 3; y++ {
		for x := 2; x < 5; x++ {
			mask.Set(x, y)
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "32", r.FormValue("points_per_side"))
		assert.Equal(t, "0.88", r.FormValue("pred_iou_thresh"))

		writeJSON(w, map[string]any{"masks": []map[string]any{
			{"segmentation": map[string]any{"size": []int{4, 6}, "counts": segment.EncodeRLE(mask)}, "predicted_iou": 0.97, "stability_score": 0.99},
			{"segmentation": map[string]any{"size": []int{4, 6}, "counts": segment.EncodeRLE(mask)}, "predicted_iou": 0.2, "stability_score": 0.99},
		}})
	}))
	defer srv.Close()

	opts := segment.DefaultOptions()
	opts.MinRegionArea = 0
	props, err := NewHTTPSegmenter(testClient(t, srv.URL)).Segment(context.Background(), smallImage(), opts)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, imaging.Box{X0: 2, Y0: 1, X1: 5, Y1: 3}, props[0].Box())
	assert.Equal(t, 6, props[0].Area())
}

func TestHTTPSegmenter_SizeMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"masks": []map[string]any{
			{"segmentation": map[string]any{"size": []int{10, 10}, "counts": []int{100}}},
		}})
	}))
	defer srv.Close()

	_, err := NewHTTPSegmenter(testClient(t, srv.URL)).Segment(context.Background(), smallImage(), segment.DefaultOptions())
	assert.ErrorContains(t, err, "does not match")
}

func TestHTTPLabeler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/classify", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		var labels []string
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("labels")), &labels))
		assert.Equal(t, []string{"Halo", "Floor"}, labels)

		writeJSON(w, map[string]any{"scores": []map[string]any{{"label": "Floor", "confidence": 0.7}}})
	}))
	defer srv.Close()

	scores, err := NewHTTPLabeler(testClient(t, srv.URL)).Label(context.Background(), classifier.Request{
		Baseline: smallImage(),
		Current:  smallImage(),
		Labels:   []string{"Halo", "Floor"},
	})
	require.NoError(t, err)
	assert.Equal(t, []classifier.Score{{Label: "Floor", Confidence: 0.7}}, scores)
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"matches": []any{}})
	}))
	defer srv.Close()

	matches, err := NewHTTPMatcher(testClient(t, srv.URL)).Match(context.Background(), smallImage(), smallImage())
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad image", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewHTTPMatcher(testClient(t, srv.URL)).Match(context.Background(), smallImage(), smallImage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestModels_RefCounting(t *testing.T) {
	m := Open(Config{}, quiet())
	assert.IsType(t, NopMatcher{}, m.Matcher)
	assert.IsType(t, &segment.RegionGrower{}, m.Segmenter)
	assert.IsType(t, DisabledLabeler{}, m.Labeler)

	h, err := m.Acquire()
	require.NoError(t, err)
	assert.Same(t, m, h)
	assert.Equal(t, 2, m.Refs())

	require.NoError(t, h.Release())
	require.NoError(t, m.Release())
	assert.Equal(t, 0, m.Refs())

	_, err = m.Acquire()
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, m.Release(), ErrReleased)
}

func TestModels_Health(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	sick := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer sick.Close()

	m := Open(Config{MatcherURL: healthy.URL, LabelerURL: sick.URL}, quiet())
	defer m.Release()

	status := m.Health(context.Background())
	require.Len(t, status, 2)
	assert.NoError(t, status["matcher"])
	assert.Error(t, status["labeler"])
}

func TestLocalFallbacks(t *testing.T) {
	matches, err := NopMatcher{}.Match(context.Background(), smallImage(), smallImage())
	assert.NoError(t, err)
	assert.Empty(t, matches)

	_, err = DisabledLabeler{}.Label(context.Background(), classifier.Request{})
	assert.ErrorIs(t, err, ErrLabelerDisabled)
}
