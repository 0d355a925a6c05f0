package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strconv"

	"github.com/cuongbtq/visual-diff/internal/classifier"
	"github.com/cuongbtq/visual-diff/internal/imaging"
	"github.com/cuongbtq/visual-diff/internal/registrar"
	"github.com/cuongbtq/visual-diff/internal/segment"
)

// HTTPMatcher calls POST /match with the two images.
type HTTPMatcher struct {
	client *Client
}

func NewHTTPMatcher(client *Client) *HTTPMatcher {
	return &HTTPMatcher{client: client}
}

type matchResponse struct {
	Matches []registrar.Correspondence `json:"matches"`
}

// Match implements registrar.Matcher.
func (m *HTTPMatcher) Match(ctx context.Context, baseline, current *image.NRGBA) ([]registrar.Correspondence, error) {
	files, err := encodeFiles(map[string]*image.NRGBA{"baseline": baseline, "current": current})
	if err != nil {
		return nil, err
	}

	var resp matchResponse
	if err := m.client.postMultipart(ctx, "/match", files, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

// HTTPSegmenter calls POST /segment and decodes run-length masks.
type HTTPSegmenter struct {
	client *Client
}

func NewHTTPSegmenter(client *Client) *HTTPSegmenter {
	return &HTTPSegmenter{client: client}
}

type rleMask struct {
	// Size is [height, width]
	Size   []int `json:"size"`
	Counts []int `json:"counts"`
}

type segmentResponse struct {
	Masks []struct {
		Segmentation   rleMask `json:"segmentation"`
		PredictedIoU   float64 `json:"predicted_iou"`
		StabilityScore float64 `json:"stability_score"`
	} `json:"masks"`
}

// Segment implements segment.Segmenter. Thresholds are sent to the backend
// and enforced again locally.
func (s *HTTPSegmenter) Segment(ctx context.Context, img *image.NRGBA, opts segment.Options) ([]segment.Proposal, error) {
	files, err := encodeFiles(map[string]*image.NRGBA{"image": img})
	if err != nil {
		return nil, err
	}
	fields := map[string]string{
		"points_per_side":        strconv.Itoa(opts.PointsPerSide),
		"pred_iou_thresh":        strconv.FormatFloat(opts.PredIoUThresh, 'f', -1, 64),
		"stability_score_thresh": strconv.FormatFloat(opts.StabilityScoreThresh, 'f', -1, 64),
	}

	var resp segmentResponse
	if err := s.client.postMultipart(ctx, "/segment", files, fields, &resp); err != nil {
		return nil, err
	}

	w, h := img.Rect.Dx(), img.Rect.Dy()
	props := make([]segment.Proposal, 0, len(resp.Masks))
	for i, m := range resp.Masks {
		if len(m.Segmentation.Size) != 2 || m.Segmentation.Size[0] != h || m.Segmentation.Size[1] != w {
			return nil, fmt.Errorf("mask %d: size %v does not match %dx%d image", i, m.Segmentation.Size, w, h)
		}
		mask, err := segment.DecodeRLE(m.Segmentation.Counts, w, h)
		if err != nil {
			return nil, fmt.Errorf("mask %d: %w", i, err)
		}
		props = append(props, segment.Proposal{
			Mask:           mask,
			PredictedIoU:   m.PredictedIoU,
			StabilityScore: m.StabilityScore,
		})
	}
	return segment.Filter(props, opts, w, h), nil
}

// HTTPLabeler calls POST /classify with the two crops and the vocabulary.
type HTTPLabeler struct {
	client *Client
}

func NewHTTPLabeler(client *Client) *HTTPLabeler {
	return &HTTPLabeler{client: client}
}

type classifyResponse struct {
	Scores []classifier.Score `json:"scores"`
}

// Label implements classifier.Labeler.
func (l *HTTPLabeler) Label(ctx context.Context, req classifier.Request) ([]classifier.Score, error) {
	files, err := encodeFiles(map[string]*image.NRGBA{"baseline": req.Baseline, "current": req.Current})
	if err != nil {
		return nil, err
	}
	labels, err := json.Marshal(req.Labels)
	if err != nil {
		return nil, fmt.Errorf("marshal labels: %w", err)
	}

	var resp classifyResponse
	if err := l.client.postMultipart(ctx, "/classify", files, map[string]string{"labels": string(labels)}, &resp); err != nil {
		return nil, err
	}
	return resp.Scores, nil
}

// encodeFiles PNG-encodes the images in a stable field order.
func encodeFiles(images map[string]*image.NRGBA) ([]filePart, error) {
	order := []string{"image", "baseline", "current"}
	var parts []filePart
	for _, field := range order {
		img, ok := images[field]
		if !ok {
			continue
		}
		data, err := imaging.EncodePNG(img)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", field, err)
		}
		parts = append(parts, filePart{field: field, filename: field + ".png", data: data})
	}
	return parts, nil
}

// NopMatcher returns no correspondences, so alignment always degrades. It is
// used when no matching backend is configured.
type NopMatcher struct{}

func (NopMatcher) Match(context.Context, *image.NRGBA, *image.NRGBA) ([]registrar.Correspondence, error) {
	return nil, nil
}

// ErrLabelerDisabled is returned by DisabledLabeler.
var ErrLabelerDisabled = errors.New("no labeling backend configured")

// DisabledLabeler fails every request; regions end up labeled unknown.
type DisabledLabeler struct{}

func (DisabledLabeler) Label(context.Context, classifier.Request) ([]classifier.Score, error) {
	return nil, ErrLabelerDisabled
}
