package pipeline

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/visual-diff/internal/artifact"
	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
)

// Metadata is the per-job JSON record stored next to the image artifacts.
type Metadata struct {
	JobID           string                 `json:"job_id"`
	CreatedAt       time.Time              `json:"created_at"`
	ROI             *domain.BBox           `json:"roi"`
	Artifacts       []string               `json:"artifacts"`
	Metrics         Metrics                `json:"metrics"`
	ChangeDetection ChangeDetectionSummary `json:"change_detection"`
	Extra           map[string]any         `json:"extra,omitempty"`
}

type Metrics struct {
	AlignmentMatches       int     `json:"alignment_matches"`
	AlignmentInliers       int     `json:"alignment_inliers"`
	AlignmentInlierRatio   float64 `json:"alignment_inlier_ratio"`
	AlignmentDegraded      bool    `json:"alignment_degraded"`
	AlignmentDegradeReason string  `json:"alignment_degrade_reason,omitempty"`
	AlignmentCoverage      float64 `json:"alignment_coverage"`
	SSIM                   float64 `json:"ssim"`
	PSNR                   float64 `json:"psnr"`
}

type ChangeDetectionSummary struct {
	Enabled     bool               `json:"enabled"`
	ChangeCount int                `json:"change_count"`
	Confidence  *ConfidenceSummary `json:"confidence,omitempty"`
}

// ConfidenceSummary describes the distribution of change confidences.
type ConfidenceSummary struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// NewMetadata builds the record for a finished job. The metadata artifact
// itself is listed so the record describes the full artifact set.
func NewMetadata(job *domain.Job, res *domain.Result) Metadata {
	md := Metadata{
		JobID:     job.ID,
		CreatedAt: job.CreatedAt,
		ROI:       job.ROI,
		Artifacts: append(append([]string{}, res.Artifacts...), artifact.Metadata),
		Metrics: Metrics{
			AlignmentMatches:       res.Alignment.Matches,
			AlignmentInliers:       res.Alignment.Inliers,
			AlignmentInlierRatio:   res.Alignment.InlierRatio,
			AlignmentDegraded:      res.Alignment.Degraded,
			AlignmentDegradeReason: res.Alignment.DegradeReason,
			AlignmentCoverage:      res.Alignment.Coverage,
			SSIM:                   res.Normalization.SSIM,
			PSNR:                   res.Normalization.PSNR,
		},
		ChangeDetection: ChangeDetectionSummary{
			Enabled:     res.ChangeDetectionEnabled,
			ChangeCount: res.NumChanges,
		},
		Extra: job.Metadata,
	}

	if len(res.Regions) > 0 {
		s := &ConfidenceSummary{Min: res.Regions[0].ChangeConfidence, Max: res.Regions[0].ChangeConfidence}
		var sum float64
		for _, r := range res.Regions {
			s.Min = min(s.Min, r.ChangeConfidence)
			s.Max = max(s.Max, r.ChangeConfidence)
			sum += r.ChangeConfidence
		}
		s.Mean = sum / float64(len(res.Regions))
		md.ChangeDetection.Confidence = s
	}
	return md
}

func (m Metadata) Artifact() (Artifact, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Name: artifact.Metadata, Data: data}, nil
}
