package pipeline

import (
	"github.com/cuongbtq/visual-diff/internal/changes"
	"github.com/cuongbtq/visual-diff/internal/classifier"
	"github.com/cuongbtq/visual-diff/internal/normalizer"
	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
	"github.com/cuongbtq/visual-diff/internal/registrar"
)

const maxAlternatives = 2

// BuildResult assembles the job result. labels follows the order of regions;
// a missing entry yields the unknown label.
func BuildResult(align *registrar.Result, norm *normalizer.Result, regions []changes.Region, labels []classifier.Result, detection bool) *domain.Result {
	res := &domain.Result{
		NumChanges:             len(regions),
		Regions:                make([]domain.Region, 0, len(regions)),
		Alignment:              alignment(align),
		ChangeDetectionEnabled: detection,
	}
	if norm != nil {
		res.Normalization = domain.Normalization{SSIM: norm.SSIM, PSNR: norm.PSNR}
	}

	for i, r := range regions {
		out := domain.Region{
			ID:               r.ID,
			BBox:             domain.BBox{X0: r.Box.X0, Y0: r.Box.Y0, X1: r.Box.X1, Y1: r.Box.Y1},
			Area:             r.Area,
			ChangeConfidence: r.Confidence,
			Kind:             string(r.Kind),
			ClassifiedLabel:  classifier.UnknownLabel,
			Alternatives:     []domain.Label{},
		}
		if i < len(labels) && len(labels[i].Labels) > 0 {
			scores := labels[i].Labels
			out.ClassifiedLabel = scores[0].Label
			out.ClassificationConfidence = scores[0].Confidence
			for _, s := range scores[1:min(len(scores), 1+maxAlternatives)] {
				out.Alternatives = append(out.Alternatives, domain.Label{Label: s.Label, Confidence: s.Confidence})
			}
			out.ClassificationError = labels[i].Error
		}
		res.Regions = append(res.Regions, out)
	}
	return res
}

func alignment(r *registrar.Result) domain.Alignment {
	if r == nil {
		return domain.Alignment{}
	}
	a := domain.Alignment{
		Matches:       r.Matches,
		Inliers:       r.Inliers,
		InlierRatio:   r.InlierRatio,
		Degraded:      r.Degraded,
		DegradeReason: r.DegradeReason,
		Coverage:      r.Coverage,
	}
	if r.Transform != nil {
		t := [9]float64(*r.Transform)
		a.Transform = &t
	}
	return a
}
