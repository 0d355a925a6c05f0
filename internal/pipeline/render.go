package pipeline

import (
	"fmt"
	"image"
	"image/color"

	"github.com/cuongbtq/visual-diff/internal/artifact"
	"github.com/cuongbtq/visual-diff/internal/changes"
	"github.com/cuongbtq/visual-diff/internal/imaging"
	"github.com/cuongbtq/visual-diff/internal/normalizer"
	"github.com/cuongbtq/visual-diff/internal/registrar"
)

const (
	maskAlpha      = 0.35
	boxThickness   = 2
	frameThickness = 4
)

// Artifact is a rendered output ready for the ArtifactStore.
type Artifact struct {
	Name string
	Data []byte
}

func encode(name string, img image.Image) (Artifact, error) {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return Artifact{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return Artifact{Name: name, Data: data}, nil
}

type named struct {
	name string
	img  *image.NRGBA
}

func encodeAll(imgs ...named) ([]Artifact, error) {
	out := make([]Artifact, 0, len(imgs))
	for _, n := range imgs {
		a, err := encode(n.name, n.img)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// LoadArtifacts renders the decoded inputs. current_unaligned is the current
// image at baseline size.
func LoadArtifacts(pair *imaging.Pair) ([]Artifact, error) {
	return encodeAll(
		named{artifact.BaselineOriginal, pair.Baseline},
		named{artifact.CurrentUnaligned, pair.Current},
	)
}

// AlignArtifacts renders the warped image and, when a transform was found,
// the registration overlay. A degraded alignment has no overlay.
func AlignArtifacts(baseline *image.NRGBA, res *registrar.Result) ([]Artifact, error) {
	if res.Degraded {
		return encodeAll(named{artifact.CurrentAligned, res.Warped})
	}
	return encodeAll(
		named{artifact.CurrentAligned, res.Warped},
		named{artifact.AlignmentOverlay, imaging.Anaglyph(baseline, res.Warped)},
	)
}

func NormalizeArtifacts(res *normalizer.Result) ([]Artifact, error) {
	return encodeAll(
		named{artifact.BaselineNormalized, res.Baseline},
		named{artifact.CurrentNormalized, res.Current},
	)
}

// AnnotatedArtifacts draws the regions on both images. A degraded alignment
// gets a warning frame so the result is not mistaken for a registered one.
func AnnotatedArtifacts(baseline, aligned *image.NRGBA, regions []changes.Region, degraded bool) ([]Artifact, error) {
	return encodeAll(
		named{artifact.AnnotatedBaseline, Annotate(baseline, regions, imaging.ColorBaseline, degraded)},
		named{artifact.AnnotatedCurrent, Annotate(aligned, regions, imaging.ColorChange, degraded)},
	)
}

// Annotate returns a copy of img with region masks tinted and boxes stroked.
func Annotate(img *image.NRGBA, regions []changes.Region, c color.NRGBA, degraded bool) *image.NRGBA {
	out := imaging.Clone(img)
	for _, r := range regions {
		if r.Mask != nil {
			imaging.Tint(out, r.Mask.Get, c, maskAlpha)
		}
		imaging.DrawBox(out, r.Box, c, boxThickness)
	}
	if degraded {
		imaging.DrawBox(out, imaging.BoxFromRect(out.Rect), imaging.ColorDegraded, frameThickness)
	}
	return out
}
