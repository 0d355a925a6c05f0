// Package imaging holds the raster primitives shared by every pipeline stage:
// decoding, resizing, perspective warps, LAB colour conversion and drawing.
// All images are *image.NRGBA anchored at the origin with opaque alpha.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

var (
	// ErrEmptyInput is returned when no image bytes were supplied
	ErrEmptyInput = errors.New("empty image data")

	// ErrUndecodable is returned when the bytes are not a supported image
	ErrUndecodable = errors.New("undecodable image")

	// ErrTooLarge is returned when the image exceeds the configured pixel budget
	ErrTooLarge = errors.New("image exceeds pixel limit")

	// ErrInvalidBox is returned for a region of interest with no area inside the image
	ErrInvalidBox = errors.New("invalid box")
)

// Pair is the decoded baseline/current pair owned by one job.
type Pair struct {
	Baseline *image.NRGBA
	Current  *image.NRGBA
	// Resized is set when current was rescaled to the baseline dimensions
	Resized bool
}

// Loader decodes input images. MaxPixels <= 0 disables the size check.
type Loader struct {
	MaxPixels int
}

// Decode turns encoded bytes into an opaque NRGBA raster.
func (l Loader) Decode(data []byte) (*image.NRGBA, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: zero dimensions", ErrUndecodable)
	}
	if l.MaxPixels > 0 && cfg.Width*cfg.Height > l.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d > %d", ErrTooLarge, cfg.Width, cfg.Height, l.MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	return ToNRGBA(img), nil
}

// Load decodes both images and brings current to the baseline dimensions.
// Errors name the offending image.
func (l Loader) Load(baseline, current []byte) (*Pair, error) {
	b, err := l.Decode(baseline)
	if err != nil {
		return nil, fmt.Errorf("baseline image: %w", err)
	}

	c, err := l.Decode(current)
	if err != nil {
		return nil, fmt.Errorf("current image: %w", err)
	}

	pair := &Pair{Baseline: b, Current: c}
	if b.Rect.Dx() != c.Rect.Dx() || b.Rect.Dy() != c.Rect.Dy() {
		pair.Current = ResizeBilinear(c, b.Rect.Dx(), b.Rect.Dy())
		pair.Resized = true
	}

	return pair, nil
}
