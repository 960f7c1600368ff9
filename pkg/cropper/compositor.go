// Package cropper places product photos on square catalog canvases.
//
// Two strategies are provided: a centered resize that keeps the whole frame,
// and a shadow-preserving composition that cuts the detected object out of
// its frame and seats it on the bottom margin of the canvas.
package cropper

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/menta2k/catalog-shots/pkg/processing"
	"github.com/menta2k/catalog-shots/pkg/types"
	"github.com/menta2k/catalog-shots/pkg/vision"
)

// Compositor renders images onto fixed-color square canvases
type Compositor struct {
	detector *vision.BoundsDetector
	config   CompositeConfig
}

// CompositeConfig holds configuration for local composition
type CompositeConfig struct {
	MaxSize    int
	Quality    int
	Background color.NRGBA
	Format     types.Format
}

// DefaultCompositeConfig returns a 2000px white canvas encoded as JPEG at 70
func DefaultCompositeConfig() CompositeConfig {
	return CompositeConfig{
		MaxSize:    DefaultMaxSize,
		Quality:    70,
		Background: color.NRGBA{255, 255, 255, 255},
		Format:     types.FormatJPEG,
	}
}

// New creates a new Compositor with default configuration
func New() *Compositor {
	return &Compositor{
		detector: vision.New(),
		config:   DefaultCompositeConfig(),
	}
}

// NewWithConfig creates a new Compositor with custom configuration
func NewWithConfig(config CompositeConfig) *Compositor {
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultMaxSize
	}
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = 70
	}
	if config.Format == "" {
		config.Format = types.FormatJPEG
	}
	return &Compositor{
		detector: vision.New(),
		config:   config,
	}
}

// SetDetector allows setting a custom bounds detector
func (c *Compositor) SetDetector(detector *vision.BoundsDetector) {
	c.detector = detector
}

// Config returns the compositor configuration
func (c *Compositor) Config() CompositeConfig {
	return c.config
}

// CompositeResult contains the rendered canvas and how it was laid out
type CompositeResult struct {
	Image     image.Image
	Placement types.PlacementResult
	Bounds    types.ObjectBounds
}

// Resize centers the whole image on a square canvas sized to its longer side
func (c *Compositor) Resize(img image.Image) (CompositeResult, error) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return CompositeResult{}, fmt.Errorf("invalid image dimensions")
	}

	placement := CalculateCenteredPlacement(b.Dx(), b.Dy(), c.config.MaxSize)

	src := img
	if placement.FinalObjectWidth != b.Dx() || placement.FinalObjectHeight != b.Dy() {
		src = imaging.Resize(img, placement.FinalObjectWidth, placement.FinalObjectHeight, imaging.Lanczos)
	}

	canvas := imaging.New(placement.SquareSize, placement.SquareSize, c.config.Background)
	canvas = imaging.Overlay(canvas, src, image.Pt(placement.X, placement.Y), 1.0)

	return CompositeResult{
		Image:     canvas,
		Placement: placement,
		Bounds:    types.ObjectBounds{MinX: 0, MinY: 0, MaxX: b.Dx() - 1, MaxY: b.Dy() - 1},
	}, nil
}

// ShadowCompose detects the object, keeps its shadow, and draws only that
// region scaled into the margin-constrained placement. A nil margin uses
// the fixed shadow margin set.
func (c *Compositor) ShadowCompose(img image.Image, margin *types.MarginSpec) (CompositeResult, error) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return CompositeResult{}, fmt.Errorf("invalid image dimensions")
	}

	spec := types.ShadowMargin
	if margin != nil {
		spec = margin.OrDefault()
	}

	bounds := c.detector.DetectImage(img)
	placement := CalculatePlacement(bounds, spec, c.config.MaxSize)

	canvas := imaging.New(placement.SquareSize, placement.SquareSize, c.config.Background)
	srcRect := image.Rect(bounds.MinX, bounds.MinY, bounds.MaxX+1, bounds.MaxY+1).Add(b.Min)
	dstRect := image.Rect(placement.X, placement.Y,
		placement.X+placement.FinalObjectWidth, placement.Y+placement.FinalObjectHeight)
	draw.CatmullRom.Scale(canvas, dstRect, img, srcRect, draw.Over, nil)

	return CompositeResult{
		Image:     canvas,
		Placement: placement,
		Bounds:    bounds,
	}, nil
}

// Encode writes a composed canvas in the configured lossy format
func (c *Compositor) Encode(img image.Image) ([]byte, error) {
	data, err := processing.Encode(img, c.config.Format, c.config.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode composite: %w", err)
	}
	return data, nil
}
