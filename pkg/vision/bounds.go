// Package vision locates the product inside a photo by scanning inward from
// each edge for the first row or column that carries content.
package vision

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/menta2k/catalog-shots/pkg/types"
)

// BoundsDetector finds object bounding boxes in decoded pixel data
type BoundsDetector struct {
	config DetectionConfig
}

// DetectionConfig holds the per-edge content thresholds
type DetectionConfig struct {
	// AlphaThreshold is the alpha a pixel must exceed to count as content
	AlphaThreshold uint8
	// WhiteThreshold is the channel value below which a pixel is not background
	WhiteThreshold uint8
}

// DefaultDetectionConfig returns the thresholds used for catalog shots
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		AlphaThreshold: 5,
		WhiteThreshold: 245,
	}
}

// New creates a new BoundsDetector with default configuration
func New() *BoundsDetector {
	return &BoundsDetector{config: DefaultDetectionConfig()}
}

// NewWithConfig creates a new BoundsDetector with custom configuration
func NewWithConfig(config DetectionConfig) *BoundsDetector {
	return &BoundsDetector{config: config}
}

// DetectImage converts img to non-premultiplied RGBA and detects its bounds
func (d *BoundsDetector) DetectImage(img image.Image) types.ObjectBounds {
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	return d.DetectObjectBounds(nrgba.Pix, nrgba.Stride, b.Dx(), b.Dy())
}

// DetectObjectBounds scans a row-major RGBA buffer. The bottom edge uses an
// alpha-only test so soft shadows under the product are kept; the top, left
// and right edges also require a channel below the white threshold.
// When nothing qualifies the full image extent is returned.
func (d *BoundsDetector) DetectObjectBounds(pix []uint8, stride, width, height int) types.ObjectBounds {
	full := types.ObjectBounds{MinX: 0, MinY: 0, MaxX: width - 1, MaxY: height - 1}
	if width <= 0 || height <= 0 || len(pix) < (height-1)*stride+width*4 {
		return full
	}

	s := scan{pix: pix, stride: stride, width: width, height: height, cfg: d.config}

	minX, minY, maxX, maxY := width, height, -1, -1

	for y := height - 1; y >= 0; y-- {
		if s.rowHas(y, s.hasAlpha) {
			maxY = y
			break
		}
	}
	for y := 0; y < height; y++ {
		if s.rowHas(y, s.hasColor) {
			minY = y
			break
		}
	}
	for x := 0; x < width; x++ {
		if s.colHas(x, s.hasColor) {
			minX = x
			break
		}
	}
	for x := width - 1; x >= 0; x-- {
		if s.colHas(x, s.hasColor) {
			maxX = x
			break
		}
	}

	if minX > maxX || minY > maxY {
		return full
	}
	return types.ObjectBounds{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

type scan struct {
	pix    []uint8
	stride int
	width  int
	height int
	cfg    DetectionConfig
}

func (s scan) hasAlpha(i int) bool {
	return s.pix[i+3] > s.cfg.AlphaThreshold
}

func (s scan) hasColor(i int) bool {
	if s.pix[i+3] <= s.cfg.AlphaThreshold {
		return false
	}
	w := s.cfg.WhiteThreshold
	return s.pix[i] < w || s.pix[i+1] < w || s.pix[i+2] < w
}

func (s scan) rowHas(y int, test func(int) bool) bool {
	i := y * s.stride
	for x := 0; x < s.width; x++ {
		if test(i) {
			return true
		}
		i += 4
	}
	return false
}

func (s scan) colHas(x int, test func(int) bool) bool {
	i := x * 4
	for y := 0; y < s.height; y++ {
		if test(i) {
			return true
		}
		i += s.stride
	}
	return false
}
