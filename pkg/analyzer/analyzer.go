package analyzer

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/menta2k/catalog-shots/internal/utils"
	"github.com/menta2k/catalog-shots/pkg/processing"
	"github.com/menta2k/catalog-shots/pkg/sniff"
	"github.com/menta2k/catalog-shots/pkg/types"
)

// ImageAnalyzer loads, inspects and saves local image files
type ImageAnalyzer struct {
	config Config
}

// Config holds configuration for the image analyzer
type Config struct {
	DefaultQuality   int
	SupportedFormats []types.Format
	MinImageSize     int
}

// New creates a new ImageAnalyzer with default configuration
func New() *ImageAnalyzer {
	return &ImageAnalyzer{
		config: Config{
			DefaultQuality: 85,
			SupportedFormats: []types.Format{
				types.FormatJPEG, types.FormatPNG, types.FormatGIF, types.FormatWebP, types.FormatAVIF,
			},
			MinImageSize: 1,
		},
	}
}

// NewWithConfig creates a new ImageAnalyzer with custom configuration
func NewWithConfig(config Config) *ImageAnalyzer {
	return &ImageAnalyzer{config: config}
}

// LoadImage loads an image from file
func (a *ImageAnalyzer) LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}
	defer file.Close()

	return a.LoadImageFromReader(file)
}

// LoadImageFromReader sniffs and decodes an image from an io.Reader
func (a *ImageAnalyzer) LoadImageFromReader(reader io.Reader) (image.Image, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	format := sniff.Detect(data)
	if !a.isFormatSupported(format) {
		return nil, fmt.Errorf("unsupported image format: %s", format)
	}

	img, err := processing.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// SaveImage encodes img by the extension of path, creating parent folders
func (a *ImageAnalyzer) SaveImage(img image.Image, path string) error {
	var format types.Format
	switch ext := utils.GetFileExtension(path); ext {
	case "jpg", "jpeg":
		format = types.FormatJPEG
	case "png":
		format = types.FormatPNG
	case "webp":
		format = types.FormatWebP
	default:
		return fmt.Errorf("unsupported output format: %s", ext)
	}

	data, err := processing.Encode(img, format, a.config.DefaultQuality)
	if err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// GetImageInfo returns basic information about an image
func (a *ImageAnalyzer) GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	info := ImageInfo{
		Width:  width,
		Height: height,
		Area:   width * height,
	}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
	Area        int     `json:"area"`
}

func (a *ImageAnalyzer) isFormatSupported(format types.Format) bool {
	for _, supported := range a.config.SupportedFormats {
		if strings.EqualFold(string(format), string(supported)) {
			return true
		}
	}
	return false
}

// ValidateImage checks if an image meets minimum requirements
func (a *ImageAnalyzer) ValidateImage(img image.Image) error {
	bounds := img.Bounds()
	if bounds.Dx() < a.config.MinImageSize || bounds.Dy() < a.config.MinImageSize {
		return fmt.Errorf("image too small: %dx%d (minimum: %d)",
			bounds.Dx(), bounds.Dy(), a.config.MinImageSize)
	}
	return nil
}
