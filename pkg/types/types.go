package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the real binary container of an image resource
type Format string

const (
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatGIF     Format = "gif"
	FormatWebP    Format = "webp"
	FormatAVIF    Format = "avif"
	FormatUnknown Format = "unknown"
)

// MimeType returns the IANA media type for the format
func (f Format) MimeType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatGIF:
		return "image/gif"
	case FormatWebP:
		return "image/webp"
	case FormatAVIF:
		return "image/avif"
	default:
		return "application/octet-stream"
	}
}

// ImageCandidate is an image found on a page that passed the size filter
type ImageCandidate struct {
	URL         string   `json:"url"`
	Format      Format   `json:"format"`
	WeightBytes *float64 `json:"weight"` // KB, two decimals; nil when unresolved
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	Area        int      `json:"area"`
}

// MarginSpec holds per-side padding fractions in [0,1]
type MarginSpec struct {
	Top    float64 `json:"top" yaml:"top"`
	Right  float64 `json:"right" yaml:"right"`
	Bottom float64 `json:"bottom" yaml:"bottom"`
	Left   float64 `json:"left" yaml:"left"`
}

// DefaultMargin is the safe fallback used when a margin set is invalid
var DefaultMargin = MarginSpec{Top: 0.05, Right: 0.05, Bottom: 0.05, Left: 0.05}

// ShadowMargin is the fixed margin set for shadow-preserving composition
var ShadowMargin = MarginSpec{Top: 0, Right: 0.07, Bottom: 0.24, Left: 0.07}

// Uniform returns a margin with the same fraction on every side
func Uniform(f float64) MarginSpec {
	return MarginSpec{Top: f, Right: f, Bottom: f, Left: f}
}

// Validate checks that every side is a finite fraction in [0,1]
func (m MarginSpec) Validate() error {
	sides := []struct {
		name string
		v    float64
	}{{"top", m.Top}, {"right", m.Right}, {"bottom", m.Bottom}, {"left", m.Left}}
	for _, s := range sides {
		if math.IsNaN(s.v) || math.IsInf(s.v, 0) || s.v < 0 || s.v > 1 {
			return fmt.Errorf("margin %s must be between 0 and 1, got %v", s.name, s.v)
		}
	}
	return nil
}

// OrDefault returns m when valid and DefaultMargin otherwise
func (m MarginSpec) OrDefault() MarginSpec {
	if m.Validate() != nil {
		return DefaultMargin
	}
	return m
}

// UnmarshalJSON accepts numbers or numeric strings per side. Anything else
// decodes as NaN so that validation rejects the whole set.
func (m *MarginSpec) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = MarginSpec{
		Top:    lenientFloat(raw["top"]),
		Right:  lenientFloat(raw["right"]),
		Bottom: lenientFloat(raw["bottom"]),
		Left:   lenientFloat(raw["left"]),
	}
	return nil
}

// UnmarshalYAML applies the same lenient rules as UnmarshalJSON
func (m *MarginSpec) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*m = MarginSpec{
		Top:    lenientFloat(raw["top"]),
		Right:  lenientFloat(raw["right"]),
		Bottom: lenientFloat(raw["bottom"]),
		Left:   lenientFloat(raw["left"]),
	}
	return nil
}

func lenientFloat(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		return x
	case int:
		return float64(x)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

// ObjectBounds is an inclusive pixel box in source coordinates
type ObjectBounds struct {
	MinX int `json:"min_x"`
	MinY int `json:"min_y"`
	MaxX int `json:"max_x"`
	MaxY int `json:"max_y"`
}

// Width returns the inclusive width of the box
func (b ObjectBounds) Width() int {
	return b.MaxX - b.MinX + 1
}

// Height returns the inclusive height of the box
func (b ObjectBounds) Height() int {
	return b.MaxY - b.MinY + 1
}

// PlacementResult describes where an object lands inside a square canvas
type PlacementResult struct {
	SquareSize        int `json:"square_size"`
	FinalObjectWidth  int `json:"final_object_width"`
	FinalObjectHeight int `json:"final_object_height"`
	X                 int `json:"x"`
	Y                 int `json:"y"`
}

// TreatmentKind selects how an image is processed
type TreatmentKind string

const (
	TreatmentResize             TreatmentKind = "resize"
	TreatmentLocalShadowCompose TreatmentKind = "localShadowCompose"
	TreatmentRemoveBackground   TreatmentKind = "removeBackground"
)

// Valid reports whether k is a known treatment
func (k TreatmentKind) Valid() bool {
	switch k {
	case TreatmentResize, TreatmentLocalShadowCompose, TreatmentRemoveBackground:
		return true
	}
	return false
}

// TreatmentRequest is one user-selected image to process
type TreatmentRequest struct {
	SourceURL       string        `json:"source_url" yaml:"source_url"`
	Filename        string        `json:"filename" yaml:"filename"`
	TreatmentKind   TreatmentKind `json:"treatment" yaml:"treatment"`
	ProductCategory string        `json:"category" yaml:"category"`
	MarginOverride  *MarginSpec   `json:"margin_override,omitempty" yaml:"margin_override,omitempty"`
	SequenceOrder   int           `json:"order" yaml:"order"`
	Transparent     bool          `json:"transparent,omitempty" yaml:"transparent,omitempty"`
}

// ProcessedArtifact is the encoded output handed to a delivery sink
type ProcessedArtifact struct {
	Data            []byte `json:"-"`
	DestinationPath string `json:"destination_path"`
	MimeType        string `json:"mime_type"`
}

// BatchRequest is a user-committed export of several images into one folder
type BatchRequest struct {
	Entries    []TreatmentRequest `json:"entries" yaml:"entries"`
	FolderName string             `json:"folder_name" yaml:"folder_name"`
}

// ItemFailure records why one batch entry did not produce an artifact
type ItemFailure struct {
	SourceURL string `json:"source_url"`
	Order     int    `json:"order"`
	Error     string `json:"error"`
}

// BatchReport tallies a batch run
type BatchReport struct {
	Total          int           `json:"total"`
	Succeeded      int           `json:"succeeded"`
	Delivered      []string      `json:"delivered"`
	Failed         []ItemFailure `json:"failed"`
	QuotaExhausted bool          `json:"quota_exhausted"`
}
