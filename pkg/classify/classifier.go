// Package classify suggests a product category for a photo using a local
// vision model.
package classify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/catalog-shots/pkg/client"
	"github.com/menta2k/catalog-shots/pkg/removebg"
)

// thumbSize bounds the longest side sent to the model
const thumbSize = 512

// DefaultPrompt asks for exactly one of the preset categories
const DefaultPrompt = `You classify e-commerce product photos.

Return JSON only:
{"category": "one of: %s", "confidence": 0.0}

RULES
- textile: tops, shirts, dresses, knitwear, coats.
- pantalon: trousers, jeans, shorts, skirts.
- accessoires: bags, belts, hats, jewelry, scarves, small items.
- chaussures: any footwear.
- default: anything else.
- JSON only. No markdown, no code fences, no comments.`

// Classifier suggests a category name for an image
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (string, error)
}

// Suggestion is the parsed model answer
type Suggestion struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// VisionClassifier asks a vision model for a category
type VisionClassifier struct {
	client client.VisionClient
	model  string
	prompt string
	schema json.RawMessage
}

// NewVisionClassifier creates a classifier backed by c
func NewVisionClassifier(c client.VisionClient, model string) *VisionClassifier {
	return &VisionClassifier{
		client: c,
		model:  model,
		prompt: fmt.Sprintf(DefaultPrompt, strings.Join(removebg.Categories(), ", ")),
		schema: SuggestionSchema(),
	}
}

// SuggestionSchema is the JSON schema of a Suggestion with the category
// limited to the preset names
func SuggestionSchema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"category": map[string]any{
				"type": "string",
				"enum": removebg.Categories(),
			},
			"confidence": map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": 1,
			},
		},
		"required": []string{"category", "confidence"},
	}
	raw, _ := json.Marshal(schema)
	return raw
}

// Classify returns a known category name. Answers naming no known category
// are an error so the caller can apply its own fallback.
func (v *VisionClassifier) Classify(ctx context.Context, img image.Image) (string, error) {
	imgB64, err := thumbnail(img)
	if err != nil {
		return "", err
	}

	raw, err := v.client.QueryJSON(ctx, v.model, v.prompt, imgB64, v.schema)
	if err != nil {
		return "", fmt.Errorf("vision query failed: %w", err)
	}

	s, err := ParseSuggestion(raw)
	if err != nil {
		return "", err
	}
	return s.Category, nil
}

// ParseSuggestion extracts a category from a model reply. JSON replies are
// preferred; a bare category word is accepted too.
func ParseSuggestion(raw string) (Suggestion, error) {
	cleaned := SanitizeModelJSON(raw)

	var s Suggestion
	if strings.HasPrefix(cleaned, "{") && json.Unmarshal([]byte(cleaned), &s) == nil {
		if c, ok := knownCategory(s.Category); ok {
			s.Category = c
			return s, nil
		}
		return Suggestion{}, fmt.Errorf("unknown category %q", s.Category)
	}

	if c, ok := knownCategory(strings.Trim(strings.TrimSpace(raw), `."'`)); ok {
		return Suggestion{Category: c}, nil
	}
	return Suggestion{}, fmt.Errorf("no category in model reply")
}

func knownCategory(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", false
	}
	c := removebg.NormalizeCategory(name)
	// NormalizeCategory maps unknown names to default
	if c == removebg.CategoryDefault && name != removebg.CategoryDefault {
		return "", false
	}
	if c == removebg.CategoryCustom {
		return "", false
	}
	return c, true
}

func thumbnail(img image.Image) (string, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return "", fmt.Errorf("empty image")
	}
	small := imaging.Fit(img, thumbSize, thumbSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, small, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// SanitizeModelJSON removes code fences, comments, and trailing commas from a model reply
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
