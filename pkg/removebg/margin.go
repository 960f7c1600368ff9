package removebg

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/menta2k/catalog-shots/pkg/types"
)

// DefaultMarginString is sent whenever a margin set fails validation
const DefaultMarginString = "5% 5% 5% 5%"

// VerticalAlignment positions the foreground inside the target canvas
type VerticalAlignment string

const (
	AlignNone   VerticalAlignment = ""
	AlignTop    VerticalAlignment = "top"
	AlignMiddle VerticalAlignment = "middle"
	AlignBottom VerticalAlignment = "bottom"
)

// Preset is the margin treatment for one product category
type Preset struct {
	Margin    types.MarginSpec
	Alignment VerticalAlignment
}

// Category names accepted by PresetFor
const (
	CategoryDefault     = "default"
	CategoryTextile     = "textile"
	CategoryPantalon    = "pantalon"
	CategoryAccessoires = "accessoires"
	CategoryChaussures  = "chaussures"
	CategoryCustom      = "custom"
)

var presets = map[string]Preset{
	CategoryDefault:     {Margin: types.Uniform(0.05)},
	CategoryTextile:     {Margin: types.Uniform(0.085)},
	CategoryPantalon:    {Margin: types.Uniform(0.032)},
	CategoryAccessoires: {Margin: types.Uniform(0.16)},
	CategoryChaussures: {
		Margin:    types.MarginSpec{Top: 0, Right: 0.08, Bottom: 0.26, Left: 0.08},
		Alignment: AlignBottom,
	},
}

var aliases = map[string]string{
	"accessories": CategoryAccessoires,
	"shoes":       CategoryChaussures,
	"trousers":    CategoryPantalon,
	"pants":       CategoryPantalon,
}

// Categories lists the preset category names
func Categories() []string {
	return []string{CategoryDefault, CategoryTextile, CategoryPantalon, CategoryAccessoires, CategoryChaussures}
}

// NormalizeCategory lowercases a category and resolves aliases. Unknown
// names map to the default category.
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if alias, ok := aliases[c]; ok {
		c = alias
	}
	if _, ok := presets[c]; ok || c == CategoryCustom {
		return c
	}
	return CategoryDefault
}

// PresetFor returns the preset for category. A non-nil override replaces the
// margin but keeps the category alignment; "custom" without an override
// uses the default preset.
func PresetFor(category string, override *types.MarginSpec) Preset {
	c := NormalizeCategory(category)
	p, ok := presets[c]
	if !ok {
		p = presets[CategoryDefault]
	}
	if override != nil {
		p.Margin = *override
	}
	return p
}

// FormatMargin renders fractional margins as "T% R% B% L%". Any invalid
// side makes the whole set fall back to DefaultMarginString.
func FormatMargin(m types.MarginSpec) string {
	s, _ := formatMargin(m)
	return s
}

func formatMargin(m types.MarginSpec) (string, bool) {
	sides := []float64{m.Top, m.Right, m.Bottom, m.Left}
	parts := make([]string, 0, len(sides))
	for _, f := range sides {
		pct := math.Round(f*1000) / 10
		if math.IsNaN(pct) || pct < 0 || pct > 100 {
			return DefaultMarginString, false
		}
		parts = append(parts, strconv.FormatFloat(pct, 'f', -1, 64)+"%")
	}
	return strings.Join(parts, " "), true
}

// ParseMarginString reads a "T% R% B% L%" or single "N%" margin back into fractions
func ParseMarginString(s string) (types.MarginSpec, error) {
	fields := strings.Fields(s)
	if len(fields) != 1 && len(fields) != 4 {
		return types.MarginSpec{}, fmt.Errorf("margin must have 1 or 4 values, got %d", len(fields))
	}
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSuffix(f, "%"), 64)
		if err != nil {
			return types.MarginSpec{}, fmt.Errorf("invalid margin value %q: %w", f, err)
		}
		vals[i] = v / 100
	}
	if len(vals) == 1 {
		return types.Uniform(vals[0]), nil
	}
	m := types.MarginSpec{Top: vals[0], Right: vals[1], Bottom: vals[2], Left: vals[3]}
	return m, m.Validate()
}
