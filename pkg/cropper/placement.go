package cropper

import (
	"math"

	"github.com/menta2k/catalog-shots/pkg/types"
)

// DefaultMaxSize is the largest canvas side produced by the compositor
const DefaultMaxSize = 2000

// minAvailableRatio keeps the usable band positive when opposite margins
// consume the whole axis
const minAvailableRatio = 0.01

// CalculatePlacement fits the object described by bounds inside a square
// canvas so that the margins are respected. The object keeps its aspect
// ratio, is never upscaled, and rests on the bottom margin.
func CalculatePlacement(bounds types.ObjectBounds, margin types.MarginSpec, maxSize int) types.PlacementResult {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	margin = margin.OrDefault()

	objW := float64(max(bounds.Width(), 1))
	objH := float64(max(bounds.Height(), 1))
	aspect := objW / objH

	availW := math.Max(1-(margin.Left+margin.Right), minAvailableRatio)
	availH := math.Max(1-(margin.Top+margin.Bottom), minAvailableRatio)

	// Width binds when the object is wider than the available band. Compare
	// aspect to the band ratio: multiplying them picks height for wide bands
	// and pushes y below zero (shoe margins, square object).
	var fitW, fitH float64
	if aspect/(availW/availH) > 1 {
		fitW = float64(maxSize) * availW
		fitH = fitW / aspect
	} else {
		fitH = float64(maxSize) * availH
		fitW = fitH * aspect
	}

	finalW := max(int(math.Round(math.Min(fitW, objW))), 1)
	finalH := max(int(math.Round(math.Min(fitH, objH))), 1)

	square := int(math.Ceil(math.Max(float64(finalW)/availW, float64(finalH)/availH)))
	square = min(square, maxSize)

	// Rounding can leave the object a pixel larger than the clamped canvas
	finalW = min(finalW, square)
	finalH = min(finalH, square)

	bandW := availW * float64(square)
	var x int
	if float64(finalW) < bandW {
		x = int(math.Round(margin.Left*float64(square) + (bandW-float64(finalW))/2))
	} else {
		x = int(math.Round(margin.Left * float64(square)))
	}
	y := int(math.Round((1-margin.Bottom)*float64(square))) - finalH

	return types.PlacementResult{
		SquareSize:        square,
		FinalObjectWidth:  finalW,
		FinalObjectHeight: finalH,
		X:                 clampInt(x, 0, square-finalW),
		Y:                 clampInt(y, 0, square-finalH),
	}
}

// CalculateCenteredPlacement centers a width x height image on a square whose
// side is the longer edge, scaling down proportionally when that exceeds maxSize
func CalculateCenteredPlacement(width, height, maxSize int) types.PlacementResult {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	side := max(width, height, 1)
	w, h := max(width, 1), max(height, 1)

	if side > maxSize {
		scale := float64(maxSize) / float64(side)
		w = max(int(math.Round(float64(w)*scale)), 1)
		h = max(int(math.Round(float64(h)*scale)), 1)
		side = maxSize
	}

	return types.PlacementResult{
		SquareSize:        side,
		FinalObjectWidth:  w,
		FinalObjectHeight: h,
		X:                 (side - w) / 2,
		Y:                 (side - h) / 2,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
