package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/menta2k/catalog-shots/pkg/types"
)

// createTestImage fills a width x height canvas with bg and paints a block
// of fg over the given rectangle
func createTestImage(width, height int, bg, fg color.NRGBA, block image.Rectangle) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if image.Pt(x, y).In(block) {
				img.SetNRGBA(x, y, fg)
			} else {
				img.SetNRGBA(x, y, bg)
			}
		}
	}
	return img
}

var (
	white       = color.NRGBA{255, 255, 255, 255}
	transparent = color.NRGBA{0, 0, 0, 0}
	product     = color.NRGBA{40, 60, 200, 255}
)

func TestNew(t *testing.T) {
	detector := New()
	if detector == nil {
		t.Fatal("New() returned nil")
	}
	if detector.config.AlphaThreshold != 5 {
		t.Errorf("Expected alpha threshold 5, got %d", detector.config.AlphaThreshold)
	}
	if detector.config.WhiteThreshold != 245 {
		t.Errorf("Expected white threshold 245, got %d", detector.config.WhiteThreshold)
	}
}

func TestDetectObjectOnTransparent(t *testing.T) {
	img := createTestImage(100, 80, transparent, product, image.Rect(20, 10, 60, 50))

	got := New().DetectImage(img)
	want := types.ObjectBounds{MinX: 20, MinY: 10, MaxX: 59, MaxY: 49}
	if got != want {
		t.Errorf("DetectImage() = %+v, want %+v", got, want)
	}
}

func TestDetectObjectOnWhite(t *testing.T) {
	img := createTestImage(100, 80, white, product, image.Rect(5, 30, 95, 70))

	got := New().DetectImage(img)
	// Opaque white rows satisfy the alpha-only bottom test
	want := types.ObjectBounds{MinX: 5, MinY: 30, MaxX: 94, MaxY: 79}
	if got != want {
		t.Errorf("DetectImage() = %+v, want %+v", got, want)
	}
}

func TestBottomEdgeKeepsFaintShadow(t *testing.T) {
	img := createTestImage(100, 100, transparent, product, image.Rect(30, 20, 70, 60))
	// Near-white translucent shadow below the product
	shadow := color.NRGBA{250, 250, 250, 20}
	for y := 60; y < 75; y++ {
		for x := 25; x < 75; x++ {
			img.SetNRGBA(x, y, shadow)
		}
	}

	got := New().DetectImage(img)
	if got.MaxY != 74 {
		t.Errorf("Expected bottom edge to include shadow at row 74, got %d", got.MaxY)
	}
	// Shadow is near-white so it must not widen the left/right edges
	if got.MinX != 30 || got.MaxX != 69 {
		t.Errorf("Expected horizontal bounds 30..69, got %d..%d", got.MinX, got.MaxX)
	}
	if got.MinY != 20 {
		t.Errorf("Expected top edge 20, got %d", got.MinY)
	}
}

func TestTopEdgeSkipsNearWhiteBleed(t *testing.T) {
	img := createTestImage(50, 50, transparent, product, image.Rect(10, 20, 40, 40))
	for x := 0; x < 50; x++ {
		img.SetNRGBA(x, 5, color.NRGBA{248, 247, 250, 255})
	}

	got := New().DetectImage(img)
	if got.MinY != 20 {
		t.Errorf("Expected top edge to skip near-white row, got %d", got.MinY)
	}
}

func TestFallbackToFullImage(t *testing.T) {
	tests := []struct {
		name string
		img  *image.NRGBA
	}{
		{"all white", createTestImage(64, 32, white, white, image.Rectangle{})},
		{"all transparent", createTestImage(64, 32, transparent, transparent, image.Rectangle{})},
		{"faint white haze", createTestImage(64, 32, color.NRGBA{250, 250, 250, 3}, white, image.Rectangle{})},
	}

	want := types.ObjectBounds{MinX: 0, MinY: 0, MaxX: 63, MaxY: 31}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New().DetectImage(tt.img)
			if got != want {
				t.Errorf("DetectImage() = %+v, want %+v", got, want)
			}
			if got.MinX > got.MaxX || got.MinY > got.MaxY {
				t.Errorf("inverted bounds %+v", got)
			}
		})
	}
}

func TestDetectObjectBoundsShortBuffer(t *testing.T) {
	got := New().DetectObjectBounds(make([]uint8, 8), 40, 10, 10)
	want := types.ObjectBounds{MinX: 0, MinY: 0, MaxX: 9, MaxY: 9}
	if got != want {
		t.Errorf("DetectObjectBounds() = %+v, want %+v", got, want)
	}
}

func TestDetectImageWithOffsetBounds(t *testing.T) {
	base := createTestImage(40, 40, transparent, product, image.Rect(10, 10, 20, 20))
	sub := base.SubImage(image.Rect(5, 5, 40, 40))

	got := New().DetectImage(sub)
	want := types.ObjectBounds{MinX: 5, MinY: 5, MaxX: 14, MaxY: 14}
	if got != want {
		t.Errorf("DetectImage() = %+v, want %+v", got, want)
	}
}

func BenchmarkDetectImage(b *testing.B) {
	img := createTestImage(2000, 2000, white, product, image.Rect(400, 300, 1600, 1700))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		New().DetectImage(img)
	}
}
