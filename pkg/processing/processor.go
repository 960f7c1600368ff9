package processing

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "github.com/gen2brain/avif"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/catalog-shots/pkg/sniff"
	"github.com/menta2k/catalog-shots/pkg/types"
)

// DefaultUserAgent is sent with every source fetch
const DefaultUserAgent = "Mozilla/5.0 (compatible; catalog-shots/1.0)"

// BridgeQuality is the JPEG quality used when re-encoding unsupported inputs
const BridgeQuality = 92

// Processor fetches, decodes and encodes images
type Processor struct {
	client    *http.Client
	userAgent string
	log       logrus.FieldLogger
}

// NewProcessor creates a new image processor
func NewProcessor(client *http.Client, userAgent string, log logrus.FieldLogger) *Processor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Processor{client: client, userAgent: userAgent, log: log}
}

// Source is a fetched resource with its sniffed format
type Source struct {
	Data         []byte
	Filename     string
	Format       types.Format
	DeclaredType string
}

// Fetch downloads imageURL and sniffs its real format
func (p *Processor) Fetch(ctx context.Context, imageURL string) (*Source, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	name := path.Base(parsedURL.Path)
	if name == "." || name == "/" {
		name = "image"
	}
	src := &Source{
		Data:         data,
		Filename:     name,
		Format:       sniff.Detect(data),
		DeclaredType: resp.Header.Get("Content-Type"),
	}
	p.log.WithFields(logrus.Fields{
		"url":      imageURL,
		"bytes":    len(data),
		"format":   src.Format,
		"declared": src.DeclaredType,
	}).Debug("fetched source image")
	return src, nil
}

// Decode decodes image bytes with WebP and AVIF support
func (p *Processor) Decode(data []byte) (image.Image, error) {
	return Decode(data)
}

// Decode decodes image bytes using the registered decoders, then the cgo WebP decoder
func Decode(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// Encode writes img as the given format. JPEG output is flattened onto white.
func Encode(img image.Image, format types.Format, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case types.FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, err
		}
	case types.FormatWebP:
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, err
		}
	case types.FormatJPEG:
		flat := Flatten(img, color.NRGBA{255, 255, 255, 255})
		if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	return buf.Bytes(), nil
}

// Flatten composites img over an opaque background
func Flatten(img image.Image, bg color.NRGBA) *image.NRGBA {
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), bg)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}

// Normalize re-encodes src as JPEG when it is AVIF (by content or by name)
// and accepts reports that the next stage cannot take AVIF. The returned
// Source carries a .jpg filename when bridging happened.
func (p *Processor) Normalize(src *Source, accepts func(types.Format) bool) (*Source, error) {
	isAVIF := src.Format == types.FormatAVIF || strings.EqualFold(path.Ext(src.Filename), ".avif")
	if !isAVIF || (accepts != nil && accepts(types.FormatAVIF)) {
		return src, nil
	}

	img, err := Decode(src.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode avif source: %w", err)
	}
	data, err := Encode(img, types.FormatJPEG, BridgeQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode avif source: %w", err)
	}

	p.log.WithFields(logrus.Fields{"filename": src.Filename}).Debug("bridged avif source to jpeg")
	return &Source{
		Data:         data,
		Filename:     ReplaceExt(src.Filename, ".jpg"),
		Format:       types.FormatJPEG,
		DeclaredType: types.FormatJPEG.MimeType(),
	}, nil
}

// ReplaceExt swaps the extension of name for ext
func ReplaceExt(name, ext string) string {
	return strings.TrimSuffix(name, path.Ext(name)) + ext
}

// DebugOverlay draws the detected object box on a copy of img with the
// shadow-tolerant bottom edge in red
func DebugOverlay(img image.Image, bounds types.ObjectBounds) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255}
	red := color.NRGBA{255, 0, 0, 255}
	stroke := max(2, int(0.004*float64(min(w, h))))

	for s := 0; s < stroke; s++ {
		drawHLine(nrgba, bounds.MinY+s, bounds.MinX, bounds.MaxX+1, green)
		drawHLine(nrgba, bounds.MaxY-s, bounds.MinX, bounds.MaxX+1, red)
		drawVLine(nrgba, bounds.MinX+s, bounds.MinY, bounds.MaxY+1, green)
		drawVLine(nrgba, bounds.MaxX-s, bounds.MinY, bounds.MaxY+1, green)
	}
	return nrgba
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
