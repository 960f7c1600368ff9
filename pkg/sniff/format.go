// Package sniff identifies image containers from their leading bytes and
// resolves the byte weight of remote resources.
package sniff

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/catalog-shots/pkg/types"
)

// HeaderSize is the number of leading bytes needed to classify every known format
const HeaderSize = 12

var (
	magicPNG  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicGIF  = []byte("GIF8")
	magicRIFF = []byte("RIFF")
	magicWEBP = []byte("WEBP")
	magicFTYP = []byte("ftyp")
	brandAVIF = []byte("avif")
	brandAVIS = []byte("avis")
)

// Detect classifies data by magic number. Checks run in the order
// PNG, JPEG, GIF, WEBP, AVIF and the first match wins.
func Detect(data []byte) types.Format {
	if bytes.HasPrefix(data, magicPNG) {
		return types.FormatPNG
	}
	if bytes.HasPrefix(data, magicJPEG) {
		return types.FormatJPEG
	}
	if bytes.HasPrefix(data, magicGIF) {
		return types.FormatGIF
	}
	if len(data) >= 12 && bytes.Equal(data[0:4], magicRIFF) && bytes.Equal(data[8:12], magicWEBP) {
		return types.FormatWebP
	}
	if len(data) >= 12 && bytes.Equal(data[4:8], magicFTYP) &&
		(bytes.Equal(data[8:12], brandAVIF) || bytes.Equal(data[8:12], brandAVIS)) {
		return types.FormatAVIF
	}
	return types.FormatUnknown
}

// Sniffer fetches resource headers over HTTP
type Sniffer struct {
	client    *http.Client
	userAgent string
	log       logrus.FieldLogger
}

// NewSniffer creates a Sniffer. A nil client gets a 15 second timeout client.
func NewSniffer(client *http.Client, userAgent string, log logrus.FieldLogger) *Sniffer {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Sniffer{client: client, userAgent: userAgent, log: log}
}

// Sniff reads the first bytes of url with a range request and classifies them.
// Any failure yields FormatUnknown.
func (p *Sniffer) Sniff(ctx context.Context, url string) types.Format {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.FormatUnknown
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", HeaderSize-1))
	p.setUserAgent(req)

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.WithFields(logrus.Fields{"url": url, "error": err}).Debug("format sniff failed")
		return types.FormatUnknown
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		p.log.WithFields(logrus.Fields{"url": url, "status": resp.StatusCode}).Debug("format sniff rejected")
		return types.FormatUnknown
	}

	head := make([]byte, HeaderSize)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return types.FormatUnknown
	}
	return Detect(head[:n])
}

// Weight returns the size of url in kilobytes rounded to two decimals, or nil
// when neither a HEAD nor a ranged GET reveals it.
func (p *Sniffer) Weight(ctx context.Context, url string) *float64 {
	if size, ok := p.headLength(ctx, url); ok {
		return kilobytes(size)
	}
	if size, ok := p.rangeLength(ctx, url); ok {
		return kilobytes(size)
	}
	return nil
}

func (p *Sniffer) headLength(ctx context.Context, url string) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false
	}
	p.setUserAgent(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, false
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.ContentLength <= 0 {
		return 0, false
	}
	return resp.ContentLength, true
}

func (p *Sniffer) rangeLength(ctx context.Context, url string) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, false
	}
	req.Header.Set("Range", "bytes=0-0")
	p.setUserAgent(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	// Content-Range: bytes 0-0/12345
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if i := strings.LastIndex(cr, "/"); i >= 0 {
			if total, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil && total > 0 {
				return total, true
			}
		}
	}
	if resp.StatusCode == http.StatusOK && resp.ContentLength > 0 {
		return resp.ContentLength, true
	}
	return 0, false
}

func (p *Sniffer) setUserAgent(req *http.Request) {
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
}

func kilobytes(size int64) *float64 {
	kb := math.Round(float64(size)/1024*100) / 100
	return &kb
}
