// Package discovery finds the product photos referenced by a page.
//
// A scan collects every image URL a Source can see, asks CDN-style URLs for a
// larger rendition, measures each image from its header bytes, keeps the ones
// large enough to be product shots and ranks them by pixel area. Checks run
// concurrently and a failing URL only drops itself.
package discovery

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"sort"
	"time"

	_ "github.com/gen2brain/avif"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/catalog-shots/pkg/sniff"
	"github.com/menta2k/catalog-shots/pkg/types"
)

// Config holds the filter thresholds and fetch settings
type Config struct {
	// SizeThreshold is the minimum pixel size one side must exceed
	SizeThreshold int `json:"size_threshold" yaml:"size_threshold"`
	// AreaThreshold is the minimum pixel area an image must exceed
	AreaThreshold int `json:"area_threshold" yaml:"area_threshold"`
	// TargetDimension is the size requested from CDN rewrites
	TargetDimension int `json:"target_dimension" yaml:"target_dimension"`
	// Concurrency bounds parallel fetches; 0 means unbounded
	Concurrency int    `json:"concurrency" yaml:"concurrency"`
	Attribute   string `json:"attribute" yaml:"attribute"`
	UserAgent   string `json:"user_agent" yaml:"user_agent"`
}

// DefaultConfig returns the stock thresholds
func DefaultConfig() Config {
	return Config{
		SizeThreshold:   300,
		AreaThreshold:   150000,
		TargetDimension: 2000,
		Concurrency:     16,
		Attribute:       DefaultAttribute,
	}
}

// Keep reports whether an image of w x h passes the size filter
func (c Config) Keep(w, h int) bool {
	return (w > c.SizeThreshold || h > c.SizeThreshold) && w*h > c.AreaThreshold
}

// Scanner turns a page into ranked image candidates
type Scanner struct {
	source  Source
	sniffer *sniff.Sniffer
	client  *http.Client
	config  Config
	log     logrus.FieldLogger
}

// NewScanner creates a Scanner. A nil client gets a 20 second timeout client.
func NewScanner(source Source, client *http.Client, config Config, log logrus.FieldLogger) *Scanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Scanner{
		source:  source,
		sniffer: sniff.NewSniffer(client, config.UserAgent, log),
		client:  client,
		config:  config,
		log:     log,
	}
}

// Scan discovers, measures, filters, ranks and enriches the images of pageURL
func (s *Scanner) Scan(ctx context.Context, pageURL string) ([]types.ImageCandidate, error) {
	urls, err := s.source.ImageURLs(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return s.Evaluate(ctx, Dedup(urls))
}

// Evaluate measures urls and returns the kept candidates, largest first
func (s *Scanner) Evaluate(ctx context.Context, urls []string) ([]types.ImageCandidate, error) {
	measured := make([]*types.ImageCandidate, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	if s.config.Concurrency > 0 {
		g.SetLimit(s.config.Concurrency)
	}
	for i, u := range urls {
		g.Go(func() error {
			measured[i] = s.measure(gctx, u)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Different sources can rewrite to the same rendition
	seen := make(map[string]bool, len(measured))
	kept := make([]types.ImageCandidate, 0, len(measured))
	for _, c := range measured {
		if c == nil || seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		if s.config.Keep(c.Width, c.Height) {
			kept = append(kept, *c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Area > kept[j].Area
	})

	s.enrich(ctx, kept)

	s.log.WithFields(logrus.Fields{
		"found": len(urls),
		"kept":  len(kept),
	}).Info("scan complete")
	return kept, nil
}

// measure fetches the rewritten URL first and falls back to the original
func (s *Scanner) measure(ctx context.Context, rawURL string) *types.ImageCandidate {
	tries := []string{rawURL}
	if s.config.TargetDimension > 0 {
		if rewritten := RewriteCDN(rawURL, s.config.TargetDimension); rewritten != rawURL {
			tries = []string{rewritten, rawURL}
		}
	}

	for _, u := range tries {
		w, h, err := s.dimensions(ctx, u)
		if err != nil {
			s.log.WithError(err).WithField("url", u).Debug("measure failed")
			continue
		}
		return &types.ImageCandidate{URL: u, Width: w, Height: h, Area: w * h}
	}
	return nil
}

func (s *Scanner) dimensions(ctx context.Context, u string) (int, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, 0, err
	}
	if s.config.UserAgent != "" {
		req.Header.Set("User-Agent", s.config.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	cfg, _, err := image.DecodeConfig(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, fmt.Errorf("empty image")
	}
	return cfg.Width, cfg.Height, nil
}

// enrich fills the real format and byte weight of every candidate in place
func (s *Scanner) enrich(ctx context.Context, candidates []types.ImageCandidate) {
	var g errgroup.Group
	if s.config.Concurrency > 0 {
		g.SetLimit(s.config.Concurrency)
	}
	for i := range candidates {
		c := &candidates[i]
		g.Go(func() error {
			c.Format = s.sniffer.Sniff(ctx, c.URL)
			c.WeightBytes = s.sniffer.Weight(ctx, c.URL)
			return nil
		})
	}
	_ = g.Wait()
}
