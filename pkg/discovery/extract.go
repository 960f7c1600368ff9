package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultAttribute carries a lazily applied background image URL
const DefaultAttribute = "data-bg"

// Source lists every image URL referenced by a page
type Source interface {
	ImageURLs(ctx context.Context, pageURL string) ([]string, error)
}

var cssURLPattern = regexp.MustCompile(`url\(\s*['"]?([^'")]+?)['"]?\s*\)`)

// ExtractCSSURLs returns the targets of every url(...) token in css
func ExtractCSSURLs(css string) []string {
	var out []string
	for _, m := range cssURLPattern.FindAllStringSubmatch(css, -1) {
		if u := strings.TrimSpace(m[1]); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// HTMLSource reads image references from the static markup of a page
type HTMLSource struct {
	client    *http.Client
	userAgent string
	attribute string
}

// NewHTMLSource creates an HTMLSource. attribute names the custom background
// attribute; empty uses DefaultAttribute.
func NewHTMLSource(client *http.Client, userAgent, attribute string) *HTMLSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if attribute == "" {
		attribute = DefaultAttribute
	}
	return &HTMLSource{client: client, userAgent: userAgent, attribute: attribute}
}

// ImageURLs downloads pageURL and extracts its image references
func (s *HTMLSource) ImageURLs(ctx context.Context, pageURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch page: HTTP %d", resp.StatusCode)
	}

	return ExtractFromReader(resp.Body, base, s.attribute)
}

// ExtractFromReader parses an HTML document and returns absolute image URLs
func ExtractFromReader(r io.Reader, base *url.URL, attribute string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return ExtractFromDocument(doc, base, attribute), nil
}

// ExtractFromDocument collects tag sources, inline and stylesheet CSS
// backgrounds, and the custom background attribute
func ExtractFromDocument(doc *goquery.Document, base *url.URL, attribute string) []string {
	if attribute == "" {
		attribute = DefaultAttribute
	}
	var raw []string

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		for _, attr := range []string{"src", "data-src"} {
			if v, ok := sel.Attr(attr); ok {
				raw = append(raw, v)
			}
		}
		if v, ok := sel.Attr("srcset"); ok {
			raw = append(raw, srcsetURLs(v)...)
		}
	})
	doc.Find("picture source[srcset]").Each(func(_ int, sel *goquery.Selection) {
		raw = append(raw, srcsetURLs(sel.AttrOr("srcset", ""))...)
	})
	doc.Find("[style]").Each(func(_ int, sel *goquery.Selection) {
		raw = append(raw, ExtractCSSURLs(sel.AttrOr("style", ""))...)
	})
	doc.Find("style").Each(func(_ int, sel *goquery.Selection) {
		raw = append(raw, ExtractCSSURLs(sel.Text())...)
	})
	doc.Find("[" + attribute + "]").Each(func(_ int, sel *goquery.Selection) {
		v := sel.AttrOr(attribute, "")
		if css := ExtractCSSURLs(v); len(css) > 0 {
			raw = append(raw, css...)
		} else {
			raw = append(raw, v)
		}
	})

	return resolveAll(base, raw)
}

func srcsetURLs(srcset string) []string {
	var out []string
	for _, candidate := range strings.Split(srcset, ",") {
		if fields := strings.Fields(candidate); len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}

func resolveAll(base *url.URL, raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" || strings.HasPrefix(r, "data:") {
			continue
		}
		u, err := url.Parse(r)
		if err != nil {
			continue
		}
		if base != nil {
			u = base.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		out = append(out, u.String())
	}
	return out
}

// Dedup returns urls with duplicates removed
func Dedup(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
