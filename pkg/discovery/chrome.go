package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"
)

// collectScript walks the live DOM: image sources, computed CSS backgrounds
// and the custom background attribute. %s is the quoted attribute name.
const collectScript = `(() => {
	const attr = %s;
	const out = [];
	for (const img of document.images) {
		if (img.currentSrc) out.push(img.currentSrc);
		if (img.src) out.push(img.src);
	}
	for (const el of document.querySelectorAll('*')) {
		const bg = getComputedStyle(el).backgroundImage;
		if (bg && bg !== 'none') out.push(bg);
		const v = el.getAttribute(attr);
		if (v) out.push(v);
	}
	return out;
})()`

// ChromeSource renders the page in headless Chrome so that script-injected
// images and stylesheet backgrounds are visible
type ChromeSource struct {
	attribute string
	settle    time.Duration
	opts      []chromedp.ExecAllocatorOption
}

// NewChromeSource creates a ChromeSource. settle is how long to wait after
// the document is ready before reading the DOM.
func NewChromeSource(attribute string, settle time.Duration) *ChromeSource {
	if attribute == "" {
		attribute = DefaultAttribute
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	return &ChromeSource{attribute: attribute, settle: settle, opts: opts}
}

// ImageURLs loads pageURL in a browser and extracts its image references
func (s *ChromeSource) ImageURLs(ctx context.Context, pageURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, s.opts...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	var values []string
	err = chromedp.Run(browserCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.settle),
		chromedp.Evaluate(fmt.Sprintf(collectScript, strconv.Quote(s.attribute)), &values),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render page: %w", err)
	}

	var raw []string
	for _, v := range values {
		if css := ExtractCSSURLs(v); len(css) > 0 {
			raw = append(raw, css...)
			continue
		}
		raw = append(raw, v)
	}
	return resolveAll(base, raw), nil
}
