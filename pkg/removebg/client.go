// Package removebg talks to the remote foreground-extraction service.
//
// A request is a single multipart POST authenticated with HTTP Basic
// credentials. The service answers with the processed image or with a
// non-2xx status whose body may carry a diagnostic message; 402 means the
// account has run out of credits.
package removebg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/catalog-shots/pkg/types"
)

// DefaultEndpoint is the production removal endpoint
const DefaultEndpoint = "https://api.pixian.ai/api/v2/remove-background"

// Credentials identify the API account
type Credentials struct {
	ID     string
	Secret string
}

// Size is a target canvas in pixels
type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return fmt.Sprintf("%d %d", s.Width, s.Height)
}

// Options enumerates every request parameter the client sends
type Options struct {
	Margin            string
	VerticalAlignment VerticalAlignment
	BackgroundColor   string
	TargetSize        *Size
	JPEGQuality       int
	CropToForeground  bool
	TestMode          bool
	OutputFormat      types.Format
	// Transparent drops the background color and target size so the
	// service returns a cut-out PNG at its natural size
	Transparent bool
}

// Validate rejects values the service would not understand
func (o Options) Validate() error {
	switch o.VerticalAlignment {
	case AlignNone, AlignTop, AlignMiddle, AlignBottom:
	default:
		return fmt.Errorf("unknown vertical alignment %q", o.VerticalAlignment)
	}
	switch o.OutputFormat {
	case types.FormatJPEG, types.FormatPNG:
	default:
		return fmt.Errorf("unsupported output format %q", o.OutputFormat)
	}
	if o.OutputFormat == types.FormatJPEG && (o.JPEGQuality < 1 || o.JPEGQuality > 100) {
		return fmt.Errorf("jpeg quality must be between 1 and 100, got %d", o.JPEGQuality)
	}
	if o.Transparent && o.OutputFormat != types.FormatPNG {
		return fmt.Errorf("transparent output requires png")
	}
	if o.TargetSize != nil && (o.TargetSize.Width <= 0 || o.TargetSize.Height <= 0) {
		return fmt.Errorf("invalid target size %s", o.TargetSize)
	}
	return nil
}

// Defaults are the account-wide request settings applied to every category
type Defaults struct {
	BackgroundColor string
	TargetSize      *Size
	JPEGQuality     int
	TestMode        bool
}

// Result is the processed image with its MIME type forced to the requested container
type Result struct {
	Data             []byte
	MimeType         string
	DetectedMimeType string
}

// QuotaExhaustedError is returned for HTTP 402
type QuotaExhaustedError struct {
	Body string
}

func (e *QuotaExhaustedError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("removal service credits exhausted (HTTP 402): %s", e.Body)
	}
	return "removal service credits exhausted (HTTP 402)"
}

// ServiceError is any other non-2xx response
type ServiceError struct {
	Status int
	Body   string
}

func (e *ServiceError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("removal service returned HTTP %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("removal service returned HTTP %d", e.Status)
}

// NetworkError wraps transport failures
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("removal service unreachable: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsQuotaExhausted reports whether err carries a 402 from the service
func IsQuotaExhausted(err error) bool {
	var q *QuotaExhaustedError
	return errors.As(err, &q)
}

// Client performs background-removal requests
type Client struct {
	endpoint    string
	credentials Credentials
	defaults    Defaults
	httpClient  *http.Client
	log         logrus.FieldLogger
}

// NewClient creates a client for endpoint. An empty endpoint uses DefaultEndpoint.
func NewClient(endpoint string, creds Credentials, defaults Defaults, log logrus.FieldLogger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if defaults.JPEGQuality == 0 {
		defaults.JPEGQuality = 90
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Client{
		endpoint:    strings.TrimSuffix(endpoint, "/"),
		credentials: creds,
		defaults:    defaults,
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		log:         log,
	}
}

// SetHTTPClient replaces the transport client
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// OptionsFor builds the request options for a product category. Invalid
// override margins fall back to the default margin string.
func (c *Client) OptionsFor(category string, override *types.MarginSpec, transparent bool) Options {
	preset := PresetFor(category, override)

	margin, ok := formatMargin(preset.Margin)
	if !ok {
		c.log.WithFields(logrus.Fields{
			"category": category,
			"margin":   fmt.Sprintf("%+v", preset.Margin),
		}).Warn("invalid margin, using default")
	}

	opts := Options{
		Margin:            margin,
		VerticalAlignment: preset.Alignment,
		CropToForeground:  true,
		TestMode:          c.defaults.TestMode,
		JPEGQuality:       c.defaults.JPEGQuality,
		OutputFormat:      types.FormatJPEG,
	}
	if transparent {
		opts.Transparent = true
		opts.OutputFormat = types.FormatPNG
		return opts
	}
	opts.BackgroundColor = c.defaults.BackgroundColor
	opts.TargetSize = c.defaults.TargetSize
	return opts
}

// RemoveBackground uploads data and returns the processed image
func (c *Client) RemoveBackground(ctx context.Context, data []byte, filename string, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	body, contentType, err := buildForm(data, filename, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.SetBasicAuth(c.credentials.ID, c.credentials.Secret)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(payload))
		if resp.StatusCode == http.StatusPaymentRequired {
			return nil, &QuotaExhaustedError{Body: msg}
		}
		return nil, &ServiceError{Status: resp.StatusCode, Body: msg}
	}

	expected := opts.OutputFormat.MimeType()
	detected := mimetype.Detect(payload).String()
	if detected != expected {
		c.log.WithFields(logrus.Fields{
			"filename": filename,
			"detected": detected,
			"declared": resp.Header.Get("Content-Type"),
			"expected": expected,
		}).Debug("relabeling service response")
	}

	c.log.WithFields(logrus.Fields{
		"filename": filename,
		"bytes":    len(payload),
		"margin":   opts.Margin,
		"elapsed":  time.Since(start).Round(time.Millisecond),
	}).Debug("background removed")

	return &Result{Data: payload, MimeType: expected, DetectedMimeType: detected}, nil
}

func buildForm(data []byte, filename string, opts Options) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"test", strconv.FormatBool(opts.TestMode)},
		{"result.crop_to_foreground", strconv.FormatBool(opts.CropToForeground)},
	}
	if opts.VerticalAlignment != AlignNone {
		fields = append(fields, [2]string{"result.vertical_alignment", string(opts.VerticalAlignment)})
	}
	if opts.Margin != "" {
		fields = append(fields, [2]string{"result.margin", opts.Margin})
	}
	if !opts.Transparent {
		if opts.BackgroundColor != "" {
			fields = append(fields, [2]string{"background.color", strings.TrimPrefix(opts.BackgroundColor, "#")})
		}
		if opts.TargetSize != nil {
			fields = append(fields, [2]string{"result.target_size", opts.TargetSize.String()})
		}
	}
	fields = append(fields, [2]string{"output.format", string(opts.OutputFormat)})
	if opts.OutputFormat == types.FormatJPEG {
		fields = append(fields, [2]string{"output.jpeg_quality", strconv.Itoa(opts.JPEGQuality)})
	}

	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
