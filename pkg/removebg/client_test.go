package removebg

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/catalog-shots/pkg/types"
)

var pngPayload = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, Credentials{ID: "id123", Secret: "s3cret"}, Defaults{
		BackgroundColor: "#ffffff",
		TargetSize:      &Size{Width: 2000, Height: 2000},
		JPEGQuality:     90,
	}, nil)
	c.SetHTTPClient(srv.Client())
	return c
}

func TestFormatMargin(t *testing.T) {
	tests := []struct {
		name   string
		margin types.MarginSpec
		want   string
	}{
		{"default", types.Uniform(0.05), "5% 5% 5% 5%"},
		{"textile", types.Uniform(0.085), "8.5% 8.5% 8.5% 8.5%"},
		{"pantalon", types.Uniform(0.032), "3.2% 3.2% 3.2% 3.2%"},
		{"shoes", types.MarginSpec{Top: 0, Right: 0.08, Bottom: 0.26, Left: 0.08}, "0% 8% 26% 8%"},
		{"nan side", types.MarginSpec{Top: math.NaN(), Right: 0.1, Bottom: 0.1, Left: 0.1}, DefaultMarginString},
		{"above range", types.MarginSpec{Top: 0.1, Right: 1.5, Bottom: 0.1, Left: 0.1}, DefaultMarginString},
		{"negative", types.MarginSpec{Top: 0.1, Right: 0.1, Bottom: -0.2, Left: 0.1}, DefaultMarginString},
		{"infinite", types.MarginSpec{Left: math.Inf(1)}, DefaultMarginString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMargin(tt.margin))
		})
	}
}

func TestFormatMarginFromInvalidJSON(t *testing.T) {
	for _, raw := range []string{`{"top":"abc"}`, `{"top":true,"left":0.1}`, `{"right":[1]}`} {
		var m types.MarginSpec
		require.NoError(t, json.Unmarshal([]byte(raw), &m))
		assert.Equal(t, "5% 5% 5% 5%", FormatMargin(m), raw)
		assert.Equal(t, "5% 5% 5% 5%", FormatMargin(m), "formatting twice must give the same fallback")
	}

	var m types.MarginSpec
	require.NoError(t, json.Unmarshal([]byte(`{"top":"0.1","right":0.2,"bottom":0.3,"left":0.4}`), &m))
	assert.Equal(t, "10% 20% 30% 40%", FormatMargin(m))
}

func TestParseMarginString(t *testing.T) {
	m, err := ParseMarginString("0% 8% 26% 8%")
	require.NoError(t, err)
	assert.InDelta(t, 0.26, m.Bottom, 1e-9)

	m, err = ParseMarginString("5%")
	require.NoError(t, err)
	assert.InDelta(t, 0.05, m.Left, 1e-9)

	_, err = ParseMarginString("5% 5%")
	assert.Error(t, err)
	_, err = ParseMarginString("a% 5% 5% 5%")
	assert.Error(t, err)
}

func TestPresetFor(t *testing.T) {
	shoes := PresetFor("Shoes", nil)
	assert.Equal(t, AlignBottom, shoes.Alignment)
	assert.Equal(t, 0.26, shoes.Margin.Bottom)

	assert.Equal(t, types.Uniform(0.16), PresetFor("accessories", nil).Margin)
	assert.Equal(t, types.Uniform(0.05), PresetFor("unknown-thing", nil).Margin)
	assert.Equal(t, types.Uniform(0.05), PresetFor("custom", nil).Margin)

	override := types.Uniform(0.2)
	p := PresetFor(CategoryChaussures, &override)
	assert.Equal(t, override, p.Margin)
	assert.Equal(t, AlignBottom, p.Alignment)
}

func TestOptionsFor(t *testing.T) {
	c := NewClient("", Credentials{}, Defaults{BackgroundColor: "ffffff", TargetSize: &Size{2000, 2000}}, nil)

	opts := c.OptionsFor("textile", nil, false)
	assert.Equal(t, "8.5% 8.5% 8.5% 8.5%", opts.Margin)
	assert.Equal(t, AlignNone, opts.VerticalAlignment)
	assert.True(t, opts.CropToForeground)
	assert.Equal(t, types.FormatJPEG, opts.OutputFormat)
	assert.Equal(t, "ffffff", opts.BackgroundColor)
	require.NotNil(t, opts.TargetSize)
	require.NoError(t, opts.Validate())

	transparent := c.OptionsFor("chaussures", nil, true)
	assert.Equal(t, types.FormatPNG, transparent.OutputFormat)
	assert.Empty(t, transparent.BackgroundColor)
	assert.Nil(t, transparent.TargetSize)
	assert.Equal(t, AlignBottom, transparent.VerticalAlignment)
	require.NoError(t, transparent.Validate())

	bad := types.MarginSpec{Top: math.NaN()}
	assert.Equal(t, DefaultMarginString, c.OptionsFor("custom", &bad, false).Margin)
}

func TestOptionsValidate(t *testing.T) {
	base := Options{OutputFormat: types.FormatJPEG, JPEGQuality: 80}
	require.NoError(t, base.Validate())

	bad := base
	bad.VerticalAlignment = "sideways"
	assert.Error(t, bad.Validate())

	bad = base
	bad.OutputFormat = types.FormatWebP
	assert.Error(t, bad.Validate())

	bad = base
	bad.JPEGQuality = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.Transparent = true
	assert.Error(t, bad.Validate())

	bad = base
	bad.TargetSize = &Size{Width: 0, Height: 10}
	assert.Error(t, bad.Validate())
}

func TestRemoveBackgroundRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		id, secret, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "id123", id)
		assert.Equal(t, "s3cret", secret)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "false", r.FormValue("test"))
		assert.Equal(t, "true", r.FormValue("result.crop_to_foreground"))
		assert.Equal(t, "bottom", r.FormValue("result.vertical_alignment"))
		assert.Equal(t, "0% 8% 26% 8%", r.FormValue("result.margin"))
		assert.Equal(t, "ffffff", r.FormValue("background.color"))
		assert.Equal(t, "2000 2000", r.FormValue("result.target_size"))
		assert.Equal(t, "jpeg", r.FormValue("output.format"))
		assert.Equal(t, "90", r.FormValue("output.jpeg_quality"))

		f, hdr, err := r.FormFile("image")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "shoe.jpg", hdr.Filename)
		body, _ := io.ReadAll(f)
		assert.Equal(t, "source-bytes", string(body))

		// The service labels its output loosely
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(pngPayload)
	})

	res, err := c.RemoveBackground(context.Background(), []byte("source-bytes"), "shoe.jpg", c.OptionsFor("chaussures", nil, false))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", res.MimeType, "MIME type is forced to the requested container")
	assert.Equal(t, "image/png", res.DetectedMimeType)
	assert.Equal(t, pngPayload, res.Data)
}

func TestRemoveBackgroundTransparentOmitsCanvasFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, hasColor := r.MultipartForm.Value["background.color"]
		_, hasSize := r.MultipartForm.Value["result.target_size"]
		_, hasQuality := r.MultipartForm.Value["output.jpeg_quality"]
		_, hasAlign := r.MultipartForm.Value["result.vertical_alignment"]
		assert.False(t, hasColor)
		assert.False(t, hasSize)
		assert.False(t, hasQuality)
		assert.False(t, hasAlign)
		assert.Equal(t, "png", r.FormValue("output.format"))
		w.Write(pngPayload)
	})

	res, err := c.RemoveBackground(context.Background(), []byte("x"), "bag.png", c.OptionsFor("accessoires", nil, true))
	require.NoError(t, err)
	assert.Equal(t, "image/png", res.MimeType)
}

func TestRemoveBackgroundErrors(t *testing.T) {
	t.Run("quota", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Insufficient credits", http.StatusPaymentRequired)
		})
		_, err := c.RemoveBackground(context.Background(), []byte("x"), "a.jpg", c.OptionsFor("", nil, false))
		require.Error(t, err)
		assert.True(t, IsQuotaExhausted(err))
		assert.Contains(t, err.Error(), "Insufficient credits")
	})

	t.Run("service", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad image", http.StatusBadRequest)
		})
		_, err := c.RemoveBackground(context.Background(), []byte("x"), "a.jpg", c.OptionsFor("", nil, false))
		var se *ServiceError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusBadRequest, se.Status)
		assert.Equal(t, "bad image", se.Body)
		assert.False(t, IsQuotaExhausted(err))
		assert.Contains(t, err.Error(), "HTTP 400")
	})

	t.Run("service without body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		_, err := c.RemoveBackground(context.Background(), []byte("x"), "a.jpg", c.OptionsFor("", nil, false))
		assert.EqualError(t, err, "removal service returned HTTP 500")
	})

	t.Run("network", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:1", Credentials{}, Defaults{}, nil)
		_, err := c.RemoveBackground(context.Background(), []byte("x"), "a.jpg", c.OptionsFor("", nil, false))
		var ne *NetworkError
		assert.True(t, errors.As(err, &ne))
	})

	t.Run("invalid options", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:1", Credentials{}, Defaults{}, nil)
		_, err := c.RemoveBackground(context.Background(), []byte("x"), "a.jpg", Options{OutputFormat: "bmp"})
		assert.Error(t, err)
	})
}
