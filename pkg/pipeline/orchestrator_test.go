package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/catalog-shots/pkg/bridge"
	"github.com/menta2k/catalog-shots/pkg/processing"
	"github.com/menta2k/catalog-shots/pkg/removebg"
	"github.com/menta2k/catalog-shots/pkg/sniff"
	"github.com/menta2k/catalog-shots/pkg/types"
)

var testDate = time.Date(2024, time.January, 5, 14, 30, 0, 0, time.UTC)

type removeCall struct {
	category string
	filename string
	format   types.Format
	opts     removebg.Options
}

// stubRemover fails the calls listed in failOn (1-based)
type stubRemover struct {
	mu      sync.Mutex
	calls   []removeCall
	failOn  map[int]error
	blockOn bool
}

func (s *stubRemover) OptionsFor(category string, override *types.MarginSpec, transparent bool) removebg.Options {
	opts := removebg.Options{Margin: category, OutputFormat: types.FormatJPEG, JPEGQuality: 90}
	if transparent {
		opts.OutputFormat = types.FormatPNG
		opts.Transparent = true
	}
	return opts
}

func (s *stubRemover) RemoveBackground(ctx context.Context, data []byte, filename string, opts removebg.Options) (*removebg.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, removeCall{category: opts.Margin, filename: filename, format: sniff.Detect(data), opts: opts})
	n := len(s.calls)
	s.mu.Unlock()

	if s.blockOn {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err, ok := s.failOn[n]; ok {
		return nil, err
	}
	return &removebg.Result{Data: []byte("processed"), MimeType: opts.OutputFormat.MimeType()}, nil
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{200, 30, 30, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newImageServer(t *testing.T) *httptest.Server {
	t.Helper()
	data := pngImage(t, 400, 200)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestOrchestrator(t *testing.T, srv *httptest.Server, remover Remover, sink Sink, cfg Config) (*Orchestrator, *sleepRecorder) {
	t.Helper()
	o := New(processing.NewProcessor(srv.Client(), "", nil), nil, remover, sink, cfg, nil)
	t.Cleanup(o.Close)
	o.SetClock(func() time.Time { return testDate })
	rec := &sleepRecorder{}
	o.SetSleeper(rec.sleep)
	return o, rec
}

func TestDestinationPath(t *testing.T) {
	tests := []struct {
		name     string
		folder   string
		order    int
		filename string
		ext      string
		want     string
	}{
		{"ordered", "ACME01", 3, "shoe", ".jpg", "05 01 2024/ACME01/03-shoe.jpg"},
		{"unordered", "ACME01", 0, "shoe", ".jpg", "05 01 2024/ACME01/shoe.jpg"},
		{"source extension replaced", "ACME01", 3, "shoe.png", ".jpg", "05 01 2024/ACME01/03-shoe.jpg"},
		{"folder trimmed", "  ACME01 ", 12, "coat.webp", ".jpg", "05 01 2024/ACME01/12-coat.jpg"},
		{"transparent png", "ACME01", 1, "bag.jpg", ".png", "05 01 2024/ACME01/01-bag.png"},
		{"no folder outside a batch", "", 0, "bag.jpg", ".jpg", "05 01 2024/bag.jpg"},
		{"empty name", "X", 0, "", ".jpg", "05 01 2024/X/image.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DestinationPath(testDate, tt.folder, tt.order, tt.filename, tt.ext))
		})
	}
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	srv := newImageServer(t)
	remover := &stubRemover{failOn: map[int]error{2: &removebg.ServiceError{Status: 500}}}
	sink := &MemorySink{}
	o, rec := newTestOrchestrator(t, srv, remover, sink, DefaultConfig())

	report, err := o.RunBatch(context.Background(), types.BatchRequest{
		FolderName: "ACME01",
		Entries: []types.TreatmentRequest{
			{SourceURL: srv.URL + "/a.jpg", TreatmentKind: types.TreatmentRemoveBackground, ProductCategory: "textile", SequenceOrder: 1},
			{SourceURL: srv.URL + "/b.jpg", TreatmentKind: types.TreatmentRemoveBackground, ProductCategory: "textile", SequenceOrder: 2},
			{SourceURL: srv.URL + "/c.jpg", TreatmentKind: types.TreatmentRemoveBackground, ProductCategory: "textile", SequenceOrder: 3},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, []string{"05 01 2024/ACME01/01-a.jpg", "05 01 2024/ACME01/03-c.jpg"}, report.Delivered)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, 2, report.Failed[0].Order)
	assert.False(t, report.QuotaExhausted)

	delivered := sink.Artifacts()
	require.Len(t, delivered, 2)
	assert.Equal(t, "image/jpeg", delivered[0].MimeType)
	assert.Equal(t, []byte("processed"), delivered[1].Data)

	require.Len(t, rec.delays, 2, "pauses between items, none after the last")
	for _, d := range rec.delays {
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestRunBatchSortsBySequenceOrder(t *testing.T) {
	srv := newImageServer(t)
	sink := &MemorySink{}
	o, _ := newTestOrchestrator(t, srv, &stubRemover{}, sink, DefaultConfig())

	report, err := o.RunBatch(context.Background(), types.BatchRequest{
		FolderName: "F",
		Entries: []types.TreatmentRequest{
			{SourceURL: srv.URL + "/c.png", TreatmentKind: types.TreatmentResize, SequenceOrder: 3},
			{SourceURL: srv.URL + "/a.png", TreatmentKind: types.TreatmentResize, SequenceOrder: 1},
			{SourceURL: srv.URL + "/b.png", TreatmentKind: types.TreatmentLocalShadowCompose, SequenceOrder: 2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"05 01 2024/F/01-a.jpg",
		"05 01 2024/F/02-b.jpg",
		"05 01 2024/F/03-c.jpg",
	}, report.Delivered)
}

func TestRunBatchQuotaExhausted(t *testing.T) {
	srv := newImageServer(t)
	quota := &removebg.QuotaExhaustedError{Body: "no credits"}
	remover := &stubRemover{failOn: map[int]error{1: quota}}
	o, _ := newTestOrchestrator(t, srv, remover, &MemorySink{}, DefaultConfig())

	var notified []error
	o.SetNotifier(func(err error) { notified = append(notified, err) })

	report, err := o.RunBatch(context.Background(), types.BatchRequest{
		FolderName: "F",
		Entries: []types.TreatmentRequest{
			{SourceURL: srv.URL + "/a.jpg", TreatmentKind: types.TreatmentRemoveBackground, SequenceOrder: 1},
			{SourceURL: srv.URL + "/b.jpg", TreatmentKind: types.TreatmentRemoveBackground, SequenceOrder: 2},
		},
	})
	require.NoError(t, err)
	assert.True(t, report.QuotaExhausted)
	assert.Equal(t, 1, report.Succeeded)
	require.Len(t, notified, 1)
	assert.True(t, removebg.IsQuotaExhausted(notified[0]))
}

func TestRunBatchRejectsConcurrentBatch(t *testing.T) {
	srv := newImageServer(t)
	o, _ := newTestOrchestrator(t, srv, &stubRemover{}, &MemorySink{}, DefaultConfig())

	entered := make(chan struct{})
	release := make(chan struct{})
	o.SetSleeper(func(ctx context.Context, d time.Duration) error {
		close(entered)
		<-release
		return nil
	})

	batch := types.BatchRequest{FolderName: "F", Entries: []types.TreatmentRequest{
		{SourceURL: srv.URL + "/a.png", TreatmentKind: types.TreatmentResize, SequenceOrder: 1},
		{SourceURL: srv.URL + "/b.png", TreatmentKind: types.TreatmentResize, SequenceOrder: 2},
	}}

	done := make(chan types.BatchReport)
	go func() {
		report, _ := o.RunBatch(context.Background(), batch)
		done <- report
	}()

	<-entered
	_, err := o.RunBatch(context.Background(), batch)
	assert.ErrorIs(t, err, ErrBatchInFlight)

	close(release)
	report := <-done
	assert.Equal(t, 2, report.Succeeded)

	o.SetSleeper(func(ctx context.Context, d time.Duration) error { return nil })
	_, err = o.RunBatch(context.Background(), batch)
	assert.NoError(t, err, "a new batch may start once the previous one finished")
}

func TestRunBatchStopsOnCancellation(t *testing.T) {
	srv := newImageServer(t)
	o, _ := newTestOrchestrator(t, srv, &stubRemover{}, &MemorySink{}, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	o.SetSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})

	report, err := o.RunBatch(ctx, types.BatchRequest{FolderName: "F", Entries: []types.TreatmentRequest{
		{SourceURL: srv.URL + "/a.png", TreatmentKind: types.TreatmentResize, SequenceOrder: 1},
		{SourceURL: srv.URL + "/b.png", TreatmentKind: types.TreatmentResize, SequenceOrder: 2},
	}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Succeeded)
}

func TestProcessResize(t *testing.T) {
	srv := newImageServer(t)
	o, _ := newTestOrchestrator(t, srv, nil, nil, DefaultConfig())

	artifact, err := o.Process(context.Background(), types.TreatmentRequest{
		SourceURL:     srv.URL + "/wide.png",
		TreatmentKind: types.TreatmentResize,
		SequenceOrder: 4,
	}, "ACME01")
	require.NoError(t, err)
	assert.Equal(t, "05 01 2024/ACME01/04-wide.jpg", artifact.DestinationPath)
	assert.Equal(t, "image/jpeg", artifact.MimeType)
	assert.Equal(t, types.FormatJPEG, sniff.Detect(artifact.Data))

	img, err := processing.Decode(artifact.Data)
	require.NoError(t, err)
	assert.Equal(t, 400, img.Bounds().Dx())
	assert.Equal(t, 400, img.Bounds().Dy())
}

func TestProcessTransparentKeepsPNG(t *testing.T) {
	srv := newImageServer(t)
	o, _ := newTestOrchestrator(t, srv, &stubRemover{}, nil, DefaultConfig())

	artifact, err := o.Process(context.Background(), types.TreatmentRequest{
		SourceURL:       srv.URL + "/bag.jpg",
		TreatmentKind:   types.TreatmentRemoveBackground,
		ProductCategory: "accessoires",
		Transparent:     true,
	}, "F")
	require.NoError(t, err)
	assert.Equal(t, "05 01 2024/F/bag.png", artifact.DestinationPath)
	assert.Equal(t, "image/png", artifact.MimeType)
}

func TestProcessBridgesAVIFForRemoval(t *testing.T) {
	srv := newImageServer(t)
	remover := &stubRemover{}
	o, _ := newTestOrchestrator(t, srv, remover, nil, DefaultConfig())

	artifact, err := o.Process(context.Background(), types.TreatmentRequest{
		SourceURL:     srv.URL + "/bag.avif",
		TreatmentKind: types.TreatmentRemoveBackground,
		SequenceOrder: 2,
	}, "F")
	require.NoError(t, err)
	assert.Equal(t, "05 01 2024/F/02-bag.jpg", artifact.DestinationPath)

	require.Len(t, remover.calls, 1)
	assert.Equal(t, "bag.jpg", remover.calls[0].filename)
	assert.Equal(t, types.FormatJPEG, remover.calls[0].format)
}

func TestProcessStageErrors(t *testing.T) {
	srv := newImageServer(t)
	remover := &stubRemover{failOn: map[int]error{1: &removebg.ServiceError{Status: 400, Body: "bad image"}}}
	o, _ := newTestOrchestrator(t, srv, remover, nil, DefaultConfig())
	ctx := context.Background()

	var se *StageError

	_, err := o.Process(ctx, types.TreatmentRequest{SourceURL: srv.URL + "/missing.jpg", TreatmentKind: types.TreatmentResize}, "F")
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageFetch, se.Stage)

	_, err = o.Process(ctx, types.TreatmentRequest{SourceURL: srv.URL + "/a.jpg", TreatmentKind: "crop"}, "F")
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageTreat, se.Stage)

	_, err = o.Process(ctx, types.TreatmentRequest{SourceURL: srv.URL + "/a.jpg", TreatmentKind: types.TreatmentRemoveBackground}, "F")
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageTreat, se.Stage)
	var svc *removebg.ServiceError
	require.True(t, errors.As(err, &svc))
	assert.Equal(t, 400, svc.Status)

	noRemover, _ := newTestOrchestrator(t, srv, nil, nil, DefaultConfig())
	_, err = noRemover.Process(ctx, types.TreatmentRequest{SourceURL: srv.URL + "/a.jpg", TreatmentKind: types.TreatmentRemoveBackground}, "F")
	assert.Error(t, err)
}

func TestRunBatchWithoutSinkFailsDelivery(t *testing.T) {
	srv := newImageServer(t)
	o, _ := newTestOrchestrator(t, srv, nil, nil, DefaultConfig())

	report, err := o.RunBatch(context.Background(), types.BatchRequest{FolderName: "F", Entries: []types.TreatmentRequest{
		{SourceURL: srv.URL + "/a.png", TreatmentKind: types.TreatmentResize},
	}})
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed[0].Error, "deliver")
}

func TestRunBatchRejectsEmptyFolder(t *testing.T) {
	srv := newImageServer(t)
	sink := &MemorySink{}
	o, _ := newTestOrchestrator(t, srv, nil, sink, DefaultConfig())

	for _, folder := range []string{"", "   "} {
		report, err := o.RunBatch(context.Background(), types.BatchRequest{FolderName: folder, Entries: []types.TreatmentRequest{
			{SourceURL: srv.URL + "/a.png", TreatmentKind: types.TreatmentResize},
		}})
		assert.ErrorIs(t, err, ErrNoFolder)
		assert.Zero(t, report.Total)
	}
	assert.Empty(t, sink.Artifacts())

	_, err := o.RunBatch(context.Background(), types.BatchRequest{FolderName: "F"})
	assert.NoError(t, err, "the in-flight guard is not held after a rejected batch")
}

type stubClassifier struct {
	category string
	err      error
}

func (s stubClassifier) Classify(ctx context.Context, img image.Image) (string, error) {
	return s.category, s.err
}

func TestAutoCategory(t *testing.T) {
	srv := newImageServer(t)
	remover := &stubRemover{}
	o, _ := newTestOrchestrator(t, srv, remover, nil, DefaultConfig())
	req := types.TreatmentRequest{SourceURL: srv.URL + "/a.jpg", TreatmentKind: types.TreatmentRemoveBackground, ProductCategory: "auto"}

	_, err := o.Process(context.Background(), req, "F")
	require.NoError(t, err)

	o.SetClassifier(stubClassifier{category: removebg.CategoryTextile})
	_, err = o.Process(context.Background(), req, "F")
	require.NoError(t, err)

	o.SetClassifier(stubClassifier{err: errors.New("model offline")})
	_, err = o.Process(context.Background(), req, "F")
	require.NoError(t, err)

	require.Len(t, remover.calls, 3)
	assert.Equal(t, removebg.CategoryDefault, remover.calls[0].category)
	assert.Equal(t, removebg.CategoryTextile, remover.calls[1].category)
	assert.Equal(t, removebg.CategoryDefault, remover.calls[2].category)
}

func TestPreview(t *testing.T) {
	srv := newImageServer(t)
	o, _ := newTestOrchestrator(t, srv, &stubRemover{}, nil, DefaultConfig())

	artifact, err := o.Preview(context.Background(), PreviewRequest{ImageURL: srv.URL + "/a.jpg", Category: "textile"})
	require.NoError(t, err)
	assert.Empty(t, artifact.DestinationPath)
	assert.Equal(t, []byte("processed"), artifact.Data)
}

func TestPreviewTimeout(t *testing.T) {
	srv := newImageServer(t)
	cfg := DefaultConfig()
	cfg.PreviewTimeout = 30 * time.Millisecond
	o, _ := newTestOrchestrator(t, srv, &stubRemover{blockOn: true}, nil, cfg)

	_, err := o.Preview(context.Background(), PreviewRequest{ImageURL: srv.URL + "/a.jpg"})
	assert.ErrorIs(t, err, bridge.ErrTimeout)
}

func TestFileSink(t *testing.T) {
	root := t.TempDir()
	sink := NewFileSink(root)

	err := sink.Deliver(context.Background(), types.ProcessedArtifact{
		Data:            []byte("jpeg"),
		DestinationPath: "05 01 2024/ACME01/03-shoe.jpg",
	})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(root, "05 01 2024", "ACME01", "03-shoe.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), got)

	err = sink.Deliver(context.Background(), types.ProcessedArtifact{DestinationPath: "../escape.jpg"})
	assert.Error(t, err)
}
