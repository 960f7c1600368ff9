// Package pipeline turns treatment requests into delivered artifacts.
//
// Each request moves through fetch, normalize, treat and deliver. Any stage
// failure ends that item only: a batch records the failure and moves on.
// Batches run strictly one item at a time with a randomized pause between
// deliveries so neither the source site nor the removal service sees bursts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/catalog-shots/pkg/bridge"
	"github.com/menta2k/catalog-shots/pkg/classify"
	"github.com/menta2k/catalog-shots/pkg/cropper"
	"github.com/menta2k/catalog-shots/pkg/processing"
	"github.com/menta2k/catalog-shots/pkg/removebg"
	"github.com/menta2k/catalog-shots/pkg/types"
)

// CategoryAuto asks the classifier for a category
const CategoryAuto = "auto"

// Remover is the remote background-removal collaborator
type Remover interface {
	OptionsFor(category string, override *types.MarginSpec, transparent bool) removebg.Options
	RemoveBackground(ctx context.Context, data []byte, filename string, opts removebg.Options) (*removebg.Result, error)
}

// Notifier is told when the removal service reports exhausted credits
type Notifier func(err error)

// Config holds batch pacing and preview limits
type Config struct {
	PacingMin      time.Duration
	PacingMax      time.Duration
	PreviewTimeout time.Duration
	PreviewWorkers int
}

// DefaultConfig paces deliveries 100-300ms apart and bounds previews to 30s
func DefaultConfig() Config {
	return Config{
		PacingMin:      100 * time.Millisecond,
		PacingMax:      300 * time.Millisecond,
		PreviewTimeout: 30 * time.Second,
		PreviewWorkers: 2,
	}
}

// PreviewRequest is a single interactive treatment with no destination
type PreviewRequest struct {
	ImageURL       string              `json:"image_url"`
	Category       string              `json:"category"`
	MarginOverride *types.MarginSpec   `json:"margin_override,omitempty"`
	Treatment      types.TreatmentKind `json:"treatment,omitempty"`
	Transparent    bool                `json:"transparent,omitempty"`
}

// Orchestrator runs treatment requests end to end
type Orchestrator struct {
	processor  *processing.Processor
	compositor *cropper.Compositor
	remover    Remover
	classifier classify.Classifier
	sink       Sink
	notify     Notifier
	config     Config
	log        logrus.FieldLogger

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(lo, hi time.Duration) time.Duration

	inFlight atomic.Bool
	previews *bridge.Bus[PreviewRequest, *types.ProcessedArtifact]
}

// New creates an orchestrator. remover may be nil when only local treatments
// are used; sink may be nil when only Process and Preview are used.
func New(processor *processing.Processor, compositor *cropper.Compositor, remover Remover, sink Sink, config Config, log logrus.FieldLogger) *Orchestrator {
	if processor == nil {
		processor = processing.NewProcessor(nil, "", log)
	}
	if compositor == nil {
		compositor = cropper.New()
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if config.PacingMax < config.PacingMin {
		config.PacingMax = config.PacingMin
	}

	o := &Orchestrator{
		processor:  processor,
		compositor: compositor,
		remover:    remover,
		sink:       sink,
		config:     config,
		log:        log,
		now:        time.Now,
		sleep:      sleepCtx,
		jitter:     uniform,
	}
	o.previews = bridge.New("preview", o.preview, bridge.Options{
		Workers: config.PreviewWorkers,
		Timeout: config.PreviewTimeout,
	}, log)
	return o
}

// SetClassifier enables the "auto" category
func (o *Orchestrator) SetClassifier(c classify.Classifier) {
	o.classifier = c
}

// SetNotifier registers the credit-exhausted callback
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.notify = n
}

// SetClock replaces the time source used for destination folders
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// SetSleeper replaces the pacing sleep
func (o *Orchestrator) SetSleeper(sleep func(ctx context.Context, d time.Duration) error) {
	o.sleep = sleep
}

// Close stops the preview workers
func (o *Orchestrator) Close() {
	o.previews.Close()
}

// Process fetches, normalizes and treats one request and returns its
// artifact. Nothing is delivered.
func (o *Orchestrator) Process(ctx context.Context, req types.TreatmentRequest, folderName string) (*types.ProcessedArtifact, error) {
	if !req.TreatmentKind.Valid() {
		return nil, stageErr(StageTreat, fmt.Errorf("unknown treatment %q", req.TreatmentKind))
	}
	if req.TreatmentKind == types.TreatmentRemoveBackground && o.remover == nil {
		return nil, stageErr(StageTreat, errors.New("no background removal client configured"))
	}

	src, err := o.processor.Fetch(ctx, req.SourceURL)
	if err != nil {
		return nil, stageErr(StageFetch, err)
	}
	if req.Filename != "" {
		src.Filename = req.Filename
	}
	originalName := src.Filename

	src, err = o.processor.Normalize(src, acceptsFor(req.TreatmentKind))
	if err != nil {
		return nil, stageErr(StageNormalize, err)
	}

	data, mimeType, err := o.treat(ctx, req, src)
	if err != nil {
		return nil, stageErr(StageTreat, err)
	}

	ext := ".jpg"
	if mimeType == types.FormatPNG.MimeType() {
		ext = ".png"
	}
	return &types.ProcessedArtifact{
		Data:            data,
		DestinationPath: DestinationPath(o.now(), folderName, req.SequenceOrder, originalName, ext),
		MimeType:        mimeType,
	}, nil
}

// acceptsFor reports which inputs a treatment takes as-is. The local
// decoders read AVIF; the removal service does not.
func acceptsFor(kind types.TreatmentKind) func(types.Format) bool {
	return func(f types.Format) bool {
		return f != types.FormatAVIF || kind != types.TreatmentRemoveBackground
	}
}

func (o *Orchestrator) treat(ctx context.Context, req types.TreatmentRequest, src *processing.Source) ([]byte, string, error) {
	switch req.TreatmentKind {
	case types.TreatmentResize, types.TreatmentLocalShadowCompose:
		img, err := o.processor.Decode(src.Data)
		if err != nil {
			return nil, "", fmt.Errorf("failed to decode source: %w", err)
		}

		var res cropper.CompositeResult
		if req.TreatmentKind == types.TreatmentResize {
			res, err = o.compositor.Resize(img)
		} else {
			res, err = o.compositor.ShadowCompose(img, req.MarginOverride)
		}
		if err != nil {
			return nil, "", err
		}

		data, err := o.compositor.Encode(res.Image)
		if err != nil {
			return nil, "", err
		}
		return data, o.compositor.Config().Format.MimeType(), nil

	default:
		category := o.resolveCategory(ctx, req.ProductCategory, src)
		opts := o.remover.OptionsFor(category, req.MarginOverride, req.Transparent)
		res, err := o.remover.RemoveBackground(ctx, src.Data, src.Filename, opts)
		if err != nil {
			if removebg.IsQuotaExhausted(err) {
				o.quotaExhausted(err)
			}
			return nil, "", err
		}
		return res.Data, res.MimeType, nil
	}
}

func (o *Orchestrator) resolveCategory(ctx context.Context, category string, src *processing.Source) string {
	if !strings.EqualFold(strings.TrimSpace(category), CategoryAuto) {
		return category
	}
	if o.classifier == nil {
		return removebg.CategoryDefault
	}

	img, err := o.processor.Decode(src.Data)
	if err == nil {
		var suggested string
		if suggested, err = o.classifier.Classify(ctx, img); err == nil {
			o.log.WithFields(logrus.Fields{"filename": src.Filename, "category": suggested}).Debug("category suggested")
			return suggested
		}
	}
	o.log.WithError(err).WithField("filename", src.Filename).Warn("category suggestion failed, using default")
	return removebg.CategoryDefault
}

func (o *Orchestrator) quotaExhausted(err error) {
	o.log.WithFields(logrus.Fields{
		"notice": "credit_exhausted",
		"error":  err.Error(),
	}).Warn("background removal credits exhausted")
	if o.notify != nil {
		o.notify(err)
	}
}

// Preview processes a single image for interactive display. It is bounded
// by the preview timeout.
func (o *Orchestrator) Preview(ctx context.Context, req PreviewRequest) (*types.ProcessedArtifact, error) {
	return o.previews.Call(ctx, req)
}

func (o *Orchestrator) preview(ctx context.Context, req PreviewRequest) (*types.ProcessedArtifact, error) {
	kind := req.Treatment
	if kind == "" {
		kind = types.TreatmentRemoveBackground
	}
	artifact, err := o.Process(ctx, types.TreatmentRequest{
		SourceURL:       req.ImageURL,
		TreatmentKind:   kind,
		ProductCategory: req.Category,
		MarginOverride:  req.MarginOverride,
		Transparent:     req.Transparent,
	}, "")
	if err != nil {
		return nil, err
	}
	artifact.DestinationPath = ""
	return artifact, nil
}

// RunBatch processes every entry in sequence order and delivers each
// artifact to the sink. Item failures are collected in the report. The
// returned error is ErrNoFolder, ErrBatchInFlight or the context error
// when cancelled.
func (o *Orchestrator) RunBatch(ctx context.Context, batch types.BatchRequest) (types.BatchReport, error) {
	// Delivered paths are always date/folder/name
	if strings.TrimSpace(batch.FolderName) == "" {
		return types.BatchReport{}, ErrNoFolder
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		return types.BatchReport{}, ErrBatchInFlight
	}
	defer o.inFlight.Store(false)

	entries := append([]types.TreatmentRequest(nil), batch.Entries...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].SequenceOrder < entries[j].SequenceOrder
	})

	report := types.BatchReport{
		Total:     len(entries),
		Delivered: []string{},
		Failed:    []types.ItemFailure{},
	}
	log := o.log.WithField("folder", strings.TrimSpace(batch.FolderName))
	log.WithField("items", len(entries)).Info("batch started")

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		path, err := o.runItem(ctx, entry, batch.FolderName)
		itemLog := log.WithFields(logrus.Fields{"url": entry.SourceURL, "order": entry.SequenceOrder})
		if err != nil {
			if removebg.IsQuotaExhausted(err) {
				report.QuotaExhausted = true
			}
			report.Failed = append(report.Failed, types.ItemFailure{
				SourceURL: entry.SourceURL,
				Order:     entry.SequenceOrder,
				Error:     err.Error(),
			})
			itemLog.WithError(err).Error("item failed")
		} else {
			report.Succeeded++
			report.Delivered = append(report.Delivered, path)
			itemLog.WithField("path", path).Info("item delivered")
		}

		if i < len(entries)-1 {
			if err := o.sleep(ctx, o.jitter(o.config.PacingMin, o.config.PacingMax)); err != nil {
				return report, err
			}
		}
	}

	log.WithFields(logrus.Fields{
		"succeeded": report.Succeeded,
		"failed":    len(report.Failed),
	}).Info("batch finished")
	return report, nil
}

func (o *Orchestrator) runItem(ctx context.Context, entry types.TreatmentRequest, folder string) (string, error) {
	artifact, err := o.Process(ctx, entry, folder)
	if err != nil {
		return "", err
	}
	if o.sink == nil {
		return "", stageErr(StageDeliver, errors.New("no delivery sink configured"))
	}
	if err := o.sink.Deliver(ctx, *artifact); err != nil {
		return "", stageErr(StageDeliver, err)
	}
	return artifact.DestinationPath, nil
}

func uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
