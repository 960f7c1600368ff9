// Package catalogshots turns product pages into catalog-ready square photos.
//
// A Service wires the whole stack together from one configuration:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		catalogshots "github.com/menta2k/catalog-shots"
//		"github.com/menta2k/catalog-shots/internal/config"
//	)
//
//	func main() {
//		cfg := config.Default()
//		if err := cfg.LoadCredentials(".env"); err != nil {
//			log.Fatal(err)
//		}
//
//		svc, err := catalogshots.New(cfg, nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer svc.Close()
//
//		// Find the large product images on a page
//		candidates, err := svc.Scan(context.Background(), "https://shop.example/item/42", false)
//		if err != nil {
//			log.Fatal(err)
//		}
//		for _, c := range candidates {
//			fmt.Printf("%s %dx%d %s\n", c.Format, c.Width, c.Height, c.URL)
//		}
//	}
//
// The package consists of these main components:
//
// 1. Discovery (pkg/discovery): finds and measures candidate images on a page
// 2. Sniff (pkg/sniff): real container format and transfer weight of a URL
// 3. Vision (pkg/vision): object bounds detection on near-white or transparent backgrounds
// 4. Cropper (pkg/cropper): margin placement and local square composition
// 5. RemoveBG (pkg/removebg): client for the remote background-removal service
// 6. Pipeline (pkg/pipeline): preview and paced batch export to a delivery sink
//
// Category suggestions come from an optional local vision model served by
// Ollama or llama.cpp (pkg/classify).
package catalogshots

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/catalog-shots/internal/config"
	"github.com/menta2k/catalog-shots/internal/logging"
	"github.com/menta2k/catalog-shots/pkg/analyzer"
	"github.com/menta2k/catalog-shots/pkg/classify"
	"github.com/menta2k/catalog-shots/pkg/client"
	"github.com/menta2k/catalog-shots/pkg/cropper"
	"github.com/menta2k/catalog-shots/pkg/discovery"
	"github.com/menta2k/catalog-shots/pkg/llamacpp"
	"github.com/menta2k/catalog-shots/pkg/ollama"
	"github.com/menta2k/catalog-shots/pkg/pipeline"
	"github.com/menta2k/catalog-shots/pkg/processing"
	"github.com/menta2k/catalog-shots/pkg/removebg"
	"github.com/menta2k/catalog-shots/pkg/types"
	"github.com/menta2k/catalog-shots/pkg/vision"
)

// Version of the catalog-shots library
const Version = "1.0.0"

// renderSettle is how long a rendered page may keep loading images after
// the document is ready
const renderSettle = 2 * time.Second

// Service provides a high-level interface over discovery and treatment
type Service struct {
	config       *config.Config
	analyzer     *analyzer.ImageAnalyzer
	detector     *vision.BoundsDetector
	remover      *removebg.Client
	orchestrator *pipeline.Orchestrator
	static       *discovery.Scanner
	rendered     *discovery.Scanner
	log          logrus.FieldLogger
}

// New validates cfg and builds a Service. A nil log discards output.
func New(cfg *config.Config, log logrus.FieldLogger) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if log == nil {
		log = logging.Discard()
	}

	httpClient := &http.Client{Timeout: time.Minute}
	userAgent := cfg.Discovery.UserAgent
	if userAgent == "" {
		userAgent = processing.DefaultUserAgent
	}

	detector := vision.NewWithConfig(cfg.DetectionConfig())
	compositor := cropper.NewWithConfig(cfg.CompositeConfig())
	compositor.SetDetector(detector)

	remover := removebg.NewClient(cfg.RemoveBG.Endpoint, cfg.Credentials(), cfg.RemoveBGDefaults(), log.WithField("component", "removebg"))

	var sink pipeline.Sink
	if cfg.Pipeline.OutputDir != "" {
		sink = pipeline.NewFileSink(cfg.Pipeline.OutputDir)
	}

	orch := pipeline.New(
		processing.NewProcessor(httpClient, userAgent, log.WithField("component", "processing")),
		compositor,
		remover,
		sink,
		cfg.PipelineConfig(),
		log.WithField("component", "pipeline"),
	)

	s := &Service{
		config:       cfg,
		analyzer:     analyzer.New(),
		detector:     detector,
		remover:      remover,
		orchestrator: orch,
		static: discovery.NewScanner(
			discovery.NewHTMLSource(httpClient, userAgent, cfg.Discovery.Attribute),
			httpClient, cfg.Discovery, log.WithField("component", "discovery"),
		),
		rendered: discovery.NewScanner(
			discovery.NewChromeSource(cfg.Discovery.Attribute, renderSettle),
			httpClient, cfg.Discovery, log.WithField("component", "discovery"),
		),
		log: log,
	}

	classifier, err := newClassifier(cfg.Classifier)
	if err != nil {
		orch.Close()
		return nil, err
	}
	if classifier != nil {
		orch.SetClassifier(classifier)
	}
	return s, nil
}

func newClassifier(cfg config.ClassifierConfig) (classify.Classifier, error) {
	var (
		vc  client.VisionClient
		err error
	)
	switch cfg.Backend {
	case "":
		return nil, nil
	case "ollama":
		url := cfg.URL
		if url == "" {
			url = ollama.DefaultURL
		}
		vc, err = ollama.NewClient(url)
	case "llamacpp":
		url := cfg.URL
		if url == "" {
			url = llamacpp.DefaultURL
		}
		vc, err = llamacpp.NewClient(url)
	default:
		return nil, fmt.Errorf("unknown classifier backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Backend, err)
	}
	return classify.NewVisionClassifier(vc, cfg.Model), nil
}

// Close releases background workers
func (s *Service) Close() {
	s.orchestrator.Close()
}

// SetNotifier registers the callback fired when removal credits run out
func (s *Service) SetNotifier(n pipeline.Notifier) {
	s.orchestrator.SetNotifier(n)
}

// Scan lists the large images on pageURL, largest first. render loads the
// page in a headless browser so script-inserted images are found too.
func (s *Service) Scan(ctx context.Context, pageURL string, render bool) ([]types.ImageCandidate, error) {
	if render {
		return s.rendered.Scan(ctx, pageURL)
	}
	return s.static.Scan(ctx, pageURL)
}

// Evaluate measures and filters an explicit list of image URLs
func (s *Service) Evaluate(ctx context.Context, urls []string) ([]types.ImageCandidate, error) {
	return s.static.Evaluate(ctx, urls)
}

// Preview treats one image without delivering it
func (s *Service) Preview(ctx context.Context, req pipeline.PreviewRequest) (*types.ProcessedArtifact, error) {
	return s.orchestrator.Preview(ctx, req)
}

// RunBatch processes and delivers a batch into the configured output folder
func (s *Service) RunBatch(ctx context.Context, batch types.BatchRequest) (types.BatchReport, error) {
	return s.orchestrator.RunBatch(ctx, batch)
}

// Categories lists the known product categories
func (s *Service) Categories() []string {
	return removebg.Categories()
}

// Inspection describes how a local image would be laid out on the canvas
type Inspection struct {
	Info      analyzer.ImageInfo    `json:"info"`
	Bounds    types.ObjectBounds    `json:"bounds"`
	Margin    types.MarginSpec      `json:"margin"`
	Placement types.PlacementResult `json:"placement"`
	Overlay   image.Image           `json:"-"`
}

// Inspect loads a local image, detects its object bounds and computes the
// placement for margin. A nil margin uses the shadow composition margin.
func (s *Service) Inspect(path string, margin *types.MarginSpec) (*Inspection, error) {
	img, err := s.analyzer.LoadImage(path)
	if err != nil {
		return nil, err
	}
	if err := s.analyzer.ValidateImage(img); err != nil {
		return nil, fmt.Errorf("image validation failed: %w", err)
	}

	m := types.ShadowMargin
	if margin != nil {
		m = margin.OrDefault()
	}

	bounds := s.detector.DetectImage(img)
	return &Inspection{
		Info:      s.analyzer.GetImageInfo(img),
		Bounds:    bounds,
		Margin:    m,
		Placement: cropper.CalculatePlacement(bounds, m, s.config.Compositor.MaxSize),
		Overlay:   processing.DebugOverlay(img, bounds),
	}, nil
}

// LoadImage loads a local image file of any supported format
func (s *Service) LoadImage(path string) (image.Image, error) {
	return s.analyzer.LoadImage(path)
}

// SaveImage writes img to path, choosing the encoder by extension
func (s *Service) SaveImage(img image.Image, path string) error {
	return s.analyzer.SaveImage(img, path)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
