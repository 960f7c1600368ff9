package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/catalog-shots/pkg/cropper"
	"github.com/menta2k/catalog-shots/pkg/discovery"
	"github.com/menta2k/catalog-shots/pkg/pipeline"
	"github.com/menta2k/catalog-shots/pkg/removebg"
	"github.com/menta2k/catalog-shots/pkg/types"
	"github.com/menta2k/catalog-shots/pkg/vision"
)

// Environment variables holding the removal service credentials
const (
	EnvAPIID     = "PIXIAN_API_ID"
	EnvAPISecret = "PIXIAN_API_SECRET"
)

// Config holds the application configuration
type Config struct {
	Discovery  discovery.Config `json:"discovery" yaml:"discovery"`
	Compositor CompositorConfig `json:"compositor" yaml:"compositor"`
	RemoveBG   RemoveBGConfig   `json:"removebg" yaml:"removebg"`
	Pipeline   PipelineConfig   `json:"pipeline" yaml:"pipeline"`
	Classifier ClassifierConfig `json:"classifier" yaml:"classifier"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// CompositorConfig holds configuration for local canvas composition
type CompositorConfig struct {
	MaxSize        int    `json:"max_size" yaml:"max_size"`
	Quality        int    `json:"quality" yaml:"quality"`
	Background     string `json:"background" yaml:"background"`
	AlphaThreshold uint8  `json:"alpha_threshold" yaml:"alpha_threshold"`
	WhiteThreshold uint8  `json:"white_threshold" yaml:"white_threshold"`
}

// RemoveBGConfig holds configuration for the removal service. Credentials
// come from the environment only and are never written back to disk.
type RemoveBGConfig struct {
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	TestMode        bool   `json:"test_mode" yaml:"test_mode"`
	JPEGQuality     int    `json:"jpeg_quality" yaml:"jpeg_quality"`
	BackgroundColor string `json:"background_color" yaml:"background_color"`
	TargetSize      int    `json:"target_size" yaml:"target_size"`

	APIID     string `json:"-" yaml:"-"`
	APISecret string `json:"-" yaml:"-"`
}

// PipelineConfig holds batch pacing and output settings
type PipelineConfig struct {
	PacingMinMS       int    `json:"pacing_min_ms" yaml:"pacing_min_ms"`
	PacingMaxMS       int    `json:"pacing_max_ms" yaml:"pacing_max_ms"`
	PreviewTimeoutSec int    `json:"preview_timeout_sec" yaml:"preview_timeout_sec"`
	OutputDir         string `json:"output_dir" yaml:"output_dir"`
}

// ClassifierConfig selects the optional category suggestion backend
type ClassifierConfig struct {
	Backend string `json:"backend" yaml:"backend"` // "", "ollama" or "llamacpp"
	URL     string `json:"url" yaml:"url"`
	Model   string `json:"model" yaml:"model"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // text or json
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Discovery: discovery.DefaultConfig(),
		Compositor: CompositorConfig{
			MaxSize:        cropper.DefaultMaxSize,
			Quality:        70,
			Background:     "#FFFFFF",
			AlphaThreshold: 5,
			WhiteThreshold: 245,
		},
		RemoveBG: RemoveBGConfig{
			Endpoint:        removebg.DefaultEndpoint,
			JPEGQuality:     90,
			BackgroundColor: "#FFFFFF",
			TargetSize:      2000,
		},
		Pipeline: PipelineConfig{
			PacingMinMS:       100,
			PacingMaxMS:       300,
			PreviewTimeoutSec: 30,
			OutputDir:         "./output",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file. Fields missing
// from the file keep their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration as JSON, or YAML for .yaml/.yml names
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func isYAML(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}

// LoadCredentials seeds the process environment from envFile, when it
// exists, and reads the removal service credentials from it
func (c *Config) LoadCredentials(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	c.RemoveBG.APIID = os.Getenv(EnvAPIID)
	c.RemoveBG.APISecret = os.Getenv(EnvAPISecret)
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Discovery.SizeThreshold < 0 {
		return fmt.Errorf("discovery.size_threshold must not be negative")
	}
	if c.Discovery.AreaThreshold < 0 {
		return fmt.Errorf("discovery.area_threshold must not be negative")
	}
	if c.Discovery.Concurrency < 0 {
		return fmt.Errorf("discovery.concurrency must not be negative")
	}

	if c.Compositor.MaxSize < 1 {
		return fmt.Errorf("compositor.max_size must be positive")
	}
	if c.Compositor.Quality < 1 || c.Compositor.Quality > 100 {
		return fmt.Errorf("compositor.quality must be between 1 and 100")
	}
	if _, err := ParseHexColor(c.Compositor.Background); err != nil {
		return fmt.Errorf("compositor.background: %w", err)
	}

	if c.RemoveBG.JPEGQuality < 1 || c.RemoveBG.JPEGQuality > 100 {
		return fmt.Errorf("removebg.jpeg_quality must be between 1 and 100")
	}
	if _, err := ParseHexColor(c.RemoveBG.BackgroundColor); err != nil {
		return fmt.Errorf("removebg.background_color: %w", err)
	}
	if c.RemoveBG.TargetSize < 0 {
		return fmt.Errorf("removebg.target_size must not be negative")
	}

	if c.Pipeline.PacingMinMS < 0 || c.Pipeline.PacingMaxMS < c.Pipeline.PacingMinMS {
		return fmt.Errorf("pipeline pacing must satisfy 0 <= pacing_min_ms <= pacing_max_ms")
	}
	if c.Pipeline.PreviewTimeoutSec < 1 {
		return fmt.Errorf("pipeline.preview_timeout_sec must be positive")
	}

	switch c.Classifier.Backend {
	case "", "ollama", "llamacpp":
	default:
		return fmt.Errorf("classifier.backend must be ollama or llamacpp, got %q", c.Classifier.Backend)
	}
	if c.Classifier.Backend != "" && c.Classifier.Model == "" {
		return fmt.Errorf("classifier.model is required when a backend is set")
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// ParseHexColor parses "#RRGGBB" or "RRGGBB" into an opaque color
func ParseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// CompositeConfig converts the compositor section for the cropper package
func (c *Config) CompositeConfig() cropper.CompositeConfig {
	bg, err := ParseHexColor(c.Compositor.Background)
	if err != nil {
		bg = color.NRGBA{255, 255, 255, 255}
	}
	return cropper.CompositeConfig{
		MaxSize:    c.Compositor.MaxSize,
		Quality:    c.Compositor.Quality,
		Background: bg,
		Format:     types.FormatJPEG,
	}
}

// DetectionConfig converts the compositor thresholds for the bounds detector
func (c *Config) DetectionConfig() vision.DetectionConfig {
	return vision.DetectionConfig{
		AlphaThreshold: c.Compositor.AlphaThreshold,
		WhiteThreshold: c.Compositor.WhiteThreshold,
	}
}

// RemoveBGDefaults converts the removebg section for the client
func (c *Config) RemoveBGDefaults() removebg.Defaults {
	d := removebg.Defaults{
		BackgroundColor: strings.TrimPrefix(c.RemoveBG.BackgroundColor, "#"),
		JPEGQuality:     c.RemoveBG.JPEGQuality,
		TestMode:        c.RemoveBG.TestMode,
	}
	if c.RemoveBG.TargetSize > 0 {
		d.TargetSize = &removebg.Size{Width: c.RemoveBG.TargetSize, Height: c.RemoveBG.TargetSize}
	}
	return d
}

// Credentials returns the removal service account
func (c *Config) Credentials() removebg.Credentials {
	return removebg.Credentials{ID: c.RemoveBG.APIID, Secret: c.RemoveBG.APISecret}
}

// PipelineConfig converts the pipeline section for the orchestrator
func (c *Config) PipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.PacingMin = time.Duration(c.Pipeline.PacingMinMS) * time.Millisecond
	cfg.PacingMax = time.Duration(c.Pipeline.PacingMaxMS) * time.Millisecond
	cfg.PreviewTimeout = time.Duration(c.Pipeline.PreviewTimeoutSec) * time.Second
	return cfg
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "catalog-shots", "config.json")
}
