package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	catalogshots "github.com/menta2k/catalog-shots"
	"github.com/menta2k/catalog-shots/internal/config"
	"github.com/menta2k/catalog-shots/internal/logging"
)

// version is set at build time via -ldflags.
var version = catalogshots.Version

var globalFlags struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
}

var rootCmd = &cobra.Command{
	Use:   "catalog-shots",
	Short: "Product photo discovery and catalog export",
	Long: "catalog-shots scans product pages for large images, previews treatments\n" +
		"and exports square catalog photos with local composition or remote background removal.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&globalFlags.configPath, "config", "", "Config file (JSON or YAML; default "+config.GetConfigPath()+")")
	pf.StringVar(&globalFlags.envFile, "env-file", ".env", "Env file with PIXIAN_API_ID and PIXIAN_API_SECRET")
	pf.StringVar(&globalFlags.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	pf.StringVar(&globalFlags.logFormat, "log-format", "", "Log format override (text, json)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.Version = version
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist, then applies flag overrides and credentials.
func loadConfig() (*config.Config, error) {
	path := globalFlags.configPath
	explicit := path != ""
	if !explicit {
		path = config.GetConfigPath()
	}

	cfg, err := config.LoadFromFile(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
	default:
		return nil, err
	}

	if globalFlags.logLevel != "" {
		cfg.Log.Level = globalFlags.logLevel
	}
	if globalFlags.logFormat != "" {
		cfg.Log.Format = globalFlags.logFormat
	}
	if err := cfg.LoadCredentials(globalFlags.envFile); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format)
}

// newService builds a Service from the loaded config. mutate may adjust
// the config before the service is wired.
func newService(mutate func(*config.Config)) (*catalogshots.Service, *logrus.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if mutate != nil {
		mutate(cfg)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	svc, err := catalogshots.New(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	svc.SetNotifier(func(err error) {
		fmt.Fprintf(os.Stderr, "background removal credits exhausted: %v\n", err)
	})
	return svc, log, nil
}
