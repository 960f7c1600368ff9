package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/catalog-shots/internal/config"
	"github.com/menta2k/catalog-shots/pkg/types"
)

var batchFlags struct {
	outDir string
	folder string
}

var batchCmd = &cobra.Command{
	Use:   "batch <manifest>",
	Short: "Process and export every entry of a batch manifest",
	Long: "The manifest is a JSON or YAML batch request: a folder_name and a list\n" +
		"of entries with source_url, filename, treatment, category and order.",
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	f := batchCmd.Flags()
	f.StringVar(&batchFlags.outDir, "out", "", "Output directory (overrides pipeline.output_dir)")
	f.StringVar(&batchFlags.folder, "folder", "", "Folder name (overrides the manifest)")
}

func loadManifest(path string) (types.BatchRequest, error) {
	var batch types.BatchRequest
	data, err := os.ReadFile(path)
	if err != nil {
		return batch, fmt.Errorf("read manifest: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &batch)
	default:
		err = json.Unmarshal(data, &batch)
	}
	if err != nil {
		return batch, fmt.Errorf("parse manifest: %w", err)
	}
	return batch, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	batch, err := loadManifest(args[0])
	if err != nil {
		return err
	}
	if batchFlags.folder != "" {
		batch.FolderName = batchFlags.folder
	}
	if len(batch.Entries) == 0 {
		return fmt.Errorf("manifest %s has no entries", args[0])
	}

	svc, log, err := newService(func(c *config.Config) {
		if batchFlags.outDir != "" {
			c.Pipeline.OutputDir = batchFlags.outDir
		}
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	log.WithField("entries", len(batch.Entries)).Info("starting batch")
	report, err := svc.RunBatch(cmd.Context(), batch)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Delivered %d of %d\n", report.Succeeded, report.Total)
	for _, p := range report.Delivered {
		fmt.Fprintf(out, "  ok    %s\n", p)
	}
	for _, f := range report.Failed {
		fmt.Fprintf(out, "  fail  #%d %s: %s\n", f.Order, f.SourceURL, f.Error)
	}
	if report.QuotaExhausted {
		fmt.Fprintln(out, "Background removal credits ran out during the batch.")
	}
	if err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	return nil
}
