package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/menta2k/catalog-shots/internal/utils"
	"github.com/menta2k/catalog-shots/pkg/pipeline"
	"github.com/menta2k/catalog-shots/pkg/removebg"
	"github.com/menta2k/catalog-shots/pkg/types"
)

var previewFlags struct {
	category    string
	treatment   string
	margin      string
	transparent bool
	output      string
	debug       bool
}

var previewCmd = &cobra.Command{
	Use:   "preview <image-url>",
	Short: "Treat one image and write the result without exporting it",
	Args:  cobra.ExactArgs(1),
	RunE:  runPreview,
}

func init() {
	f := previewCmd.Flags()
	f.StringVar(&previewFlags.category, "category", removebg.CategoryDefault,
		"Product category ("+strings.Join(removebg.Categories(), ", ")+", or auto)")
	f.StringVar(&previewFlags.treatment, "treatment", string(types.TreatmentRemoveBackground),
		"Treatment: resize, localShadowCompose or removeBackground")
	f.StringVar(&previewFlags.margin, "margin", "", `Margin override, e.g. "5%" or "0% 7% 24% 7%"`)
	f.BoolVar(&previewFlags.transparent, "transparent", false, "Request a transparent PNG")
	f.StringVarP(&previewFlags.output, "output", "o", "", "Output file (default preview.<ext>)")
	f.BoolVar(&previewFlags.debug, "debug", false, "Also write a bounds overlay of the result")
}

func runPreview(cmd *cobra.Command, args []string) error {
	req := pipeline.PreviewRequest{
		ImageURL:    args[0],
		Category:    previewFlags.category,
		Treatment:   types.TreatmentKind(previewFlags.treatment),
		Transparent: previewFlags.transparent,
	}
	if !req.Treatment.Valid() {
		return fmt.Errorf("unknown treatment %q", previewFlags.treatment)
	}
	if previewFlags.margin != "" {
		m, err := removebg.ParseMarginString(previewFlags.margin)
		if err != nil {
			return fmt.Errorf("invalid --margin: %w", err)
		}
		req.MarginOverride = &m
	}

	svc, log, err := newService(nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	art, err := svc.Preview(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("preview: %w", err)
	}

	path := previewFlags.output
	if path == "" {
		ext := ".jpg"
		if art.MimeType == "image/png" {
			ext = ".png"
		}
		path = "preview" + ext
	}
	if err := os.WriteFile(path, art.Data, 0644); err != nil {
		return fmt.Errorf("write preview: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %s)\n", path, art.MimeType, utils.FormatFileSize(int64(len(art.Data))))

	if previewFlags.debug {
		inspection, err := svc.Inspect(path, req.MarginOverride)
		if err != nil {
			log.WithError(err).Warn("debug overlay skipped")
			return nil
		}
		dbg := utils.GenerateOutputFilename(path, filepath.Dir(path), "", "_bounds", "png")
		if err := svc.SaveImage(inspection.Overlay, dbg); err != nil {
			log.WithError(err).Warn("debug overlay save failed")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", dbg)
	}
	return nil
}
