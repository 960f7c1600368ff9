package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/menta2k/catalog-shots/internal/utils"
	"github.com/menta2k/catalog-shots/pkg/removebg"
	"github.com/menta2k/catalog-shots/pkg/types"
)

var inspectFlags struct {
	margin   string
	category string
	debug    bool
	outDir   string
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <image-file>",
	Short: "Show detected object bounds and canvas placement for a local image",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	f := inspectCmd.Flags()
	f.StringVar(&inspectFlags.margin, "margin", "", `Margin, e.g. "5%" or "0% 7% 24% 7%" (default: shadow margin)`)
	f.StringVar(&inspectFlags.category, "category", "", "Use the margin preset of a product category")
	f.BoolVar(&inspectFlags.debug, "debug", false, "Write a bounds overlay image")
	f.StringVar(&inspectFlags.outDir, "out", "", "Directory for the overlay (default: next to the input)")
}

func runInspect(cmd *cobra.Command, args []string) error {
	var margin *types.MarginSpec
	switch {
	case inspectFlags.margin != "":
		m, err := removebg.ParseMarginString(inspectFlags.margin)
		if err != nil {
			return fmt.Errorf("invalid --margin: %w", err)
		}
		margin = &m
	case inspectFlags.category != "":
		m := removebg.PresetFor(inspectFlags.category, nil).Margin
		margin = &m
	}

	svc, _, err := newService(nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	inspection, err := svc.Inspect(args[0], margin)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(inspection); err != nil {
		return err
	}

	if inspectFlags.debug {
		dir := inspectFlags.outDir
		if dir == "" {
			dir = filepath.Dir(args[0])
		}
		dbg := utils.GenerateOutputFilename(args[0], dir, "", "_bounds", "png")
		if err := svc.SaveImage(inspection.Overlay, dbg); err != nil {
			return fmt.Errorf("save overlay: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", dbg)
	}
	return nil
}
