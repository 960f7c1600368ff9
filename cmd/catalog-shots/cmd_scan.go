package main

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/menta2k/catalog-shots/internal/utils"
)

var scanFlags struct {
	render bool
	asJSON bool
}

var scanCmd = &cobra.Command{
	Use:   "scan <page-url>",
	Short: "List the large images on a product page",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func init() {
	f := scanCmd.Flags()
	f.BoolVar(&scanFlags.render, "render", false, "Load the page in headless Chrome before extracting")
	f.BoolVar(&scanFlags.asJSON, "json", false, "Print candidates as JSON")
}

func runScan(cmd *cobra.Command, args []string) error {
	svc, _, err := newService(nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	candidates, err := svc.Scan(cmd.Context(), args[0], scanFlags.render)
	if err != nil {
		return fmt.Errorf("scan %s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	if scanFlags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(candidates)
	}

	if len(candidates) == 0 {
		fmt.Fprintln(out, "No images above the size threshold.")
		return nil
	}
	w := table.NewWriter()
	w.SetOutputMirror(out)
	w.SetStyle(table.StyleLight)
	w.AppendHeader(table.Row{"#", "Size", "Format", "Weight", "URL"})
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	for i, c := range candidates {
		w.AppendRow(table.Row{i + 1, fmt.Sprintf("%dx%d", c.Width, c.Height), c.Format, utils.FormatWeight(c.WeightBytes), c.URL})
	}
	w.Render()
	return nil
}
