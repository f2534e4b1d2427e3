package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/insights-cli/internal/export"
)

var (
	exportXLSX     string
	exportMarkdown string
	exportLimit    int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export latest consolidated records to XLSX and markdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if exportXLSX == "" && exportMarkdown == "" {
			return eris.New("at least one of --xlsx or --markdown-dir is required")
		}

		backend, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		insights, err := backend.ListLatest(ctx, exportLimit)
		if err != nil {
			return eris.Wrap(err, "list latest")
		}
		if len(insights) == 0 {
			zap.L().Info("nothing to export")
			return nil
		}

		if exportXLSX != "" {
			if err := export.WriteWorkbook(exportXLSX, insights); err != nil {
				return err
			}
			zap.L().Info("workbook written",
				zap.String("path", exportXLSX),
				zap.Int("contacts", len(insights)))
		}

		if exportMarkdown != "" {
			if err := export.WriteMarkdown(exportMarkdown, insights); err != nil {
				return err
			}
			zap.L().Info("markdown files written",
				zap.String("dir", exportMarkdown),
				zap.Int("contacts", len(insights)))
		}

		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportXLSX, "xlsx", "", "write a workbook to this path")
	exportCmd.Flags().StringVar(&exportMarkdown, "markdown-dir", "", "write per-contact markdown files to this directory")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 1000, "max contacts to export")
	rootCmd.AddCommand(exportCmd)
}
