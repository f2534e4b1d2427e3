package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/insights-cli/internal/contextbuild"
	"github.com/sells-group/insights-cli/internal/processor"
)

var (
	previewContact    string
	previewShowPrompt bool
)

// previewBatch is one batch's dry-run outcome.
type previewBatch struct {
	Batch   string                 `json:"batch"`
	Records int                    `json:"records"`
	Skipped bool                   `json:"skipped"`
	Stats   contextbuild.TokenStats `json:"stats"`
	Prompt  string                 `json:"prompt,omitempty"`
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Dry-run prompt assembly for a contact without calling the API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		backend, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		builder, err := initBuilder()
		if err != nil {
			return err
		}

		latest, err := backend.GetLatest(ctx, previewContact)
		if err != nil {
			return eris.Wrap(err, "load latest insight")
		}
		currentSummary := ""
		if latest != nil {
			currentSummary = latest.Sections.Markdown()
		}

		var out []previewBatch
		for _, key := range processor.BatchKeys(cfg.Processing.Sources) {
			records, err := backend.FetchBatch(ctx, previewContact, key.SourceType, key.Subtype)
			if err != nil {
				return eris.Wrapf(err, "fetch batch %s", key)
			}
			if len(records) == 0 {
				continue
			}

			built, err := builder.Build(contextbuild.BuildInput{
				Batch:          key,
				CurrentSummary: currentSummary,
				Records:        records,
			})
			if err != nil {
				return eris.Wrapf(err, "build batch %s", key)
			}

			pb := previewBatch{
				Batch:   key.String(),
				Records: len(records),
				Skipped: built.Skipped,
				Stats:   built.Stats,
			}
			if previewShowPrompt && !built.Skipped {
				pb.Prompt = built.Prompt
			}
			out = append(out, pb)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	previewCmd.Flags().StringVar(&previewContact, "contact", "", "contact ID (required)")
	previewCmd.Flags().BoolVar(&previewShowPrompt, "show-prompt", false, "include the rendered prompt text")
	_ = previewCmd.MarkFlagRequired("contact")
	rootCmd.AddCommand(previewCmd)
}
