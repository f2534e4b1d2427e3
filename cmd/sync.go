package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var syncLimit int

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Re-push latest consolidated records to Notion and Salesforce",
	Long: `Push the latest consolidated record for each contact to every configured
destination. Useful after enabling a new destination or when downstream
copies have drifted; the committed records are the source of truth.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		backend, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		syncer, err := initSyncer(ctx)
		if err != nil {
			return err
		}
		if !syncer.Enabled() {
			return eris.New("no sync destination configured")
		}

		insights, err := backend.ListLatest(ctx, syncLimit)
		if err != nil {
			return eris.Wrap(err, "list latest")
		}
		if len(insights) == 0 {
			zap.L().Info("nothing to sync")
			return nil
		}

		res := syncer.Resync(ctx, insights)
		zap.L().Info("resync finished",
			zap.Int("contacts", len(insights)),
			zap.Int("notion_synced", res.NotionSynced),
			zap.Int("notion_failed", res.NotionFailed),
			zap.Int("salesforce_synced", res.SalesforceSynced),
			zap.Int("salesforce_failed", res.SalesforceFailed))
		return printJSON(res)
	},
}

func init() {
	syncCmd.Flags().IntVar(&syncLimit, "limit", 1000, "max contacts to push")
	rootCmd.AddCommand(syncCmd)
}
