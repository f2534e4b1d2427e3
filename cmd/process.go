package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/insights-cli/internal/processor"
	"github.com/sells-group/insights-cli/internal/runlog"
)

var (
	processContact string
	processAll     bool
	processLimit   int
	processWorkers int
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process unprocessed source records into consolidated insights",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if processContact == "" && !processAll {
			return eris.New("either --contact or --all is required")
		}

		runID := time.Now().UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
		writer, err := runlog.NewWriter(cfg.RunLog.Dir, runID)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, func(ev runlog.Event) {
			if err := writer.AppendEvent(ev); err != nil {
				zap.L().Warn("append run event failed", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
		defer env.Close()

		var contactIDs []string
		if processContact != "" {
			contactIDs = []string{processContact}
		} else {
			contactIDs, err = env.backend.PendingContacts(ctx, processLimit)
			if err != nil {
				return eris.Wrap(err, "list pending contacts")
			}
			if len(contactIDs) == 0 {
				zap.L().Info("no contacts with unprocessed records")
				return nil
			}
		}

		workers := processWorkers
		if workers == 0 {
			workers = cfg.Batch.MaxConcurrentContacts
		}

		zap.L().Info("starting run",
			zap.String("run_id", runID),
			zap.Int("contacts", len(contactIDs)),
			zap.Int("workers", workers),
		)

		runner := processor.NewRunner(env.proc, env.claimer, writer, workers)
		summary, err := runner.Run(ctx, runID, contactIDs)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	processCmd.Flags().StringVar(&processContact, "contact", "", "process a single contact ID")
	processCmd.Flags().BoolVar(&processAll, "all", false, "process every contact with unprocessed records")
	processCmd.Flags().IntVar(&processLimit, "limit", 0, "max contacts to process with --all (default 1000)")
	processCmd.Flags().IntVar(&processWorkers, "workers", 0, "concurrent contacts (default from config)")
	rootCmd.AddCommand(processCmd)
}
