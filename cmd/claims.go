package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/insights-cli/internal/claims"
)

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "Inspect and clean up contact processing claims",
}

var claimsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List currently held claims",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := claims.NewManager(cfg.Claims.Dir, "inspect", cfg.Claims.TTL())
		if err != nil {
			return eris.Wrap(err, "open claims dir")
		}

		held, err := mgr.List()
		if err != nil {
			return eris.Wrap(err, "list claims")
		}
		if len(held) == 0 {
			zap.L().Info("no claims held")
			return nil
		}
		return printJSON(held)
	},
}

var claimsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Release claims older than the configured TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := claims.NewManager(cfg.Claims.Dir, "sweeper", cfg.Claims.TTL())
		if err != nil {
			return eris.Wrap(err, "open claims dir")
		}

		released, err := mgr.ReleaseExpired()
		if err != nil {
			return eris.Wrap(err, "sweep claims")
		}
		zap.L().Info("sweep complete", zap.Int("released", released))
		return nil
	},
}

func init() {
	claimsCmd.AddCommand(claimsListCmd, claimsSweepCmd)
	rootCmd.AddCommand(claimsCmd)
}
