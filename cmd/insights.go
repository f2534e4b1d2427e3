package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	insightsContact  string
	insightsLimit    int
	insightsMarkdown bool
)

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Inspect consolidated insight records",
}

var insightsLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the latest consolidated record for a contact",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		backend, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		latest, err := backend.GetLatest(ctx, insightsContact)
		if err != nil {
			return eris.Wrap(err, "get latest")
		}
		if latest == nil {
			return eris.Errorf("no consolidated record for contact %s", insightsContact)
		}

		if insightsMarkdown {
			fmt.Println(latest.Sections.Markdown())
			return nil
		}
		return printJSON(latest)
	},
}

var insightsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show all versions for a contact, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		backend, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		history, err := backend.History(ctx, insightsContact)
		if err != nil {
			return eris.Wrap(err, "get history")
		}
		return printJSON(history)
	},
}

var insightsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the latest record per contact",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		backend, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		latest, err := backend.ListLatest(ctx, insightsLimit)
		if err != nil {
			return eris.Wrap(err, "list latest")
		}
		return printJSON(latest)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	insightsLatestCmd.Flags().StringVar(&insightsContact, "contact", "", "contact ID (required)")
	insightsLatestCmd.Flags().BoolVar(&insightsMarkdown, "markdown", false, "print the sections as markdown")
	_ = insightsLatestCmd.MarkFlagRequired("contact")

	insightsHistoryCmd.Flags().StringVar(&insightsContact, "contact", "", "contact ID (required)")
	_ = insightsHistoryCmd.MarkFlagRequired("contact")

	insightsListCmd.Flags().IntVar(&insightsLimit, "limit", 100, "max contacts to list")

	insightsCmd.AddCommand(insightsLatestCmd, insightsHistoryCmd, insightsListCmd)
	rootCmd.AddCommand(insightsCmd)
}
