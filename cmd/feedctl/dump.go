package main

import (
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/message-feed-client/pkg/pagination"
	"github.com/spf13/cobra"
)

func newDumpCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Fetch every message and write them as JSON lines",
		Long: `Fetch every page of the feed in parallel and write the messages to
stdout as JSON lines, oldest page first. If a page fails the messages
fetched so far are still written and the command exits non-zero.

Examples:
  feedctl dump > feed.jsonl
  feedctl dump --concurrency 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.PaginationConfig()
			if cmd.Flags().Changed("concurrency") {
				n, _ := cmd.Flags().GetInt("concurrency")
				if n <= 0 {
					return fmt.Errorf("concurrency must be greater than 0")
				}
				cfg.MaxConcurrency = n
			}
			return runDump(cmd, a, cfg)
		},
	}

	cmd.Flags().Int("concurrency", 0, "Parallel page requests (default from config)")

	return cmd
}

func runDump(cmd *cobra.Command, a *app, cfg pagination.Config) error {
	collector := pagination.NewCollector(a.service().SampleItems, cfg)

	items, err := collector.CollectItems(cmd.Context())

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, m := range items {
		if encErr := enc.Encode(m); encErr != nil {
			return fmt.Errorf("write message %s: %w", m.ID, encErr)
		}
	}

	a.logger.Info().Int("messages", len(items)).Msg("Dump complete")
	return err
}
