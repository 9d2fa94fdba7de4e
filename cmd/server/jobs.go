package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var dlqLimit int64

var jobsCmd = cobra.Command{
	Use:   "jobs",
	Short: "Inspect the session analysis job queue",
}

var jobsStatsCmd = cobra.Command{
	Use:   "stats",
	Short: "Print ready, processing and dead-letter counts",
	Args:  cobra.NoArgs,
	RunE:  runJobsStats,
}

var jobsDLQCmd = cobra.Command{
	Use:   "dlq",
	Short: "Print the most recent dead-lettered jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobsDLQ,
}

func init() {
	jobsDLQCmd.Flags().Int64VarP(&dlqLimit, "limit", "n", 10, "number of entries to show")
	jobsCmd.AddCommand(&jobsStatsCmd, &jobsDLQCmd)
	rootCmd.AddCommand(&jobsCmd)
}

func runJobsStats(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.jobQueue.GetStats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read queue stats: %w", err)
	}
	return printJSON(stats)
}

func runJobsDLQ(cmd *cobra.Command, _ []string) error {
	if dlqLimit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.jobQueue.PeekDLQ(cmd.Context(), dlqLimit)
	if err != nil {
		return fmt.Errorf("failed to read dead-letter queue: %w", err)
	}
	return printJSON(items)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
