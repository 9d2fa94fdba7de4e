package main

import (
	"github.com/englivo/englivo-backend/pkg/logger"
	"github.com/spf13/cobra"
)

var workerCmd = cobra.Command{
	Use:   "worker",
	Short: "Run the session analysis worker",
	Long:  "Consumes the analysis job queue and sweeps abandoned sessions without serving HTTP",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(&workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	worker, sweeper := a.backgroundServices()
	worker.Start()
	sweeper.Start()

	logger.Info("Worker started",
		"workers", a.cfg.JobWorkers,
		"queue", a.cfg.JobQueueName)

	waitForSignal()

	logger.Info("Stopping worker...")
	worker.Stop()
	sweeper.Stop()
	logger.Info("Worker exited")

	return nil
}
