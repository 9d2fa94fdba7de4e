package main

import (
	"context"
	"fmt"

	"github.com/englivo/englivo-backend/internal/config"
	"github.com/englivo/englivo-backend/pkg/database"
	"github.com/englivo/englivo-backend/pkg/logger"
	"github.com/spf13/cobra"
)

var migrateCmd = cobra.Command{
	Use:       "migrate [up|down|status|version|redo]",
	Short:     "Apply embedded database migrations",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "status", "version", "redo"},
	RunE:      runMigrate,
}

func init() {
	rootCmd.AddCommand(&migrateCmd)
}

// migrate는 Redis가 필요 없으므로 app을 만들지 않는다
func runMigrate(cmd *cobra.Command, args []string) error {
	command := "up"
	if len(args) == 1 {
		command = args[0]
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Init(cfg.LogLevel, cfg.Env)
	defer logger.Sync()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(context.Background(), command); err != nil {
		return err
	}

	logger.Info("Migration finished", "command", command)
	return nil
}
