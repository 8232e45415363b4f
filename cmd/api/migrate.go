package main

import (
	"fmt"
	"log/slog"

	"callsignal/internal/config"
	"callsignal/internal/database"
	"callsignal/pkg/logger"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations (up)",
	RunE:  runMigrateUp,
}

func runMigrateUp(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	return database.MigrateUp(cfg.MigrateURL(), log)
}
