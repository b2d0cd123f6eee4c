package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/terra-clan/pricing-arena/internal/config"
	"github.com/terra-clan/pricing-arena/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations for the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := setupLogger(os.Stderr, cfg.Log); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		switch cfg.Store.Driver {
		case config.DriverPostgres:
			if err := storage.MigrateFromDSN(ctx, cfg.Store.DSN); err != nil {
				return err
			}
		case config.DriverSQLite:
			repo, err := storage.NewSQLiteRepository(ctx, cfg.Store.SQLitePath)
			if err != nil {
				return err
			}
			if err := repo.Close(); err != nil {
				return fmt.Errorf("failed to close sqlite store: %w", err)
			}
		}

		slog.Info("migrations complete", "driver", cfg.Store.Driver)
		return nil
	},
}
