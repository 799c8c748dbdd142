package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ralphline/ralphline/internal/config"
	"github.com/ralphline/ralphline/internal/persistence"
)

// buildMigrateCmd creates the "migrate" command. persistence.Open applies
// the full schema idempotently, so migrating is just opening (and
// closing) the store at the configured path.
func buildMigrateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQLite schema to the configured database path",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runMigrate(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runMigrate(ctx context.Context, configPath string) error {
	logger := slog.Default()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := persistence.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	defer store.Close()

	logger.Info("schema applied", "path", cfg.Database.Path)
	return nil
}
