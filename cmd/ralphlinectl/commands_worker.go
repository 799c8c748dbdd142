package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ralphline/ralphline/internal/config"
	"github.com/ralphline/ralphline/internal/persistence"
)

// buildWorkerCmd creates the "worker" command group for inspecting
// persisted worker state independent of a running serve process.
func buildWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Inspect workers known to the persistence store",
	}
	cmd.AddCommand(buildWorkerListCmd())
	return cmd
}

func buildWorkerListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workers the store believes are still running",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runWorkerList(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runWorkerList(ctx context.Context, configPath string) error {
	logger := slog.Default()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := persistence.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open persistence store: %w", err)
	}
	defer store.Close()

	workers, err := store.ListRunningWorkers(ctx)
	if err != nil {
		return fmt.Errorf("list running workers: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(workers)
}
