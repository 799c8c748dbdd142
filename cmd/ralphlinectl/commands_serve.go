package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ralphline/ralphline/internal/config"
	"github.com/ralphline/ralphline/internal/elevation"
	"github.com/ralphline/ralphline/internal/eventbus"
	"github.com/ralphline/ralphline/internal/hookserver"
	"github.com/ralphline/ralphline/internal/persistence"
	"github.com/ralphline/ralphline/internal/security"
	"github.com/ralphline/ralphline/internal/worker"
)

// buildServeCmd creates the "serve" command that starts the mission
// control server: the hook ingestion server, security monitor, elevation
// channel, worker manager, and pipeline driver, all wired onto one shared
// event bus and SQLite store.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ralphlinectl mission control server",
		Long: `Start the mission control server.

The server will:
1. Load configuration from the specified file (or ralphline.yaml)
2. Open the SQLite persistence store
3. Start the loopback hook ingestion server workers report to
4. Start the security monitor and elevation approval channel
5. Reconcile any workers left running from a prior crash

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  ralphlinectl serve

  # Start with custom config
  ralphlinectl serve --config /etc/ralphline/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")

	return cmd
}

// runServe implements the serve command logic: config loading, component
// wiring, and graceful shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	logger := slog.Default()

	logger.Info("starting ralphlinectl", "version", version, "commit", commit, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := persistence.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open persistence store: %w", err)
	}
	defer store.Close()

	bus := eventbus.New(logger)

	workerMgr := worker.NewManager(worker.Config{
		HookURL:   fmt.Sprintf("http://%s:%d/hook", cfg.Server.Host, cfg.Server.HookPort),
		StopGrace: cfg.Worker.StopGrace,
	}, bus, store, logger)

	if err := workerMgr.ReconcileOnStartup(ctx); err != nil {
		logger.Warn("worker reconciliation failed", "error", err)
	}

	elevChannel := elevation.New(store, bus, logger)

	secMonitor := security.New(cfg.Security.Preset, nil, store, bus, worker.NewController(workerMgr), logger)

	hookSrv := hookserver.New(hookserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.HookPort,
	}, bus, store, secMonitor, elevChannel, logger)

	if err := hookSrv.Start(ctx); err != nil {
		return fmt.Errorf("start hook server: %w", err)
	}
	defer hookSrv.Stop(context.Background())

	logger.Info("ralphlinectl mission control listening", "host", cfg.Server.Host, "hook_port", cfg.Server.HookPort)

	<-ctx.Done()
	logger.Info("shutting down ralphlinectl")
	return nil
}
