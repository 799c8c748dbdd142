package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ralphline/ralphline/internal/config"
	"github.com/ralphline/ralphline/internal/eventbus"
	"github.com/ralphline/ralphline/internal/persistence"
	"github.com/ralphline/ralphline/internal/pipeline"
	"github.com/ralphline/ralphline/internal/worker"
	"github.com/ralphline/ralphline/pkg/models"
)

// buildPipelineCmd creates the "pipeline" command group.
func buildPipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run and inspect Ralphline pipelines",
	}
	cmd.AddCommand(buildPipelineRunCmd())
	return cmd
}

func buildPipelineRunCmd() *cobra.Command {
	var (
		configPath string
		request    string
		workingDir string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive a single pipeline through plan/implement/verify/review",
		Long: `Run a single pipeline synchronously, spawning its own worker process and
looping through the Ralphline state machine until it completes, fails, or
parks on a human checkpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if request == "" {
				return fmt.Errorf("--request is required")
			}
			configPath = resolveConfigPath(configPath)
			return runPipelineRun(cmd.Context(), configPath, request, workingDir)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&request, "request", "r", "", "The user request to plan and implement")
	cmd.Flags().StringVarP(&workingDir, "dir", "w", ".", "Working directory the worker operates in")

	return cmd
}

func runPipelineRun(ctx context.Context, configPath, request, workingDir string) error {
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

	bus := eventbus.New(logger)

	hookURL := fmt.Sprintf("http://%s:%d/hook", cfg.Server.Host, cfg.Server.HookPort)
	workerMgr := worker.NewManager(worker.Config{
		HookURL:   hookURL,
		StopGrace: cfg.Worker.StopGrace,
	}, bus, store, logger)

	stages := pipeline.NewWorkerStages(workerMgr, bus, models.WorkerConfig{
		Command: cfg.Worker.Command,
		Args:    cfg.Worker.ExtraArgs,
		HookURL: hookURL,
	}, pipeline.DefaultVerifyTimeout)

	driver := pipeline.New(stages, stages, stages, nil, stages, store, bus, logger)

	p := models.NewPipeline(uuid.NewString(), workingDir, request, cfg.Pipeline)

	logger.Info("running pipeline", "pipeline_id", p.ID, "request", request)
	if err := driver.Run(ctx, p); err != nil {
		return fmt.Errorf("pipeline %s: %w", p.ID, err)
	}

	logger.Info("pipeline finished", "pipeline_id", p.ID, "status", p.Status)
	return nil
}
