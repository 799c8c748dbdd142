// Package main provides the CLI entry point for ralphlinectl, the mission
// control process that supervises coding-assistant CLI workers through the
// Ralphline plan/implement/verify/review pipeline.
//
// # Basic Usage
//
// Start the server:
//
//	ralphlinectl serve --config ralphline.yaml
//
// Run a single pipeline against a working directory:
//
//	ralphlinectl pipeline run --request "add retry to the fetch client"
//
// # Environment Variables
//
//   - RALPHLINE_CONFIG: Path to configuration file (default: ralphline.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ralphlinectl",
		Short: "ralphlinectl - mission control for coding-assistant CLI workers",
		Long: `ralphlinectl orchestrates coding-assistant CLI worker processes through the
Ralphline plan/implement/verify/review pipeline, gated by a security monitor
and an elevation approval channel, persisted to SQLite.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildWorkerCmd(),
		buildPipelineCmd(),
		buildElevateCmd(),
		buildMigrateCmd(),
	)

	return rootCmd
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("RALPHLINE_CONFIG"); env != "" {
		return env
	}
	return "ralphline.yaml"
}
