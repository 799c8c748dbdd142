// Package config loads ralphlinectl's YAML configuration, following the
// teacher's $include-resolving, env-expanding loader (loader.go, unchanged)
// with a Config struct rewritten for the Ralphline domain: worker CLI
// launch settings, the hook server, persistence, security preset, and the
// default pipeline policy, in place of the teacher's channel/plugin/RAG
// gateway configuration.
package config

import (
	"fmt"
	"time"

	"github.com/ralphline/ralphline/pkg/models"
)

// Config is the top-level ralphlinectl configuration.
type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Database  DatabaseConfig        `yaml:"database"`
	Workspace WorkspaceConfig       `yaml:"workspace"`
	Worker    WorkerConfig          `yaml:"worker"`
	Pool      WorkerPoolConfig      `yaml:"pool"`
	Security  SecurityConfig        `yaml:"security"`
	Elevation ElevationConfig       `yaml:"elevation"`
	Pipeline  models.PipelineConfig `yaml:"pipeline"`
	LLM       LLMConfig             `yaml:"llm"`
	Logging   LoggingConfig         `yaml:"logging"`
	Artifacts ArtifactConfig        `yaml:"artifacts"`
	Version   int                   `yaml:"version"`
}

// WorkspaceConfig locates the working directory workers operate in.
type WorkspaceConfig struct {
	Path string `yaml:"path"`
}

// WorkerConfig configures how worker CLI processes are launched.
type WorkerConfig struct {
	// Command is the coding-assistant CLI binary to spawn, e.g. "claude" or
	// "codex".
	Command string `yaml:"command"`

	// ExtraArgs are appended to every worker invocation.
	ExtraArgs []string `yaml:"extra_args"`

	// StartupTimeout bounds how long a worker has to report ready before
	// the manager considers the spawn failed.
	StartupTimeout time.Duration `yaml:"startup_timeout"`

	// StopGrace bounds how long a worker is given to exit after a stop
	// signal before being killed (T_stop_grace).
	StopGrace time.Duration `yaml:"stop_grace"`
}

// SecurityConfig configures the security monitor's decision-fusion preset.
type SecurityConfig struct {
	Preset models.Preset `yaml:"preset"`
}

// ElevationConfig configures the privilege-elevation approval channel.
type ElevationConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// LLMConfig configures the meta-agent's model routing.
type LLMConfig struct {
	// PrimaryModel selects the meta-agent's main model; its prefix selects
	// the provider ("claude-*" -> Anthropic, "gpt-*"/"o*" -> OpenAI).
	PrimaryModel string `yaml:"primary_model"`

	// LightModel is used for security semantic classification and
	// summarization, kept distinct from PrimaryModel to bound cost.
	LightModel string `yaml:"light_model"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
}

// DefaultWorkerConfig returns the spec-mandated worker launch defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Command:        "claude",
		StartupTimeout: 30 * time.Second,
		StopGrace:      2 * time.Second,
	}
}

// Load reads, resolves includes in, and decodes the config file at path,
// applying defaults for anything left zero.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.HookPort == 0 {
		cfg.Server.HookPort = 19832
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "ralphline.db"
	}
	if cfg.Workspace.Path == "" {
		cfg.Workspace.Path = "."
	}
	if cfg.Worker.Command == "" {
		cfg.Worker = DefaultWorkerConfig()
	}
	if cfg.Pool.MaxSize == 0 {
		cfg.Pool.MaxSize = 5
	}
	if cfg.Pool.MaxIdleTime == 0 {
		cfg.Pool.MaxIdleTime = 5 * time.Minute
	}
	if cfg.Security.Preset == "" {
		cfg.Security.Preset = models.PresetDefault
	}
	if cfg.Elevation.TTL == 0 {
		cfg.Elevation.TTL = 5 * time.Minute
	}
	if cfg.Pipeline == (models.PipelineConfig{}) {
		cfg.Pipeline = models.DefaultPipelineConfig()
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
