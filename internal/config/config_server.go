package config

import "time"

// ServerConfig configures ralphlinectl serve's listeners.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HookPort    int    `yaml:"hook_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig configures the SQLite persistence store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// WorkerPoolConfig configures the shared worker pool backing pipeline
// implement/verify phases when a pipeline sets use_worker_pool.
type WorkerPoolConfig struct {
	MaxSize     int           `yaml:"max_size"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
}
