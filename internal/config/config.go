// Package config loads job-queue process configuration from environment
// variables, via the reflection-based env.Load helper.
package config

import (
	"fmt"

	"github.com/haldenlab/jobqueue/internal/env"
)

// Config is the full process configuration for the worker binary.
type Config struct {
	Database      DatabaseConfig
	Broker        BrokerConfig
	Worker        WorkerConfig
	Observability ObservabilityConfig
}

// Load parses environment variables into a Config, applying defaults and
// validating nested sections.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Worker = cfg.Worker.withDefaults()
	return cfg, nil
}
