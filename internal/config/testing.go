package config

import (
	"fmt"

	"github.com/haldenlab/jobqueue/internal/env"
)

// TestConfig holds configuration for integration tests that need a real
// database, gated by environment (see SetupTestStore's t.Skipf use in
// tests/integration/postgres).
type TestConfig struct {
	Database DatabaseConfig
}

// LoadTestConfig loads test configuration from the environment. Returns
// an error when JOBQUEUE_DB_DSN is unset, which callers turn into a
// t.Skipf so integration tests are opt-in.
func LoadTestConfig() (*TestConfig, error) {
	cfg := &TestConfig{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load test config: %w", err)
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("JOBQUEUE_DB_DSN is not set")
	}
	return cfg, nil
}

// RedisTestConfig holds configuration for integration tests that need a
// real redis instance, gated by JOBQUEUE_REDIS_ADDR.
type RedisTestConfig struct {
	Addr string `env:"JOBQUEUE_REDIS_ADDR"`
}

// LoadRedisTestConfig loads redis test configuration from the
// environment. Returns an error when JOBQUEUE_REDIS_ADDR is unset, which
// callers turn into a t.Skipf so the redis broker integration test is
// opt-in.
func LoadRedisTestConfig() (*RedisTestConfig, error) {
	cfg := &RedisTestConfig{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load redis test config: %w", err)
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("JOBQUEUE_REDIS_ADDR is not set")
	}
	return cfg, nil
}
