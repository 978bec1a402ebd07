package config

import (
	"time"

	"github.com/haldenlab/jobqueue/internal/application/worker"
)

// WorkerConfig mirrors worker.Config as environment-loadable duration
// strings; zero fields fall back to worker.DefaultConfig.
type WorkerConfig struct {
	Queue          string        `env:"JOBQUEUE_WORKER_QUEUE"`
	PollTimeout    time.Duration `env:"JOBQUEUE_WORKER_POLL_TIMEOUT"`
	StuckTTL       time.Duration `env:"JOBQUEUE_WORKER_STUCK_TTL"`
	RetryBaseDelay time.Duration `env:"JOBQUEUE_WORKER_RETRY_BASE_DELAY"`
	RetryMaxDelay  time.Duration `env:"JOBQUEUE_WORKER_RETRY_MAX_DELAY"`
	LockFile       string        `env:"JOBQUEUE_WORKER_LOCK_FILE"`
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Queue == "" {
		c.Queue = "default"
	}
	return c
}

// ToWorkerConfig converts the loaded environment values into a
// worker.Config, letting worker.DefaultConfig fill in any zero fields.
func (c WorkerConfig) ToWorkerConfig() worker.Config {
	retryBaseDelay := c.RetryBaseDelay
	if retryBaseDelay == 0 {
		retryBaseDelay = worker.DefaultConfig(c.Queue).RetryBaseDelay
	}
	return worker.Config{
		Queue:          c.Queue,
		PollTimeout:    c.PollTimeout,
		StuckTTL:       c.StuckTTL,
		RetryBaseDelay: retryBaseDelay,
		RetryMaxDelay:  c.RetryMaxDelay,
		LockFile:       c.LockFile,
	}
}
