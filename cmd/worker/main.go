// Command worker runs the long-running job-queue worker process: it
// loads its substrates from the environment, installs shutdown
// handling, and runs the coordination loop until terminated.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/haldenlab/jobqueue/internal/application/registry"
	"github.com/haldenlab/jobqueue/internal/application/worker"
	"github.com/haldenlab/jobqueue/internal/broker"
	"github.com/haldenlab/jobqueue/internal/config"
	"github.com/haldenlab/jobqueue/internal/infrastructure/broker/polling"
	redisbroker "github.com/haldenlab/jobqueue/internal/infrastructure/broker/redis"
	"github.com/haldenlab/jobqueue/internal/infrastructure/observability"
	"github.com/haldenlab/jobqueue/internal/infrastructure/persistence/memory"
	"github.com/haldenlab/jobqueue/internal/infrastructure/persistence/postgres"
	"github.com/haldenlab/jobqueue/internal/infrastructure/persistence/sqlite"
	"github.com/haldenlab/jobqueue/internal/statestore"

	goredis "github.com/redis/go-redis/v9"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Database.Validate(); err != nil {
		log.Fatalf("invalid database config: %v", err)
	}
	if err := cfg.Broker.Validate(); err != nil {
		log.Fatalf("invalid broker config: %v", err)
	}

	loggerProvider, logger, err := observability.InitLogger(ctx, observability.Config{
		Enabled:     cfg.Observability.OTelEnabled,
		ServiceName: observability.DefaultServiceName,
	})
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = loggerProvider.Shutdown(ctx) }()
	slog.SetDefault(logger)

	tracerProvider, err := observability.InitTracerProvider(ctx, observability.Config{Enabled: cfg.Observability.OTelEnabled})
	if err != nil {
		log.Fatalf("failed to init tracer provider: %v", err)
	}
	defer func() { _ = tracerProvider.Shutdown(ctx) }()

	meterProvider, err := observability.InitMeterProvider(ctx, observability.Config{Enabled: cfg.Observability.OTelEnabled})
	if err != nil {
		log.Fatalf("failed to init meter provider: %v", err)
	}
	defer func() { _ = meterProvider.Shutdown(ctx) }()

	store, closeStore, err := buildStore(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to build state store: %v", err)
	}
	defer closeStore()

	b, closeBroker, err := buildBroker(cfg.Broker, store)
	if err != nil {
		log.Fatalf("failed to build dispatch layer: %v", err)
	}
	defer closeBroker()

	reg := registry.New(nil)
	registerHandlers(reg)

	w := worker.New(worker.ID(), store, b, reg, cfg.Worker.ToWorkerConfig())

	slog.InfoContext(ctx, "worker starting",
		"worker_id", worker.ID(), "queue", cfg.Worker.Queue,
		"db_driver", cfg.Database.Driver, "broker_driver", cfg.Broker.Driver)

	if err := w.Run(ctx); err != nil {
		log.Fatalf("worker exited with error: %v", err)
	}
}

func buildStore(ctx context.Context, cfg config.DatabaseConfig) (statestore.Store, func(), error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.New(), func() {}, nil
	case "postgres":
		store, err := postgres.NewPostgresStoreWithPoolConfig(ctx, cfg.DSN, postgres.DBConfig{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetime) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTime) * time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}

func buildBroker(cfg config.BrokerConfig, store statestore.Store) (broker.Broker, func(), error) {
	switch cfg.Driver {
	case "", "polling":
		return polling.New(store, 0), func() {}, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		return redisbroker.New(client, ""), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown broker driver: %s", cfg.Driver)
	}
}

// registerHandlers is the extension point where job types are bound to
// executors. The worker binary ships empty; embedders register their own
// handlers here or fork this entrypoint.
func registerHandlers(reg *registry.Registry) {
	_ = reg
}
