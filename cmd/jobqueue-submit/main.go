// Command jobqueue-submit is a slim example producer: it submits one job
// of a named type with a JSON payload against the configured State Store
// and Dispatch Layer, then prints the assigned id.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/haldenlab/jobqueue/internal/application/dispatcher"
	"github.com/haldenlab/jobqueue/internal/broker"
	"github.com/haldenlab/jobqueue/internal/config"
	"github.com/haldenlab/jobqueue/internal/infrastructure/broker/polling"
	redisbroker "github.com/haldenlab/jobqueue/internal/infrastructure/broker/redis"
	"github.com/haldenlab/jobqueue/internal/infrastructure/persistence/memory"
	"github.com/haldenlab/jobqueue/internal/infrastructure/persistence/postgres"
	"github.com/haldenlab/jobqueue/internal/infrastructure/persistence/sqlite"
	"github.com/haldenlab/jobqueue/internal/statestore"

	goredis "github.com/redis/go-redis/v9"
)

func main() {
	jobType := flag.String("type", "", "job type to dispatch (required)")
	queue := flag.String("queue", "", "queue name (defaults to the configured worker queue)")
	payloadJSON := flag.String("payload", "{}", "JSON object payload")
	requestID := flag.String("request-id", "", "idempotency correlation key (optional)")
	maxAttempts := flag.Int("max-attempts", 0, "override max attempts (0 uses the default)")
	flag.Parse()

	if *jobType == "" {
		log.Fatal("-type is required")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(*payloadJSON), &payload); err != nil {
		log.Fatalf("invalid -payload JSON: %v", err)
	}

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

	ctx := context.Background()

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

	d := dispatcher.New(store, b)

	q := *queue
	if q == "" {
		q = cfg.Worker.Queue
	}
	opts := []dispatcher.Option{dispatcher.WithQueue(q)}
	if *maxAttempts > 0 {
		opts = append(opts, dispatcher.WithMaxAttempts(*maxAttempts))
	}

	if *requestID != "" {
		result, err := d.DispatchIdempotent(ctx, *jobType, payload, *requestID, opts...)
		if err != nil {
			log.Fatalf("dispatch failed: %v", err)
		}
		fmt.Printf("job id=%d created=%v\n", result.ID, result.Created)
		return
	}

	id, err := d.Dispatch(ctx, *jobType, payload, opts...)
	if err != nil {
		log.Fatalf("dispatch failed: %v", err)
	}
	fmt.Printf("job id=%d\n", id)
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
		// Enqueue is a no-op for this substrate; it shares the same
		// state store as the worker process, which is what actually
		// makes the new row visible to GetNextPendingJobID.
		return polling.New(store, 0), func() {}, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		return redisbroker.New(client, ""), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown broker driver: %s", cfg.Driver)
	}
}
