package redis_test

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"github.com/haldenlab/jobqueue/internal/broker"
	"github.com/haldenlab/jobqueue/internal/config"
	"github.com/haldenlab/jobqueue/internal/infrastructure/broker/redis"
	"github.com/haldenlab/jobqueue/internal/testutil/brokertest"
)

func TestBroker_Compliance(t *testing.T) {
	cfg, err := config.LoadRedisTestConfig()
	if err != nil {
		t.Skipf("skipping redis integration test: %v (set JOBQUEUE_REDIS_ADDR to run)", err)
	}

	brokertest.Run(t, func(t *testing.T) (broker.Broker, string) {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Addr})
		t.Cleanup(func() {
			_ = client.Close()
		})

		queue := "brokertest-" + t.Name()
		b := redis.New(client, "brokertest")
		t.Cleanup(func() {
			_ = client.Del(context.Background(), "brokertest:"+queue+":ready", "brokertest:"+queue+":processing", "brokertest:"+queue+":delayed").Err()
		})
		return b, queue
	})
}
