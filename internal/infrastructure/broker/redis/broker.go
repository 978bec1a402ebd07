// Package redis is a Dispatch Layer substrate backed by
// github.com/redis/go-redis/v9, grounded in the pack's redis-backed work
// queue designs (list-based ready queue, sorted-set-based in-flight and
// delayed sets). It implements both broker.DelayedPromoter and
// broker.StaleRecoverer since, unlike the polling substrate, it tracks
// claim and delay state itself rather than deferring to the state store.
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/haldenlab/jobqueue/internal/broker"
)

// Broker is a redis-backed Dispatch Layer: one ready list, one
// "processing" sorted set (score = claim time), and one "delayed" sorted
// set (score = availableAt) per queue.
type Broker struct {
	client *redis.Client
	prefix string
}

var _ broker.Broker = (*Broker)(nil)
var _ broker.DelayedPromoter = (*Broker)(nil)
var _ broker.StaleRecoverer = (*Broker)(nil)

// New wraps an already-connected client. prefix namespaces keys, default
// "jobqueue" when empty.
func New(client *redis.Client, prefix string) *Broker {
	if prefix == "" {
		prefix = "jobqueue"
	}
	return &Broker{client: client, prefix: prefix}
}

func (b *Broker) readyKey(queue string) string      { return b.prefix + ":" + queue + ":ready" }
func (b *Broker) processingKey(queue string) string { return b.prefix + ":" + queue + ":processing" }
func (b *Broker) delayedKey(queue string) string    { return b.prefix + ":" + queue + ":delayed" }

func (b *Broker) IsAvailable(ctx context.Context) bool {
	return b.client.Ping(ctx).Err() == nil
}

func (b *Broker) Enqueue(ctx context.Context, queue string, id int64) error {
	return b.client.RPush(ctx, b.readyKey(queue), id).Err()
}

func (b *Broker) Dequeue(ctx context.Context, queue string, timeout time.Duration) (int64, bool, error) {
	var member string
	if timeout <= 0 {
		// BLPOP treats a zero timeout as "block forever"; the contract
		// makes timeout == 0 non-blocking, so use LPOP instead.
		v, err := b.client.LPop(ctx, b.readyKey(queue)).Result()
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		member = v
	} else {
		res, err := b.client.BLPop(ctx, timeout, b.readyKey(queue)).Result()
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		// res[0] is the key name, res[1] is the popped member.
		member = res[1]
	}
	id, err := strconv.ParseInt(member, 10, 64)
	if err != nil {
		return 0, false, err
	}

	now := float64(time.Now().Unix())
	if err := b.client.ZAdd(ctx, b.processingKey(queue), redis.Z{Score: now, Member: id}).Err(); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (b *Broker) Ack(ctx context.Context, queue string, id int64) error {
	return b.client.ZRem(ctx, b.processingKey(queue), id).Err()
}

func (b *Broker) Nack(ctx context.Context, queue string, id int64, delay time.Duration) error {
	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, b.processingKey(queue), id)
	if delay > 0 {
		pipe.ZAdd(ctx, b.delayedKey(queue), redis.Z{
			Score:  float64(time.Now().Add(delay).Unix()),
			Member: id,
		})
	} else {
		pipe.RPush(ctx, b.readyKey(queue), id)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteDelayedJobs moves every delayed id whose score (availableAt) has
// elapsed back onto the ready list.
func (b *Broker) PromoteDelayedJobs(ctx context.Context, queue string) (int, error) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	ids, err := b.client.ZRangeByScore(ctx, b.delayedKey(queue), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := b.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, b.delayedKey(queue), id)
		pipe.RPush(ctx, b.readyKey(queue), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// RecoverStaleProcessing moves every in-flight id whose claim time is
// older than now-ttl back onto the ready list.
func (b *Broker) RecoverStaleProcessing(ctx context.Context, queue string, ttl time.Duration) (int, error) {
	cutoff := strconv.FormatInt(time.Now().Add(-ttl).Unix(), 10)
	ids, err := b.client.ZRangeByScore(ctx, b.processingKey(queue), &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := b.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, b.processingKey(queue), id)
		pipe.RPush(ctx, b.readyKey(queue), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}
