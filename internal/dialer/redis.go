package dialer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm-dialer/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisSidIndex backs the sid->callId mapping with a keyed store + TTL so the
// index survives a process restart and is shared across service instances.
type RedisSidIndex struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSidIndex(rdb *redis.Client, ttl time.Duration) *RedisSidIndex {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisSidIndex{rdb: rdb, ttl: ttl}
}

func sidKey(sid string) string { return "dialer:sid:" + sid }

func (i *RedisSidIndex) Bind(ctx context.Context, sid, callID string) error {
	if sid == "" || callID == "" {
		return ErrInvalidArgument
	}
	if err := i.rdb.Set(ctx, sidKey(sid), callID, i.ttl).Err(); err != nil {
		return fmt.Errorf("dialer: sid bind failed: %w", err)
	}
	return nil
}

func (i *RedisSidIndex) Lookup(ctx context.Context, sid string) (string, error) {
	v, err := i.rdb.Get(ctx, sidKey(sid)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCallNotFound
	}
	if err != nil {
		return "", fmt.Errorf("dialer: sid lookup failed: %w", err)
	}
	return v, nil
}

// RedisCallCap enforces the per-agent concurrent-call cap with the shared
// atomic acquire/release scripts. The TTL prevents leaked slots if a process
// dies mid-call.
type RedisCallCap struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisCallCap(rdb *redis.Client, limit int, ttl time.Duration) *RedisCallCap {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisCallCap{rdb: rdb, limit: limit, ttl: ttl}
}

func capKey(agentID string) string { return "dialer:agent_calls:" + agentID }

func (c *RedisCallCap) Acquire(ctx context.Context, agentID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, c.rdb, capKey(agentID), c.limit, c.ttl)
}

func (c *RedisCallCap) Release(ctx context.Context, agentID string) error {
	return utils.ReleaseConcurrencyCap(ctx, c.rdb, capKey(agentID))
}
