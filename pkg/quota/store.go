// Package quota enforces cost and rate quotas per (scope, identifier)
// pair. Denials are typed results, not errors; every admission check
// happens exactly once, before the invocation.
package quota

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	orcherrors "github.com/developer-mesh/orchestration-core/pkg/errors"
)

// UsageStore persists TTL'd cost counters. Keys are period-scoped, so
// expiry only reclaims space; correctness comes from the key layout.
type UsageStore interface {
	// IncrBy adds amount to the counter and sets its TTL, returning the
	// new value.
	IncrBy(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error)
	// Get returns the counter value, zero when absent.
	Get(ctx context.Context, key string) (float64, error)
	Close() error
}

// memoryUsageStore is the default store. Expiry is lazy.
type memoryUsageStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	now      func() time.Time
}

type memoryCounter struct {
	value     float64
	expiresAt time.Time
}

// NewMemoryUsageStore creates the in-memory default.
func NewMemoryUsageStore() UsageStore {
	return &memoryUsageStore{
		counters: make(map[string]*memoryCounter),
		now:      time.Now,
	}
}

func (s *memoryUsageStore) IncrBy(_ context.Context, key string, amount float64, ttl time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = &memoryCounter{}
		s.counters[key] = c
	}
	c.value += amount
	c.expiresAt = now.Add(ttl)
	return c.value, nil
}

func (s *memoryUsageStore) Get(_ context.Context, key string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || s.now().After(c.expiresAt) {
		return 0, nil
	}
	return c.value, nil
}

func (s *memoryUsageStore) Close() error { return nil }

// redisUsageStore backs counters with Redis so quota state survives
// restarts and is shared across instances.
type redisUsageStore struct {
	client *redis.Client
	// ownsClient is set when this store created the client and is
	// therefore responsible for closing it.
	ownsClient bool
}

// NewRedisUsageStore creates a Redis-backed store, verifying
// connectivity up front. Close releases the client.
func NewRedisUsageStore(ctx context.Context, opts *redis.Options) (UsageStore, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, orcherrors.Wrap(err, orcherrors.KindConfig, "redis quota store unreachable")
	}
	return &redisUsageStore{client: client, ownsClient: true}, nil
}

// NewRedisUsageStoreFromClient wraps an existing client. The caller
// retains ownership; Close is a no-op on the client.
func NewRedisUsageStoreFromClient(client *redis.Client) UsageStore {
	return &redisUsageStore{client: client}
}

func (s *redisUsageStore) IncrBy(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.IncrByFloat(ctx, key, amount)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *redisUsageStore) Get(ctx context.Context, key string) (float64, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(val, 64)
}

func (s *redisUsageStore) Close() error {
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}
