// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

package meta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces the tunnel's records inside a shared Redis.
const redisKeyPrefix = "bare:meta:"

// RedisStore is a Store backed by Redis, for deployments that run more
// than one bare server process behind a balancer.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisStore connects to the Redis at the given URL. The initial ping
// is retried so the server survives a backend that comes up after it.
func NewRedisStore(ctx context.Context, redisURL string, log *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	err = retry.Do(
		func() error { return client.Ping(ctx).Err() },
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
		retry.OnRetry(func(attempt uint, err error) {
			log.Warn("Redis not reachable yet", "attempt", attempt, "error", err)
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisStore{client: client, log: log}, nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Get returns the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return value, true, nil
}

// Set stores value under key with a native expiration, so records are
// dropped by Redis itself even if no reaper is running.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key and reports whether it existed.
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	deleted, err := s.client.Del(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis del: %w", err)
	}
	return deleted > 0, nil
}

// Has reports whether key exists.
func (s *RedisStore) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Keys scans the namespace and returns all record keys.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), redisKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}
