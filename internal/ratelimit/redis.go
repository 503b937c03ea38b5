// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript runs INCR and the expiry in one atomic server-side step,
// so concurrent gate instances share one linearizable counter per key. The
// PEXPIRE also repairs a key that lost its TTL.
var incrementScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if current == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisStore shares windows across gate instances through Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store that namespaces its keys under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Increment implements Store.
func (r *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	vals, err := incrementScript.Run(ctx, r.client, []string{r.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis increment: %w", err)
	}
	if len(vals) != 2 {
		return 0, time.Time{}, fmt.Errorf("redis increment: unexpected reply length %d", len(vals))
	}
	return vals[0], r.now().Add(time.Duration(vals[1]) * time.Millisecond), nil
}

// Cleanup implements Store. Redis expires windows itself.
func (r *RedisStore) Cleanup(context.Context) (int, error) {
	return 0, nil
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Name implements Store.
func (r *RedisStore) Name() string { return "redis" }
