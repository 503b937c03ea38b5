// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/storegate/internal/gateerr"
	"github.com/tomtom215/storegate/internal/logging"
	"github.com/tomtom215/storegate/internal/metrics"
	"github.com/tomtom215/storegate/internal/routes"
)

// FailurePolicy decides the verdict when the counter backend fails.
type FailurePolicy string

const (
	// FailClosed denies the request with 429.
	FailClosed FailurePolicy = "fail_closed"

	// AllowAndLog admits the request and records the degradation.
	AllowAndLog FailurePolicy = "allow_and_log"
)

// Backend names accepted in Config.Backend.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// ClassConfig is the limit for one route class.
type ClassConfig struct {
	Limit         int           `koanf:"limit" validate:"gt=0"`
	Window        time.Duration `koanf:"window" validate:"gt=0"`
	FailurePolicy FailurePolicy `koanf:"failure_policy" validate:"omitempty,oneof=fail_closed allow_and_log"`
}

// Config selects the backend and per-class limits.
type Config struct {
	Backend         string                 `koanf:"backend" validate:"oneof=memory redis badger"`
	RedisURL        string                 `koanf:"redis_url" validate:"required_if=Backend redis"`
	RedisPrefix     string                 `koanf:"redis_prefix"`
	BadgerPath      string                 `koanf:"badger_path"`
	CleanupInterval time.Duration          `koanf:"cleanup_interval" validate:"gt=0"`
	Breaker         BreakerConfig          `koanf:"breaker"`
	Classes         map[string]ClassConfig `koanf:"classes" validate:"dive"`
}

// DefaultConfig returns the shipped limits: tight for credential and
// payment endpoints, looser for general API traffic.
func DefaultConfig() Config {
	return Config{
		Backend:         BackendMemory,
		RedisPrefix:     "storegate:",
		CleanupInterval: 5 * time.Minute,
		Breaker:         DefaultBreakerConfig(),
		Classes: map[string]ClassConfig{
			string(routes.ClassAuth):          {Limit: 5, Window: time.Minute, FailurePolicy: FailClosed},
			string(routes.ClassPayment):       {Limit: 10, Window: time.Minute, FailurePolicy: FailClosed},
			string(routes.ClassAdminMutation): {Limit: 30, Window: time.Minute, FailurePolicy: FailClosed},
			string(routes.ClassWebhook):       {Limit: 100, Window: time.Minute, FailurePolicy: FailClosed},
			string(routes.ClassAPI):           {Limit: 100, Window: time.Minute, FailurePolicy: AllowAndLog},
		},
	}
}

// NewStore builds the configured backend, wrapped in a circuit breaker
// when the backend is remote and the breaker is enabled. The returned close
// function releases backend resources.
func NewStore(cfg Config) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), noop, nil

	case BackendRedis:
		client, err := NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, noop, gateerr.Configf("ratelimit: %v", err)
		}
		var store Store = NewRedisStore(client, cfg.RedisPrefix)
		if cfg.Breaker.Enabled {
			store = NewBreakerStore(store, cfg.Breaker)
		}
		return store, client.Close, nil

	case BackendBadger:
		bs, err := OpenBadgerStore(cfg.BadgerPath)
		if err != nil {
			return nil, noop, fmt.Errorf("ratelimit: %w", err)
		}
		return bs, bs.Close, nil

	default:
		return nil, noop, gateerr.Configf("ratelimit: unknown backend %q", cfg.Backend)
	}
}

// Limiter applies one class's limit.
type Limiter struct {
	class routes.Class
	cfg   ClassConfig
	store Store
	now   func() time.Time
}

// Class returns the route class this limiter serves.
func (l *Limiter) Class() routes.Class { return l.class }

// Config returns the class limit.
func (l *Limiter) Config() ClassConfig { return l.cfg }

// Allow counts one request from identity. It never returns an error: a
// backend failure is resolved by the class failure policy and reported
// through Decision.Degraded.
func (l *Limiter) Allow(ctx context.Context, identity string) Decision {
	key := string(l.class) + ":" + identity

	d, err := CheckRateLimit(ctx, l.store, key, l.cfg.Limit, l.cfg.Window)
	if err == nil {
		if d.Allowed {
			metrics.RecordRateLimitDecision(string(l.class), "allowed")
		} else {
			metrics.RecordRateLimitDecision(string(l.class), "limited")
		}
		return d
	}

	metrics.RecordRateLimitBackendError(l.store.Name())
	d = Decision{
		Limit:    l.cfg.Limit,
		ResetAt:  l.now().Add(l.cfg.Window),
		Degraded: true,
	}

	if l.cfg.FailurePolicy == AllowAndLog {
		d.Allowed = true
		d.Remaining = l.cfg.Limit
		metrics.RecordRateLimitDecision(string(l.class), "degraded_allow")
		logging.CtxWarn(ctx).Err(err).
			Str("route_class", string(l.class)).
			Str("backend", l.store.Name()).
			Msg("Rate limit backend unavailable, admitting request")
		return d
	}

	metrics.RecordRateLimitDecision(string(l.class), "degraded_deny")
	if !errors.Is(err, context.Canceled) {
		logging.CtxErr(ctx, err).
			Str("route_class", string(l.class)).
			Str("backend", l.store.Name()).
			Msg("Rate limit backend unavailable, denying request")
	}
	return d
}

// Registry holds one limiter per limiter class over a shared store.
type Registry struct {
	store    Store
	limiters map[routes.Class]*Limiter
}

// NewRegistry validates that every limiter class has a usable limit and
// builds the limiters. A missing or invalid class is a configuration error.
func NewRegistry(store Store, classes map[string]ClassConfig) (*Registry, error) {
	r := &Registry{store: store, limiters: make(map[routes.Class]*Limiter, len(routes.LimiterClasses))}

	for _, class := range routes.LimiterClasses {
		cfg, ok := classes[string(class)]
		if !ok {
			return nil, gateerr.Configf("ratelimit: no limit configured for route class %q", class)
		}
		if cfg.Limit <= 0 || cfg.Window <= 0 {
			return nil, gateerr.Configf("ratelimit: route class %q needs a positive limit and window", class)
		}
		switch cfg.FailurePolicy {
		case "":
			cfg.FailurePolicy = FailClosed
		case FailClosed, AllowAndLog:
		default:
			return nil, gateerr.Configf("ratelimit: route class %q has unknown failure policy %q", class, cfg.FailurePolicy)
		}
		r.limiters[class] = &Limiter{class: class, cfg: cfg, store: store, now: time.Now}
	}
	return r, nil
}

// For returns the limiter that governs a request class. Page routes share
// the api limiter.
func (r *Registry) For(class routes.Class) *Limiter {
	return r.limiters[class.LimiterClass()]
}

// Cleanup purges elapsed windows from the store.
func (r *Registry) Cleanup(ctx context.Context) (int, error) {
	removed, err := r.store.Cleanup(ctx)
	metrics.RecordRateLimitCleanup(removed)
	if err != nil {
		return removed, fmt.Errorf("ratelimit cleanup: %w", err)
	}
	return removed, nil
}
