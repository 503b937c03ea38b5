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

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/storegate/internal/logging"
	"github.com/tomtom215/storegate/internal/metrics"
)

// BreakerConfig tunes the circuit breaker in front of a remote backend.
type BreakerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	MinRequests  uint32        `koanf:"min_requests" validate:"omitempty,min=1"`
	FailureRatio float64       `koanf:"failure_ratio" validate:"omitempty,gt=0,lte=1"`
	Interval     time.Duration `koanf:"interval"`
	Timeout      time.Duration `koanf:"timeout"`
}

// DefaultBreakerConfig trips after 60% failures over at least 10 requests
// and probes again after 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:      true,
		MinRequests:  10,
		FailureRatio: 0.6,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
	}
}

type incrementResult struct {
	count   int64
	resetAt time.Time
}

// BreakerStore fails fast while its backend is unhealthy instead of letting
// every request wait on a dead connection. Open-circuit rejections surface
// as ErrBackendUnavailable and go through the class failure policy like any
// other backend error.
type BreakerStore struct {
	store Store
	name  string
	cb    *gobreaker.CircuitBreaker[incrementResult]
}

// NewBreakerStore wraps store in a circuit breaker.
func NewBreakerStore(store Store, cfg BreakerConfig) *BreakerStore {
	name := "ratelimit-" + store.Name()
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= cfg.FailureRatio
			if shouldTrip {
				logging.Warn().
					Str("breaker", name).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("Opening rate limit backend circuit")
			}
			return shouldTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Circuit breaker state changed")
			metrics.RecordCircuitBreakerTransition(name, stateToString(from), stateToString(to), stateToFloat(to))
		},
		// A client that hung up says nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &BreakerStore{
		store: store,
		name:  name,
		cb:    gobreaker.NewCircuitBreaker[incrementResult](settings),
	}
}

// Increment implements Store.
func (b *BreakerStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	res, err := b.cb.Execute(func() (incrementResult, error) {
		count, resetAt, err := b.store.Increment(ctx, key, window)
		return incrementResult{count: count, resetAt: resetAt}, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, time.Time{}, fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, b.name, err)
		}
		return 0, time.Time{}, err
	}
	return res.count, res.resetAt, nil
}

// Cleanup implements Store. Cleanup bypasses the breaker; it runs on its
// own schedule and reports its own errors.
func (b *BreakerStore) Cleanup(ctx context.Context) (int, error) {
	return b.store.Cleanup(ctx)
}

// Name implements Store.
func (b *BreakerStore) Name() string { return b.store.Name() }

// State returns the breaker state name.
func (b *BreakerStore) State() string {
	return stateToString(b.cb.State())
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
