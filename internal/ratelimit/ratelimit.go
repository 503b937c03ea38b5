// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

// Package ratelimit implements fixed-window request counting per
// (client identity, route class).
//
// A window starts lazily on the first hit for a key, counts every request
// until resetAt, and starts over at zero once resetAt has passed. A request
// is admitted iff its post-increment count is <= limit. Increments are
// atomic in every backend: sharded mutexes in memory, a Lua script in Redis
// and conflict-retried transactions in Badger.
//
// A failing backend never disables protection silently. Each route class
// declares a FailurePolicy, fail_closed unless configured otherwise.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrBackendUnavailable wraps counter backend failures, including an open breaker.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")

	// ErrInvalidLimit is returned for non-positive limits or windows.
	ErrInvalidLimit = errors.New("rate limit and window must be positive")
)

// Store is a fixed-window counter backend.
type Store interface {
	// Increment atomically adds one hit to key, opening a new window of the
	// given length when none exists or the current one has elapsed. It
	// returns the post-increment count and the window's reset time.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)

	// Cleanup purges windows that have elapsed and returns how many it removed.
	Cleanup(ctx context.Context) (int, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

// Decision is the verdict for one request.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Count     int64     `json:"count"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`

	// Degraded marks a verdict taken by the failure policy because the
	// backend could not be consulted.
	Degraded bool `json:"degraded,omitempty"`
}

// RetryAfter returns the whole seconds until the window resets, at least one.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(d.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// CheckRateLimit counts one request for key against limit per window.
func CheckRateLimit(ctx context.Context, store Store, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return Decision{}, ErrInvalidLimit
	}

	count, resetAt, err := store.Increment(ctx, key, window)
	if err != nil {
		if errors.Is(err, ErrBackendUnavailable) {
			return Decision{Limit: limit}, err
		}
		return Decision{Limit: limit}, fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, store.Name(), err)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Count:     count,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
