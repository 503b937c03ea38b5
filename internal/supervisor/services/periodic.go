// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package services

import (
	"context"
	"time"

	"github.com/tomtom215/storegate/internal/audit"
	"github.com/tomtom215/storegate/internal/logging"
	"github.com/tomtom215/storegate/internal/ratelimit"
)

// JobFunc is one run of a periodic job.
type JobFunc func(ctx context.Context) error

// PeriodicJob runs a function on a fixed interval. A failed run is logged
// and retried on the next tick; it does not restart the service.
type PeriodicJob struct {
	name       string
	interval   time.Duration
	timeout    time.Duration
	runOnStart bool
	run        JobFunc
}

// NewPeriodicJob creates a job. Each run is bounded by timeout when it is
// positive. runOnStart triggers a run before the first tick.
func NewPeriodicJob(name string, interval, timeout time.Duration, runOnStart bool, run JobFunc) *PeriodicJob {
	return &PeriodicJob{
		name:       name,
		interval:   interval,
		timeout:    timeout,
		runOnStart: runOnStart,
		run:        run,
	}
}

// Serve implements suture.Service.
func (j *PeriodicJob) Serve(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	if j.runOnStart {
		j.once(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.once(ctx)
		}
	}
}

func (j *PeriodicJob) once(ctx context.Context) {
	runCtx := ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := j.run(runCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.Error().Err(err).Str("job", j.name).Msg("Periodic job failed")
		return
	}
	logging.Debug().Str("job", j.name).Dur("duration", time.Since(start)).Msg("Periodic job finished")
}

func (j *PeriodicJob) String() string {
	return j.name
}

// NewRateLimitCleanupJob removes expired rate-limit windows every interval.
func NewRateLimitCleanupJob(limits *ratelimit.Registry, interval time.Duration) *PeriodicJob {
	return NewPeriodicJob("ratelimit-cleanup", interval, interval, false, func(ctx context.Context) error {
		removed, err := limits.Cleanup(ctx)
		if removed > 0 {
			logging.Debug().Int("removed", removed).Msg("Expired rate limit windows removed")
		}
		return err
	})
}

// NewRetentionJob purges audit entries past their retention. It runs once
// at startup so a long-stopped instance catches up immediately.
func NewRetentionJob(svc *audit.Service, interval time.Duration) *PeriodicJob {
	return NewPeriodicJob("audit-retention", interval, 0, true, svc.RunRetention)
}
