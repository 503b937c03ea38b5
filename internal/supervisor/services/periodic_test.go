// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/storegate/internal/audit"
	"github.com/tomtom215/storegate/internal/ratelimit"
)

var _ suture.Service = (*PeriodicJob)(nil)

func TestPeriodicJob_RunsOnStartAndTicks(t *testing.T) {
	var runs atomic.Int32
	job := NewPeriodicJob("count", 10*time.Millisecond, 0, true, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- job.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled", err)
	}
	if runs.Load() < 3 {
		t.Errorf("runs = %d, want at least 3", runs.Load())
	}
	if job.String() != "count" {
		t.Errorf("String() = %q", job.String())
	}
}

func TestPeriodicJob_FailureDoesNotStopJob(t *testing.T) {
	var runs atomic.Int32
	job := NewPeriodicJob("flaky", 5*time.Millisecond, time.Second, false, func(context.Context) error {
		runs.Add(1)
		return errors.New("backend unavailable")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := job.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve() = %v, want deadline exceeded", err)
	}
	if runs.Load() < 2 {
		t.Errorf("runs = %d, want the job to keep running after failures", runs.Load())
	}
}

func TestPeriodicJob_RunTimeout(t *testing.T) {
	sawDeadline := make(chan bool, 1)
	job := NewPeriodicJob("slow", time.Hour, 20*time.Millisecond, true, func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		sawDeadline <- ok
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go job.Serve(ctx)

	select {
	case ok := <-sawDeadline:
		if !ok {
			t.Error("run context has no deadline")
		}
	case <-time.After(time.Second):
		t.Fatal("job did not run on start")
	}
}

func TestNewRateLimitCleanupJob(t *testing.T) {
	registry, err := ratelimit.NewRegistry(ratelimit.NewMemoryStore(), ratelimit.DefaultConfig().Classes)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	job := NewRateLimitCleanupJob(registry, time.Minute)
	if job.String() != "ratelimit-cleanup" || job.runOnStart {
		t.Errorf("job = %+v", job)
	}
	if err := job.run(context.Background()); err != nil {
		t.Errorf("run() error = %v", err)
	}
}

func TestNewRetentionJob(t *testing.T) {
	svc, err := audit.NewService(audit.NewMemoryStore(100), nil, audit.DefaultConfig())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	job := NewRetentionJob(svc, time.Hour)
	if job.String() != "audit-retention" || !job.runOnStart {
		t.Errorf("job = %+v", job)
	}
	if err := job.run(context.Background()); err != nil {
		t.Errorf("run() error = %v", err)
	}
}
