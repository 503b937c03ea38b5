// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenBadgerStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBadgerStore_IncrementAndReset(t *testing.T) {
	store := newTestBadgerStore(t)
	start := time.Now()
	clock := &fakeClock{now: start}
	store.now = clock.Now
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, resetAt, err := store.Increment(ctx, "auth:10.1.1.1", time.Minute)
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if count != want {
			t.Errorf("count = %d, want %d", count, want)
		}
		if !resetAt.Equal(start.Add(time.Minute)) {
			t.Errorf("resetAt = %v, want %v", resetAt, start.Add(time.Minute))
		}
	}

	clock.Advance(time.Minute)

	count, _, err := store.Increment(ctx, "auth:10.1.1.1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count after window = %d, want 1", count)
	}
}

func TestBadgerStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenBadgerStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, _, err := store.Increment(ctx, "k", time.Hour); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenBadgerStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	count, _, err := reopened.Increment(ctx, "k", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Errorf("count after reopen = %d, want 5", count)
	}
}

func TestBadgerStore_ConcurrentIncrementsNeverOverAdmit(t *testing.T) {
	store := newTestBadgerStore(t)
	const limit = 8

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 2*limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := CheckRateLimit(context.Background(), store, "admin_mutation:u1", limit, time.Minute)
			if err != nil {
				t.Error(err)
				return
			}
			if d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != limit {
		t.Errorf("admitted %d, want exactly %d", got, limit)
	}
}

func TestBadgerStore_Cleanup(t *testing.T) {
	store := newTestBadgerStore(t)
	clock := &fakeClock{now: time.Now()}
	store.now = clock.Now
	ctx := context.Background()

	if _, _, err := store.Increment(ctx, "short", 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.Increment(ctx, "long", time.Hour); err != nil {
		t.Fatal(err)
	}

	clock.Advance(10 * time.Second)

	removed, err := store.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	count, _, err := store.Increment(ctx, "long", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("long window count = %d, want 2", count)
	}
}
