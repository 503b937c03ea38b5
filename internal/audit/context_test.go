// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSequencer_MonotonicWithStalledClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &sequencer{now: func() time.Time { return fixed }}

	seq1, ts1 := s.next()
	seq2, ts2 := s.next()
	seq3, ts3 := s.next()

	if !(seq1 < seq2 && seq2 < seq3) {
		t.Errorf("sequences not increasing: %d %d %d", seq1, seq2, seq3)
	}
	if !(ts1.Before(ts2) && ts2.Before(ts3)) {
		t.Errorf("timestamps not increasing: %v %v %v", ts1, ts2, ts3)
	}
	if !ts1.Equal(fixed) {
		t.Errorf("first timestamp = %v, want %v", ts1, fixed)
	}
}

func TestSequencer_ClockGoingBackwards(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &sequencer{now: func() time.Time { return now }}

	_, ts1 := s.next()
	now = now.Add(-time.Hour)
	_, ts2 := s.next()

	if !ts2.After(ts1) {
		t.Errorf("timestamp went backwards: %v then %v", ts1, ts2)
	}
}

func TestNewContext_ConcurrentSequencesUnique(t *testing.T) {
	const n = 200
	seqs := make([]uint64, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seqs[i] = NewContext(Params{UserID: "u"}).Sequence
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool, n)
	for _, s := range seqs {
		if seen[s] {
			t.Fatalf("sequence %d issued twice", s)
		}
		seen[s] = true
	}
}

func TestSetContext(t *testing.T) {
	svc := newUnstartedService(t, NewMemoryStore(10), nil, nil)

	ac := NewContext(Params{UserID: "admin-1", IPAddress: "10.0.0.1"})
	ctx, err := svc.SetContext(context.Background(), ac)
	if err != nil {
		t.Fatalf("SetContext() error = %v", err)
	}

	got, ok := FromContext(ctx)
	if !ok || got.UserID != "admin-1" || got.Sequence != ac.Sequence {
		t.Errorf("FromContext() = %+v, %v", got, ok)
	}

	if _, err := svc.SetContext(ctx, NewContext(Params{UserID: "other"})); !errors.Is(err, ErrContextAlreadySet) {
		t.Errorf("second SetContext() error = %v, want ErrContextAlreadySet", err)
	}

	if _, err := svc.SetContext(context.Background(), Context{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero Context error = %v, want ErrInvalidInput", err)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("FromContext() on empty context reported ok")
	}
}
