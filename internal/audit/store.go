// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package audit

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps entries in memory. Data is lost on restart, and the
// oldest 10% are evicted when maxLen is reached.
type MemoryStore struct {
	entries []Entry
	mu      sync.RWMutex
	maxLen  int
}

// NewMemoryStore creates a store holding at most maxLen entries.
func NewMemoryStore(maxLen int) *MemoryStore {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &MemoryStore{
		entries: make([]Entry, 0, min(maxLen, 1024)),
		maxLen:  maxLen,
	}
}

// Save appends e.
func (s *MemoryStore) Save(ctx context.Context, e *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.maxLen {
		removeCount := max(s.maxLen/10, 1)
		s.entries = slices.Delete(s.entries, 0, removeCount)
	}
	s.entries = append(s.entries, *e)
	return nil
}

// Query returns matching entries newest first.
func (s *MemoryStore) Query(ctx context.Context, f Filter) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	matched := make([]Entry, 0)
	for i := range s.entries {
		if matches(&s.entries[i], &f) {
			matched = append(matched, s.entries[i])
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return newer(&matched[i], &matched[j]) })

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []Entry{}, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func matches(e *Entry, f *Filter) bool {
	if f.TableName != "" && e.TableName != f.TableName {
		return false
	}
	if f.RecordID != "" && e.RecordID != f.RecordID {
		return false
	}
	if len(f.Actions) > 0 && !slices.Contains(f.Actions, e.Action) {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.IPAddress != "" && e.IPAddress != f.IPAddress {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

// Summary aggregates all entries.
func (s *MemoryStore) Summary(ctx context.Context) (*Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := &Summary{
		TotalRecords: int64(len(s.entries)),
		ActionCounts: make(map[string]int64),
		TableCounts:  make(map[string]int64),
		UserCounts:   make(map[string]int64),
	}
	for i := range s.entries {
		e := &s.entries[i]
		sum.ActionCounts[string(e.Action)]++
		sum.TableCounts[e.TableName]++
		if e.UserID != "" {
			sum.UserCounts[e.UserID]++
		}
		if sum.DateRange.Earliest == nil || e.Timestamp.Before(*sum.DateRange.Earliest) {
			t := e.Timestamp
			sum.DateRange.Earliest = &t
		}
		if sum.DateRange.Latest == nil || e.Timestamp.After(*sum.DateRange.Latest) {
			t := e.Timestamp
			sum.DateRange.Latest = &t
		}
	}
	return sum, nil
}

// DeleteBatch removes up to limit entries of the given criticality older
// than before, in insertion order.
func (s *MemoryStore) DeleteBatch(ctx context.Context, critical bool, before time.Time, limit int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	kept := s.entries[:0]
	for _, e := range s.entries {
		if deleted < int64(limit) && e.Critical == critical && e.Timestamp.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	clear(s.entries[len(kept):])
	s.entries = kept
	return deleted, nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
