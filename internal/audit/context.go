// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrContextAlreadySet is returned when a request already carries an audit
// Context.
var ErrContextAlreadySet = errors.New("audit context already set for this request")

// Params describe the caller of one request.
type Params struct {
	UserID    string
	UserEmail string
	IPAddress string
	UserAgent string
	SessionID string
	RequestID string
}

// Context is the request-scoped audit attribution. It is created once per
// request by NewContext and passed by value.
type Context struct {
	Params

	// Sequence and Timestamp are stamped on creation and order entries
	// by request arrival, not by flush time.
	Sequence  uint64
	Timestamp time.Time

	ordinals *atomic.Uint32
}

// NewContext stamps p with the next arrival sequence and timestamp.
func NewContext(p Params) Context {
	seq, ts := arrivals.next()
	return Context{
		Params:    p,
		Sequence:  seq,
		Timestamp: ts,
		ordinals:  new(atomic.Uint32),
	}
}

// IsZero reports whether c was not built by NewContext.
func (c Context) IsZero() bool {
	return c.ordinals == nil
}

// nextOrdinal numbers the entries written under c, starting at 1.
func (c Context) nextOrdinal() uint32 {
	return c.ordinals.Add(1)
}

type contextKey struct{}

// withContext attaches ac to ctx exactly once.
func withContext(ctx context.Context, ac Context) (context.Context, error) {
	if _, ok := FromContext(ctx); ok {
		return ctx, ErrContextAlreadySet
	}
	return context.WithValue(ctx, contextKey{}, ac), nil
}

// FromContext returns the audit Context carried by ctx.
func FromContext(ctx context.Context) (Context, bool) {
	ac, ok := ctx.Value(contextKey{}).(Context)
	return ac, ok && !ac.IsZero()
}

// sequencer hands out strictly increasing sequences and timestamps.
// Timestamps are truncated to microseconds to survive a round trip through
// SQL stores, and bumped when the clock does not move forward.
type sequencer struct {
	mu   sync.Mutex
	seq  uint64
	last time.Time
	now  func() time.Time
}

var arrivals = &sequencer{now: time.Now}

func (s *sequencer) next() (uint64, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC().Truncate(time.Microsecond)
	if !ts.After(s.last) {
		ts = s.last.Add(time.Microsecond)
	}
	s.last = ts
	s.seq++
	return s.seq, ts
}
