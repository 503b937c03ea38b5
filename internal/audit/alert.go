// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/storegate/internal/gateerr"
	"github.com/tomtom215/storegate/internal/logging"
)

// Alert reasons.
const (
	AlertBufferFull  = "buffer_full"
	AlertWriteFailed = "write_failed"
)

// Alert is an operational signal that an audit entry was not persisted.
type Alert struct {
	Code      string    `json:"code"`
	Reason    string    `json:"reason"`
	EntryID   string    `json:"entry_id"`
	Action    Action    `json:"action"`
	TableName string    `json:"table_name"`
	RecordID  string    `json:"record_id"`
	RequestID string    `json:"request_id,omitempty"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newAlert(reason string, e *Entry, attempts int, err error) Alert {
	a := Alert{
		Code:      gateerr.KindAuditWriteFailed.Code(),
		Reason:    reason,
		EntryID:   e.ID,
		Action:    e.Action,
		TableName: e.TableName,
		RecordID:  e.RecordID,
		RequestID: e.RequestID,
		Attempts:  attempts,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

// AlertSink delivers alerts to operators. Send must not block for long; it
// may run in the request path when the write buffer is full.
type AlertSink interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// LogSink writes alerts to the error log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(_ context.Context, a Alert) error {
	logging.Error().
		Str("code", a.Code).
		Str("reason", a.Reason).
		Str("entry_id", a.EntryID).
		Str("action", string(a.Action)).
		Str("table_name", a.TableName).
		Str("record_id", a.RecordID).
		Str("request_id", a.RequestID).
		Int("attempts", a.Attempts).
		Str("error", a.Error).
		Msg("Audit entry not persisted")
	return nil
}

// MultiSink fans an alert out to every sink.
type MultiSink []AlertSink

func (m MultiSink) Name() string {
	names := make([]string, len(m))
	for i, s := range m {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Send delivers to all sinks and joins their errors.
func (m MultiSink) Send(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ErrAlertThrottled is returned by ThrottledSink for alerts over its rate.
var ErrAlertThrottled = errors.New("alert throttled")

// ThrottledSink caps the alert rate so a failing store cannot flood the
// downstream channel.
type ThrottledSink struct {
	next    AlertSink
	limiter *rate.Limiter
}

// NewThrottledSink allows perMinute alerts per minute with the given burst.
func NewThrottledSink(next AlertSink, perMinute, burst int) *ThrottledSink {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &ThrottledSink{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
	}
}

func (t *ThrottledSink) Name() string { return t.next.Name() }

func (t *ThrottledSink) Send(ctx context.Context, a Alert) error {
	if !t.limiter.Allow() {
		return ErrAlertThrottled
	}
	return t.next.Send(ctx, a)
}
