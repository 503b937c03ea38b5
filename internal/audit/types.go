// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

/*
Package audit records who did what to which record, and the gate's own
security decisions.

Entries are built synchronously in the request path so that attribution and
ordering come from the request's Context, then handed to a background writer.
Persistence failures are retried and escalated to an AlertSink; they never
reach the HTTP response.

	ctx, _ = svc.SetContext(ctx, audit.NewContext(audit.Params{UserID: "u-1", IPAddress: ip}))
	svc.CreateAuditLog(ctx, audit.Input{
		TableName: "users",
		RecordID:  "u-42",
		Action:    audit.ActionRoleChange,
		OldValues: map[string]any{"role": "CUSTOMER"},
		NewValues: map[string]any{"role": "SUPPORT"},
	})

Sensitive fields are masked before an entry leaves CreateAuditLog, so no
store or exporter ever sees the raw values.
*/
package audit

import (
	"context"
	"time"
)

// Action identifies what an entry records.
type Action string

// Data actions.
const (
	ActionCreate           Action = "CREATE"
	ActionUpdate           Action = "UPDATE"
	ActionDelete           Action = "DELETE"
	ActionLoginSuccess     Action = "LOGIN_SUCCESS"
	ActionLoginFailed      Action = "LOGIN_FAILED"
	ActionRoleChange       Action = "ROLE_CHANGE"
	ActionAccountSuspended Action = "ACCOUNT_SUSPENDED"
	ActionPermissionChange Action = "PERMISSION_CHANGE"
	ActionExport           Action = "AUDIT_EXPORT"
)

// Gate decisions.
const (
	ActionRequestCompleted  Action = "REQUEST_COMPLETED"
	ActionRateLimited       Action = "RATE_LIMITED"
	ActionCSRFRejected      Action = "CSRF_REJECTED"
	ActionOriginRejected    Action = "ORIGIN_REJECTED"
	ActionUnauthenticated   Action = "UNAUTHENTICATED"
	ActionAccessDenied      Action = "ACCESS_DENIED"
	ActionSignatureRejected Action = "SIGNATURE_REJECTED"
)

var knownActions = map[Action]bool{
	ActionCreate: true, ActionUpdate: true, ActionDelete: true,
	ActionLoginSuccess: true, ActionLoginFailed: true, ActionRoleChange: true,
	ActionAccountSuspended: true, ActionPermissionChange: true, ActionExport: true,
	ActionRequestCompleted: true, ActionRateLimited: true, ActionCSRFRejected: true,
	ActionOriginRejected: true, ActionUnauthenticated: true, ActionAccessDenied: true,
	ActionSignatureRejected: true,
}

// Critical reports whether entries for a are kept for the critical
// retention period.
func (a Action) Critical() bool {
	switch a {
	case ActionLoginFailed, ActionRoleChange, ActionAccountSuspended, ActionPermissionChange:
		return true
	}
	return false
}

// Known reports whether a is one of the defined actions.
func (a Action) Known() bool {
	return knownActions[a]
}

// Entry is a persisted audit record. Entries are never updated.
type Entry struct {
	ID            string         `json:"id"`
	Sequence      uint64         `json:"sequence"`
	Ordinal       uint32         `json:"ordinal"`
	TableName     string         `json:"table_name"`
	RecordID      string         `json:"record_id"`
	Action        Action         `json:"action"`
	UserID        string         `json:"user_id,omitempty"`
	UserEmail     string         `json:"user_email,omitempty"`
	IPAddress     string         `json:"ip_address"`
	UserAgent     string         `json:"user_agent,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	OldValues     map[string]any `json:"old_values,omitempty"`
	NewValues     map[string]any `json:"new_values,omitempty"`
	ChangedFields []string       `json:"changed_fields"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Critical      bool           `json:"critical"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Input is what a caller supplies to CreateAuditLog. Actor and request
// attribution come from the audit Context, not from Input.
type Input struct {
	TableName string
	RecordID  string
	Action    Action
	OldValues map[string]any
	NewValues map[string]any
	Metadata  map[string]any
}

// Filter selects entries. Zero fields match everything; a Limit of zero
// means no limit at the store level.
type Filter struct {
	TableName string
	RecordID  string
	Actions   []Action
	UserID    string
	IPAddress string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// DateRange is the span covered by stored entries. Both ends are nil when
// the store is empty.
type DateRange struct {
	Earliest *time.Time `json:"earliest"`
	Latest   *time.Time `json:"latest"`
}

// Summary aggregates the stored entries.
type Summary struct {
	TotalRecords int64            `json:"total_records"`
	DateRange    DateRange        `json:"date_range"`
	ActionCounts map[string]int64 `json:"action_counts"`
	TableCounts  map[string]int64 `json:"table_counts"`
	UserCounts   map[string]int64 `json:"user_counts"`
}

// Store persists entries.
//
// Query returns entries newest first by (timestamp, sequence, ordinal).
// DeleteBatch removes at most limit entries with the given critical flag
// and a timestamp strictly before the cutoff, returning how many it removed.
type Store interface {
	Save(ctx context.Context, e *Entry) error
	Query(ctx context.Context, f Filter) ([]Entry, error)
	Summary(ctx context.Context) (*Summary, error)
	DeleteBatch(ctx context.Context, critical bool, before time.Time, limit int) (int64, error)
}

// newer orders entries newest first. Timestamps are stamped per request
// context, so sequence and ordinal break ties.
func newer(a, b *Entry) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	if a.Sequence != b.Sequence {
		return a.Sequence > b.Sequence
	}
	return a.Ordinal > b.Ordinal
}
