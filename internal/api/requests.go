// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/storegate/internal/audit"
	"github.com/tomtom215/storegate/internal/validation"
)

const (
	defaultAuditLimit = 100

	// maxBodyBytes bounds admin JSON bodies.
	maxBodyBytes = 64 << 10
)

// AuditQueryParams are the filters of GET /api/admin/audit.
type AuditQueryParams struct {
	Table     string     `query:"table" validate:"omitempty,max=64"`
	RecordID  string     `query:"record_id" validate:"omitempty,max=128"`
	Actions   []string   `query:"action" validate:"omitempty,dive,audit_action"`
	UserID    string     `query:"user_id" validate:"omitempty,max=128"`
	IPAddress string     `query:"ip_address" validate:"omitempty,ip"`
	StartTime *time.Time `query:"start_time"`
	EndTime   *time.Time `query:"end_time"`
	Limit     int        `query:"limit" validate:"min=1,max=1000"`
	Offset    int        `query:"offset" validate:"min=0,max=1000000"`
}

// parseAuditQuery reads the query string. Malformed numbers and times are
// reported as validation failures rather than silently dropped.
func parseAuditQuery(q url.Values) (AuditQueryParams, *validation.RequestValidationError, string) {
	p := AuditQueryParams{
		Table:     q.Get("table"),
		RecordID:  q.Get("record_id"),
		Actions:   q["action"],
		UserID:    q.Get("user_id"),
		IPAddress: q.Get("ip_address"),
		Limit:     defaultAuditLimit,
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, nil, "limit must be an integer"
		}
		p.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, nil, "offset must be an integer"
		}
		p.Offset = n
	}
	for _, f := range []struct {
		key string
		dst **time.Time
	}{{"start_time", &p.StartTime}, {"end_time", &p.EndTime}} {
		v := q.Get(f.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return p, nil, f.key + " must be an RFC3339 timestamp"
		}
		*f.dst = &t
	}
	if p.StartTime != nil && p.EndTime != nil && p.EndTime.Before(*p.StartTime) {
		return p, nil, "end_time must not be before start_time"
	}

	for i, a := range p.Actions {
		p.Actions[i] = strings.ToUpper(strings.TrimSpace(a))
	}
	return p, validation.ValidateStruct(&p), ""
}

// Filter converts the params to a store filter.
func (p AuditQueryParams) Filter() audit.Filter {
	f := audit.Filter{
		TableName: p.Table,
		RecordID:  p.RecordID,
		UserID:    p.UserID,
		IPAddress: p.IPAddress,
		StartTime: p.StartTime,
		EndTime:   p.EndTime,
		Limit:     p.Limit,
		Offset:    p.Offset,
	}
	for _, a := range p.Actions {
		f.Actions = append(f.Actions, audit.Action(a))
	}
	return f
}

// RoleChangeRequest is the body of PUT /api/admin/users/{id}/role.
type RoleChangeRequest struct {
	Role   string `json:"role" validate:"required,role"`
	Reason string `json:"reason" validate:"max=200"`
}

// SuspendRequest is the body of POST /api/admin/users/{id}/suspend.
type SuspendRequest struct {
	Reason string `json:"reason" validate:"required,max=200"`
}

// SigninRequest is the body of POST /api/auth/signin.
type SigninRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

// decodeJSON reads a bounded JSON body into dst and validates it. It writes
// the error response and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	rw := NewResponseWriter(w, r)

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		rw.BadRequest("Invalid JSON body")
		return false
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		writeValidationError(rw, verr)
		return false
	}
	return true
}

func writeValidationError(rw *ResponseWriter, verr *validation.RequestValidationError) {
	apiErr := verr.ToAPIError()
	rw.ErrorWithDetails(http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
}
