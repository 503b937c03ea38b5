// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package api

import (
	"net/url"
	"testing"

	"github.com/tomtom215/storegate/internal/audit"
)

func TestParseAuditQuery_Defaults(t *testing.T) {
	p, verr, msg := parseAuditQuery(url.Values{})
	if verr != nil || msg != "" {
		t.Fatalf("unexpected failure: %v %q", verr, msg)
	}
	if p.Limit != defaultAuditLimit || p.Offset != 0 {
		t.Errorf("params = %+v", p)
	}
}

func TestParseAuditQuery_Filter(t *testing.T) {
	q := url.Values{
		"table":      {"users"},
		"record_id":  {"u-42"},
		"action":     {"role_change", "ACCOUNT_SUSPENDED"},
		"ip_address": {"203.0.113.9"},
		"start_time": {"2026-01-01T00:00:00Z"},
		"end_time":   {"2026-02-01T00:00:00Z"},
		"limit":      {"25"},
		"offset":     {"50"},
	}
	p, verr, msg := parseAuditQuery(q)
	if verr != nil || msg != "" {
		t.Fatalf("unexpected failure: %v %q", verr, msg)
	}

	f := p.Filter()
	if f.TableName != "users" || f.RecordID != "u-42" || f.Limit != 25 || f.Offset != 50 {
		t.Errorf("filter = %+v", f)
	}
	if len(f.Actions) != 2 || f.Actions[0] != audit.ActionRoleChange || f.Actions[1] != audit.ActionAccountSuspended {
		t.Errorf("actions = %v", f.Actions)
	}
	if f.StartTime == nil || f.EndTime == nil || !f.EndTime.After(*f.StartTime) {
		t.Errorf("time range = %v..%v", f.StartTime, f.EndTime)
	}
}

func TestParseAuditQuery_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		q         url.Values
		wantMsg   bool
		wantField string
	}{
		{"non-numeric limit", url.Values{"limit": {"ten"}}, true, ""},
		{"bad timestamp", url.Values{"start_time": {"yesterday"}}, true, ""},
		{"inverted range", url.Values{"start_time": {"2026-02-01T00:00:00Z"}, "end_time": {"2026-01-01T00:00:00Z"}}, true, ""},
		{"limit too high", url.Values{"limit": {"5000"}}, false, "limit"},
		{"zero limit", url.Values{"limit": {"0"}}, false, "limit"},
		{"negative offset", url.Values{"offset": {"-1"}}, false, "offset"},
		{"unknown action", url.Values{"action": {"DROP_TABLE"}}, false, "action[0]"},
		{"bad ip", url.Values{"ip_address": {"not-an-ip"}}, false, "ip_address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, verr, msg := parseAuditQuery(tt.q)
			if tt.wantMsg {
				if msg == "" {
					t.Errorf("expected a parse message")
				}
				return
			}
			if verr == nil {
				t.Fatal("expected validation error")
			}
			if got := verr.Errors()[0].Field(); got != tt.wantField {
				t.Errorf("field = %q, want %q", got, tt.wantField)
			}
		})
	}
}
