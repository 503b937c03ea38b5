// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/storegate/internal/audit"
)

const maxExportEntries = 10000

// QueryAudit handles GET /api/admin/audit.
func (h *Handlers) QueryAudit(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	params, verr, msg := parseAuditQuery(r.URL.Query())
	switch {
	case msg != "":
		rw.BadRequest(msg)
		return
	case verr != nil:
		writeValidationError(rw, verr)
		return
	}

	// One extra row tells whether another page exists.
	f := params.Filter()
	f.Limit++
	entries, err := h.deps.Audit.QueryAuditLogs(r.Context(), f)
	if err != nil {
		rw.InternalError(ErrCodeAuditError, err)
		return
	}
	hasMore := len(entries) > params.Limit
	if hasMore {
		entries = entries[:params.Limit]
	}

	rw.SuccessWithPagination(entries, &PaginationMeta{
		Count:   len(entries),
		Offset:  params.Offset,
		Limit:   params.Limit,
		HasMore: hasMore,
	})
}

// AuditSummary handles GET /api/admin/audit/summary.
func (h *Handlers) AuditSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.deps.Audit.GetAuditSummary(r.Context())
	if err != nil {
		NewResponseWriter(w, r).InternalError(ErrCodeAuditError, err)
		return
	}
	WriteSuccess(w, r, summary)
}

// AuditTrail handles GET /api/admin/audit/{table}/{recordID}.
func (h *Handlers) AuditTrail(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	recordID := chi.URLParam(r, "recordID")
	if table == "" || recordID == "" {
		NewResponseWriter(w, r).BadRequest("table and record id are required")
		return
	}

	entries, err := h.deps.Audit.GetAuditTrail(r.Context(), table, recordID)
	if err != nil {
		NewResponseWriter(w, r).InternalError(ErrCodeAuditError, err)
		return
	}
	NewResponseWriter(w, r).SuccessWithPagination(entries, &PaginationMeta{Count: len(entries)})
}

// ExportAudit handles GET /api/admin/audit/export?format=json|cef. It takes
// the same filters as QueryAudit; without a limit it exports up to
// maxExportEntries. The export itself is audited.
func (h *Handlers) ExportAudit(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	q := r.URL.Query()

	exporter, err := audit.NewExporter(q.Get("format"))
	if err != nil {
		rw.BadRequest("format must be json or cef")
		return
	}

	params, verr, msg := parseAuditQuery(q)
	switch {
	case msg != "":
		rw.BadRequest(msg)
		return
	case verr != nil:
		writeValidationError(rw, verr)
		return
	}
	f := params.Filter()
	if q.Get("limit") == "" {
		f.Limit = maxExportEntries
	}

	entries, err := h.deps.Audit.QueryAuditLogs(r.Context(), f)
	if err != nil {
		rw.InternalError(ErrCodeAuditError, err)
		return
	}

	var buf bytes.Buffer
	if err := exporter.Export(&buf, entries); err != nil {
		rw.InternalError(ErrCodeAuditError, err)
		return
	}

	h.audit(r, audit.Input{
		TableName: "audit_logs",
		RecordID:  "export",
		Action:    audit.ActionExport,
		Metadata: map[string]any{
			"format":  exporter.Extension(),
			"entries": len(entries),
		},
	})

	filename := fmt.Sprintf("audit-%s.%s", time.Now().UTC().Format("20060102-150405"), exporter.Extension())
	w.Header().Set("Content-Type", exporter.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logErr(r, err, "Failed to write audit export")
	}
}
