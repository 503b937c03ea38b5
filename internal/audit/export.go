// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package audit

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
)

// Exporter writes entries for compliance tooling.
type Exporter interface {
	Export(w io.Writer, entries []Entry) error
	ContentType() string
	Extension() string
}

// NewExporter returns the exporter for format: "json" or "cef".
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return JSONExporter{}, nil
	case "cef":
		return NewCEFExporter(), nil
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}

// JSONExporter writes entries as an indented JSON array.
type JSONExporter struct{}

func (JSONExporter) ContentType() string { return "application/json" }
func (JSONExporter) Extension() string   { return "json" }

func (JSONExporter) Export(w io.Writer, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// CEFExporter writes one Common Event Format line per entry, for SIEM
// ingestion.
type CEFExporter struct {
	DeviceVendor  string
	DeviceProduct string
	DeviceVersion string
}

// NewCEFExporter creates a CEF exporter with the product identifiers.
func NewCEFExporter() *CEFExporter {
	return &CEFExporter{
		DeviceVendor:  "Storegate",
		DeviceProduct: "RequestSecurityGate",
		DeviceVersion: "1.0",
	}
}

func (e *CEFExporter) ContentType() string { return "text/plain; charset=utf-8" }
func (e *CEFExporter) Extension() string   { return "cef" }

// Export writes CEF:Version|Vendor|Product|Version|Signature ID|Name|Severity|Extension
// lines.
func (e *CEFExporter) Export(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for i := range entries {
		entry := &entries[i]
		if _, err := fmt.Fprintf(bw, "CEF:0|%s|%s|%s|%s|%s|%d|%s\n",
			escapeHeader(e.DeviceVendor),
			escapeHeader(e.DeviceProduct),
			escapeHeader(e.DeviceVersion),
			escapeHeader(string(entry.Action)),
			escapeHeader(cefName(entry)),
			cefSeverity(entry),
			cefExtension(entry),
		); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func cefName(e *Entry) string {
	if e.RecordID == "" {
		return e.TableName
	}
	return e.TableName + "/" + e.RecordID
}

// cefSeverity maps an entry to CEF severity (0-10).
func cefSeverity(e *Entry) int {
	switch {
	case e.Critical:
		return 8
	case isDenial(e.Action):
		return 5
	default:
		return 3
	}
}

func isDenial(a Action) bool {
	switch a {
	case ActionRateLimited, ActionCSRFRejected, ActionOriginRejected,
		ActionUnauthenticated, ActionAccessDenied, ActionSignatureRejected:
		return true
	}
	return false
}

func cefExtension(e *Entry) string {
	parts := []string{fmt.Sprintf("rt=%d", e.Timestamp.UnixMilli())}
	if e.UserID != "" {
		parts = append(parts, "suid="+escapeExtension(e.UserID))
	}
	if e.UserEmail != "" {
		parts = append(parts, "suser="+escapeExtension(e.UserEmail))
	}
	if e.IPAddress != "" {
		parts = append(parts, "src="+escapeExtension(e.IPAddress))
	}
	parts = append(parts, "act="+escapeExtension(string(e.Action)))
	if e.RequestID != "" {
		parts = append(parts, "externalId="+escapeExtension(e.RequestID))
	}
	if len(e.ChangedFields) > 0 {
		parts = append(parts, "cs1Label=changedFields", "cs1="+escapeExtension(strings.Join(e.ChangedFields, ",")))
	}
	parts = append(parts, "cn1Label=sequence", fmt.Sprintf("cn1=%d", e.Sequence))
	return strings.Join(parts, " ")
}

func escapeHeader(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "|", "\\|")
	return stripNewlines(s)
}

func escapeExtension(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "=", "\\=")
	return stripNewlines(s)
}

func stripNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", " ")
}
