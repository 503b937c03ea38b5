// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package secheaders

import "net/http"

// Guard wraps a ResponseWriter so the composed security headers are the
// ones actually sent, whatever the handler set in between. It also records
// the response status.
type Guard struct {
	http.ResponseWriter
	composed    Composed
	status      int
	wroteHeader bool
}

// NewGuard applies composed to w immediately and again when the header is
// written.
func NewGuard(w http.ResponseWriter, composed Composed) *Guard {
	composed.Apply(w.Header())
	return &Guard{ResponseWriter: w, composed: composed, status: http.StatusOK}
}

// WriteHeader re-applies the security headers, then writes the status.
func (g *Guard) WriteHeader(code int) {
	if g.wroteHeader {
		return
	}
	g.wroteHeader = true
	g.status = code
	g.composed.Apply(g.ResponseWriter.Header())
	g.ResponseWriter.WriteHeader(code)
}

func (g *Guard) Write(b []byte) (int, error) {
	if !g.wroteHeader {
		g.WriteHeader(http.StatusOK)
	}
	return g.ResponseWriter.Write(b)
}

// Flush implements http.Flusher when the underlying writer does.
func (g *Guard) Flush() {
	if !g.wroteHeader {
		g.WriteHeader(http.StatusOK)
	}
	if f, ok := g.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (g *Guard) Unwrap() http.ResponseWriter { return g.ResponseWriter }

// Status returns the written status, 200 when the handler wrote nothing.
func (g *Guard) Status() int { return g.status }

// Written reports whether the header has been sent.
func (g *Guard) Written() bool { return g.wroteHeader }
