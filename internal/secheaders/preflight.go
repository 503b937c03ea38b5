// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package secheaders

import (
	"net/http"

	"github.com/go-chi/cors"
)

var (
	preflightMethods = []string{
		http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
	}
	preflightHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
	exposedHeaders   = []string{
		"X-Request-ID",
		"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After",
	}
)

const defaultCSRFHeader = "X-CSRF-Token"

func newPreflight(cfg Config) http.Handler {
	csrfHeader := cfg.CSRFHeader
	if csrfHeader == "" {
		csrfHeader = defaultCSRFHeader
	}
	opts := cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   preflightMethods,
		AllowedHeaders:   append(append([]string(nil), preflightHeaders...), csrfHeader),
		ExposedHeaders:   append(append([]string(nil), exposedHeaders...), csrfHeader),
		AllowCredentials: true,
		MaxAge:           cfg.PreflightMaxAge,
	}
	// cors treats an empty list as "allow all".
	if len(cfg.AllowedOrigins) == 0 {
		opts.AllowOriginFunc = func(*http.Request, string) bool { return false }
	}
	c := cors.New(opts)
	// The gate answers preflights itself; nothing runs after.
	return c.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
}

// IsPreflight reports whether r is a CORS preflight request.
func IsPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

// Preflight answers a CORS preflight. Only exact trusted origins receive
// Access-Control-Allow-Origin.
func (c *Composer) Preflight(w http.ResponseWriter, r *http.Request) {
	c.preflight.ServeHTTP(w, r)
}
