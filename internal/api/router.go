// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

// Package api serves the admin HTTP API behind the security gate.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/storegate/internal/gate"
	"github.com/tomtom215/storegate/internal/middleware"
	"github.com/tomtom215/storegate/internal/routes"
)

// NewRouter mounts the handlers. Everything under /api, including unknown
// paths and methods, passes through the gate; health and metrics do not.
func NewRouter(h *Handlers, g *gate.Gate, classifier *routes.Classifier) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics(classifier))

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", h.Live)
		r.Get("/ready", h.Ready)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(g.Middleware)

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			WriteError(w, r, http.StatusNotFound, ErrCodeNotFound, "Not found")
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			WriteError(w, r, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		})

		r.Get("/products", h.ListProducts)
		r.Post("/auth/signin", h.Signin)
		r.Post("/webhooks/payments", h.PaymentWebhook)

		r.Route("/admin", func(r chi.Router) {
			r.Route("/audit", func(r chi.Router) {
				r.Get("/", h.QueryAudit)
				r.Get("/summary", h.AuditSummary)
				r.Get("/export", h.ExportAudit)
				r.Get("/{table}/{recordID}", h.AuditTrail)
			})
			r.Route("/users/{id}", func(r chi.Router) {
				r.Get("/", h.GetUser)
				r.Put("/role", h.ChangeRole)
				r.Post("/role", h.ChangeRole)
				r.Post("/suspend", h.SuspendUser)
			})
		})
	})

	return r
}
