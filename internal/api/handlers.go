// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/storegate/internal/audit"
	"github.com/tomtom215/storegate/internal/auth"
	"github.com/tomtom215/storegate/internal/gateerr"
)

// HandlerDeps are the collaborators of the admin API handlers.
type HandlerDeps struct {
	Audit   *audit.Service
	Users   *UserDirectory
	Issuer  *auth.Issuer
	Session auth.Config

	// SecureCookies marks issued session cookies Secure.
	SecureCookies bool

	// Ready reports whether backing stores are reachable. Nil means always
	// ready.
	Ready func(context.Context) error
}

// Handlers serves the admin API.
type Handlers struct {
	deps      HandlerDeps
	startTime time.Time
}

// NewHandlers builds the handlers.
func NewHandlers(deps HandlerDeps) (*Handlers, error) {
	switch {
	case deps.Audit == nil:
		return nil, gateerr.Configf("api: audit service is required")
	case deps.Users == nil:
		return nil, gateerr.Configf("api: user directory is required")
	case deps.Issuer == nil:
		return nil, gateerr.Configf("api: session issuer is required")
	}
	return &Handlers{deps: deps, startTime: time.Now()}, nil
}

// Live handles GET /health/live.
func (h *Handlers) Live(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Ready handles GET /health/ready.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.Ready(ctx); err != nil {
			WriteError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Not ready")
			return
		}
	}
	WriteSuccess(w, r, map[string]string{"status": "ready"})
}

// Product is a storefront catalogue item.
type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`
}

var catalogue = []Product{
	{ID: "sku-1001", Name: "Canvas Tote", PriceCents: 2400, Currency: "EUR"},
	{ID: "sku-1002", Name: "Enamel Mug", PriceCents: 1600, Currency: "EUR"},
	{ID: "sku-1003", Name: "Wool Beanie", PriceCents: 2900, Currency: "EUR"},
}

// ListProducts handles GET /api/products. The catalogue belongs to the
// storefront; this listing exists so the public route has a handler.
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).SuccessWithPagination(catalogue, &PaginationMeta{Count: len(catalogue)})
}

// PaymentWebhook handles POST /api/webhooks/payments. The gate has already
// verified the signature.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, map[string]bool{"received": true})
}

// audit writes an entry, logging failures. Persistence problems never
// change the response.
func (h *Handlers) audit(r *http.Request, in audit.Input) {
	if _, err := h.deps.Audit.CreateAuditLog(r.Context(), in); err != nil {
		logErr(r, err, "Failed to create audit entry")
	}
}
