// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package gate

import (
	"context"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tomtom215/storegate/internal/auth"
	"github.com/tomtom215/storegate/internal/gateerr"
	"github.com/tomtom215/storegate/internal/logging"
	"github.com/tomtom215/storegate/internal/ratelimit"
	"github.com/tomtom215/storegate/internal/routes"
)

// Decision is what protected handlers learn about the request.
type Decision struct {
	Allowed bool

	// Actor is nil for anonymous callers.
	Actor *auth.Actor

	// DenyReason is empty when Allowed.
	DenyReason string

	Route     routes.Route
	RateLimit ratelimit.Decision
}

type decisionKey struct{}

func contextWithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}

// DecisionFromContext returns the gate decision for the request.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(Decision)
	return d, ok
}

// Denial is the body of every gate rejection. It carries no internal state.
type Denial struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeDenial(w http.ResponseWriter, r *http.Request, kind gateerr.Kind) {
	body := Denial{
		Code:      kind.Code(),
		Message:   kind.Message(),
		RequestID: logging.RequestIDFromContext(r.Context()),
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(kind.Status())
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.CtxErr(r.Context(), err).Msg("Failed to write denial response")
	}
}

func setRateLimitHeaders(h http.Header, d ratelimit.Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}
