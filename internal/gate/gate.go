// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

// Package gate runs every inbound request through the security pipeline
// before any business handler sees it.
//
// The order is fixed: rate limit, then provenance (CSRF, origin, webhook
// signature), then authorization. Security headers are attached to every
// response including denials, and each denial is audited. CORS preflights
// are answered right after header composition.
//
// Usage:
//
//	g, err := gate.New(gate.DefaultConfig(), gate.Deps{...})
//	r.Use(g.Middleware)
//
// Handlers read the outcome with DecisionFromContext.
package gate

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/tomtom215/storegate/internal/audit"
	"github.com/tomtom215/storegate/internal/auth"
	"github.com/tomtom215/storegate/internal/authz"
	"github.com/tomtom215/storegate/internal/csrf"
	"github.com/tomtom215/storegate/internal/gateerr"
	"github.com/tomtom215/storegate/internal/logging"
	"github.com/tomtom215/storegate/internal/metrics"
	"github.com/tomtom215/storegate/internal/ratelimit"
	"github.com/tomtom215/storegate/internal/routes"
	"github.com/tomtom215/storegate/internal/secheaders"
)

// RequestTable is the audit table name of gate entries.
const RequestTable = "http_requests"

// Config holds the gate's own settings.
type Config struct {
	// TrustProxyHeaders derives the client IP from True-Client-IP,
	// X-Real-IP or X-Forwarded-For. Enable only behind a proxy that
	// overwrites them.
	TrustProxyHeaders bool `koanf:"trust_proxy_headers"`

	// AuditReads records REQUEST_COMPLETED for safe methods as well.
	AuditReads bool `koanf:"audit_reads"`
}

// DefaultConfig trusts only the socket address.
func DefaultConfig() Config {
	return Config{}
}

// Deps are the components the gate composes. All are required.
type Deps struct {
	Classifier *routes.Classifier
	Headers    *secheaders.Composer
	Limits     *ratelimit.Registry
	CSRF       *csrf.Validator
	Enforcer   *authz.Enforcer
	Sessions   *auth.Verifier
	Audit      *audit.Service
}

// Gate is the request security pipeline. Safe for concurrent use.
type Gate struct {
	cfg        Config
	classifier *routes.Classifier
	headers    *secheaders.Composer
	limits     *ratelimit.Registry
	csrf       *csrf.Validator
	enforcer   *authz.Enforcer
	sessions   *auth.Verifier
	audit      *audit.Service
	clientIP   httprate.KeyFunc
	now        func() time.Time
}

// New wires the gate. A missing component is a configuration error so a
// half-built gate never starts.
func New(cfg Config, deps Deps) (*Gate, error) {
	switch {
	case deps.Classifier == nil:
		return nil, gateerr.Configf("gate: route classifier is required")
	case deps.Headers == nil:
		return nil, gateerr.Configf("gate: header composer is required")
	case deps.Limits == nil:
		return nil, gateerr.Configf("gate: rate limit registry is required")
	case deps.CSRF == nil:
		return nil, gateerr.Configf("gate: csrf validator is required")
	case deps.Enforcer == nil:
		return nil, gateerr.Configf("gate: authorization enforcer is required")
	case deps.Sessions == nil:
		return nil, gateerr.Configf("gate: session verifier is required")
	case deps.Audit == nil:
		return nil, gateerr.Configf("gate: audit service is required")
	}

	keyFn := httprate.KeyByIP
	if cfg.TrustProxyHeaders {
		keyFn = httprate.KeyByRealIP
	}

	return &Gate{
		cfg:        cfg,
		classifier: deps.Classifier,
		headers:    deps.Headers,
		limits:     deps.Limits,
		csrf:       deps.CSRF,
		enforcer:   deps.Enforcer,
		sessions:   deps.Sessions,
		audit:      deps.Audit,
		clientIP:   keyFn,
		now:        time.Now,
	}, nil
}

// request is the per-request pipeline state.
type request struct {
	r       *http.Request
	w       *secheaders.Guard
	route   routes.Route
	actor   *auth.Actor
	ip      string
	limit   ratelimit.Decision
	reason  string
	tracker *tracker
}

// Middleware protects next.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.serve(w, r, next)
	})
}

func (g *Gate) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	route := g.classifier.Classify(r)

	composed, err := g.headers.ComposeRoute(route)
	if err != nil {
		logging.CtxErr(ctx, err).Msg("Failed to compose security headers")
		writeDenial(w, r, gateerr.KindUnknown)
		return
	}
	guard := secheaders.NewGuard(w, composed)
	ctx = secheaders.ContextWithNonce(ctx, composed.Nonce)

	req := &request{w: guard, route: route, tracker: newTracker()}

	if secheaders.IsPreflight(r) {
		g.headers.Preflight(guard, r.WithContext(ctx))
		if !guard.Written() {
			guard.WriteHeader(http.StatusOK)
		}
		g.step(ctx, req, StateResponded)
		metrics.RecordGateOutcome(string(route.Class), "PREFLIGHT")
		return
	}

	ctx = g.identify(ctx, req, r)
	req.r = r.WithContext(ctx)

	if g.checkRate(ctx, req) && g.checkProvenance(ctx, req) && g.checkAccess(ctx, req) {
		g.handle(ctx, req, next)
	}

	g.step(ctx, req, StateResponded)
	metrics.RecordGateOutcome(string(route.Class), string(req.tracker.Outcome()))
}

// identify resolves the caller and attaches the actor and audit context.
func (g *Gate) identify(ctx context.Context, req *request, r *http.Request) context.Context {
	requestID := logging.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = logging.GenerateRequestID()
		ctx = logging.ContextWithRequestID(ctx, requestID)
	}

	actor, err := g.sessions.Verify(r)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Msg("Treating request with invalid session as anonymous")
		actor = nil
	}
	req.actor = actor

	ip, err := g.clientIP(r)
	if err != nil || ip == "" {
		ip = r.RemoteAddr
	}
	req.ip = ip

	params := audit.Params{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		RequestID: requestID,
	}
	if actor != nil {
		ctx = auth.ContextWithActor(ctx, actor)
		params.UserID = actor.UserID
		params.UserEmail = actor.Email
		params.SessionID = actor.SessionID
	}

	withAudit, err := g.audit.SetContext(ctx, audit.NewContext(params))
	if err != nil {
		if !errors.Is(err, audit.ErrContextAlreadySet) {
			logging.CtxErr(ctx, err).Msg("Failed to attach audit context")
		}
		return ctx
	}
	return withAudit
}

// identity is the rate-limit subject: the user for authenticated
// mutations, the client IP otherwise.
func (g *Gate) identity(req *request) string {
	if req.actor != nil && routes.IsMutating(req.r.Method) {
		return "user:" + req.actor.UserID
	}
	return "ip:" + req.ip
}

func (g *Gate) checkRate(ctx context.Context, req *request) bool {
	d := g.limits.For(req.route.Class).Allow(ctx, g.identity(req))
	req.limit = d
	setRateLimitHeaders(req.w.Header(), d)

	if !d.Allowed {
		req.w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter(g.now())))
		reason := "limit exceeded"
		if d.Degraded {
			reason = "backend unavailable"
		}
		g.deny(ctx, req, StateRateLimited, reason)
		return false
	}
	g.step(ctx, req, StateRateChecked)
	return true
}

func (g *Gate) checkProvenance(ctx context.Context, req *request) bool {
	res := g.csrf.ValidateRoute(req.r, req.route)
	if !res.Valid {
		g.deny(ctx, req, stateForKind(res.Reason.Kind()), string(res.Reason))
		return false
	}
	g.step(ctx, req, StateOriginChecked)
	return true
}

func (g *Gate) checkAccess(ctx context.Context, req *request) bool {
	guard, ok := g.enforcer.Guards().Match(req.r.Method, req.route.Path)
	if !ok {
		return g.checkUnguarded(ctx, req)
	}
	if guard.Public {
		g.step(ctx, req, StateAuthorized)
		return true
	}

	if req.actor == nil {
		g.deny(ctx, req, StateUnauthorized, "no session")
		return false
	}

	allowed, err := g.enforcer.Authorize(req.actor.Role, guard, req.r.Method)
	if err != nil {
		logging.CtxErr(ctx, err).Str("pattern", guard.Pattern).Msg("Authorization check failed, denying")
		g.deny(ctx, req, StateForbidden, "policy evaluation failed")
		return false
	}
	if !allowed {
		g.deny(ctx, req, StateForbidden, "role "+string(req.actor.Role)+" lacks permission for "+guard.Pattern)
		return false
	}
	g.step(ctx, req, StateAuthorized)
	return true
}

// checkUnguarded admits reads no guard covers. A mutation must be claimed by
// a guard, public or not, before it reaches a handler.
func (g *Gate) checkUnguarded(ctx context.Context, req *request) bool {
	if !routes.IsMutating(req.r.Method) {
		g.step(ctx, req, StateAuthorized)
		return true
	}
	if req.actor == nil {
		g.deny(ctx, req, StateUnauthorized, "no session")
		return false
	}
	g.deny(ctx, req, StateForbidden, "no guard for "+req.r.Method+" "+req.route.Path)
	return false
}

func (g *Gate) handle(ctx context.Context, req *request, next http.Handler) {
	if !routes.IsMutating(req.r.Method) && !req.route.Webhook() {
		g.csrf.Apply(req.w, req.r)
	}

	ctx = contextWithDecision(ctx, Decision{
		Allowed:   true,
		Actor:     req.actor,
		Route:     req.route,
		RateLimit: req.limit,
	})
	next.ServeHTTP(req.w, req.r.WithContext(ctx))
	g.step(ctx, req, StateHandled)

	if routes.IsMutating(req.r.Method) || g.cfg.AuditReads {
		g.record(ctx, req, audit.ActionRequestCompleted, req.w.Status())
	}
	g.step(ctx, req, StateAudited)
}

// deny writes the rejection and audits it.
func (g *Gate) deny(ctx context.Context, req *request, state State, reason string) {
	g.step(ctx, req, state)
	req.reason = reason
	kind := state.Kind()

	logging.Ctx(ctx).Info().
		Str("state", string(state)).
		Str("route_class", string(req.route.Class)).
		Str("reason", reason).
		Str("path", req.route.Path).
		Msg("Request denied by gate")

	writeDenial(req.w, req.r, kind)
	g.record(ctx, req, state.AuditAction(), kind.Status())
	g.step(ctx, req, StateAudited)
}

func (g *Gate) record(ctx context.Context, req *request, action audit.Action, status int) {
	meta := map[string]any{
		"method":      req.r.Method,
		"route_class": string(req.route.Class),
		"status":      status,
		"state":       string(req.tracker.Outcome()),
	}
	if req.reason != "" {
		meta["reason"] = req.reason
	}
	if req.actor != nil {
		meta["role"] = string(req.actor.Role)
	}
	if req.limit.Limit > 0 {
		meta["rate_limit"] = map[string]any{
			"limit":     req.limit.Limit,
			"remaining": req.limit.Remaining,
			"degraded":  req.limit.Degraded,
		}
	}

	_, err := g.audit.CreateAuditLog(ctx, audit.Input{
		TableName: RequestTable,
		RecordID:  req.r.Method + " " + req.route.Path,
		Action:    action,
		Metadata:  meta,
	})
	if err != nil {
		logging.CtxErr(ctx, err).Str("action", string(action)).Msg("Failed to build gate audit entry")
	}
}

func (g *Gate) step(ctx context.Context, req *request, to State) {
	if err := req.tracker.advance(to); err != nil {
		logging.CtxErr(ctx, err).Msg("Gate state machine violation")
	}
}
