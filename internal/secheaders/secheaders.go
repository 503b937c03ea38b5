// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

// Package secheaders composes the browser security headers of every
// response, including a per-request CSP nonce.
//
// Payment routes get the configured payment provider origins in
// script-src, frame-src and connect-src. No other route loads third-party
// code or allows framing.
package secheaders

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/tomtom215/storegate/internal/gateerr"
	"github.com/tomtom215/storegate/internal/routes"
)

const nonceBytes = 16

const (
	hstsValue                = "max-age=63072000; includeSubDomains; preload"
	defaultPermissionsPolicy = "accelerometer=(), camera=(), geolocation=(), gyroscope=(), magnetometer=(), microphone=(), payment=(self), usb=()"
)

// Config holds the header policy.
type Config struct {
	// DevRelaxation allows eval and websocket connections for local
	// tooling. Rejected in production.
	DevRelaxation bool `koanf:"dev_relaxation"`

	PaymentScriptSources  []string `koanf:"payment_script_sources"`
	PaymentFrameSources   []string `koanf:"payment_frame_sources"`
	PaymentConnectSources []string `koanf:"payment_connect_sources"`

	PermissionsPolicy string `koanf:"permissions_policy"`

	// ReportURI, when set, adds a report-uri directive.
	ReportURI string `koanf:"report_uri" validate:"omitempty,url"`

	// CORS preflight. CSRFHeader is the anti-forgery header browsers must be
	// allowed to send; it follows the CSRF configuration.
	AllowedOrigins  []string `koanf:"-"`
	CSRFHeader      string   `koanf:"-"`
	PreflightMaxAge int      `koanf:"preflight_max_age" validate:"gte=0"`
}

// DefaultConfig allows Stripe.js on payment routes.
func DefaultConfig() Config {
	return Config{
		PaymentScriptSources:  []string{"https://js.stripe.com"},
		PaymentFrameSources:   []string{"https://js.stripe.com", "https://hooks.stripe.com"},
		PaymentConnectSources: []string{"https://api.stripe.com"},
		PermissionsPolicy:     defaultPermissionsPolicy,
		PreflightMaxAge:       86400,
	}
}

// Composed is the header set for one response.
type Composed struct {
	Headers http.Header
	Nonce   string
}

// Apply sets the composed headers on h, replacing existing values.
func (c Composed) Apply(h http.Header) {
	for k, vals := range c.Headers {
		h[k] = append([]string(nil), vals...)
	}
}

// Composer builds per-request headers. Immutable after New.
type Composer struct {
	cfg        Config
	classifier *routes.Classifier
	preflight  http.Handler
}

// New validates cfg. production reports whether the service runs in the
// production environment.
func New(cfg Config, classifier *routes.Classifier, production bool) (*Composer, error) {
	if cfg.DevRelaxation && production {
		return nil, gateerr.Configf("secheaders: dev_relaxation must not be enabled in production")
	}
	for _, list := range [][]string{cfg.PaymentScriptSources, cfg.PaymentFrameSources, cfg.PaymentConnectSources} {
		for _, src := range list {
			if strings.ContainsAny(src, " ;'") || src == "*" {
				return nil, gateerr.Configf("secheaders: invalid payment source %q", src)
			}
		}
	}
	if cfg.PermissionsPolicy == "" {
		cfg.PermissionsPolicy = defaultPermissionsPolicy
	}
	return &Composer{
		cfg:        cfg,
		classifier: classifier,
		preflight:  newPreflight(cfg),
	}, nil
}

// Compose classifies r and builds its headers.
func (c *Composer) Compose(r *http.Request) (Composed, error) {
	return c.ComposeRoute(c.classifier.Classify(r))
}

// ComposeRoute builds the headers for an already classified route. Every
// call draws a fresh nonce.
func (c *Composer) ComposeRoute(route routes.Route) (Composed, error) {
	nonce, err := generateNonce()
	if err != nil {
		return Composed{}, err
	}

	h := make(http.Header, 8)
	h.Set("Content-Security-Policy", c.csp(route, nonce))
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Strict-Transport-Security", hstsValue)
	h.Set("Cross-Origin-Opener-Policy", "same-origin")
	h.Set("Permissions-Policy", c.cfg.PermissionsPolicy)

	return Composed{Headers: h, Nonce: nonce}, nil
}

func (c *Composer) csp(route routes.Route, nonce string) string {
	script := []string{"'self'", "'nonce-" + nonce + "'", "'strict-dynamic'"}
	connect := []string{"'self'"}
	frame := []string{"'none'"}

	if route.Payment() {
		script = append(script, c.cfg.PaymentScriptSources...)
		connect = append(connect, c.cfg.PaymentConnectSources...)
		if len(c.cfg.PaymentFrameSources) > 0 {
			frame = append([]string(nil), c.cfg.PaymentFrameSources...)
		}
	}
	if c.cfg.DevRelaxation {
		script = append(script, "'unsafe-eval'")
		connect = append(connect, "ws:", "wss:")
	}

	directives := []string{
		"default-src 'self'",
		"script-src " + strings.Join(script, " "),
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data: https:",
		"font-src 'self' data:",
		"connect-src " + strings.Join(connect, " "),
		"frame-src " + strings.Join(frame, " "),
		"frame-ancestors 'none'",
		"object-src 'none'",
		"base-uri 'self'",
		"form-action 'self'",
		"upgrade-insecure-requests",
	}
	if c.cfg.ReportURI != "" {
		directives = append(directives, "report-uri "+c.cfg.ReportURI)
	}
	return strings.Join(directives, "; ")
}

func generateNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate csp nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

type nonceKey struct{}

// ContextWithNonce stores the CSP nonce for templates rendered downstream.
func ContextWithNonce(ctx context.Context, nonce string) context.Context {
	return context.WithValue(ctx, nonceKey{}, nonce)
}

// NonceFromContext returns the request's CSP nonce, or "".
func NonceFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(nonceKey{}).(string); ok {
		return v
	}
	return ""
}
