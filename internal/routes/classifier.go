// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

// Package routes classifies inbound requests into route classes. A route
// class selects the rate limiter, the CSP directive set and the CSRF mode
// applied to a request.
package routes

import (
	"net/http"
	"path"
	"strings"
)

// Class is a named category of endpoints sharing one rate-limit and CSP policy.
type Class string

const (
	ClassAuth          Class = "auth"
	ClassPayment       Class = "payment"
	ClassAdminMutation Class = "admin_mutation"
	ClassWebhook       Class = "webhook"
	ClassAPI           Class = "api"
	ClassPage          Class = "page"
)

// LimiterClasses lists the classes that own a rate limiter. ClassPage
// shares the api limiter.
var LimiterClasses = []Class{ClassAuth, ClassPayment, ClassAdminMutation, ClassWebhook, ClassAPI}

// LimiterClass returns the class whose limiter applies to c.
func (c Class) LimiterClass() Class {
	if c == ClassPage {
		return ClassAPI
	}
	return c
}

// Route is the classification result for one request.
type Route struct {
	Class Class

	// Path is the cleaned request path used for every later decision.
	Path string

	// API is true for paths under the API prefix.
	API bool
}

// Payment reports whether payment provider sources apply to this route.
func (r Route) Payment() bool { return r.Class == ClassPayment }

// Webhook reports whether the route receives provider callbacks.
func (r Route) Webhook() bool { return r.Class == ClassWebhook }

// Config lists the path prefixes of each class.
type Config struct {
	APIPrefix       string   `koanf:"api_prefix" validate:"required,startswith=/"`
	AuthPrefixes    []string `koanf:"auth_prefixes"`
	PaymentPrefixes []string `koanf:"payment_prefixes"`
	AdminPrefixes   []string `koanf:"admin_prefixes"`
	WebhookPrefixes []string `koanf:"webhook_prefixes"`
}

// DefaultConfig returns the prefixes used by the admin application.
func DefaultConfig() Config {
	return Config{
		APIPrefix:       "/api/",
		AuthPrefixes:    []string{"/api/auth/"},
		PaymentPrefixes: []string{"/api/checkout/", "/api/payments/", "/checkout/"},
		AdminPrefixes:   []string{"/api/admin/"},
		WebhookPrefixes: []string{"/api/webhooks/"},
	}
}

// Classifier maps requests to routes. It is immutable and safe for
// concurrent use.
type Classifier struct {
	api     string
	auth    []string
	payment []string
	admin   []string
	webhook []string
}

// NewClassifier normalizes the configured prefixes.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{
		api:     normalizePrefix(cfg.APIPrefix),
		auth:    normalizePrefixes(cfg.AuthPrefixes),
		payment: normalizePrefixes(cfg.PaymentPrefixes),
		admin:   normalizePrefixes(cfg.AdminPrefixes),
		webhook: normalizePrefixes(cfg.WebhookPrefixes),
	}
}

// Classify returns the route of r.
func (c *Classifier) Classify(r *http.Request) Route {
	return c.ClassifyPath(r.Method, r.URL.Path)
}

// ClassifyPath classifies a method and raw path. Webhook prefixes win over
// every other class.
func (c *Classifier) ClassifyPath(method, rawPath string) Route {
	p := CleanPath(rawPath)
	route := Route{Path: p, API: hasPrefix(p, c.api)}

	switch {
	case matchAny(p, c.webhook):
		route.Class = ClassWebhook
	case matchAny(p, c.auth):
		route.Class = ClassAuth
	case matchAny(p, c.payment):
		route.Class = ClassPayment
	case matchAny(p, c.admin) && IsMutating(method):
		route.Class = ClassAdminMutation
	case route.API:
		route.Class = ClassAPI
	default:
		route.Class = ClassPage
	}
	return route
}

// HasWebhooks reports whether any webhook prefix is configured.
func (c *Classifier) HasWebhooks() bool { return len(c.webhook) > 0 }

// IsMutating reports whether method changes server state.
func IsMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}

// CleanPath resolves dot segments so "/api/public/../admin" classifies as admin.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean("/" + strings.TrimPrefix(p, "/"))
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

func normalizePrefix(p string) string {
	if p == "" {
		return ""
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func normalizePrefixes(ps []string) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		if p = normalizePrefix(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// hasPrefix matches "/api/" against both "/api" and "/api/x".
func hasPrefix(p, prefix string) bool {
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(p, prefix) || p+"/" == prefix
}

func matchAny(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if hasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
