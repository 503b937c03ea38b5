// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

// Package csrf validates that state-changing requests originate from the
// admin application itself.
//
// Browser requests carry a signed double-submit token (cookie plus header or
// form field) and an Origin or Referer from the trusted list. Webhook routes
// skip both and carry an HMAC signature of the raw body instead.
package csrf

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tomtom215/storegate/internal/gateerr"
	"github.com/tomtom215/storegate/internal/logging"
	"github.com/tomtom215/storegate/internal/metrics"
	"github.com/tomtom215/storegate/internal/routes"
)

const minSecretLength = 32

var errBodyTooLarge = errors.New("request body too large")

// Reason explains a rejection.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonCrossSite        Reason = "cross_site_request"
	ReasonOriginMissing    Reason = "origin_missing"
	ReasonOriginNotAllowed Reason = "origin_not_allowed"
	ReasonTokenMissing     Reason = "token_missing"
	ReasonTokenMalformed   Reason = "token_malformed"
	ReasonTokenMismatch    Reason = "token_mismatch"
	ReasonSignatureMissing Reason = "signature_missing"
	ReasonSignatureInvalid Reason = "signature_invalid"
)

// Kind maps the reason onto the gate error taxonomy.
func (r Reason) Kind() gateerr.Kind {
	switch r {
	case ReasonCrossSite, ReasonOriginMissing, ReasonOriginNotAllowed:
		return gateerr.KindOriginRejected
	case ReasonTokenMissing, ReasonTokenMalformed, ReasonTokenMismatch:
		return gateerr.KindCSRFValidationFailed
	case ReasonSignatureMissing, ReasonSignatureInvalid:
		return gateerr.KindSignatureInvalid
	default:
		return gateerr.KindUnknown
	}
}

// Result is the outcome of Validate.
type Result struct {
	Valid  bool
	Reason Reason
}

// Err returns the gate error for a rejection, nil when valid.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return gateerr.New(r.Reason.Kind(), string(r.Reason))
}

func valid() Result { return Result{Valid: true} }

func reject(reason Reason) Result {
	metrics.RecordCSRFRejection(string(reason))
	return Result{Reason: reason}
}

// Config holds the CSRF, origin and webhook signature settings.
type Config struct {
	// Secret keys token signatures. At least 32 bytes.
	Secret string `koanf:"secret"`

	CookieName     string        `koanf:"cookie_name"`
	HeaderName     string        `koanf:"header_name"`
	FormFieldName  string        `koanf:"form_field_name"`
	CookiePath     string        `koanf:"cookie_path"`
	CookieDomain   string        `koanf:"cookie_domain"`
	CookieSecure   bool          `koanf:"cookie_secure"`
	CookieSameSite string        `koanf:"cookie_same_site" validate:"omitempty,oneof=strict lax"`
	TokenTTL       time.Duration `koanf:"token_ttl"`

	// TrustedOrigins are exact scheme://host[:port] values.
	TrustedOrigins []string `koanf:"trusted_origins"`

	// ExemptPaths skip the origin and token checks. Prefix match.
	ExemptPaths []string `koanf:"exempt_paths"`

	WebhookSecret          string        `koanf:"webhook_secret"`
	WebhookSignatureHeader string        `koanf:"webhook_signature_header"`
	WebhookTolerance       time.Duration `koanf:"webhook_tolerance"`
	MaxWebhookBody         int64         `koanf:"max_webhook_body"`
}

// DefaultConfig returns the cookie and header names the admin frontend
// expects. Secrets and origins have no defaults.
func DefaultConfig() Config {
	return Config{
		CookieName:             "_csrf",
		HeaderName:             "X-CSRF-Token",
		FormFieldName:          "csrf_token",
		CookiePath:             "/",
		CookieSecure:           true,
		CookieSameSite:         "strict",
		TokenTTL:               24 * time.Hour,
		WebhookSignatureHeader: "X-Webhook-Signature",
		WebhookTolerance:       5 * time.Minute,
		MaxWebhookBody:         1 << 20,
	}
}

// Validator checks request provenance. It is immutable after New and safe
// for concurrent use.
type Validator struct {
	cfg        Config
	signer     *tokenSigner
	classifier *routes.Classifier
	origins    map[string]struct{}
	sameSite   http.SameSite
	now        func() time.Time
}

// New validates cfg and builds a Validator. Misconfiguration that would
// silently weaken the check is a configuration error.
func New(cfg Config, classifier *routes.Classifier) (*Validator, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, gateerr.Configf("csrf: secret must be at least %d bytes", minSecretLength)
	}
	if len(cfg.TrustedOrigins) == 0 {
		return nil, gateerr.Configf("csrf: trusted_origins must not be empty")
	}
	if classifier.HasWebhooks() && cfg.WebhookSecret == "" {
		return nil, gateerr.Configf("csrf: webhook_secret is required when webhook paths are configured")
	}
	if cfg.CookieName == "" || cfg.HeaderName == "" {
		return nil, gateerr.Configf("csrf: cookie_name and header_name are required")
	}
	if cfg.WebhookSignatureHeader == "" {
		cfg.WebhookSignatureHeader = "X-Webhook-Signature"
	}
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = 5 * time.Minute
	}
	if cfg.MaxWebhookBody <= 0 {
		cfg.MaxWebhookBody = 1 << 20
	}

	origins := make(map[string]struct{}, len(cfg.TrustedOrigins))
	for _, o := range cfg.TrustedOrigins {
		if strings.Contains(o, "*") {
			return nil, gateerr.Configf("csrf: wildcard origin %q is not allowed", o)
		}
		norm, ok := normalizeOrigin(o)
		if !ok {
			return nil, gateerr.Configf("csrf: trusted origin %q must be scheme://host[:port]", o)
		}
		origins[norm] = struct{}{}
	}

	signer, err := newTokenSigner(cfg.Secret)
	if err != nil {
		return nil, err
	}

	sameSite := http.SameSiteStrictMode
	if cfg.CookieSameSite == "lax" {
		sameSite = http.SameSiteLaxMode
	}

	return &Validator{
		cfg:        cfg,
		signer:     signer,
		classifier: classifier,
		origins:    origins,
		sameSite:   sameSite,
		now:        time.Now,
	}, nil
}

// GenerateToken returns a fresh signed token.
func (v *Validator) GenerateToken() (string, error) {
	return v.signer.generate()
}

// Validate checks r, classifying it first.
func (v *Validator) Validate(r *http.Request) Result {
	return v.ValidateRoute(r, v.classifier.Classify(r))
}

// ValidateRoute checks r against an already classified route. The order of
// checks is significant: a cross-site fetch of an API route is refused even
// for safe methods, and webhook routes never consult browser tokens.
func (v *Validator) ValidateRoute(r *http.Request, route routes.Route) Result {
	if route.API && r.Header.Get("Sec-Fetch-Site") == "cross-site" {
		return reject(ReasonCrossSite)
	}

	if !routes.IsMutating(r.Method) {
		return valid()
	}

	if route.Webhook() {
		return v.verifyWebhook(r)
	}

	if v.exempt(route.Path) {
		return valid()
	}

	if reason := v.checkOrigin(r); reason != ReasonNone {
		return reject(reason)
	}

	cookieToken := ""
	if c, err := r.Cookie(v.cfg.CookieName); err == nil {
		cookieToken = c.Value
	}
	requestToken := v.requestToken(r)
	if cookieToken == "" || requestToken == "" {
		return reject(ReasonTokenMissing)
	}
	if !v.signer.verify(cookieToken) || !v.signer.verify(requestToken) {
		return reject(ReasonTokenMalformed)
	}
	if !tokensEqual(cookieToken, requestToken) {
		return reject(ReasonTokenMismatch)
	}
	return valid()
}

// Apply makes sure the client holds a valid token cookie and returns the
// token, also exposed in the response header for single page apps.
func (v *Validator) Apply(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(v.cfg.CookieName); err == nil && v.signer.verify(c.Value) {
		w.Header().Set(v.cfg.HeaderName, c.Value)
		return c.Value
	}

	token, err := v.GenerateToken()
	if err != nil {
		logging.CtxErr(r.Context(), err).Msg("CSRF: failed to generate token")
		return ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     v.cfg.CookieName,
		Value:    token,
		Path:     v.cfg.CookiePath,
		Domain:   v.cfg.CookieDomain,
		MaxAge:   int(v.cfg.TokenTTL.Seconds()),
		Secure:   v.cfg.CookieSecure,
		HttpOnly: false, // read by the SPA for the double submit
		SameSite: v.sameSite,
	})
	w.Header().Set(v.cfg.HeaderName, token)
	return token
}

// Config returns the effective configuration.
func (v *Validator) Config() Config { return v.cfg }

func (v *Validator) requestToken(r *http.Request) string {
	if token := r.Header.Get(v.cfg.HeaderName); token != "" {
		return token
	}
	if r.Method == http.MethodPost && v.cfg.FormFieldName != "" &&
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if r.PostForm == nil {
			//nolint:errcheck // best effort form parsing
			r.ParseForm()
		}
		return r.PostFormValue(v.cfg.FormFieldName)
	}
	return ""
}

func (v *Validator) checkOrigin(r *http.Request) Reason {
	if origin := r.Header.Get("Origin"); origin != "" && origin != "null" {
		return v.allowed(origin)
	}
	if referer := r.Header.Get("Referer"); referer != "" {
		return v.allowed(referer)
	}
	return ReasonOriginMissing
}

func (v *Validator) allowed(raw string) Reason {
	norm, ok := normalizeOrigin(raw)
	if !ok {
		return ReasonOriginNotAllowed
	}
	if _, ok := v.origins[norm]; ok {
		return ReasonNone
	}
	return ReasonOriginNotAllowed
}

func (v *Validator) exempt(p string) bool {
	for _, prefix := range v.cfg.ExemptPaths {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// normalizeOrigin reduces an origin or referer URL to lowercase
// scheme://host[:port], dropping default ports.
func normalizeOrigin(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || u.User != nil {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host, true
}
