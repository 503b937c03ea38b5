// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package csrf

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/storegate/internal/gateerr"
	"github.com/tomtom215/storegate/internal/routes"
)

const (
	testSecret        = "0123456789abcdef0123456789abcdef-test"
	testWebhookSecret = "whsec_test_secret"
	trustedOrigin     = "https://admin.shop.example"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Secret = testSecret
	cfg.TrustedOrigins = []string{trustedOrigin}
	cfg.WebhookSecret = testWebhookSecret
	cfg.ExemptPaths = []string{"/api/public/"}

	v, err := New(cfg, routes.NewClassifier(routes.DefaultConfig()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return v
}

func mutatingRequest(t *testing.T, v *Validator, cookieToken, headerToken string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/admin/users/42/suspend", nil)
	req.Header.Set("Origin", trustedOrigin)
	if cookieToken != "" {
		req.AddCookie(&http.Cookie{Name: v.cfg.CookieName, Value: cookieToken})
	}
	if headerToken != "" {
		req.Header.Set(v.cfg.HeaderName, headerToken)
	}
	return req
}

func TestNew_ConfigurationErrors(t *testing.T) {
	classifier := routes.NewClassifier(routes.DefaultConfig())
	base := func() Config {
		cfg := DefaultConfig()
		cfg.Secret = testSecret
		cfg.TrustedOrigins = []string{trustedOrigin}
		cfg.WebhookSecret = testWebhookSecret
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short secret", func(c *Config) { c.Secret = "short" }},
		{"no origins", func(c *Config) { c.TrustedOrigins = nil }},
		{"wildcard origin", func(c *Config) { c.TrustedOrigins = []string{"*"} }},
		{"wildcard subdomain", func(c *Config) { c.TrustedOrigins = []string{"https://*.shop.example"} }},
		{"origin without scheme", func(c *Config) { c.TrustedOrigins = []string{"admin.shop.example"} }},
		{"missing webhook secret", func(c *Config) { c.WebhookSecret = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if _, err := New(cfg, classifier); !gateerr.IsConfiguration(err) {
				t.Errorf("New() error = %v, want configuration error", err)
			}
		})
	}
}

func TestNew_WebhookSecretOptionalWithoutWebhookRoutes(t *testing.T) {
	rc := routes.DefaultConfig()
	rc.WebhookPrefixes = nil

	cfg := DefaultConfig()
	cfg.Secret = testSecret
	cfg.TrustedOrigins = []string{trustedOrigin}

	if _, err := New(cfg, routes.NewClassifier(rc)); err != nil {
		t.Errorf("New() error = %v, want nil", err)
	}
}

func TestValidate_ValidTokenRoundTrip(t *testing.T) {
	v := newTestValidator(t)
	token, err := v.GenerateToken()
	if err != nil {
		t.Fatal(err)
	}

	res := v.Validate(mutatingRequest(t, v, token, token))
	if !res.Valid {
		t.Errorf("Validate() = %+v, want valid", res)
	}
	if res.Err() != nil {
		t.Errorf("Err() = %v, want nil", res.Err())
	}
}

func TestValidate_TokenFailures(t *testing.T) {
	v := newTestValidator(t)
	token, _ := v.GenerateToken()
	other, _ := v.GenerateToken()

	// One character changed in the cookie.
	flipped := byte('A')
	if token[0] == 'A' {
		flipped = 'B'
	}
	mutated := string(flipped) + token[1:]

	foreign, err := newTokenSigner("a-completely-different-secret-value!!")
	if err != nil {
		t.Fatal(err)
	}
	forged, _ := foreign.generate()

	tests := []struct {
		name   string
		cookie string
		header string
		want   Reason
	}{
		{"no cookie", "", token, ReasonTokenMissing},
		{"no header", token, "", ReasonTokenMissing},
		{"mutated cookie", mutated, token, ReasonTokenMalformed},
		{"garbage", "not-a-token", "not-a-token", ReasonTokenMalformed},
		{"forged with other key", forged, forged, ReasonTokenMalformed},
		{"two valid tokens differ", token, other, ReasonTokenMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(mutatingRequest(t, v, tt.cookie, tt.header))
			if res.Valid {
				t.Fatal("expected rejection")
			}
			if res.Reason != tt.want {
				t.Errorf("Reason = %s, want %s", res.Reason, tt.want)
			}
			if gateerr.KindOf(res.Err()) != gateerr.KindCSRFValidationFailed {
				t.Errorf("kind = %v, want CSRFValidationFailed", gateerr.KindOf(res.Err()))
			}
		})
	}
}

func TestValidate_FormFieldToken(t *testing.T) {
	v := newTestValidator(t)
	token, _ := v.GenerateToken()

	form := url.Values{"csrf_token": {token}}
	req := httptest.NewRequest(http.MethodPost, "/api/admin/users/1/suspend", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", trustedOrigin)
	req.AddCookie(&http.Cookie{Name: "_csrf", Value: token})

	if res := v.Validate(req); !res.Valid {
		t.Errorf("Validate() = %+v, want valid", res)
	}
}

func TestValidate_Origin(t *testing.T) {
	v := newTestValidator(t)
	token, _ := v.GenerateToken()

	tests := []struct {
		name    string
		origin  string
		referer string
		want    Reason
	}{
		{"trusted origin", trustedOrigin, "", ReasonNone},
		{"trusted origin default port", "https://admin.shop.example:443", "", ReasonNone},
		{"trusted origin case", "HTTPS://Admin.Shop.Example", "", ReasonNone},
		{"referer fallback", "", trustedOrigin + "/orders?page=2", ReasonNone},
		{"untrusted origin", "https://evil.example", "", ReasonOriginNotAllowed},
		{"scheme downgrade", "http://admin.shop.example", "", ReasonOriginNotAllowed},
		{"suffix attack", "https://admin.shop.example.evil.example", "", ReasonOriginNotAllowed},
		{"untrusted referer", "", "https://evil.example/page", ReasonOriginNotAllowed},
		{"neither header", "", "", ReasonOriginMissing},
		{"null origin without referer", "null", "", ReasonOriginMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/api/admin/products/9", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.referer != "" {
				req.Header.Set("Referer", tt.referer)
			}
			req.AddCookie(&http.Cookie{Name: "_csrf", Value: token})
			req.Header.Set("X-CSRF-Token", token)

			res := v.Validate(req)
			if res.Reason != tt.want {
				t.Errorf("Reason = %q, want %q", res.Reason, tt.want)
			}
			if tt.want != ReasonNone && res.Reason.Kind() != gateerr.KindOriginRejected {
				t.Errorf("kind = %v, want OriginRejected", res.Reason.Kind())
			}
		})
	}
}

func TestValidate_CrossSiteFetchRejectedEvenForGET(t *testing.T) {
	v := newTestValidator(t)

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	if res := v.Validate(req); res.Reason != ReasonCrossSite {
		t.Errorf("Reason = %q, want cross_site_request", res.Reason)
	}

	page := httptest.NewRequest(http.MethodGet, "/storefront", nil)
	page.Header.Set("Sec-Fetch-Site", "cross-site")
	if res := v.Validate(page); !res.Valid {
		t.Errorf("non-API page should allow cross-site navigation, got %+v", res)
	}

	same := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	same.Header.Set("Sec-Fetch-Site", "same-origin")
	if res := v.Validate(same); !res.Valid {
		t.Errorf("same-origin fetch rejected: %+v", res)
	}
}

func TestValidate_SafeMethodsSkipTokens(t *testing.T) {
	v := newTestValidator(t)
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		req := httptest.NewRequest(method, "/api/admin/audit", nil)
		if res := v.Validate(req); !res.Valid {
			t.Errorf("%s rejected: %+v", method, res)
		}
	}
}

func TestValidate_ExemptPath(t *testing.T) {
	v := newTestValidator(t)
	req := httptest.NewRequest(http.MethodPost, "/api/public/newsletter", nil)
	if res := v.Validate(req); !res.Valid {
		t.Errorf("exempt path rejected: %+v", res)
	}
}

func TestValidate_Webhook(t *testing.T) {
	v := newTestValidator(t)
	now := time.Now()
	v.now = func() time.Time { return now }
	body := `{"type":"payment.succeeded","id":"evt_1"}`

	tests := []struct {
		name   string
		header string
		want   Reason
	}{
		{"valid signature", SignWebhook(testWebhookSecret, now, []byte(body)), ReasonNone},
		{"missing", "", ReasonSignatureMissing},
		{"wrong secret", SignWebhook("other", now, []byte(body)), ReasonSignatureInvalid},
		{"tampered body", SignWebhook(testWebhookSecret, now, []byte(body+" ")), ReasonSignatureInvalid},
		{"stale timestamp", SignWebhook(testWebhookSecret, now.Add(-10*time.Minute), []byte(body)), ReasonSignatureInvalid},
		{"no v1", "t=123", ReasonSignatureInvalid},
		{"garbage", "nonsense", ReasonSignatureInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payments", strings.NewReader(body))
			if tt.header != "" {
				req.Header.Set("X-Webhook-Signature", tt.header)
			}

			res := v.Validate(req)
			if res.Reason != tt.want {
				t.Fatalf("Reason = %q, want %q", res.Reason, tt.want)
			}
			if tt.want != ReasonNone {
				if res.Err() == nil || gateerr.KindOf(res.Err()) != gateerr.KindSignatureInvalid {
					t.Errorf("kind = %v, want SignatureInvalid", gateerr.KindOf(res.Err()))
				}
				return
			}
			got, err := io.ReadAll(req.Body)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != body {
				t.Errorf("body not restored: %q", got)
			}
		})
	}
}

func TestValidate_WebhookBodyTooLarge(t *testing.T) {
	v := newTestValidator(t)
	v.cfg.MaxWebhookBody = 8
	body := []byte(`{"much":"too large"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payments", strings.NewReader(string(body)))
	req.Header.Set("X-Webhook-Signature", SignWebhook(testWebhookSecret, time.Now(), body))

	if res := v.Validate(req); res.Reason != ReasonSignatureInvalid {
		t.Errorf("Reason = %q, want signature_invalid", res.Reason)
	}
}

func TestApply(t *testing.T) {
	v := newTestValidator(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	token := v.Apply(rec, req)
	if token == "" {
		t.Fatal("Apply() returned no token")
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != token {
		t.Fatalf("cookies = %v, want one _csrf cookie with the token", cookies)
	}
	c := cookies[0]
	if !c.Secure || c.SameSite != http.SameSiteStrictMode || c.HttpOnly {
		t.Errorf("cookie attributes = secure:%v samesite:%v httponly:%v", c.Secure, c.SameSite, c.HttpOnly)
	}
	if rec.Header().Get("X-CSRF-Token") != token {
		t.Error("token not exposed in response header")
	}

	// A valid cookie is reused without a new Set-Cookie.
	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req2.AddCookie(&http.Cookie{Name: "_csrf", Value: token})
	if got := v.Apply(rec2, req2); got != token {
		t.Errorf("Apply() reissued token %q, want %q", got, token)
	}
	if len(rec2.Result().Cookies()) != 0 {
		t.Error("valid cookie should not be replaced")
	}

	// A malformed cookie is replaced.
	rec3 := httptest.NewRecorder()
	req3 := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req3.AddCookie(&http.Cookie{Name: "_csrf", Value: "planted"})
	if got := v.Apply(rec3, req3); got == "planted" || got == "" {
		t.Errorf("Apply() = %q, want a fresh token", got)
	}
}

func TestReasonKind(t *testing.T) {
	if ReasonNone.Kind() != gateerr.KindUnknown {
		t.Error("ReasonNone should map to KindUnknown")
	}
	err := reject(ReasonTokenMismatch).Err()
	if !errors.Is(err, gateerr.ErrCSRFValidationFailed) {
		t.Errorf("errors.Is(%v, ErrCSRFValidationFailed) = false", err)
	}
}
