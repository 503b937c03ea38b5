// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/storegate/internal/gateerr"
	"github.com/tomtom215/storegate/internal/permissions"
)

const testSecret = "test-session-secret-that-is-long-enough"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Secret = testSecret
	cfg.Issuer = "storefront"
	return cfg
}

func newPair(t *testing.T) (*Issuer, *Verifier) {
	t.Helper()
	iss, err := NewIssuer(testConfig())
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	ver, err := NewVerifier(testConfig())
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	return iss, ver
}

func TestNewVerifier_RejectsShortSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Secret = "short"
	if _, err := NewVerifier(cfg); !gateerr.IsConfiguration(err) {
		t.Errorf("error = %v, want configuration error", err)
	}
	if _, err := NewIssuer(cfg); !gateerr.IsConfiguration(err) {
		t.Errorf("error = %v, want configuration error", err)
	}
}

func TestVerify_CookieAndBearer(t *testing.T) {
	iss, ver := newPair(t)
	token, err := iss.Issue(Actor{UserID: "u-1", Email: "ops@shop.example", Role: permissions.RoleSupport}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	cookieReq := httptest.NewRequest(http.MethodGet, "/api/admin/audit", nil)
	cookieReq.AddCookie(&http.Cookie{Name: "session", Value: token})

	bearerReq := httptest.NewRequest(http.MethodGet, "/api/admin/audit", nil)
	bearerReq.Header.Set("Authorization", "Bearer "+token)

	for name, req := range map[string]*http.Request{"cookie": cookieReq, "bearer": bearerReq} {
		t.Run(name, func(t *testing.T) {
			actor, err := ver.Verify(req)
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if actor.UserID != "u-1" || actor.Role != permissions.RoleSupport || actor.Email != "ops@shop.example" {
				t.Errorf("actor = %+v", actor)
			}
			if actor.SessionID == "" {
				t.Error("session id not issued")
			}
		})
	}
}

func TestVerify_Anonymous(t *testing.T) {
	_, ver := newPair(t)
	actor, err := ver.Verify(httptest.NewRequest(http.MethodGet, "/api/products", nil))
	if actor != nil || err != nil {
		t.Errorf("Verify() = %v, %v; want nil, nil", actor, err)
	}

	basic := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	basic.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if actor, err := ver.Verify(basic); actor != nil || err != nil {
		t.Errorf("non-bearer Authorization: Verify() = %v, %v; want anonymous", actor, err)
	}
}

func TestVerifyToken_Invalid(t *testing.T) {
	iss, ver := newPair(t)

	iss.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := iss.Issue(Actor{UserID: "u-1", Role: permissions.RoleAdmin}, time.Hour)
	iss.now = time.Now

	unknownRole, _ := iss.Issue(Actor{UserID: "u-1", Role: permissions.Role("SUPERUSER")}, time.Hour)
	noSubject, _ := iss.Issue(Actor{Role: permissions.RoleAdmin}, time.Hour)

	otherCfg := testConfig()
	otherCfg.Secret = "another-secret-that-is-also-long-enough"
	otherIss, _ := NewIssuer(otherCfg)
	wrongKey, _ := otherIss.Issue(Actor{UserID: "u-1", Role: permissions.RoleAdmin}, time.Hour)

	wrongIssCfg := testConfig()
	wrongIssCfg.Issuer = "someone-else"
	wrongIssIssuer, _ := NewIssuer(wrongIssCfg)
	wrongIss, _ := wrongIssIssuer.Issue(Actor{UserID: "u-1", Role: permissions.RoleAdmin}, time.Hour)

	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u-1", "role": "ADMIN", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"expired":      expired,
		"unknown role": unknownRole,
		"no subject":   noSubject,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIss,
		"alg none":     noneAlg,
		"garbage":      "not.a.jwt",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			actor, err := ver.VerifyToken(token)
			if actor != nil {
				t.Errorf("actor = %+v, want nil", actor)
			}
			if !errors.Is(err, ErrInvalidSession) {
				t.Errorf("error = %v, want ErrInvalidSession", err)
			}
		})
	}
}

func TestActorContext(t *testing.T) {
	if ActorFromContext(context.Background()) != nil {
		t.Error("empty context should be anonymous")
	}
	a := &Actor{UserID: "u-9", Role: permissions.RoleCustomer}
	if got := ActorFromContext(ContextWithActor(context.Background(), a)); got != a {
		t.Errorf("ActorFromContext() = %v, want %v", got, a)
	}
}
