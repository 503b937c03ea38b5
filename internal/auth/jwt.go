// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tomtom215/storegate/internal/gateerr"
	"github.com/tomtom215/storegate/internal/permissions"
)

const minSecretLength = 32

// ErrInvalidSession covers every token that is present but unusable:
// malformed, badly signed, expired, or naming an unknown role.
var ErrInvalidSession = errors.New("invalid session token")

// Claims are the session token claims issued by the storefront backend.
type Claims struct {
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Config holds session token settings.
type Config struct {
	Secret     string        `koanf:"jwt_secret"`
	CookieName string        `koanf:"cookie_name"`
	Issuer     string        `koanf:"issuer"`
	Audience   string        `koanf:"audience"`
	Leeway     time.Duration `koanf:"leeway"`
	SessionTTL time.Duration `koanf:"session_ttl"`
}

// DefaultConfig returns the cookie name used by the storefront.
func DefaultConfig() Config {
	return Config{
		CookieName: "session",
		Leeway:     30 * time.Second,
		SessionTTL: 8 * time.Hour,
	}
}

func (c Config) validate() error {
	if len(c.Secret) < minSecretLength {
		return gateerr.Configf("auth: jwt_secret must be at least %d characters", minSecretLength)
	}
	if c.CookieName == "" {
		return gateerr.Configf("auth: cookie_name is required")
	}
	return nil
}

// Verifier authenticates requests from their session token.
type Verifier struct {
	cfg    Config
	secret []byte
	parser *jwt.Parser
}

// NewVerifier validates cfg and builds a Verifier. Only HS256 is accepted.
func NewVerifier(cfg Config) (*Verifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Verifier{
		cfg:    cfg,
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify returns the actor of r. A request without a token is anonymous:
// nil actor and nil error.
func (v *Verifier) Verify(r *http.Request) (*Actor, error) {
	raw := v.tokenFromRequest(r)
	if raw == "" {
		return nil, nil
	}
	return v.VerifyToken(raw)
}

// VerifyToken validates a raw token.
func (v *Verifier) VerifyToken(raw string) (*Actor, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if !token.Valid {
		return nil, ErrInvalidSession
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidSession)
	}
	role, ok := permissions.ParseRole(claims.Role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidSession, claims.Role)
	}

	return &Actor{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      role,
		SessionID: claims.SessionID,
	}, nil
}

func (v *Verifier) tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(v.cfg.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

// Issuer signs session tokens. Production sessions are issued by the
// storefront backend; this serves tests and local tooling.
type Issuer struct {
	cfg    Config
	secret []byte
	now    func() time.Time
}

// NewIssuer validates cfg and builds an Issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Issuer{cfg: cfg, secret: []byte(cfg.Secret), now: time.Now}, nil
}

// Issue signs a token for actor valid for ttl, or the configured session
// TTL when ttl is zero.
func (i *Issuer) Issue(actor Actor, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = i.cfg.SessionTTL
	}
	sid := actor.SessionID
	if sid == "" {
		sid = uuid.NewString()
	}

	now := i.now()
	claims := &Claims{
		Email:     actor.Email,
		Role:      string(actor.Role),
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			Issuer:    i.cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if i.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
