// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package config

import (
	"net/url"
	"strings"

	"github.com/tomtom215/storegate/internal/audit"
	"github.com/tomtom215/storegate/internal/gateerr"
	"github.com/tomtom215/storegate/internal/logging"
	"github.com/tomtom215/storegate/internal/validation"
)

// Validate checks struct tags first, then rules that span fields or depend
// on the environment. Every failure is a configuration error.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return gateerr.Configf("config: %s", verr.Error())
	}

	if err := c.Audit.Validate(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateSecrets(); err != nil {
		return err
	}
	if err := c.validateOrigins(); err != nil {
		return err
	}
	if _, err := c.GuardTable(); err != nil {
		return err
	}
	if c.IsProduction() {
		return c.validateProduction()
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return gateerr.Configf("config: logging.level %q is not a valid level", c.Logging.Level)
	}
	return nil
}

// validateSecrets rejects forgotten placeholders. Length rules are
// enforced by the packages that use each secret.
func (c *Config) validateSecrets() error {
	for name, value := range map[string]string{
		"session.jwt_secret":  c.Session.Secret,
		"csrf.secret":         c.CSRF.Secret,
		"csrf.webhook_secret": c.CSRF.WebhookSecret,
	} {
		if value != "" && containsPlaceholder(value) {
			return gateerr.Configf("config: %s contains a placeholder value", name)
		}
	}
	if c.Session.Secret != "" && c.Session.Secret == c.CSRF.Secret {
		return gateerr.Configf("config: session.jwt_secret and csrf.secret must differ")
	}
	return nil
}

// validateOrigins requires exact scheme://host[:port] origins.
func (c *Config) validateOrigins() error {
	for _, origin := range c.CSRF.TrustedOrigins {
		if origin == "*" {
			return gateerr.Configf("config: wildcard trusted origin is not allowed")
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") || u.RawQuery != "" {
			return gateerr.Configf("config: trusted origin %q must be scheme://host[:port]", origin)
		}
	}
	return nil
}

func (c *Config) validateProduction() error {
	if len(c.CSRF.TrustedOrigins) == 0 {
		return gateerr.Configf("config: csrf.trusted_origins is required in production")
	}
	for _, origin := range c.CSRF.TrustedOrigins {
		if strings.HasPrefix(origin, "http://") {
			return gateerr.Configf("config: trusted origin %q must use https in production", origin)
		}
	}
	if !c.CSRF.CookieSecure {
		return gateerr.Configf("config: csrf.cookie_secure must be enabled in production")
	}
	if c.Headers.DevRelaxation {
		return gateerr.Configf("config: headers.dev_relaxation must not be enabled in production")
	}
	if c.Audit.Store == audit.StoreMemory {
		return gateerr.Configf("config: audit.store memory loses the audit trail on restart; use postgres or duckdb in production")
	}
	return nil
}

// placeholderPatterns mark values copied from an example config.
var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"YOUR_SECRET",
	"PLACEHOLDER",
}

func containsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	for _, p := range placeholderPatterns {
		if strings.Contains(upper, p) {
			return true
		}
	}
	return false
}
