// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

// Package authz decides whether a role may pass a route guard.
//
// Decisions are evaluated by a casbin RBAC model. The grouping rules
// (g, ROLE, PERMISSION) are generated from the static permission table and
// the policy rules (p, PERMISSION, GUARD_PATTERN, METHOD_REGEX) from the
// guard table, so casbin only ever sees capabilities that exist in code.
package authz

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/tomtom215/storegate/internal/gateerr"
	"github.com/tomtom215/storegate/internal/metrics"
	"github.com/tomtom215/storegate/internal/permissions"
)

//go:embed model.conf
var embeddedModel string

// Config holds enforcer settings.
type Config struct {
	// CacheEnabled enables enforcement decision caching.
	CacheEnabled bool `koanf:"cache_enabled"`

	// CacheTTL is how long to cache decisions.
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// DefaultConfig returns the default enforcer configuration.
func DefaultConfig() Config {
	return Config{
		CacheEnabled: true,
		CacheTTL:     5 * time.Minute,
	}
}

// Enforcer wraps the casbin enforcer with the guard table and a decision cache.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
	guards   *Guards
	cache    *decisionCache
}

// NewEnforcer loads the embedded model and generates policy from the
// permission and guard tables. Any inconsistency is a ConfigurationError.
func NewEnforcer(guards *Guards, cfg Config) (*Enforcer, error) {
	if guards == nil {
		return nil, gateerr.Configf("authz: guard table is required")
	}
	if err := permissions.ValidateTable(); err != nil {
		return nil, err
	}

	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	if err := loadPolicy(enforcer, guards); err != nil {
		return nil, err
	}

	e := &Enforcer{enforcer: enforcer, guards: guards}
	if cfg.CacheEnabled {
		e.cache = newDecisionCache(cfg.CacheTTL)
	}
	return e, nil
}

func loadPolicy(enforcer *casbin.SyncedEnforcer, guards *Guards) error {
	for _, role := range permissions.AllRoles() {
		for _, perm := range permissions.RolePermissions(role) {
			if _, err := enforcer.AddGroupingPolicy(string(role), string(perm)); err != nil {
				return fmt.Errorf("failed to add grouping policy %s/%s: %w", role, perm, err)
			}
		}
	}
	for _, g := range guards.All() {
		for _, perm := range g.Permissions {
			if _, err := enforcer.AddPolicy(string(perm), g.Pattern, g.methodPattern()); err != nil {
				return fmt.Errorf("failed to add policy for %s: %w", g.Pattern, err)
			}
		}
	}
	return nil
}

// Guards returns the guard table the enforcer was built from.
func (e *Enforcer) Guards() *Guards {
	return e.guards
}

// Authorize decides whether role may pass guard for method. Public and
// authentication-only guards pass without a policy lookup.
func (e *Enforcer) Authorize(role permissions.Role, guard *Guard, method string) (bool, error) {
	if guard == nil || guard.Public || len(guard.Permissions) == 0 {
		return true, nil
	}
	if !role.Valid() {
		return false, nil
	}

	start := time.Now()
	allowed, cached, err := e.enforce(decisionKey{role: role, pattern: guard.Pattern, method: method})
	if err != nil {
		return false, err
	}
	metrics.RecordAuthzDecision(string(role), allowed, time.Since(start), cached)
	return allowed, nil
}

// enforce checks the cache before asking casbin.
func (e *Enforcer) enforce(k decisionKey) (allowed, cached bool, err error) {
	if e.cache != nil {
		if allowed, ok := e.cache.lookup(k); ok {
			return allowed, true, nil
		}
	}

	allowed, err = e.enforcer.Enforce(string(k.role), k.pattern, k.method)
	if err != nil {
		return false, false, fmt.Errorf("enforcement failed: %w", err)
	}

	if e.cache != nil {
		e.cache.store(k, allowed)
	}
	return allowed, false, nil
}

// PolicyCount returns the number of generated policy and grouping rules.
func (e *Enforcer) PolicyCount() (policies, groupings int) {
	//nolint:errcheck // only fails on a nil model, which NewEnforcer rules out
	p, _ := e.enforcer.GetPolicy()
	//nolint:errcheck // only fails on a nil model, which NewEnforcer rules out
	g, _ := e.enforcer.GetGroupingPolicy()
	return len(p), len(g)
}

// Close stops the cache sweeper.
func (e *Enforcer) Close() {
	if e.cache != nil {
		e.cache.close()
	}
}
