// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package authz

import (
	"testing"
	"time"

	"github.com/tomtom215/storegate/internal/permissions"
)

func TestDecisionCache_DefaultTTL(t *testing.T) {
	c := newDecisionCache(0)
	defer c.close()

	if c.ttl != defaultCacheTTL {
		t.Errorf("ttl = %v, want %v", c.ttl, defaultCacheTTL)
	}
}

func TestDecisionCache_LookupStore(t *testing.T) {
	c := newDecisionCache(time.Minute)
	defer c.close()

	admin := decisionKey{role: permissions.RoleAdmin, pattern: "/api/admin/audit", method: "GET"}
	customer := decisionKey{role: permissions.RoleCustomer, pattern: "/api/admin/audit", method: "GET"}

	if _, ok := c.lookup(admin); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.store(admin, true)
	c.store(customer, false)

	if allowed, ok := c.lookup(admin); !ok || !allowed {
		t.Errorf("lookup(admin) = %v, %v; want true, true", allowed, ok)
	}
	if allowed, ok := c.lookup(customer); !ok || allowed {
		t.Errorf("lookup(customer) = %v, %v; want false, true", allowed, ok)
	}
	if c.len() != 2 {
		t.Errorf("len = %d, want 2", c.len())
	}
}

func TestDecisionCache_ExpiryAndSweep(t *testing.T) {
	c := newDecisionCache(time.Hour)
	defer c.close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	old := decisionKey{role: permissions.RoleSupport, pattern: "/api/admin/users/:id", method: "GET"}
	fresh := decisionKey{role: permissions.RoleSupport, pattern: "/api/orders", method: "GET"}
	c.store(old, true)

	now = now.Add(30 * time.Minute)
	c.store(fresh, true)

	now = now.Add(31 * time.Minute)
	if _, ok := c.lookup(old); ok {
		t.Error("expected expired entry to miss")
	}
	if _, ok := c.lookup(fresh); !ok {
		t.Error("expected unexpired entry to hit")
	}

	if removed := c.sweep(); removed != 1 {
		t.Errorf("sweep() removed %d, want 1", removed)
	}
	if c.len() != 1 {
		t.Errorf("len = %d after sweep, want 1", c.len())
	}
}

func TestDecisionCache_CloseIdempotent(t *testing.T) {
	c := newDecisionCache(time.Minute)
	c.close()
	c.close()
}
