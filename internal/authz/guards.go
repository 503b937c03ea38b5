// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package authz

import (
	"net/http"
	"sort"
	"strings"

	"github.com/casbin/casbin/v2/util"

	"github.com/tomtom215/storegate/internal/gateerr"
	"github.com/tomtom215/storegate/internal/permissions"
)

// Guard declares what a route requires. Patterns use keyMatch2 syntax:
// ":name" matches one path segment and "*" matches the rest of the path.
type Guard struct {
	Pattern string
	Methods []string

	// Permissions are alternatives: holding any one of them is enough.
	Permissions []permissions.Permission

	// Public guards admit anonymous callers.
	Public bool
}

// GuardSpec is the configuration form of a Guard with untrusted strings.
type GuardSpec struct {
	Pattern     string   `koanf:"pattern" validate:"required,startswith=/"`
	Methods     []string `koanf:"methods"`
	Permissions []string `koanf:"permissions"`
	Public      bool     `koanf:"public"`
}

// AllowsMethod reports whether the guard covers method. HEAD follows GET.
func (g *Guard) AllowsMethod(method string) bool {
	if len(g.Methods) == 0 {
		return true
	}
	for _, m := range g.Methods {
		if m == method || (method == http.MethodHead && m == http.MethodGet) {
			return true
		}
	}
	return false
}

// methodPattern is the casbin action regex for the guard.
func (g *Guard) methodPattern() string {
	if len(g.Methods) == 0 {
		return ".*"
	}
	methods := append([]string(nil), g.Methods...)
	for _, m := range g.Methods {
		if m == http.MethodGet {
			methods = append(methods, http.MethodHead)
		}
	}
	return "^(" + strings.Join(methods, "|") + ")$"
}

func (g *Guard) specificity() (literal bool, length int) {
	return !strings.ContainsAny(g.Pattern, "*:"), len(g.Pattern)
}

// Guards is an immutable, validated guard table.
type Guards struct {
	list []*Guard
}

// DefaultGuards returns the guard table of the admin API. The trailing
// admin wildcard is a default-deny for admin paths without an explicit guard.
// Mutations no guard covers are denied by the gate.
func DefaultGuards() []Guard {
	read := []string{http.MethodGet}
	update := []string{http.MethodPut, http.MethodPatch}
	return []Guard{
		{Pattern: "/api/products", Methods: read, Public: true},
		{Pattern: "/api/products/:id", Methods: read, Public: true},
		{Pattern: "/api/products", Methods: []string{http.MethodPost}, Permissions: []permissions.Permission{permissions.ProductCreate}},
		{Pattern: "/api/products/:id", Methods: update, Permissions: []permissions.Permission{permissions.ProductUpdate}},
		{Pattern: "/api/products/:id", Methods: []string{http.MethodDelete}, Permissions: []permissions.Permission{permissions.ProductDelete}},
		{Pattern: "/api/auth/*", Public: true},
		{Pattern: "/api/webhooks/*", Methods: []string{http.MethodPost}, Public: true},
		{Pattern: "/api/account/profile", Methods: read, Permissions: []permissions.Permission{permissions.ProfileRead}},
		{Pattern: "/api/account/profile", Methods: []string{http.MethodPut, http.MethodPatch}, Permissions: []permissions.Permission{permissions.ProfileUpdate}},
		{Pattern: "/api/orders", Methods: read, Permissions: []permissions.Permission{permissions.OrderRead, permissions.OrderReadOwn}},
		{Pattern: "/api/orders", Methods: []string{http.MethodPost}, Permissions: []permissions.Permission{permissions.OrderCreate}},
		{Pattern: "/api/orders/:id", Methods: read, Permissions: []permissions.Permission{permissions.OrderRead, permissions.OrderReadOwn}},
		{Pattern: "/api/orders/:id", Methods: update, Permissions: []permissions.Permission{permissions.OrderUpdate}},
		{Pattern: "/api/orders/:id/refund", Methods: []string{http.MethodPost}, Permissions: []permissions.Permission{permissions.OrderRefund}},
		{Pattern: "/api/checkout/*", Methods: []string{http.MethodPost}, Permissions: []permissions.Permission{permissions.PaymentCreate}},
		{Pattern: "/api/admin/audit", Methods: read, Permissions: []permissions.Permission{permissions.AuditRead}},
		{Pattern: "/api/admin/audit/summary", Methods: read, Permissions: []permissions.Permission{permissions.AuditRead}},
		{Pattern: "/api/admin/audit/export", Methods: read, Permissions: []permissions.Permission{permissions.AuditExport}},
		{Pattern: "/api/admin/audit/:table/:record", Methods: read, Permissions: []permissions.Permission{permissions.AuditRead}},
		{Pattern: "/api/admin/users", Methods: []string{http.MethodPost}, Permissions: []permissions.Permission{permissions.UserCreate}},
		{Pattern: "/api/admin/users/:id", Methods: read, Permissions: []permissions.Permission{permissions.UserRead}},
		{Pattern: "/api/admin/users/:id", Methods: update, Permissions: []permissions.Permission{permissions.UserUpdate}},
		{Pattern: "/api/admin/users/:id", Methods: []string{http.MethodDelete}, Permissions: []permissions.Permission{permissions.UserDelete}},
		{Pattern: "/api/admin/users/:id/role", Methods: []string{http.MethodPost, http.MethodPut}, Permissions: []permissions.Permission{permissions.RoleAssign}},
		{Pattern: "/api/admin/users/:id/suspend", Methods: []string{http.MethodPost}, Permissions: []permissions.Permission{permissions.UserSuspend}},
		{Pattern: "/api/admin/*", Permissions: []permissions.Permission{permissions.SystemSettings}},
	}
}

// ParseGuards converts configured guard specs, rejecting unknown permissions.
func ParseGuards(specs []GuardSpec) ([]Guard, error) {
	out := make([]Guard, 0, len(specs))
	for _, s := range specs {
		g := Guard{Pattern: s.Pattern, Public: s.Public}
		for _, m := range s.Methods {
			g.Methods = append(g.Methods, strings.ToUpper(strings.TrimSpace(m)))
		}
		for _, raw := range s.Permissions {
			p, ok := permissions.ParsePermission(raw)
			if !ok {
				return nil, gateerr.Configf("guard %s references unknown permission %q", s.Pattern, raw)
			}
			g.Permissions = append(g.Permissions, p)
		}
		out = append(out, g)
	}
	return out, nil
}

// NewGuards validates the table. Every permission a guard checks must be
// held by at least one role, otherwise the guard could never pass.
func NewGuards(list []Guard) (*Guards, error) {
	if len(list) == 0 {
		return nil, gateerr.Configf("guard table is empty")
	}
	gs := &Guards{list: make([]*Guard, 0, len(list))}
	for i := range list {
		g := list[i]
		if !strings.HasPrefix(g.Pattern, "/") {
			return nil, gateerr.Configf("guard pattern %q must start with /", g.Pattern)
		}
		if g.Public && len(g.Permissions) > 0 {
			return nil, gateerr.Configf("public guard %s must not require permissions", g.Pattern)
		}
		for _, p := range g.Permissions {
			if !p.Valid() {
				return nil, gateerr.Configf("guard %s references unknown permission %q", g.Pattern, p)
			}
			if !permissions.HeldByAnyRole(p) {
				return nil, gateerr.Configf("guard %s checks orphan permission %s", g.Pattern, p)
			}
		}
		gs.list = append(gs.list, &g)
	}

	sort.SliceStable(gs.list, func(i, j int) bool {
		li, ni := gs.list[i].specificity()
		lj, nj := gs.list[j].specificity()
		if li != lj {
			return li
		}
		return ni > nj
	})
	return gs, nil
}

// Match returns the most specific guard covering method and path. Literal
// patterns win over parameterized ones, then longer patterns win.
func (gs *Guards) Match(method, path string) (*Guard, bool) {
	for _, g := range gs.list {
		if g.AllowsMethod(method) && util.KeyMatch2(path, g.Pattern) {
			return g, true
		}
	}
	return nil, false
}

// All returns the guards in match order.
func (gs *Guards) All() []*Guard {
	return append([]*Guard(nil), gs.list...)
}
