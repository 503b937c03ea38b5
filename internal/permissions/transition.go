// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package permissions

import (
	"github.com/tomtom215/storegate/internal/gateerr"
)

// Risk grades a role change.
type Risk string

const (
	RiskLow    Risk = "LOW"
	RiskMedium Risk = "MEDIUM"
	RiskHigh   Risk = "HIGH"
)

// Transition is the verdict on a proposed role change.
type Transition struct {
	Allowed      bool `json:"allowed"`
	SecurityRisk Risk `json:"security_risk"`

	// Gained lists permissions the target role adds over the current one.
	Gained []Permission `json:"gained,omitempty"`
}

// CanManageRole reports whether acting may assign target. ADMIN assigns any
// role, SUPPORT only CUSTOMER, CUSTOMER none.
func CanManageRole(acting, target Role) bool {
	level, ok := authority[acting]
	if !ok {
		return false
	}
	required, ok := assignLevel[target]
	if !ok {
		return false
	}
	return level >= required
}

// ValidateRoleTransition evaluates moving a user from one role to another on
// behalf of acting. The acting role must be able to manage both roles, so a
// role can never move anyone above its own authority.
func ValidateRoleTransition(from, to, acting Role) Transition {
	t := Transition{SecurityRisk: RiskLow}
	if !from.Valid() || !to.Valid() {
		return t
	}

	t.Gained = gained(from, to)
	t.SecurityRisk = assessRisk(from, to, t.Gained)
	t.Allowed = from != to && CanManageRole(acting, from) && CanManageRole(acting, to)
	return t
}

func gained(from, to Role) []Permission {
	var out []Permission
	for _, p := range RolePermissions(to) {
		if !HasPermission(from, p) {
			out = append(out, p)
		}
	}
	return out
}

// assessRisk is HIGH when a SYSTEM or ROLE permission is gained, MEDIUM when
// the change gains more than it loses, LOW for lateral moves and downgrades.
func assessRisk(from, to Role, gainedPerms []Permission) Risk {
	for _, p := range gainedPerms {
		if g := p.Group(); g == GroupSystem || g == GroupRole {
			return RiskHigh
		}
	}

	lost := 0
	for _, p := range RolePermissions(from) {
		if !HasPermission(to, p) {
			lost++
		}
	}
	if len(gainedPerms) > lost {
		return RiskMedium
	}
	return RiskLow
}

// ValidateTable checks the permission table for malformed entries. It
// returns a ConfigurationError so startup aborts on a broken build.
func ValidateTable() error {
	for role, perms := range roleTable {
		if !role.Valid() {
			return gateerr.Configf("role %q has no authority level", role)
		}
		if _, ok := assignLevel[role]; !ok {
			return gateerr.Configf("role %q has no assignment level", role)
		}
		seen := make(map[Permission]bool, len(perms))
		for _, p := range perms {
			if !p.Valid() {
				return gateerr.Configf("role %s references unknown permission %q", role, p)
			}
			if seen[p] {
				return gateerr.Configf("role %s lists permission %s twice", role, p)
			}
			seen[p] = true
		}
	}
	for p := range groups {
		if !HasPermission(RoleAdmin, p) {
			return gateerr.Configf("permission %s is not held by %s", p, RoleAdmin)
		}
	}
	for role := range authority {
		if _, ok := roleTable[role]; !ok {
			return gateerr.Configf("role %s has no permission set", role)
		}
	}
	return nil
}
