// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

// Package permissions holds the static role to permission table and the
// role transition policy.
//
// Every lookup is a read of tables built once at package initialization, so
// all functions are safe for concurrent use without locking. Roles and
// permissions are closed sets of typed constants; untrusted strings enter
// through ParseRole and ParsePermission.
package permissions

import (
	"sort"
	"strings"
)

// Role is a user role.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleSupport  Role = "SUPPORT"
	RoleCustomer Role = "CUSTOMER"
)

// Group is the functional area a permission belongs to.
type Group string

const (
	GroupUser    Group = "USER"
	GroupRole    Group = "ROLE"
	GroupProduct Group = "PRODUCT"
	GroupOrder   Group = "ORDER"
	GroupPayment Group = "PAYMENT"
	GroupAudit   Group = "AUDIT"
	GroupSystem  Group = "SYSTEM"
)

// Permission is a capability token checked by route guards.
type Permission string

const (
	UserRead    Permission = "USER_READ"
	UserCreate  Permission = "USER_CREATE"
	UserUpdate  Permission = "USER_UPDATE"
	UserDelete  Permission = "USER_DELETE"
	UserSuspend Permission = "USER_SUSPEND"

	ProfileRead   Permission = "PROFILE_READ"
	ProfileUpdate Permission = "PROFILE_UPDATE"

	RoleRead   Permission = "ROLE_READ"
	RoleAssign Permission = "ROLE_ASSIGN"

	ProductRead   Permission = "PRODUCT_READ"
	ProductCreate Permission = "PRODUCT_CREATE"
	ProductUpdate Permission = "PRODUCT_UPDATE"
	ProductDelete Permission = "PRODUCT_DELETE"

	OrderRead    Permission = "ORDER_READ"
	OrderReadOwn Permission = "ORDER_READ_OWN"
	OrderCreate  Permission = "ORDER_CREATE"
	OrderUpdate  Permission = "ORDER_UPDATE"
	OrderRefund  Permission = "ORDER_REFUND"

	PaymentRead   Permission = "PAYMENT_READ"
	PaymentCreate Permission = "PAYMENT_CREATE"

	AuditRead   Permission = "AUDIT_READ"
	AuditExport Permission = "AUDIT_EXPORT"

	SystemSettings    Permission = "SYSTEM_SETTINGS"
	SystemMaintenance Permission = "SYSTEM_MAINTENANCE"
)

// groups assigns every permission to exactly one group.
var groups = map[Permission]Group{
	UserRead:          GroupUser,
	UserCreate:        GroupUser,
	UserUpdate:        GroupUser,
	UserDelete:        GroupUser,
	UserSuspend:       GroupUser,
	ProfileRead:       GroupUser,
	ProfileUpdate:     GroupUser,
	RoleRead:          GroupRole,
	RoleAssign:        GroupRole,
	ProductRead:       GroupProduct,
	ProductCreate:     GroupProduct,
	ProductUpdate:     GroupProduct,
	ProductDelete:     GroupProduct,
	OrderRead:         GroupOrder,
	OrderReadOwn:      GroupOrder,
	OrderCreate:       GroupOrder,
	OrderUpdate:       GroupOrder,
	OrderRefund:       GroupOrder,
	PaymentRead:       GroupPayment,
	PaymentCreate:     GroupPayment,
	AuditRead:         GroupAudit,
	AuditExport:       GroupAudit,
	SystemSettings:    GroupSystem,
	SystemMaintenance: GroupSystem,
}

// roleTable is the source of truth for role capabilities. SUPPORT and
// CUSTOMER diverge; ADMIN holds every permission.
var roleTable = map[Role][]Permission{
	RoleAdmin: allPermissionsSorted(),
	RoleSupport: {
		UserRead, UserUpdate, UserSuspend,
		ProfileRead, ProfileUpdate,
		RoleRead, RoleAssign,
		ProductRead,
		OrderRead, OrderUpdate, OrderRefund,
		PaymentRead,
		AuditRead,
	},
	RoleCustomer: {
		ProfileRead, ProfileUpdate,
		ProductRead,
		OrderReadOwn, OrderCreate,
		PaymentCreate,
	},
}

// authority is the manage order ADMIN > SUPPORT > CUSTOMER.
var authority = map[Role]int{
	RoleAdmin:    3,
	RoleSupport:  2,
	RoleCustomer: 1,
}

// assignLevel is the authority required to assign a role.
var assignLevel = map[Role]int{
	RoleAdmin:    3,
	RoleSupport:  3,
	RoleCustomer: 2,
}

// index is the lookup form of roleTable.
var index = buildIndex()

func buildIndex() map[Role]map[Permission]struct{} {
	idx := make(map[Role]map[Permission]struct{}, len(roleTable))
	for role, perms := range roleTable {
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		idx[role] = set
	}
	return idx
}

func allPermissionsSorted() []Permission {
	out := make([]Permission, 0, len(groups))
	for p := range groups {
		out = append(out, p)
	}
	sortPermissions(out)
	return out
}

func sortPermissions(ps []Permission) {
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
}

// AllRoles returns the roles in descending authority.
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleSupport, RoleCustomer}
}

// AllPermissions returns every known permission, sorted.
func AllPermissions() []Permission {
	return allPermissionsSorted()
}

// ParseRole converts an untrusted string to a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := authority[r]
	return r, ok
}

// ParsePermission converts an untrusted string to a Permission.
func ParsePermission(s string) (Permission, bool) {
	p := Permission(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := groups[p]
	return p, ok
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := authority[r]
	return ok
}

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	_, ok := groups[p]
	return ok
}

// Group returns the group of p, or "" for an unknown permission.
func (p Permission) Group() Group {
	return groups[p]
}

// HasPermission reports whether role holds perm.
func HasPermission(role Role, perm Permission) bool {
	_, ok := index[role][perm]
	return ok
}

// HasAnyPermission reports whether role holds at least one of perms.
func HasAnyPermission(role Role, perms ...Permission) bool {
	for _, p := range perms {
		if HasPermission(role, p) {
			return true
		}
	}
	return false
}

// RolePermissions returns a sorted copy of the permissions held by role.
func RolePermissions(role Role) []Permission {
	perms := roleTable[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	sortPermissions(out)
	return out
}

// HeldByAnyRole reports whether at least one role holds perm.
func HeldByAnyRole(perm Permission) bool {
	for _, set := range index {
		if _, ok := set[perm]; ok {
			return true
		}
	}
	return false
}
