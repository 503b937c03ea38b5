// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

// Package auth verifies the session tokens that identify admin users.
//
// Sign-in, password handling and session issuance belong to the storefront
// backend. The gate only needs to know who is calling and with which role.
package auth

import (
	"context"

	"github.com/tomtom215/storegate/internal/permissions"
)

// Actor is an authenticated caller.
type Actor struct {
	UserID    string           `json:"user_id"`
	Email     string           `json:"email,omitempty"`
	Role      permissions.Role `json:"role"`
	SessionID string           `json:"-"`
}

type actorKey struct{}

// ContextWithActor attaches the authenticated actor.
func ContextWithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the authenticated actor, nil for anonymous.
func ActorFromContext(ctx context.Context) *Actor {
	a, _ := ctx.Value(actorKey{}).(*Actor)
	return a
}
