// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/storegate/internal/audit"
	"github.com/tomtom215/storegate/internal/auth"
	"github.com/tomtom215/storegate/internal/permissions"
)

// errDenied carries a forbidden verdict out of a directory check.
type errDenied struct {
	message string
	details interface{}
}

func (e *errDenied) Error() string { return e.message }

// GetUser handles GET /api/admin/users/{id}.
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.deps.Users.Get(chi.URLParam(r, "id"))
	if !ok {
		NewResponseWriter(w, r).NotFound("User not found")
		return
	}
	WriteSuccess(w, r, user)
}

// ChangeRole handles PUT /api/admin/users/{id}/role.
func (h *Handlers) ChangeRole(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	if actor == nil {
		WriteError(w, r, http.StatusForbidden, ErrCodeForbidden, "Authentication required")
		return
	}

	var req RoleChangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	target, _ := permissions.ParseRole(req.Role)
	id := chi.URLParam(r, "id")

	var transition permissions.Transition
	before, after, err := h.deps.Users.SetRole(id, target, func(u User) error {
		if u.ID == actor.UserID {
			return &errDenied{message: "You cannot change your own role"}
		}
		transition = permissions.ValidateRoleTransition(u.Role, target, actor.Role)
		if !transition.Allowed {
			return &errDenied{
				message: "Role change not permitted",
				details: map[string]interface{}{"security_risk": transition.SecurityRisk},
			}
		}
		return nil
	})
	if err != nil {
		h.writeDirectoryError(w, r, err)
		return
	}

	h.audit(r, audit.Input{
		TableName: usersTable,
		RecordID:  after.ID,
		Action:    audit.ActionRoleChange,
		OldValues: before.values(),
		NewValues: after.values(),
		Metadata: map[string]any{
			"security_risk": string(transition.SecurityRisk),
			"gained":        permissionNames(transition.Gained),
			"reason":        req.Reason,
		},
	})

	WriteSuccess(w, r, map[string]interface{}{
		"user":       after,
		"transition": transition,
	})
}

// SuspendUser handles POST /api/admin/users/{id}/suspend. Callers may only
// suspend accounts whose role they could assign.
func (h *Handlers) SuspendUser(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	if actor == nil {
		WriteError(w, r, http.StatusForbidden, ErrCodeForbidden, "Authentication required")
		return
	}

	var req SuspendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	before, after, err := h.deps.Users.Suspend(chi.URLParam(r, "id"), req.Reason, func(u User) error {
		if u.ID == actor.UserID {
			return &errDenied{message: "You cannot suspend your own account"}
		}
		if !permissions.CanManageRole(actor.Role, u.Role) {
			return &errDenied{message: "Suspension not permitted"}
		}
		return nil
	})
	if err != nil {
		h.writeDirectoryError(w, r, err)
		return
	}

	h.audit(r, audit.Input{
		TableName: usersTable,
		RecordID:  after.ID,
		Action:    audit.ActionAccountSuspended,
		OldValues: before.values(),
		NewValues: after.values(),
		Metadata:  map[string]any{"reason": req.Reason},
	})
	WriteSuccess(w, r, after)
}

func (h *Handlers) writeDirectoryError(w http.ResponseWriter, r *http.Request, err error) {
	rw := NewResponseWriter(w, r)
	var denied *errDenied
	switch {
	case errors.As(err, &denied):
		rw.ErrorWithDetails(http.StatusForbidden, ErrCodeForbidden, denied.message, denied.details)
	case errors.Is(err, ErrUserNotFound):
		rw.NotFound("User not found")
	case errors.Is(err, ErrUnchangedRole), errors.Is(err, ErrAlreadySuspended):
		rw.Error(http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		rw.InternalError(ErrCodeInternalError, err)
	}
}

func permissionNames(perms []permissions.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}
