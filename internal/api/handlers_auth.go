// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/storegate/internal/audit"
	"github.com/tomtom215/storegate/internal/auth"
	"github.com/tomtom215/storegate/internal/logging"
)

const usersTable = "users"

// Signin handles POST /api/auth/signin. It issues a session cookie for
// valid credentials and audits every attempt.
func (h *Handlers) Signin(w http.ResponseWriter, r *http.Request) {
	var req SigninRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.deps.Users.Authenticate(req.Email, req.Password)
	if err != nil {
		h.audit(r, audit.Input{
			TableName: usersTable,
			RecordID:  logging.SanitizeEmail(req.Email),
			Action:    audit.ActionLoginFailed,
			Metadata:  map[string]any{"reason": "invalid_credentials"},
		})
		if !errors.Is(err, ErrInvalidCredentials) {
			logErr(r, err, "Authentication failed unexpectedly")
		}
		WriteError(w, r, http.StatusUnauthorized, ErrCodeInvalidCredentials, "Invalid email or password")
		return
	}

	actor := auth.Actor{UserID: user.ID, Email: user.Email, Role: user.Role}
	token, err := h.deps.Issuer.Issue(actor, 0)
	if err != nil {
		NewResponseWriter(w, r).InternalError(ErrCodeInternalError, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.deps.Session.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.deps.Session.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.deps.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})

	h.audit(r, audit.Input{
		TableName: usersTable,
		RecordID:  user.ID,
		Action:    audit.ActionLoginSuccess,
		Metadata:  map[string]any{"role": string(user.Role)},
	})
	WriteSuccess(w, r, user)
}

func logErr(r *http.Request, err error, msg string) {
	logging.CtxErr(r.Context(), err).Str("path", r.URL.Path).Msg(msg)
}
