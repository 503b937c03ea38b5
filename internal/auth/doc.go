// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

// Package auth verifies session tokens and carries the resulting actor
// through the request context.
//
// Sessions are HS256 JWTs with claims {sub, email, role, sid} plus the
// registered claims. The Verifier reads the token from the session cookie,
// falling back to an Authorization: Bearer header:
//
//	verifier, err := auth.NewVerifier(cfg)
//	actor, err := verifier.Verify(r)
//	switch {
//	case err != nil:   // present but unusable: expired, tampered, unknown role
//	case actor == nil: // anonymous
//	}
//
// Every rejection wraps ErrInvalidSession; callers treat it as anonymous.
// Only HS256 is accepted and an expiry is required, so "alg: none" and
// algorithm-confusion tokens fail.
//
// The Issuer signs tokens for sign-in and for the -issue-token
// development flag.
package auth
