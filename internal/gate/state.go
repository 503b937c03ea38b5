// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package gate

import (
	"fmt"

	"github.com/tomtom215/storegate/internal/audit"
	"github.com/tomtom215/storegate/internal/gateerr"
)

// State is a step of the per-request pipeline.
type State string

const (
	StateEntered       State = "ENTERED"
	StateRateChecked   State = "RATE_CHECKED"
	StateOriginChecked State = "ORIGIN_CHECKED"
	StateAuthorized    State = "AUTHORIZED"
	StateHandled       State = "HANDLED"
	StateAudited       State = "AUDITED"
	StateResponded     State = "RESPONDED"

	// Early exits.
	StateRateLimited       State = "RATE_LIMITED"
	StateCSRFRejected      State = "CSRF_REJECTED"
	StateOriginRejected    State = "ORIGIN_REJECTED"
	StateSignatureRejected State = "SIGNATURE_REJECTED"
	StateUnauthorized      State = "UNAUTHORIZED"
	StateForbidden         State = "FORBIDDEN"
)

// transitions lists the legal successors of each state. ENTERED -> RESPONDED
// is the preflight shortcut.
var transitions = map[State][]State{
	StateEntered:       {StateRateChecked, StateRateLimited, StateResponded},
	StateRateChecked:   {StateOriginChecked, StateCSRFRejected, StateOriginRejected, StateSignatureRejected},
	StateOriginChecked: {StateAuthorized, StateUnauthorized, StateForbidden},
	StateAuthorized:    {StateHandled},
	StateHandled:       {StateAudited},
	StateAudited:       {StateResponded},

	StateRateLimited:       {StateAudited},
	StateCSRFRejected:      {StateAudited},
	StateOriginRejected:    {StateAudited},
	StateSignatureRejected: {StateAudited},
	StateUnauthorized:      {StateAudited},
	StateForbidden:         {StateAudited},
}

// CanTransition reports whether to may follow from.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// EarlyExit reports whether s ends the pipeline with a denial.
func (s State) EarlyExit() bool {
	switch s {
	case StateRateLimited, StateCSRFRejected, StateOriginRejected,
		StateSignatureRejected, StateUnauthorized, StateForbidden:
		return true
	}
	return false
}

// Kind returns the error kind of an early exit.
func (s State) Kind() gateerr.Kind {
	switch s {
	case StateRateLimited:
		return gateerr.KindRateLimitExceeded
	case StateCSRFRejected:
		return gateerr.KindCSRFValidationFailed
	case StateOriginRejected:
		return gateerr.KindOriginRejected
	case StateSignatureRejected:
		return gateerr.KindSignatureInvalid
	case StateUnauthorized:
		return gateerr.KindUnauthenticated
	case StateForbidden:
		return gateerr.KindForbidden
	default:
		return gateerr.KindUnknown
	}
}

// AuditAction is the action recorded for an early exit.
func (s State) AuditAction() audit.Action {
	switch s {
	case StateRateLimited:
		return audit.ActionRateLimited
	case StateCSRFRejected:
		return audit.ActionCSRFRejected
	case StateOriginRejected:
		return audit.ActionOriginRejected
	case StateSignatureRejected:
		return audit.ActionSignatureRejected
	case StateUnauthorized:
		return audit.ActionUnauthenticated
	case StateForbidden:
		return audit.ActionAccessDenied
	default:
		return audit.ActionRequestCompleted
	}
}

// stateForKind maps a provenance rejection onto its early exit.
func stateForKind(k gateerr.Kind) State {
	switch k {
	case gateerr.KindOriginRejected:
		return StateOriginRejected
	case gateerr.KindSignatureInvalid:
		return StateSignatureRejected
	default:
		return StateCSRFRejected
	}
}

// tracker walks one request through the state table.
type tracker struct {
	current State
	outcome State
	path    []State
}

func newTracker() *tracker {
	return &tracker{current: StateEntered, outcome: StateEntered, path: []State{StateEntered}}
}

func (t *tracker) advance(to State) error {
	if !CanTransition(t.current, to) {
		return fmt.Errorf("gate: illegal transition %s -> %s", t.current, to)
	}
	t.current = to
	t.path = append(t.path, to)
	if to != StateAudited && to != StateResponded {
		t.outcome = to
	}
	return nil
}

// Outcome is the last decision state, ignoring the trailing audit and
// response steps.
func (t *tracker) Outcome() State { return t.outcome }

// Path returns the visited states in order.
func (t *tracker) Path() []State { return append([]State(nil), t.path...) }
