// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package audit

import (
	"fmt"
	"strings"

	"github.com/tomtom215/storegate/internal/logging"
)

type maskPolicy int

const (
	maskNone maskPolicy = iota
	maskFull
	maskPartial
)

// Sensitive words, matched against the normalized name. Fragments mask a
// field wherever they appear ("passwordHash", "secret_answer"). Short words
// only mask as a suffix so that "keyword" or "spinner" stay readable; "ssn"
// also masks as a prefix ("ssn_last4") but not inside "businessName".
var (
	fullMaskFragments    = []string{"password", "passwd", "token", "secret"}
	fullMaskPrefixes     = []string{"ssn"}
	fullMaskSuffixes     = []string{"key", "cvv", "cvc", "pin", "ssn"}
	partialMaskFragments = []string{"cardnumber", "accountnumber", "iban"}
	partialMaskSuffixes  = []string{"phone"}
)

// normalizeFieldName lowercases name and drops separators, so that
// "Card_Number", "card-number" and "cardNumber" compare equal.
func normalizeFieldName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch r {
		case '_', '-', '.', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func policyFor(field string) maskPolicy {
	name := normalizeFieldName(field)
	switch {
	case matchesAny(name, fullMaskFragments, strings.Contains),
		matchesAny(name, fullMaskPrefixes, strings.HasPrefix),
		matchesAny(name, fullMaskSuffixes, strings.HasSuffix):
		return maskFull
	case matchesAny(name, partialMaskFragments, strings.Contains),
		matchesAny(name, partialMaskSuffixes, strings.HasSuffix):
		return maskPartial
	}
	return maskNone
}

func matchesAny(name string, words []string, match func(s, sub string) bool) bool {
	for _, w := range words {
		if match(name, w) {
			return true
		}
	}
	return false
}

// MaskValues returns a copy of values with sensitive fields masked,
// recursing into nested objects and arrays.
func MaskValues(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = maskField(k, v)
	}
	return out
}

func maskField(name string, v any) any {
	switch policyFor(name) {
	case maskFull:
		return logging.Redacted
	case maskPartial:
		return maskPartialValue(v)
	}
	return maskNested(v)
}

func maskNested(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return MaskValues(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = maskNested(item)
		}
		return out
	}
	return v
}

func maskPartialValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return logging.MaskPartial(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = maskPartialValue(item)
		}
		return out
	case map[string]any:
		return logging.Redacted
	}
	return logging.MaskPartial(fmt.Sprint(v))
}
