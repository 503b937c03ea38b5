// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package logging

import "strings"

// Redacted replaces a value that must never be written anywhere.
const Redacted = "[MASKED]"

// SanitizeToken masks a token for log output, keeping the first and last 4
// characters.
// Example: "eyJhbGciOiJIUzI1NiJ9.payload.sig" -> "eyJh....sig"
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizeEmail masks the local part of an email address.
// Example: "john.doe@example.com" -> "jo***@example.com"
func SanitizeEmail(email string) string {
	if email == "" {
		return ""
	}
	at := strings.Index(email, "@")
	if at <= 0 {
		return "***"
	}
	local, domain := email[:at], email[at:]
	if len(local) <= 2 {
		return "***" + domain
	}
	return local[:2] + "***" + domain
}

// MaskPartial reveals the first and last two characters of value and masks
// the rest. Values too short to hide anything are fully redacted.
// Example: "4242424242424242" -> "42************42"
func MaskPartial(value string) string {
	r := []rune(value)
	if len(r) <= 4 {
		return Redacted
	}
	return string(r[:2]) + strings.Repeat("*", len(r)-4) + string(r[len(r)-2:])
}

// TruncateString truncates s to maxLen bytes and marks the cut.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
