// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	nonceLength = 32
	hkdfInfo    = "storegate csrf token v1"
)

// tokenSigner issues and checks signed double-submit tokens. The signature
// means a cookie value planted by a sibling subdomain is rejected even when
// the attacker also controls the header.
type tokenSigner struct {
	key []byte
}

func newTokenSigner(secret string) (*tokenSigner, error) {
	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive csrf key: %w", err)
	}
	return &tokenSigner{key: key}, nil
}

func (s *tokenSigner) mac(nonce []byte) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write(nonce)
	return h.Sum(nil)
}

func (s *tokenSigner) generate() (string, error) {
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate csrf nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(nonce) + "." +
		base64.RawURLEncoding.EncodeToString(s.mac(nonce)), nil
}

// verify reports whether token is well formed and carries our signature.
func (s *tokenSigner) verify(token string) bool {
	noncePart, sigPart, ok := strings.Cut(token, ".")
	if !ok {
		return false
	}
	nonce, err := base64.RawURLEncoding.DecodeString(noncePart)
	if err != nil || len(nonce) != nonceLength {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil || len(sig) != sha256.Size {
		return false
	}
	return hmac.Equal(sig, s.mac(nonce))
}

func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
