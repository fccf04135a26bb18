/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package auth verifies the shared access key presented by control clients.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ErrInvalidKey is returned for a missing or mismatched access key.
// The same error covers both cases so responses never leak which one.
var ErrInvalidKey = errors.New("invalid access key")

// Verifier checks presented credentials against the configured access key.
// An empty configured key disables verification entirely.
type Verifier struct {
	keyHash [32]byte
	enabled bool
}

// NewVerifier creates a verifier for the configured access key.
func NewVerifier(accessKey string) *Verifier {
	v := &Verifier{}
	if accessKey != "" {
		v.keyHash = sha256.Sum256([]byte(accessKey))
		v.enabled = true
	}
	return v
}

// Enabled reports whether an access key is configured.
func (v *Verifier) Enabled() bool { return v.enabled }

// Verify checks a presented key in constant time.
func (v *Verifier) Verify(presented string) error {
	if !v.enabled {
		return nil
	}
	presentedHash := sha256.Sum256([]byte(presented))
	if subtle.ConstantTimeCompare(v.keyHash[:], presentedHash[:]) != 1 {
		return ErrInvalidKey
	}
	return nil
}

// VerifyRequest checks the Authorization bearer header, falling back to a
// token query parameter for WebSocket clients that cannot set headers.
func (v *Verifier) VerifyRequest(r *http.Request) error {
	if !v.enabled {
		return nil
	}

	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return v.Verify(strings.TrimPrefix(header, "Bearer "))
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return v.Verify(token)
	}
	return ErrInvalidKey
}
