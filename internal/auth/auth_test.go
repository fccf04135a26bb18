/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
)

func TestVerify(t *testing.T) {
	t.Parallel()

	v := NewVerifier("correct-key")
	if err := v.Verify("correct-key"); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
	if err := v.Verify("wrong-key"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("invalid key error = %v", err)
	}
	if err := v.Verify(""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("empty key error = %v", err)
	}
}

func TestDisabledVerifierAllowsEverything(t *testing.T) {
	t.Parallel()

	v := NewVerifier("")
	if v.Enabled() {
		t.Fatal("verifier should be disabled with no key configured")
	}
	if err := v.Verify("anything"); err != nil {
		t.Errorf("disabled verifier rejected: %v", err)
	}
}

func TestVerifyRequest(t *testing.T) {
	t.Parallel()

	v := NewVerifier("sekrit")

	r := httptest.NewRequest("GET", "/api/v1/status", nil)
	r.Header.Set("Authorization", "Bearer sekrit")
	if err := v.VerifyRequest(r); err != nil {
		t.Errorf("bearer header rejected: %v", err)
	}

	r = httptest.NewRequest("GET", "/ws?token=sekrit", nil)
	if err := v.VerifyRequest(r); err != nil {
		t.Errorf("token query rejected: %v", err)
	}

	r = httptest.NewRequest("GET", "/api/v1/status", nil)
	if err := v.VerifyRequest(r); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("missing credential error = %v", err)
	}

	r = httptest.NewRequest("GET", "/api/v1/status", nil)
	r.Header.Set("Authorization", "Bearer nope")
	if err := v.VerifyRequest(r); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("wrong bearer error = %v", err)
	}
}
