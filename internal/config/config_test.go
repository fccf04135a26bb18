/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.OBSURL != "ws://localhost:4455" {
		t.Errorf("OBSURL = %q", cfg.OBSURL)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Errorf("DBBackend = %q", cfg.DBBackend)
	}
	if cfg.ReconnectInterval != 5*time.Second {
		t.Errorf("ReconnectInterval = %v", cfg.ReconnectInterval)
	}
	if cfg.MaxReconnectAttempts != 10 {
		t.Errorf("MaxReconnectAttempts = %d", cfg.MaxReconnectAttempts)
	}
	if !cfg.AutoAdvanceDefault {
		t.Error("AutoAdvanceDefault should default to true")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad backend", "OBSRELAY_DB_BACKEND", "mongodb"},
		{"bad obs url", "OBSRELAY_OBS_URL", "http://localhost:4455"},
		{"negative attempts", "OBSRELAY_MAX_RECONNECT_ATTEMPTS", "-1"},
		{"sample rate out of range", "OBSRELAY_TRACING_SAMPLE_RATE", "2.5"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestLoadProductionRequiresAccessKey(t *testing.T) {
	t.Setenv("OBSRELAY_ENV", "production")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when access key is unset in production")
	}

	t.Setenv("OBSRELAY_ACCESS_KEY", "sekrit")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AccessKey != "sekrit" {
		t.Errorf("AccessKey = %q", cfg.AccessKey)
	}
}

func TestEnvFallbackKeys(t *testing.T) {
	t.Setenv("OBS_WS_URL", "ws://studio:4455")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OBSURL != "ws://studio:4455" {
		t.Errorf("OBSURL = %q, fallback key not honored", cfg.OBSURL)
	}
}
