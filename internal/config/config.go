/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int

	// Upstream OBS connection
	OBSURL               string // obs-websocket URL (e.g., ws://localhost:4455)
	OBSPassword          string
	MediaSource          string // media source the playlist scheduler drives
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int // 0 = retry forever

	// Playlists and presets
	PlaylistDir        string
	PresetFile         string // optional YAML overriding built-in presets
	AutoAdvanceDefault bool
	LoopDefault        bool
	StrictValidation   bool // refuse playlist activation until preflight passed

	// Control surfaces
	AccessKey       string // bearer key for REST and WebSocket; empty disables auth
	OSCListenAddr   string // empty disables the OSC bridge
	OSCFeedbackAddr string

	// Title overlay
	OverlayEnabled bool
	OverlaySource  string // text source in the upstream scene collection
	OverlayScene   string // empty = current program scene
	OverlayHold    time.Duration
	OverlayDelay   time.Duration
	OverlayPrefix  string
	OverlaySuffix  string

	// State persistence
	DBBackend DatabaseBackend
	DBDSN     string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Optional NATS event mirroring
	NATSURL string

	LogBufferSize int
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"OBSRELAY_ENV", "RELAY_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"OBSRELAY_HTTP_BIND", "RELAY_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"OBSRELAY_HTTP_PORT", "RELAY_HTTP_PORT"}, 8080),

		OBSURL:               getEnvAny([]string{"OBSRELAY_OBS_URL", "OBS_WS_URL"}, "ws://localhost:4455"),
		OBSPassword:          getEnvAny([]string{"OBSRELAY_OBS_PASSWORD", "OBS_WS_PASSWORD"}, ""),
		MediaSource:          getEnvAny([]string{"OBSRELAY_MEDIA_SOURCE", "RELAY_MEDIA_SOURCE"}, "Playlist Player"),
		ReconnectInterval:    time.Duration(getEnvIntAny([]string{"OBSRELAY_RECONNECT_INTERVAL_SECONDS", "RELAY_RECONNECT_INTERVAL_SECONDS"}, 5)) * time.Second,
		MaxReconnectAttempts: getEnvIntAny([]string{"OBSRELAY_MAX_RECONNECT_ATTEMPTS", "RELAY_MAX_RECONNECT_ATTEMPTS"}, 10),

		PlaylistDir:        getEnvAny([]string{"OBSRELAY_PLAYLIST_DIR", "RELAY_PLAYLIST_DIR"}, "./playlists"),
		PresetFile:         getEnvAny([]string{"OBSRELAY_PRESET_FILE", "RELAY_PRESET_FILE"}, ""),
		AutoAdvanceDefault: getEnvBoolAny([]string{"OBSRELAY_AUTO_ADVANCE", "RELAY_AUTO_ADVANCE"}, true),
		LoopDefault:        getEnvBoolAny([]string{"OBSRELAY_LOOP_PLAYLISTS", "RELAY_LOOP_PLAYLISTS"}, true),
		StrictValidation:   getEnvBoolAny([]string{"OBSRELAY_STRICT_VALIDATION", "RELAY_STRICT_VALIDATION"}, false),

		AccessKey:       getEnvAny([]string{"OBSRELAY_ACCESS_KEY", "RELAY_ACCESS_KEY"}, ""),
		OSCListenAddr:   getEnvAny([]string{"OBSRELAY_OSC_LISTEN_ADDR", "RELAY_OSC_LISTEN_ADDR"}, ""),
		OSCFeedbackAddr: getEnvAny([]string{"OBSRELAY_OSC_FEEDBACK_ADDR", "RELAY_OSC_FEEDBACK_ADDR"}, "127.0.0.1:9001"),

		OverlayEnabled: getEnvBoolAny([]string{"OBSRELAY_OVERLAY_ENABLED", "RELAY_OVERLAY_ENABLED"}, true),
		OverlaySource:  getEnvAny([]string{"OBSRELAY_OVERLAY_SOURCE", "RELAY_OVERLAY_SOURCE"}, "TitleOverlay"),
		OverlayScene:   getEnvAny([]string{"OBSRELAY_OVERLAY_SCENE", "RELAY_OVERLAY_SCENE"}, ""),
		OverlayHold:    secondsDuration(getEnvFloatAny([]string{"OBSRELAY_OVERLAY_HOLD_SECONDS", "RELAY_OVERLAY_HOLD_SECONDS"}, 8)),
		OverlayDelay:   secondsDuration(getEnvFloatAny([]string{"OBSRELAY_OVERLAY_DELAY_SECONDS", "RELAY_OVERLAY_DELAY_SECONDS"}, 1)),
		OverlayPrefix:  getEnvAny([]string{"OBSRELAY_OVERLAY_PREFIX", "RELAY_OVERLAY_PREFIX"}, ""),
		OverlaySuffix:  getEnvAny([]string{"OBSRELAY_OVERLAY_SUFFIX", "RELAY_OVERLAY_SUFFIX"}, ""),

		DBBackend: DatabaseBackend(getEnvAny([]string{"OBSRELAY_DB_BACKEND", "RELAY_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:     getEnvAny([]string{"OBSRELAY_DB_DSN", "RELAY_DB_DSN"}, "obsrelay.db"),

		TracingEnabled:    getEnvBoolAny([]string{"OBSRELAY_TRACING_ENABLED", "RELAY_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"OBSRELAY_OTLP_ENDPOINT", "RELAY_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"OBSRELAY_TRACING_SAMPLE_RATE", "RELAY_TRACING_SAMPLE_RATE"}, 1.0),

		NATSURL: getEnvAny([]string{"OBSRELAY_NATS_URL", "RELAY_NATS_URL"}, ""),

		LogBufferSize: getEnvIntAny([]string{"OBSRELAY_LOG_BUFFER_SIZE", "RELAY_LOG_BUFFER_SIZE"}, 5000),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("OBSRELAY_DB_DSN must be provided")
	}

	if !strings.HasPrefix(cfg.OBSURL, "ws://") && !strings.HasPrefix(cfg.OBSURL, "wss://") {
		return nil, fmt.Errorf("OBSRELAY_OBS_URL must be a ws:// or wss:// URL, got %q", cfg.OBSURL)
	}

	if cfg.ReconnectInterval <= 0 {
		return nil, fmt.Errorf("OBSRELAY_RECONNECT_INTERVAL_SECONDS must be positive")
	}

	if cfg.MaxReconnectAttempts < 0 {
		return nil, fmt.Errorf("OBSRELAY_MAX_RECONNECT_ATTEMPTS must be zero (retry forever) or positive")
	}

	if cfg.OverlayEnabled && cfg.OverlayHold <= 0 {
		return nil, fmt.Errorf("OBSRELAY_OVERLAY_HOLD_SECONDS must be positive")
	}

	if cfg.OverlayDelay < 0 {
		return nil, fmt.Errorf("OBSRELAY_OVERLAY_DELAY_SECONDS must be zero or positive")
	}

	if cfg.TracingSampleRate < 0 || cfg.TracingSampleRate > 1 {
		return nil, fmt.Errorf("OBSRELAY_TRACING_SAMPLE_RATE must be in [0, 1]")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.AccessKey == "" {
		return nil, fmt.Errorf("OBSRELAY_ACCESS_KEY must be set in production")
	}

	return cfg, nil
}

// secondsDuration converts a fractional seconds value to a Duration.
func secondsDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
