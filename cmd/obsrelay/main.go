/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/schwwaaa/obs-relay/internal/config"
	"github.com/schwwaaa/obs-relay/internal/logbuffer"
	"github.com/schwwaaa/obs-relay/internal/logging"
	"github.com/schwwaaa/obs-relay/internal/playlist"
	"github.com/schwwaaa/obs-relay/internal/presets"
	"github.com/schwwaaa/obs-relay/internal/server"
	"github.com/schwwaaa/obs-relay/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

const configTemplate = `# obs-relay configuration
# Copy to an env file and adjust. Every key also accepts a RELAY_ prefix.

OBSRELAY_ENV=development
OBSRELAY_HTTP_BIND=0.0.0.0
OBSRELAY_HTTP_PORT=8080

# Upstream obs-websocket v5 endpoint. OBS_WS_URL / OBS_WS_PASSWORD work too.
OBSRELAY_OBS_URL=ws://localhost:4455
OBSRELAY_OBS_PASSWORD=
OBSRELAY_MEDIA_SOURCE=Playlist Player
OBSRELAY_RECONNECT_INTERVAL_SECONDS=5
# 0 retries forever.
OBSRELAY_MAX_RECONNECT_ATTEMPTS=10

OBSRELAY_PLAYLIST_DIR=./playlists
OBSRELAY_PRESET_FILE=
OBSRELAY_AUTO_ADVANCE=true
OBSRELAY_LOOP_PLAYLISTS=true
OBSRELAY_STRICT_VALIDATION=false

# Required outside development.
OBSRELAY_ACCESS_KEY=

# Leave empty to disable the OSC bridge.
OBSRELAY_OSC_LISTEN_ADDR=
OBSRELAY_OSC_FEEDBACK_ADDR=127.0.0.1:9001

# Title overlay shown on track changes. The source must exist in OBS,
# hidden by default.
OBSRELAY_OVERLAY_ENABLED=true
OBSRELAY_OVERLAY_SOURCE=TitleOverlay
OBSRELAY_OVERLAY_SCENE=
OBSRELAY_OVERLAY_HOLD_SECONDS=8
OBSRELAY_OVERLAY_DELAY_SECONDS=1
OBSRELAY_OVERLAY_PREFIX=
OBSRELAY_OVERLAY_SUFFIX=

# sqlite (default), postgres or mysql.
OBSRELAY_DB_BACKEND=sqlite
OBSRELAY_DB_DSN=obsrelay.db

OBSRELAY_TRACING_ENABLED=false
OBSRELAY_OTLP_ENDPOINT=localhost:4317
OBSRELAY_TRACING_SAMPLE_RATE=1.0

# Leave empty to disable NATS event mirroring.
OBSRELAY_NATS_URL=

OBSRELAY_LOG_BUFFER_SIZE=5000
`

var rootCmd = &cobra.Command{
	Use:   "obsrelay",
	Short: "OBS broadcast remote-control relay",
	Long:  "obsrelay maintains a supervised obs-websocket session and exposes REST, WebSocket and OSC control surfaces with a durable playlist scheduler.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay server",
	Long:  "Start the HTTP control surface, the upstream session supervisor and the playlist scheduler",
	RunE:  runServe,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and playlists without starting the server",
	RunE:  runCheck,
}

var validatePlaylistsCmd = &cobra.Command{
	Use:   "validate-playlists",
	Short: "Run preflight validation over the playlist directory",
	RunE:  runValidatePlaylists,
}

var listPresetsCmd = &cobra.Command{
	Use:   "list-presets",
	Short: "List the configured presets",
	RunE:  runListPresets,
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Print a commented environment file template",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(configTemplate)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the relay version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(validatePlaylistsCmd)
	rootCmd.AddCommand(listPresetsCmd)
	rootCmd.AddCommand(initConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logBuf := logbuffer.New(cfg.LogBufferSize)
	logger = logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logBuf, nil))

	logger.Info().Str("version", version.Version).Msg("obs-relay starting")

	srv, err := server.New(cfg, logBuf, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := srv.HTTPServer()

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("obs-relay stopped")
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	fmt.Printf("environment:        %s\n", cfg.Environment)
	fmt.Printf("http:               %s:%d\n", cfg.HTTPBind, cfg.HTTPPort)
	fmt.Printf("obs url:            %s\n", cfg.OBSURL)
	fmt.Printf("media source:       %s\n", cfg.MediaSource)
	fmt.Printf("playlist dir:       %s\n", cfg.PlaylistDir)
	fmt.Printf("db backend:         %s\n", cfg.DBBackend)
	fmt.Printf("auth enabled:       %t\n", cfg.AccessKey != "")
	fmt.Printf("osc bridge:         %t\n", cfg.OSCListenAddr != "")
	fmt.Printf("nats mirroring:     %t\n", cfg.NATSURL != "")

	playlists, err := playlist.LoadDir(cfg.PlaylistDir, cfg.LoopDefault)
	if err != nil {
		return fmt.Errorf("load playlists: %w", err)
	}
	fmt.Printf("playlists loaded:   %d\n", len(playlists))

	if _, err := presets.NewRegistry(cfg.PresetFile); err != nil {
		return fmt.Errorf("load presets: %w", err)
	}
	fmt.Println("configuration ok")
	return nil
}

func runValidatePlaylists(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	playlists, err := playlist.LoadDir(cfg.PlaylistDir, cfg.LoopDefault)
	if err != nil {
		return fmt.Errorf("load playlists: %w", err)
	}
	if len(playlists) == 0 {
		fmt.Printf("no playlists found in %s\n", cfg.PlaylistDir)
		return nil
	}

	report := playlist.ValidateAll(playlists)
	if report.Valid() {
		fmt.Printf("all %d playlists valid\n", len(playlists))
		return nil
	}

	invalid := 0
	for name, missing := range report {
		if len(missing) == 0 {
			continue
		}
		invalid++
		fmt.Printf("%s:\n", name)
		for _, path := range missing {
			fmt.Printf("  missing: %s\n", path)
		}
	}
	return fmt.Errorf("%d playlists have missing files", invalid)
}

func runListPresets(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	registry, err := presets.NewRegistry(cfg.PresetFile)
	if err != nil {
		return fmt.Errorf("load presets: %w", err)
	}

	for _, p := range registry.List() {
		fmt.Printf("%-16s scene=%q", p.Name, p.Scene)
		if p.Playlist != "" {
			fmt.Printf(" playlist=%q", p.Playlist)
		}
		if len(p.Actions) > 0 {
			fmt.Printf(" actions=%d", len(p.Actions))
		}
		if p.Description != "" {
			fmt.Printf("  # %s", p.Description)
		}
		fmt.Println()
	}
	return nil
}
