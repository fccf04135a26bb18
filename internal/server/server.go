/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the relay's components together and serves the
// HTTP control surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/schwwaaa/obs-relay/internal/api"
	"github.com/schwwaaa/obs-relay/internal/auth"
	"github.com/schwwaaa/obs-relay/internal/command"
	"github.com/schwwaaa/obs-relay/internal/config"
	"github.com/schwwaaa/obs-relay/internal/db"
	"github.com/schwwaaa/obs-relay/internal/eventbus"
	"github.com/schwwaaa/obs-relay/internal/events"
	"github.com/schwwaaa/obs-relay/internal/logbuffer"
	"github.com/schwwaaa/obs-relay/internal/obs"
	"github.com/schwwaaa/obs-relay/internal/osc"
	"github.com/schwwaaa/obs-relay/internal/overlay"
	"github.com/schwwaaa/obs-relay/internal/playlist"
	"github.com/schwwaaa/obs-relay/internal/presets"
	"github.com/schwwaaa/obs-relay/internal/relay"
	"github.com/schwwaaa/obs-relay/internal/scheduler"
	"github.com/schwwaaa/obs-relay/internal/state"
	"github.com/schwwaaa/obs-relay/internal/telemetry"
	"github.com/schwwaaa/obs-relay/internal/version"
)

// Server bundles the HTTP surface and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db          *gorm.DB
	logBuffer   *logbuffer.Buffer
	bus         *events.Bus
	supervisor  *obs.Supervisor
	scheduler   *scheduler.Scheduler
	broadcaster *relay.Broadcaster
	oscBridge   *osc.Bridge
	overlay     *overlay.Manager
	natsMirror  *eventbus.Forwarder
	api         *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("obs-relay-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip the request timeout for WebSocket upgrades; the control
	// channel is long-lived.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		// WriteTimeout stays 0 so the WebSocket channel manages its own
		// deadlines; the middleware timeout covers plain routes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	store, err := state.NewStore(database, s.cfg.AutoAdvanceDefault, s.logger)
	if err != nil {
		return fmt.Errorf("init state store: %w", err)
	}

	playlists, err := playlist.LoadDir(s.cfg.PlaylistDir, s.cfg.LoopDefault)
	if err != nil {
		return fmt.Errorf("load playlists: %w", err)
	}
	s.logger.Info().Int("count", len(playlists)).Str("dir", s.cfg.PlaylistDir).Msg("playlists loaded")

	s.supervisor = obs.NewSupervisor(obs.Options{
		URL:                  s.cfg.OBSURL,
		Password:             s.cfg.OBSPassword,
		MediaSource:          s.cfg.MediaSource,
		ReconnectInterval:    s.cfg.ReconnectInterval,
		MaxReconnectAttempts: s.cfg.MaxReconnectAttempts,
	}, s.bus, s.logger)

	s.scheduler = scheduler.New(playlists, store, s.supervisor, s.bus, s.cfg.StrictValidation, s.logger)

	registry, err := presets.NewRegistry(s.cfg.PresetFile)
	if err != nil {
		return fmt.Errorf("load presets: %w", err)
	}
	activator := presets.NewActivator(registry, s.supervisor, s.scheduler, s.bus, s.logger)

	router := command.New(s.supervisor, s.scheduler, activator, s.bus, s.cfg.MediaSource, s.logger)
	verifier := auth.NewVerifier(s.cfg.AccessKey)
	if !verifier.Enabled() {
		s.logger.Warn().Msg("no access key configured, control surfaces are unauthenticated")
	}

	s.broadcaster = relay.NewBroadcaster(s.bus, s.logger)

	if s.cfg.OSCListenAddr != "" {
		bridge, err := osc.New(s.cfg.OSCListenAddr, s.cfg.OSCFeedbackAddr, router, s.broadcaster, s.logger)
		if err != nil {
			return fmt.Errorf("init osc bridge: %w", err)
		}
		s.oscBridge = bridge
	}

	if s.cfg.OverlayEnabled {
		s.overlay = overlay.New(overlay.Config{
			Source: s.cfg.OverlaySource,
			Scene:  s.cfg.OverlayScene,
			Hold:   s.cfg.OverlayHold,
			Delay:  s.cfg.OverlayDelay,
			Prefix: s.cfg.OverlayPrefix,
			Suffix: s.cfg.OverlaySuffix,
		}, s.supervisor, s.bus, playlists, s.logger)
	}

	if s.cfg.NATSURL != "" {
		s.natsMirror = eventbus.NewForwarder(s.cfg.NATSURL, s.bus, s.logger)
	}

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "obs-relay",
		ServiceVersion: version.Version,
		OTLPEndpoint:   s.cfg.OTLPEndpoint,
		Enabled:        s.cfg.TracingEnabled,
		SampleRate:     s.cfg.TracingSampleRate,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	s.DeferClose(func() error { return tracerProvider.Shutdown(context.Background()) })

	s.api = api.New(router, s.supervisor, s.scheduler, registry, verifier, s.broadcaster, s.logBuffer, s.logger)
	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Scheduler exposes the playlist scheduler for CLI subcommands.
func (s *Server) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.supervisor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("session supervisor exited")
			return
		}
		if ctx.Err() == nil {
			s.logger.Error().Msg("session supervisor gave up reconnecting, control surfaces stay up")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("scheduler loop exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.broadcaster.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("broadcaster loop exited")
		}
	}()

	if s.oscBridge != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.oscBridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("osc bridge exited")
			}
		}()
	}

	if s.overlay != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.overlay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("overlay manager exited")
			}
		}()
	}

	if s.natsMirror != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.natsMirror.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn().Err(err).Msg("nats event mirror exited, continuing local-only")
			}
		}()
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Handle("/metrics", telemetry.Handler())
	s.api.Routes(s.router)
}
