/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the REST and WebSocket control surfaces. Every
// mutation goes through the command router, so REST and WebSocket
// clients observe identical behavior.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/schwwaaa/obs-relay/internal/auth"
	"github.com/schwwaaa/obs-relay/internal/command"
	"github.com/schwwaaa/obs-relay/internal/logbuffer"
	"github.com/schwwaaa/obs-relay/internal/models"
	"github.com/schwwaaa/obs-relay/internal/obs"
	"github.com/schwwaaa/obs-relay/internal/playlist"
	"github.com/schwwaaa/obs-relay/internal/presets"
	"github.com/schwwaaa/obs-relay/internal/relay"
	"github.com/schwwaaa/obs-relay/internal/version"
)

// Session is the read-only slice of the supervisor the API serves
// directly. Mutations go through the command router instead.
type Session interface {
	State() obs.SessionState
	Scenes(ctx context.Context) ([]string, string, error)
	Version(ctx context.Context) (string, error)
}

// Playlists is the read-only slice of the scheduler the API serves.
type Playlists interface {
	Playlists() map[string]*models.Playlist
	Validate() playlist.ValidationReport
}

// Presets lists the configured presets.
type Presets interface {
	List() []presets.Preset
}

// API exposes HTTP handlers.
type API struct {
	router    *command.Router
	session   Session
	playlists Playlists
	presets   Presets
	verifier  *auth.Verifier
	relay     *relay.Broadcaster
	logBuffer *logbuffer.Buffer
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(router *command.Router, session Session, playlists Playlists, pr Presets, verifier *auth.Verifier, broadcaster *relay.Broadcaster, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		router:    router,
		session:   session,
		playlists: playlists,
		presets:   pr,
		verifier:  verifier,
		relay:     broadcaster,
		logBuffer: logBuf,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Get("/health", a.handleHealth)
		r.Get("/healthz", a.handleHealth)
		r.Get("/version", a.handleVersion)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware)

			pr.Get("/status", a.handleStatus)
			pr.Post("/command", a.handleCommand)

			pr.Route("/scenes", func(r chi.Router) {
				r.Get("/", a.handleScenesList)
				r.Post("/current", a.commandHandler("switch_scene"))
			})

			pr.Route("/playlists", func(r chi.Router) {
				r.Get("/", a.handlePlaylistsList)
				r.Get("/validate", a.handlePlaylistsValidate)
				r.Post("/next", a.commandHandler("playlist_next"))
				r.Post("/prev", a.commandHandler("playlist_prev"))
				r.Post("/seek", a.commandHandler("playlist_seek"))
				r.Post("/auto-advance", a.commandHandler("set_auto_advance"))
				r.Post("/{name}/activate", a.handlePlaylistActivate)
			})

			pr.Route("/presets", func(r chi.Router) {
				r.Get("/", a.handlePresetsList)
				r.Post("/{name}/activate", a.handlePresetActivate)
			})

			pr.Route("/stream", func(r chi.Router) {
				r.Post("/start", a.commandHandler("stream_start"))
				r.Post("/stop", a.commandHandler("stream_stop"))
			})

			pr.Route("/record", func(r chi.Router) {
				r.Post("/start", a.commandHandler("record_start"))
				r.Post("/stop", a.commandHandler("record_stop"))
				r.Post("/pause", a.commandHandler("record_pause"))
				r.Post("/resume", a.commandHandler("record_resume"))
			})

			pr.Post("/transition", a.commandHandler("set_transition"))
			pr.Post("/volume", a.commandHandler("set_volume"))
			pr.Post("/mute", a.commandHandler("set_mute"))

			pr.Route("/media", func(r chi.Router) {
				r.Post("/play", a.commandHandler("media_play"))
				r.Post("/pause", a.commandHandler("media_pause"))
				r.Post("/restart", a.commandHandler("media_restart"))
				r.Post("/stop", a.commandHandler("media_stop"))
			})

			pr.Route("/logs", func(r chi.Router) {
				r.Get("/", a.handleLogs)
				r.Get("/components", a.handleLogComponents)
				r.Get("/stats", a.handleLogStats)
			})
		})
	})

	r.Get("/ws", a.handleWebSocket)
}

func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.verifier.VerifyRequest(r); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth reports liveness. The upstream session being down is a
// degraded state: load balancers and supervisors should see it.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := a.session.State()
	body := map[string]any{
		"status":     "ok",
		"connection": state.String(),
	}
	if state != obs.StateConnected {
		body["status"] = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"version": version.Version,
	}
	if a.session.State() == obs.StateConnected {
		if obsVersion, err := a.session.Version(r.Context()); err == nil {
			body["obs_version"] = obsVersion
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	res, err := a.router.Dispatch(r.Context(), "get_status", nil)
	if err != nil {
		a.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type commandRequest struct {
	Command string         `json:"command"`
	Args    map[string]any `json:"args"`
}

// handleCommand is the generic dispatch endpoint. The per-resource
// routes below are sugar over the same command set.
func (a *API) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command_required")
		return
	}
	a.dispatch(w, r, req.Command, req.Args)
}

// commandHandler builds a handler that decodes the request body as the
// command's arguments and dispatches it.
func (a *API) commandHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		args := map[string]any{}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_json")
				return
			}
		}
		a.dispatch(w, r, name, args)
	}
}

func (a *API) handlePlaylistActivate(w http.ResponseWriter, r *http.Request) {
	a.dispatch(w, r, "playlist_activate", map[string]any{
		"playlist": chi.URLParam(r, "name"),
	})
}

func (a *API) handlePresetActivate(w http.ResponseWriter, r *http.Request) {
	a.dispatch(w, r, "activate_preset", map[string]any{
		"preset": chi.URLParam(r, "name"),
	})
}

func (a *API) dispatch(w http.ResponseWriter, r *http.Request, name string, args map[string]any) {
	res, err := a.router.Dispatch(r.Context(), name, args)
	if err != nil {
		a.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleScenesList(w http.ResponseWriter, r *http.Request) {
	scenes, current, err := a.session.Scenes(r.Context())
	if err != nil {
		a.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scenes":  scenes,
		"current": current,
	})
}

type playlistSummary struct {
	Name   string  `json:"name"`
	Tracks int     `json:"tracks"`
	Loop   bool    `json:"loop"`
	Source string  `json:"source,omitempty"`
	Length float64 `json:"duration_seconds"`
}

func (a *API) handlePlaylistsList(w http.ResponseWriter, r *http.Request) {
	loaded := a.playlists.Playlists()
	out := make([]playlistSummary, 0, len(loaded))
	for _, pl := range loaded {
		var total float64
		for _, track := range pl.Tracks {
			if track.Duration > 0 {
				total += track.Duration
			}
		}
		out = append(out, playlistSummary{
			Name:   pl.Name,
			Tracks: pl.Len(),
			Loop:   pl.Loop,
			Source: pl.SourceFile,
			Length: total,
		})
	}
	// Map iteration order is random; keep the listing stable.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Name < out[j-1].Name; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handlePlaylistsValidate(w http.ResponseWriter, r *http.Request) {
	report := a.playlists.Validate()
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":   report.Valid(),
		"missing": report,
	})
}

func (a *API) handlePresetsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.presets.List())
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	params := logbuffer.QueryParams{
		Level:      r.URL.Query().Get("level"),
		Component:  r.URL.Query().Get("component"),
		Search:     r.URL.Query().Get("search"),
		Descending: true,
	}

	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			params.Since = t
		}
	}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			params.Limit = n
		}
	} else {
		params.Limit = 500
	}

	if order := r.URL.Query().Get("order"); order == "asc" {
		params.Descending = false
	}

	writeJSON(w, http.StatusOK, a.logBuffer.Query(params))
}

func (a *API) handleLogComponents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.logBuffer.Components())
}

func (a *API) handleLogStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.logBuffer.Stats())
}

func (a *API) writeCommandError(w http.ResponseWriter, err error) {
	writeError(w, command.HTTPStatus(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
