/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package command routes control commands from any surface (REST,
// WebSocket, OSC) to the core. Every surface builds the same command
// shape, so behavior cannot drift between surfaces.
package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/schwwaaa/obs-relay/internal/auth"
	"github.com/schwwaaa/obs-relay/internal/events"
	"github.com/schwwaaa/obs-relay/internal/models"
	"github.com/schwwaaa/obs-relay/internal/obs"
	"github.com/schwwaaa/obs-relay/internal/presets"
	"github.com/schwwaaa/obs-relay/internal/scheduler"
	"github.com/schwwaaa/obs-relay/internal/telemetry"
)

// SchemaError reports a malformed command: unknown name, missing
// argument, or an argument of the wrong type.
type SchemaError struct {
	msg string
}

func (e *SchemaError) Error() string { return e.msg }

func schemaErrf(format string, args ...any) *SchemaError {
	return &SchemaError{msg: fmt.Sprintf(format, args...)}
}

// HTTPStatus maps a dispatch error to the HTTP status code every
// surface reports for it.
func HTTPStatus(err error) int {
	var schemaErr *SchemaError
	var reqErr *obs.RequestError
	switch {
	case errors.As(err, &schemaErr):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidKey):
		return http.StatusUnauthorized
	case errors.Is(err, scheduler.ErrNotFound), errors.Is(err, presets.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrNoActivePlaylist):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrOutOfRange), errors.Is(err, scheduler.ErrUnvalidated),
		errors.Is(err, scheduler.ErrEmptyPlaylist):
		return http.StatusUnprocessableEntity
	case errors.Is(err, obs.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &reqErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Session is the slice of the supervisor the router dispatches to.
type Session interface {
	State() obs.SessionState
	SwitchScene(ctx context.Context, name string) error
	SetTransition(ctx context.Context, name string, durationMS int) error
	SetInputVolume(ctx context.Context, input string, volumeDB float64) error
	SetInputMute(ctx context.Context, input string, muted bool) error
	MediaAction(ctx context.Context, input, action string) error
	StartStream(ctx context.Context) error
	StopStream(ctx context.Context) error
	StreamActive(ctx context.Context) (bool, error)
	StartRecord(ctx context.Context) error
	StopRecord(ctx context.Context) error
	PauseRecord(ctx context.Context) error
	ResumeRecord(ctx context.Context) error
	RecordActive(ctx context.Context) (bool, error)
	CurrentScene(ctx context.Context) (string, error)
}

// Playlists is the slice of the scheduler the router dispatches to.
type Playlists interface {
	Activate(ctx context.Context, name string) (*scheduler.Result, error)
	Next(ctx context.Context) (*scheduler.Result, error)
	Prev(ctx context.Context) (*scheduler.Result, error)
	Seek(ctx context.Context, position int) (*scheduler.Result, error)
	SetAutoAdvance(enabled bool) (*scheduler.Result, error)
	Snapshot() (active *string, position int, track *models.Track, count int, autoAdvance bool)
}

// Presets is the slice of the preset activator the router dispatches to.
type Presets interface {
	Activate(ctx context.Context, name string) (map[string]any, error)
}

// Result is the payload returned to the caller on success.
type Result map[string]any

// Router dispatches named commands 1:1 onto core operations. It holds
// no state of its own.
type Router struct {
	session     Session
	playlists   Playlists
	presets     Presets
	bus         *events.Bus
	mediaSource string
	logger      zerolog.Logger
}

// New creates a command router.
func New(session Session, playlists Playlists, presets Presets, bus *events.Bus, mediaSource string, logger zerolog.Logger) *Router {
	return &Router{
		session:     session,
		playlists:   playlists,
		presets:     presets,
		bus:         bus,
		mediaSource: mediaSource,
		logger:      logger.With().Str("component", "command").Logger(),
	}
}

// Dispatch executes one command. Unknown names and malformed arguments
// return a SchemaError; everything else surfaces the core's error
// unchanged so HTTPStatus can classify it.
func (r *Router) Dispatch(ctx context.Context, name string, args map[string]any) (Result, error) {
	res, err := r.dispatch(ctx, name, args)
	status := "ok"
	if err != nil {
		status = "error"
		r.logger.Debug().Err(err).Str("command", name).Msg("command failed")
	} else {
		r.logger.Debug().Str("command", name).Msg("command dispatched")
	}
	telemetry.CommandsTotal.WithLabelValues(name, status).Inc()
	return res, err
}

func (r *Router) dispatch(ctx context.Context, name string, args map[string]any) (Result, error) {
	switch name {
	case "activate_preset":
		preset, err := argString(args, "preset")
		if err != nil {
			return nil, err
		}
		res, err := r.presets.Activate(ctx, preset)
		if err != nil {
			return nil, err
		}
		return Result(res), nil

	case "switch_scene":
		scene, err := argString(args, "scene")
		if err != nil {
			return nil, err
		}
		if err := r.session.SwitchScene(ctx, scene); err != nil {
			return nil, err
		}
		r.bus.Publish(events.EventSceneSwitched, events.Payload{"scene": scene})
		return Result{"scene": scene}, nil

	case "set_transition":
		transition, err := argString(args, "transition")
		if err != nil {
			return nil, err
		}
		duration, err := argOptInt(args, "duration_ms", 0)
		if err != nil {
			return nil, err
		}
		if err := r.session.SetTransition(ctx, transition, duration); err != nil {
			return nil, err
		}
		return Result{"transition": transition, "duration_ms": duration}, nil

	case "playlist_activate":
		playlistName, err := argString(args, "playlist")
		if err != nil {
			return nil, err
		}
		return schedulerResult(r.playlists.Activate(ctx, playlistName))

	case "playlist_next":
		return schedulerResult(r.playlists.Next(ctx))

	case "playlist_prev":
		return schedulerResult(r.playlists.Prev(ctx))

	case "playlist_seek":
		position, err := argInt(args, "position")
		if err != nil {
			return nil, err
		}
		return schedulerResult(r.playlists.Seek(ctx, position))

	case "set_auto_advance":
		enabled, err := argBool(args, "enabled")
		if err != nil {
			return nil, err
		}
		res, err := schedulerResult(r.playlists.SetAutoAdvance(enabled))
		if err != nil {
			return nil, err
		}
		res["auto_advance"] = enabled
		return res, nil

	case "stream_start":
		return noArgResult(r.session.StartStream(ctx), "streaming", true)

	case "stream_stop":
		return noArgResult(r.session.StopStream(ctx), "streaming", false)

	case "record_start":
		return noArgResult(r.session.StartRecord(ctx), "recording", true)

	case "record_stop":
		return noArgResult(r.session.StopRecord(ctx), "recording", false)

	case "record_pause":
		return noArgResult(r.session.PauseRecord(ctx), "record_paused", true)

	case "record_resume":
		return noArgResult(r.session.ResumeRecord(ctx), "record_paused", false)

	case "set_volume":
		input, err := argString(args, "input")
		if err != nil {
			return nil, err
		}
		volume, err := argFloat(args, "volume_db")
		if err != nil {
			return nil, err
		}
		if err := r.session.SetInputVolume(ctx, input, volume); err != nil {
			return nil, err
		}
		return Result{"input": input, "volume_db": volume}, nil

	case "set_mute":
		input, err := argString(args, "input")
		if err != nil {
			return nil, err
		}
		muted, err := argBool(args, "muted")
		if err != nil {
			return nil, err
		}
		if err := r.session.SetInputMute(ctx, input, muted); err != nil {
			return nil, err
		}
		return Result{"input": input, "muted": muted}, nil

	case "media_play":
		return r.mediaAction(ctx, args, obs.MediaActionPlay)

	case "media_pause":
		return r.mediaAction(ctx, args, obs.MediaActionPause)

	case "media_restart":
		return r.mediaAction(ctx, args, obs.MediaActionRestart)

	case "media_stop":
		return r.mediaAction(ctx, args, obs.MediaActionStop)

	case "get_status":
		return r.status(ctx), nil

	default:
		return nil, schemaErrf("unknown command %q", name)
	}
}

func (r *Router) mediaAction(ctx context.Context, args map[string]any, action string) (Result, error) {
	input, err := argOptString(args, "input", r.mediaSource)
	if err != nil {
		return nil, err
	}
	if err := r.session.MediaAction(ctx, input, action); err != nil {
		return nil, err
	}
	return Result{"input": input, "action": action}, nil
}

// status assembles the status snapshot. Upstream lookups are best
// effort: a disconnected session still yields the local view.
func (r *Router) status(ctx context.Context) Result {
	res := Result{
		"connection": r.session.State().String(),
		"connected":  r.session.State() == obs.StateConnected,
	}

	active, position, track, count, autoAdvance := r.playlists.Snapshot()
	res["auto_advance"] = autoAdvance
	if active != nil {
		pl := Result{
			"name":     *active,
			"position": position,
			"tracks":   count,
		}
		if track != nil {
			pl["track"] = track.Title
		}
		res["playlist"] = pl
	}

	if r.session.State() == obs.StateConnected {
		if scene, err := r.session.CurrentScene(ctx); err == nil {
			res["scene"] = scene
		}
		if streaming, err := r.session.StreamActive(ctx); err == nil {
			res["streaming"] = streaming
		}
		if recording, err := r.session.RecordActive(ctx); err == nil {
			res["recording"] = recording
		}
	}
	return res
}

func schedulerResult(res *scheduler.Result, err error) (Result, error) {
	if err != nil {
		return nil, err
	}
	out := Result{
		"playlist": res.Playlist,
		"position": res.Position,
	}
	if res.Track != nil {
		out["track"] = res.Track.Title
	}
	if res.Ended {
		out["ended"] = true
	}
	if res.PersistWarning != "" {
		out["persist_warning"] = res.PersistWarning
	}
	if res.LoadWarning != "" {
		out["load_warning"] = res.LoadWarning
	}
	return out, nil
}

func noArgResult(err error, key string, value bool) (Result, error) {
	if err != nil {
		return nil, err
	}
	return Result{key: value}, nil
}

func argString(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", schemaErrf("missing argument %q", key)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", schemaErrf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

func argOptString(args map[string]any, key, fallback string) (string, error) {
	if _, ok := args[key]; !ok {
		return fallback, nil
	}
	return argString(args, key)
}

// argInt accepts JSON numbers, which decode as float64, but rejects
// fractional values.
func argInt(args map[string]any, key string) (int, error) {
	raw, ok := args[key]
	if !ok {
		return 0, schemaErrf("missing argument %q", key)
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case float64:
		if v != float64(int(v)) {
			return 0, schemaErrf("argument %q must be an integer", key)
		}
		return int(v), nil
	default:
		return 0, schemaErrf("argument %q must be an integer", key)
	}
}

func argOptInt(args map[string]any, key string, fallback int) (int, error) {
	if _, ok := args[key]; !ok {
		return fallback, nil
	}
	return argInt(args, key)
}

func argFloat(args map[string]any, key string) (float64, error) {
	raw, ok := args[key]
	if !ok {
		return 0, schemaErrf("missing argument %q", key)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, schemaErrf("argument %q must be a number", key)
	}
}

func argBool(args map[string]any, key string) (bool, error) {
	raw, ok := args[key]
	if !ok {
		return false, schemaErrf("missing argument %q", key)
	}
	b, ok := raw.(bool)
	if !ok {
		return false, schemaErrf("argument %q must be a boolean", key)
	}
	return b, nil
}
