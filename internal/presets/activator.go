/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package presets

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/schwwaaa/obs-relay/internal/events"
	"github.com/schwwaaa/obs-relay/internal/obs"
	"github.com/schwwaaa/obs-relay/internal/scheduler"
)

// Session is the slice of the supervisor preset activation uses.
type Session interface {
	SwitchScene(ctx context.Context, name string) error
	SetTransition(ctx context.Context, name string, durationMS int) error
	SetInputVolume(ctx context.Context, input string, volumeDB float64) error
	SetInputMute(ctx context.Context, input string, muted bool) error
	MediaAction(ctx context.Context, input, action string) error
}

// PlaylistActivator is the slice of the scheduler preset activation uses.
type PlaylistActivator interface {
	Activate(ctx context.Context, name string) (*scheduler.Result, error)
}

// Activator executes presets as a thin sequence of core calls.
type Activator struct {
	registry  *Registry
	session   Session
	playlists PlaylistActivator
	bus       *events.Bus
	logger    zerolog.Logger
}

// NewActivator creates a preset activator.
func NewActivator(registry *Registry, session Session, playlists PlaylistActivator, bus *events.Bus, logger zerolog.Logger) *Activator {
	return &Activator{
		registry:  registry,
		session:   session,
		playlists: playlists,
		bus:       bus,
		logger:    logger.With().Str("component", "presets").Logger(),
	}
}

// Activate switches to the preset's scene and runs its side effects.
// Individual action failures are logged and reported but do not abort
// the rest of the sequence.
func (a *Activator) Activate(ctx context.Context, name string) (map[string]any, error) {
	preset, err := a.registry.Get(name)
	if err != nil {
		return nil, err
	}

	result := map[string]any{"preset": name, "scene": preset.Scene}
	var warnings []string

	if preset.Transition != "" || preset.TransitionDurationMS > 0 {
		if err := a.session.SetTransition(ctx, preset.Transition, preset.TransitionDurationMS); err != nil {
			a.logger.Warn().Err(err).Str("preset", name).Msg("transition setup failed")
			warnings = append(warnings, "set_transition: "+err.Error())
		}
	}

	if err := a.session.SwitchScene(ctx, preset.Scene); err != nil {
		return nil, err
	}

	for _, action := range preset.Actions {
		if err := a.runAction(ctx, action); err != nil {
			a.logger.Warn().Err(err).Str("preset", name).Str("action", action.Type).Msg("preset action failed")
			warnings = append(warnings, action.Type+": "+err.Error())
		}
	}

	if preset.Playlist != "" && a.playlists != nil {
		if res, err := a.playlists.Activate(ctx, preset.Playlist); err != nil {
			a.logger.Warn().Err(err).Str("playlist", preset.Playlist).Msg("preset playlist activation failed")
			warnings = append(warnings, "playlist_activate: "+err.Error())
		} else {
			result["playlist"] = res.Playlist
			result["track"] = res.Track.Title
		}
	}

	if len(warnings) > 0 {
		result["warnings"] = warnings
	}

	a.bus.Publish(events.EventPresetActivated, events.Payload{
		"preset": name,
		"scene":  preset.Scene,
	})
	a.bus.Publish(events.EventSceneSwitched, events.Payload{
		"scene": preset.Scene,
	})
	a.logger.Info().Str("preset", name).Str("scene", preset.Scene).Msg("preset activated")
	return result, nil
}

func (a *Activator) runAction(ctx context.Context, action Action) error {
	switch action.Type {
	case "set_volume":
		var db float64
		if action.VolumeDB != nil {
			db = *action.VolumeDB
		}
		return a.session.SetInputVolume(ctx, action.Input, db)
	case "set_mute":
		muted := true
		if action.Muted != nil {
			muted = *action.Muted
		}
		return a.session.SetInputMute(ctx, action.Input, muted)
	case "media_play":
		return a.session.MediaAction(ctx, action.Input, obs.MediaActionPlay)
	case "media_pause":
		return a.session.MediaAction(ctx, action.Input, obs.MediaActionPause)
	case "media_restart":
		return a.session.MediaAction(ctx, action.Input, obs.MediaActionRestart)
	default:
		a.logger.Warn().Str("type", action.Type).Msg("unknown preset action type")
		return nil
	}
}
