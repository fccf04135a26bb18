/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler drives playlist playback through the upstream session.
package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/schwwaaa/obs-relay/internal/events"
	"github.com/schwwaaa/obs-relay/internal/models"
	"github.com/schwwaaa/obs-relay/internal/playlist"
	"github.com/schwwaaa/obs-relay/internal/state"
)

var (
	// ErrNotFound means no playlist with the requested name is loaded.
	ErrNotFound = errors.New("playlist not found")
	// ErrOutOfRange means a seek position is outside [0, len).
	ErrOutOfRange = errors.New("position out of range")
	// ErrNoActivePlaylist means next/prev/seek was called with nothing active.
	ErrNoActivePlaylist = errors.New("no active playlist")
	// ErrUnvalidated means strict validation is on and the playlist has
	// missing files.
	ErrUnvalidated = errors.New("playlist has missing files, validation required")
	// ErrEmptyPlaylist means the playlist has no tracks to play.
	ErrEmptyPlaylist = errors.New("playlist has no tracks")
)

// Upstream is the slice of the session supervisor the scheduler needs.
type Upstream interface {
	LoadTrack(ctx context.Context, track models.Track) error
}

// Result reports the state after a successful mutation. Warnings carry
// degraded-but-not-fatal conditions: a failed persistence commit or a
// failed upstream load never roll back the in-memory state.
type Result struct {
	Playlist       string        `json:"playlist"`
	Position       int           `json:"position"`
	Track          *models.Track `json:"track,omitempty"`
	Ended          bool          `json:"ended,omitempty"`
	PersistWarning string        `json:"persist_warning,omitempty"`
	LoadWarning    string        `json:"load_warning,omitempty"`
}

// Scheduler owns PlaylistState. Every mutation, whether from a command or
// an upstream media-ended notification, runs under one mutex, so no two
// mutations ever interleave.
type Scheduler struct {
	playlists map[string]*models.Playlist
	store     *state.Store
	upstream  Upstream
	bus       *events.Bus
	logger    zerolog.Logger
	strict    bool

	mu          sync.Mutex
	active      *models.Playlist
	position    int
	autoAdvance bool
}

// New creates a scheduler and restores the persisted position. A restored
// snapshot that no longer matches the loaded playlists falls back to the
// no-active-playlist default.
func New(playlists map[string]*models.Playlist, store *state.Store, upstream Upstream, bus *events.Bus, strict bool, logger zerolog.Logger) *Scheduler {
	s := &Scheduler{
		playlists: playlists,
		store:     store,
		upstream:  upstream,
		bus:       bus,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		strict:    strict,
	}

	rec := store.Load()
	s.autoAdvance = rec.AutoAdvance
	if rec.ActivePlaylist != nil {
		pl, ok := playlists[*rec.ActivePlaylist]
		if ok && rec.Position >= 0 && rec.Position < pl.Len() {
			s.active = pl
			s.position = rec.Position
			s.logger.Info().
				Str("playlist", pl.Name).
				Int("position", rec.Position).
				Msg("restored playlist position")
		} else {
			s.logger.Warn().
				Str("playlist", *rec.ActivePlaylist).
				Int("position", rec.Position).
				Msg("persisted state no longer valid, starting fresh")
		}
	}
	return s
}

// Run consumes media-ended notifications for auto-advance until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	sub := s.bus.Subscribe(events.EventMediaEnded)
	defer s.bus.Unsubscribe(events.EventMediaEnded, sub)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub:
			s.handleMediaEnded(ctx)
		}
	}
}

func (s *Scheduler) handleMediaEnded(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.autoAdvance || s.active == nil {
		return
	}
	s.logger.Debug().Msg("media ended, auto-advancing")
	if _, err := s.nextLocked(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("auto-advance failed")
	}
}

// Activate switches playback to the named playlist. Re-activating the
// playlist restored from a previous run resumes its saved position.
func (s *Scheduler) Activate(ctx context.Context, name string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pl, ok := s.playlists[name]
	if !ok {
		return nil, ErrNotFound
	}
	if pl.Len() == 0 {
		return nil, ErrEmptyPlaylist
	}
	if s.strict {
		if missing := playlist.Validate(pl); len(missing) > 0 {
			return nil, ErrUnvalidated
		}
	}

	pos := 0
	if s.active != nil && s.active.Name == name && s.position < pl.Len() {
		pos = s.position
	}

	s.active = pl
	s.position = pos

	res := s.applyLocked(ctx)
	s.bus.Publish(events.EventPlaylistActivated, events.Payload{
		"playlist": pl.Name,
		"position": pos,
		"track":    res.Track.Title,
	})
	return res, nil
}

// Next advances to the next track, wrapping or ending per the loop flag.
func (s *Scheduler) Next(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked(ctx)
}

func (s *Scheduler) nextLocked(ctx context.Context) (*Result, error) {
	if s.active == nil {
		return nil, ErrNoActivePlaylist
	}
	if s.active.Len() == 0 {
		return nil, ErrEmptyPlaylist
	}

	candidate := s.position + 1
	if candidate >= s.active.Len() {
		if !s.active.Loop {
			s.logger.Info().Str("playlist", s.active.Name).Msg("playlist ended")
			s.bus.Publish(events.EventPlaylistEnded, events.Payload{
				"playlist": s.active.Name,
			})
			track := s.active.Tracks[s.position]
			return &Result{
				Playlist: s.active.Name,
				Position: s.position,
				Track:    &track,
				Ended:    true,
			}, nil
		}
		candidate = 0
	}

	s.position = candidate
	res := s.applyLocked(ctx)
	s.publishTrackChangedLocked(res)
	return res, nil
}

// Prev steps back one track, wrapping with loop or clamping at zero.
func (s *Scheduler) Prev(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return nil, ErrNoActivePlaylist
	}
	if s.active.Len() == 0 {
		return nil, ErrEmptyPlaylist
	}

	candidate := s.position - 1
	if candidate < 0 {
		if s.active.Loop {
			candidate = s.active.Len() - 1
		} else {
			candidate = 0
		}
	}
	if candidate == s.position {
		track := s.active.Tracks[s.position]
		return &Result{Playlist: s.active.Name, Position: s.position, Track: &track}, nil
	}

	s.position = candidate
	res := s.applyLocked(ctx)
	s.publishTrackChangedLocked(res)
	return res, nil
}

// Seek jumps to an explicit position in the active playlist.
func (s *Scheduler) Seek(ctx context.Context, position int) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return nil, ErrNoActivePlaylist
	}
	if position < 0 || position >= s.active.Len() {
		return nil, ErrOutOfRange
	}

	s.position = position
	res := s.applyLocked(ctx)
	s.publishTrackChangedLocked(res)
	return res, nil
}

// SetAutoAdvance toggles automatic advancement on media-ended
// notifications. No playback change happens until the next notification.
func (s *Scheduler) SetAutoAdvance(enabled bool) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.autoAdvance = enabled
	res := &Result{Position: s.position}
	if s.active != nil {
		res.Playlist = s.active.Name
	}
	if err := s.store.Commit(s.recordLocked()); err != nil {
		s.logger.Error().Err(err).Msg("state commit failed, in-memory state stays authoritative")
		res.PersistWarning = err.Error()
	}
	return res, nil
}

// AutoAdvance returns the current auto-advance flag.
func (s *Scheduler) AutoAdvance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoAdvance
}

// applyLocked loads the current track upstream and commits the snapshot.
// Failures of either are demoted to warnings on the result; the in-memory
// position is already authoritative.
func (s *Scheduler) applyLocked(ctx context.Context) *Result {
	track := s.active.Tracks[s.position]
	res := &Result{
		Playlist: s.active.Name,
		Position: s.position,
		Track:    &track,
	}

	if err := s.upstream.LoadTrack(ctx, track); err != nil {
		s.logger.Warn().Err(err).Str("track", track.Title).Msg("upstream track load failed")
		res.LoadWarning = err.Error()
	}

	if err := s.store.Commit(s.recordLocked()); err != nil {
		s.logger.Error().Err(err).Msg("state commit failed, in-memory state stays authoritative")
		res.PersistWarning = err.Error()
	}
	return res
}

func (s *Scheduler) publishTrackChangedLocked(res *Result) {
	s.bus.Publish(events.EventTrackChanged, events.Payload{
		"playlist": res.Playlist,
		"position": res.Position,
		"track":    res.Track.Title,
	})
}

func (s *Scheduler) recordLocked() models.PlaylistStateRecord {
	rec := models.PlaylistStateRecord{
		Position:    s.position,
		AutoAdvance: s.autoAdvance,
	}
	if s.active != nil {
		name := s.active.Name
		rec.ActivePlaylist = &name
	}
	return rec
}

// Snapshot returns the current playlist position for status queries.
func (s *Scheduler) Snapshot() (active *string, position int, track *models.Track, count int, autoAdvance bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		name := s.active.Name
		active = &name
		count = s.active.Len()
		if s.position >= 0 && s.position < count {
			tr := s.active.Tracks[s.position]
			track = &tr
		}
	}
	return active, s.position, track, count, s.autoAdvance
}

// Playlists returns the loaded playlists keyed by name.
func (s *Scheduler) Playlists() map[string]*models.Playlist {
	return s.playlists
}

// Validate runs preflight validation across all loaded playlists.
func (s *Scheduler) Validate() playlist.ValidationReport {
	return playlist.ValidateAll(s.playlists)
}
