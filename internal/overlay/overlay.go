/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package overlay drives a timed title overlay in the upstream program.
// A hidden text source is filled with the current track title and shown
// for a hold interval whenever the track changes. Per-track overrides
// come from #EXTOVERLAY playlist directives.
package overlay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/schwwaaa/obs-relay/internal/events"
	"github.com/schwwaaa/obs-relay/internal/models"
)

// Upstream is the slice of the session supervisor the overlay drives.
type Upstream interface {
	SetTextSourceText(ctx context.Context, source, text string) error
	SetSceneItemEnabled(ctx context.Context, scene, source string, enabled bool) error
	CurrentScene(ctx context.Context) (string, error)
}

// Config holds the global overlay defaults. Per-track #EXTOVERLAY
// directives override Hold, Delay and the rendered text.
type Config struct {
	Source string        // text source name in the upstream scene
	Scene  string        // scene owning the source; empty = current program scene
	Hold   time.Duration // how long the overlay stays visible
	Delay  time.Duration // wait after the track starts before showing
	Prefix string
	Suffix string
}

// Manager shows and hides the overlay on track changes. A new track
// arriving mid-sequence cancels the running timer and restarts.
type Manager struct {
	cfg       Config
	upstream  Upstream
	bus       *events.Bus
	playlists map[string]*models.Playlist
	logger    zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an overlay manager over the loaded playlists.
func New(cfg Config, upstream Upstream, bus *events.Bus, playlists map[string]*models.Playlist, logger zerolog.Logger) *Manager {
	if cfg.Source == "" {
		cfg.Source = "TitleOverlay"
	}
	if cfg.Hold <= 0 {
		cfg.Hold = 8 * time.Second
	}
	return &Manager{
		cfg:       cfg,
		upstream:  upstream,
		bus:       bus,
		playlists: playlists,
		logger:    logger.With().Str("component", "overlay").Logger(),
	}
}

// Run triggers the overlay on every track change until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	trackSub := m.bus.Subscribe(events.EventTrackChanged)
	defer m.bus.Unsubscribe(events.EventTrackChanged, trackSub)
	activateSub := m.bus.Subscribe(events.EventPlaylistActivated)
	defer m.bus.Unsubscribe(events.EventPlaylistActivated, activateSub)

	m.logger.Info().Str("source", m.cfg.Source).Msg("title overlay active")

	for {
		select {
		case <-ctx.Done():
			m.cancelRunning()
			return ctx.Err()
		case payload := <-trackSub:
			m.handleTrackChange(ctx, payload)
		case payload := <-activateSub:
			m.handleTrackChange(ctx, payload)
		}
	}
}

func (m *Manager) handleTrackChange(ctx context.Context, payload events.Payload) {
	title, _ := payload["track"].(string)
	name, _ := payload["playlist"].(string)
	position, _ := payload["position"].(int)

	opts := m.lookupOverlay(name, position)
	if opts != nil && opts.Skip {
		m.logger.Debug().Str("track", title).Msg("overlay suppressed for track")
		return
	}

	text := m.cfg.Prefix + title + m.cfg.Suffix
	hold := m.cfg.Hold
	delay := m.cfg.Delay
	if opts != nil {
		if opts.Text != "" {
			text = opts.Text
		}
		if opts.Hold != nil {
			hold = time.Duration(*opts.Hold * float64(time.Second))
		}
		if opts.Delay != nil {
			delay = time.Duration(*opts.Delay * float64(time.Second))
		}
	}
	m.Trigger(ctx, text, hold, delay)
}

func (m *Manager) lookupOverlay(name string, position int) *models.OverlayOptions {
	pl, ok := m.playlists[name]
	if !ok || position < 0 || position >= pl.Len() {
		return nil
	}
	return pl.Tracks[position].Overlay
}

// Trigger shows text for hold, after delay. Any in-progress sequence is
// cancelled and hidden first.
func (m *Manager) Trigger(ctx context.Context, text string, hold, delay time.Duration) {
	m.cancelRunning()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.sequence(runCtx, text, hold, delay)
	}()
}

// cancelRunning stops the in-flight sequence and waits for it, so two
// sequences never drive the source concurrently.
func (m *Manager) cancelRunning() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *Manager) sequence(ctx context.Context, text string, hold, delay time.Duration) {
	if !sleep(ctx, delay) {
		return
	}

	if err := m.upstream.SetTextSourceText(ctx, m.cfg.Source, text); err != nil {
		m.logger.Warn().Err(err).Str("source", m.cfg.Source).Msg("overlay text update failed")
		return
	}
	scene, err := m.resolveScene(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("overlay scene lookup failed")
		return
	}
	if err := m.upstream.SetSceneItemEnabled(ctx, scene, m.cfg.Source, true); err != nil {
		m.logger.Warn().Err(err).Str("scene", scene).Msg("overlay show failed")
		return
	}
	m.logger.Debug().Str("text", text).Dur("hold", hold).Msg("overlay shown")

	shown := sleep(ctx, hold)
	// Hide even when cancelled, so a replaced overlay never lingers.
	// The run context may be gone; the hide gets its own deadline.
	hideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.upstream.SetSceneItemEnabled(hideCtx, scene, m.cfg.Source, false); err != nil {
		m.logger.Warn().Err(err).Str("scene", scene).Msg("overlay hide failed")
		return
	}
	if shown {
		m.logger.Debug().Msg("overlay hidden")
	}
}

func (m *Manager) resolveScene(ctx context.Context) (string, error) {
	if m.cfg.Scene != "" {
		return m.cfg.Scene, nil
	}
	return m.upstream.CurrentScene(ctx)
}

// sleep waits for d or until ctx is done, reporting whether the full
// interval elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
