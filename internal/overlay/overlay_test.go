/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package overlay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/schwwaaa/obs-relay/internal/events"
	"github.com/schwwaaa/obs-relay/internal/models"
)

type upstreamCall struct {
	op      string
	scene   string
	source  string
	text    string
	enabled bool
}

type fakeUpstream struct {
	mu    sync.Mutex
	calls []upstreamCall
	ch    chan upstreamCall
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{ch: make(chan upstreamCall, 32)}
}

func (f *fakeUpstream) record(c upstreamCall) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	f.ch <- c
}

func (f *fakeUpstream) SetTextSourceText(_ context.Context, source, text string) error {
	f.record(upstreamCall{op: "text", source: source, text: text})
	return nil
}

func (f *fakeUpstream) SetSceneItemEnabled(_ context.Context, scene, source string, enabled bool) error {
	f.record(upstreamCall{op: "visibility", scene: scene, source: source, enabled: enabled})
	return nil
}

func (f *fakeUpstream) CurrentScene(context.Context) (string, error) {
	return "Live", nil
}

func (f *fakeUpstream) next(t *testing.T) upstreamCall {
	t.Helper()
	select {
	case c := <-f.ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no upstream call")
		return upstreamCall{}
	}
}

func overlayPlaylists() map[string]*models.Playlist {
	hold := 0.01
	return map[string]*models.Playlist{
		"main": {
			Name: "main",
			Tracks: []models.Track{
				{Title: "Track A"},
				{Title: "Track B", Overlay: &models.OverlayOptions{Text: "Now Playing: B", Hold: &hold}},
				{Title: "Bumper", Overlay: &models.OverlayOptions{Skip: true}},
			},
		},
	}
}

func newTestManager(up *fakeUpstream) *Manager {
	cfg := Config{
		Source: "TitleOverlay",
		Hold:   10 * time.Millisecond,
		Prefix: "",
	}
	return New(cfg, up, events.NewBus(), overlayPlaylists(), zerolog.Nop())
}

func TestTrackChangeShowsAndHides(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	m := newTestManager(up)
	ctx := context.Background()

	m.handleTrackChange(ctx, events.Payload{
		"playlist": "main", "position": 0, "track": "Track A",
	})

	text := up.next(t)
	if text.op != "text" || text.source != "TitleOverlay" || text.text != "Track A" {
		t.Fatalf("first call = %+v", text)
	}
	show := up.next(t)
	if show.op != "visibility" || !show.enabled || show.scene != "Live" {
		t.Fatalf("show call = %+v", show)
	}
	hide := up.next(t)
	if hide.op != "visibility" || hide.enabled {
		t.Fatalf("hide call = %+v", hide)
	}
}

func TestOverlayDirectiveOverridesText(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	m := newTestManager(up)

	m.handleTrackChange(context.Background(), events.Payload{
		"playlist": "main", "position": 1, "track": "Track B",
	})

	if text := up.next(t); text.text != "Now Playing: B" {
		t.Fatalf("text = %q", text.text)
	}
}

func TestSkipDirectiveSuppressesOverlay(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	m := newTestManager(up)

	m.handleTrackChange(context.Background(), events.Payload{
		"playlist": "main", "position": 2, "track": "Bumper",
	})
	m.cancelRunning()

	if len(up.ch) != 0 {
		t.Fatalf("expected no upstream calls, got %d", len(up.ch))
	}
}

func TestRetriggerReplacesRunningSequence(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	cfg := Config{Source: "TitleOverlay", Scene: "Live", Hold: 10 * time.Second}
	m := New(cfg, up, events.NewBus(), nil, zerolog.Nop())
	ctx := context.Background()

	m.Trigger(ctx, "first", 10*time.Second, 0)
	up.next(t) // text
	up.next(t) // show

	// The long hold is still running; a new trigger must cancel it,
	// hide the old overlay, and show the new text.
	m.Trigger(ctx, "second", 10*time.Millisecond, 0)

	hide := up.next(t)
	if hide.op != "visibility" || hide.enabled {
		t.Fatalf("expected hide of replaced overlay, got %+v", hide)
	}
	if text := up.next(t); text.text != "second" {
		t.Fatalf("text = %q", text.text)
	}
}

func TestRunTriggersOnBusEvents(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	bus := events.NewBus()
	cfg := Config{Source: "TitleOverlay", Scene: "Live", Hold: 10 * time.Millisecond}
	m := New(cfg, up, bus, overlayPlaylists(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	bus.Publish(events.EventTrackChanged, events.Payload{
		"playlist": "main", "position": 0, "track": "Track A",
	})

	if text := up.next(t); text.text != "Track A" {
		t.Fatalf("text = %q", text.text)
	}
}
