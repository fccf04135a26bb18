/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package presets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/schwwaaa/obs-relay/internal/events"
	"github.com/schwwaaa/obs-relay/internal/models"
	"github.com/schwwaaa/obs-relay/internal/scheduler"
)

type fakeSession struct {
	scenes  []string
	muted   map[string]bool
	actions []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{muted: make(map[string]bool)}
}

func (f *fakeSession) SwitchScene(_ context.Context, name string) error {
	f.scenes = append(f.scenes, name)
	return nil
}

func (f *fakeSession) SetTransition(context.Context, string, int) error { return nil }

func (f *fakeSession) SetInputVolume(context.Context, string, float64) error { return nil }

func (f *fakeSession) SetInputMute(_ context.Context, input string, muted bool) error {
	f.muted[input] = muted
	return nil
}

func (f *fakeSession) MediaAction(_ context.Context, _, action string) error {
	f.actions = append(f.actions, action)
	return nil
}

type fakePlaylists struct {
	activated []string
}

func (f *fakePlaylists) Activate(_ context.Context, name string) (*scheduler.Result, error) {
	f.activated = append(f.activated, name)
	track := models.Track{Title: "Intermission Loop"}
	return &scheduler.Result{Playlist: name, Track: &track}, nil
}

func TestDefaultsRegistered(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry("")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	for _, name := range []string{"live", "brb", "standby", "intermission", "end_card"} {
		if _, err := r.Get(name); err != nil {
			t.Errorf("default preset %q missing: %v", name, err)
		}
	}
	if _, err := r.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown preset error = %v", err)
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "presets.yaml")
	content := `presets:
  - name: brb
    scene: BRB Alternate
  - name: halftime
    scene: Halftime
    playlist: halftime_loop
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	brb, err := r.Get("brb")
	if err != nil {
		t.Fatal(err)
	}
	if brb.Scene != "BRB Alternate" {
		t.Errorf("brb scene = %q, override not applied", brb.Scene)
	}

	halftime, err := r.Get("halftime")
	if err != nil {
		t.Fatal(err)
	}
	if halftime.Playlist != "halftime_loop" {
		t.Errorf("halftime playlist = %q", halftime.Playlist)
	}

	// Untouched defaults survive.
	if _, err := r.Get("live"); err != nil {
		t.Errorf("default lost after file load: %v", err)
	}
}

func TestRegistryRejectsIncompleteEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "presets.yaml")
	if err := os.WriteFile(path, []byte("presets:\n  - name: broken\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewRegistry(path); err == nil {
		t.Fatal("expected error for preset without scene")
	}
}

func TestActivateRunsSceneAndActions(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry("")
	if err != nil {
		t.Fatal(err)
	}
	session := newFakeSession()
	bus := events.NewBus()
	activated := bus.Subscribe(events.EventPresetActivated)

	a := NewActivator(r, session, nil, bus, zerolog.Nop())
	result, err := a.Activate(context.Background(), "brb")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}

	if len(session.scenes) != 1 || session.scenes[0] != "BRB" {
		t.Errorf("scenes switched = %v", session.scenes)
	}
	if muted, ok := session.muted["Mic"]; !ok || !muted {
		t.Errorf("Mic mute action not executed: %v", session.muted)
	}
	if result["preset"] != "brb" {
		t.Errorf("result = %v", result)
	}

	select {
	case p := <-activated:
		if p["preset"] != "brb" {
			t.Errorf("preset_activated payload = %v", p)
		}
	default:
		t.Error("preset_activated not published")
	}
}

func TestActivateLinkedPlaylist(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry("")
	if err != nil {
		t.Fatal(err)
	}
	playlists := &fakePlaylists{}
	a := NewActivator(r, newFakeSession(), playlists, events.NewBus(), zerolog.Nop())

	result, err := a.Activate(context.Background(), "intermission")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if len(playlists.activated) != 1 || playlists.activated[0] != "intermission" {
		t.Errorf("activated playlists = %v", playlists.activated)
	}
	if result["track"] != "Intermission Loop" {
		t.Errorf("result track = %v", result["track"])
	}
}

func TestActivateUnknownPreset(t *testing.T) {
	t.Parallel()

	r, _ := NewRegistry("")
	a := NewActivator(r, newFakeSession(), nil, events.NewBus(), zerolog.Nop())
	if _, err := a.Activate(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
