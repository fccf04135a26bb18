/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/schwwaaa/obs-relay/internal/events"
	"github.com/schwwaaa/obs-relay/internal/models"
	"github.com/schwwaaa/obs-relay/internal/state"
)

type fakeUpstream struct {
	mu     sync.Mutex
	loaded []string
	err    error
}

func (f *fakeUpstream) LoadTrack(_ context.Context, track models.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.loaded = append(f.loaded, track.Title)
	return nil
}

func testStore(t *testing.T) (*state.Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store, err := state.NewStore(db, true, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, db
}

func threeTracks(loop bool) map[string]*models.Playlist {
	return map[string]*models.Playlist{
		"main": {
			Name: "main",
			Loop: loop,
			Tracks: []models.Track{
				{Path: "/media/a.mp4", Title: "Track A", Duration: 10},
				{Path: "/media/b.mp4", Title: "Track B", Duration: 20},
				{Path: "/media/c.mp4", Title: "Track C", Duration: 30},
			},
		},
	}
}

func newTestScheduler(t *testing.T, loop bool) (*Scheduler, *events.Bus, *fakeUpstream) {
	t.Helper()
	store, _ := testStore(t)
	bus := events.NewBus()
	up := &fakeUpstream{}
	return New(threeTracks(loop), store, up, bus, false, zerolog.Nop()), bus, up
}

func TestActivateStartsAtZero(t *testing.T) {
	t.Parallel()

	s, bus, up := newTestScheduler(t, true)
	activated := bus.Subscribe(events.EventPlaylistActivated)

	res, err := s.Activate(context.Background(), "main")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if res.Position != 0 || res.Track.Title != "Track A" {
		t.Errorf("result = %+v", res)
	}

	select {
	case p := <-activated:
		if p["playlist"] != "main" || p["track"] != "Track A" {
			t.Errorf("playlist_activated payload = %v", p)
		}
	default:
		t.Fatal("playlist_activated not published")
	}

	if len(up.loaded) != 1 || up.loaded[0] != "Track A" {
		t.Errorf("loaded = %v", up.loaded)
	}
}

func TestActivateUnknownPlaylist(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler(t, true)
	if _, err := s.Activate(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestActivateEmptyPlaylistRejected(t *testing.T) {
	t.Parallel()

	store, _ := testStore(t)
	playlists := threeTracks(true)
	playlists["empty"] = &models.Playlist{Name: "empty", Loop: true}
	bus := events.NewBus()
	up := &fakeUpstream{}
	s := New(playlists, store, up, bus, false, zerolog.Nop())
	ctx := context.Background()

	if _, err := s.Activate(ctx, "empty"); !errors.Is(err, ErrEmptyPlaylist) {
		t.Fatalf("Activate(empty) = %v, want ErrEmptyPlaylist", err)
	}
	if len(up.loaded) != 0 {
		t.Errorf("loaded = %v, want nothing", up.loaded)
	}

	// The rejection leaves nothing active, so a media-ended notification
	// stays a no-op instead of advancing into a zero-length track list.
	s.handleMediaEnded(ctx)
	if active, _, _, _, _ := s.Snapshot(); active != nil {
		t.Fatalf("active = %q after rejected activation, want none", *active)
	}
	if _, err := s.Next(ctx); !errors.Is(err, ErrNoActivePlaylist) {
		t.Errorf("Next = %v, want ErrNoActivePlaylist", err)
	}
}

func TestSeekBounds(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler(t, true)
	ctx := context.Background()

	if _, err := s.Seek(ctx, 0); !errors.Is(err, ErrNoActivePlaylist) {
		t.Fatalf("seek with nothing active: %v", err)
	}

	if _, err := s.Activate(ctx, "main"); err != nil {
		t.Fatal(err)
	}

	res, err := s.Seek(ctx, 2)
	if err != nil {
		t.Fatalf("Seek(2): %v", err)
	}
	if res.Position != 2 || res.Track.Title != "Track C" {
		t.Errorf("result = %+v", res)
	}

	for _, bad := range []int{-1, 3, 99} {
		if _, err := s.Seek(ctx, bad); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Seek(%d) = %v, want ErrOutOfRange", bad, err)
		}
	}

	// Failed seeks leave state untouched.
	if _, pos, _, _, _ := s.Snapshot(); pos != 2 {
		t.Errorf("position = %d after failed seeks, want 2", pos)
	}
}

func TestNextWrapsWithLoop(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler(t, true)
	ctx := context.Background()

	if _, err := s.Activate(ctx, "main"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Seek(ctx, 2); err != nil {
		t.Fatal(err)
	}

	res, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if res.Position != 0 {
		t.Errorf("position = %d, want wrap to 0", res.Position)
	}
}

func TestNextWithoutLoopEndsOnce(t *testing.T) {
	t.Parallel()

	s, bus, _ := newTestScheduler(t, false)
	ended := bus.Subscribe(events.EventPlaylistEnded)
	changed := bus.Subscribe(events.EventTrackChanged)
	ctx := context.Background()

	if _, err := s.Activate(ctx, "main"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Seek(ctx, 2); err != nil {
		t.Fatal(err)
	}
	for len(changed) > 0 {
		<-changed
	}

	res, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !res.Ended || res.Position != 2 {
		t.Errorf("result = %+v, want ended at position 2", res)
	}
	if got := len(ended); got != 1 {
		t.Errorf("playlist_ended published %d times, want 1", got)
	}
	if len(changed) != 0 {
		t.Error("track_changed published for a no-op advance")
	}
}

func TestPrevClampsAndWraps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	noLoop, _, _ := newTestScheduler(t, false)
	if _, err := noLoop.Activate(ctx, "main"); err != nil {
		t.Fatal(err)
	}
	res, err := noLoop.Prev(ctx)
	if err != nil {
		t.Fatalf("Prev: %v", err)
	}
	if res.Position != 0 {
		t.Errorf("position = %d, want clamp at 0", res.Position)
	}

	looped, _, _ := newTestScheduler(t, true)
	if _, err := looped.Activate(ctx, "main"); err != nil {
		t.Fatal(err)
	}
	res, err = looped.Prev(ctx)
	if err != nil {
		t.Fatalf("Prev: %v", err)
	}
	if res.Position != 2 {
		t.Errorf("position = %d, want wrap to 2", res.Position)
	}
}

func TestAutoAdvanceDisabledIgnoresMediaEnded(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler(t, true)
	ctx := context.Background()

	if _, err := s.Activate(ctx, "main"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetAutoAdvance(false); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		s.handleMediaEnded(ctx)
	}

	if _, pos, _, _, _ := s.Snapshot(); pos != 0 {
		t.Errorf("position = %d after ignored notifications, want 0", pos)
	}
}

func TestRestartRestoresPosition(t *testing.T) {
	t.Parallel()

	store, _ := testStore(t)
	bus := events.NewBus()
	up := &fakeUpstream{}
	ctx := context.Background()

	s := New(threeTracks(true), store, up, bus, false, zerolog.Nop())
	if _, err := s.Activate(ctx, "main"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Next(ctx); err != nil {
		t.Fatal(err)
	}

	// Simulated restart: fresh scheduler over the same store.
	restarted := New(threeTracks(true), store, up, bus, false, zerolog.Nop())
	active, pos, _, _, _ := restarted.Snapshot()
	if active == nil || *active != "main" || pos != 1 {
		t.Fatalf("restored active=%v pos=%d, want main/1", active, pos)
	}

	// Re-activating the restored playlist resumes, not resets.
	res, err := restarted.Activate(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if res.Position != 1 {
		t.Errorf("re-activate position = %d, want 1", res.Position)
	}
}

func TestRestoreInvalidStateFallsBack(t *testing.T) {
	t.Parallel()

	store, _ := testStore(t)
	gone := "deleted_playlist"
	if err := store.Commit(models.PlaylistStateRecord{ActivePlaylist: &gone, Position: 7}); err != nil {
		t.Fatal(err)
	}

	s := New(threeTracks(true), store, &fakeUpstream{}, events.NewBus(), false, zerolog.Nop())
	active, pos, _, _, _ := s.Snapshot()
	if active != nil || pos != 0 {
		t.Fatalf("active=%v pos=%d, want no-active-playlist default", active, pos)
	}

	// Same fallback for an out-of-range index into a live playlist.
	name := "main"
	if err := store.Commit(models.PlaylistStateRecord{ActivePlaylist: &name, Position: 99}); err != nil {
		t.Fatal(err)
	}
	s = New(threeTracks(true), store, &fakeUpstream{}, events.NewBus(), false, zerolog.Nop())
	if active, _, _, _, _ := s.Snapshot(); active != nil {
		t.Fatal("out-of-range restore should fall back to no active playlist")
	}
}

func TestCommitFailureKeepsInMemoryState(t *testing.T) {
	t.Parallel()

	store, db := testStore(t)
	s := New(threeTracks(true), store, &fakeUpstream{}, events.NewBus(), false, zerolog.Nop())
	ctx := context.Background()

	if _, err := s.Activate(ctx, "main"); err != nil {
		t.Fatal(err)
	}

	// Force persistence failure for subsequent commits.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.Close()

	res, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if res.PersistWarning == "" {
		t.Error("expected a persistence warning on the result")
	}
	if res.Position != 1 {
		t.Errorf("position = %d, in-memory state must stay authoritative", res.Position)
	}
}

func TestUpstreamLoadFailureIsAWarning(t *testing.T) {
	t.Parallel()

	store, _ := testStore(t)
	up := &fakeUpstream{err: errors.New("upstream session unavailable")}
	s := New(threeTracks(true), store, up, events.NewBus(), false, zerolog.Nop())

	res, err := s.Activate(context.Background(), "main")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if res.LoadWarning == "" {
		t.Error("expected a load warning on the result")
	}
	if res.Position != 0 {
		t.Errorf("position = %d", res.Position)
	}
}

func TestConcurrentMutationsStaySerialized(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler(t, true)
	ctx := context.Background()
	if _, err := s.Activate(ctx, "main"); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Next(ctx)
		}()
		go func() {
			defer wg.Done()
			s.Prev(ctx)
		}()
	}
	wg.Wait()

	if _, pos, _, count, _ := s.Snapshot(); pos < 0 || pos >= count {
		t.Fatalf("position %d outside [0,%d)", pos, count)
	}
}

func TestThreeTrackScenario(t *testing.T) {
	t.Parallel()

	store, _ := testStore(t)
	bus := events.NewBus()
	up := &fakeUpstream{}
	s := New(threeTracks(false), store, up, bus, false, zerolog.Nop())
	ctx := context.Background()

	activated := bus.Subscribe(events.EventPlaylistActivated)
	changed := bus.Subscribe(events.EventTrackChanged)
	ended := bus.Subscribe(events.EventPlaylistEnded)

	res, err := s.Activate(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if res.Position != 0 {
		t.Fatalf("activate position = %d", res.Position)
	}
	p := <-activated
	if p["track"] != "Track A" {
		t.Errorf("playlist_activated track = %v", p["track"])
	}

	if res, err = s.Next(ctx); err != nil || res.Position != 1 {
		t.Fatalf("next: pos=%d err=%v", res.Position, err)
	}
	<-changed

	// Auto-advance on: media ended behaves exactly like next().
	s.handleMediaEnded(ctx)
	if _, pos, _, _, _ := s.Snapshot(); pos != 2 {
		t.Fatalf("position after auto-advance = %d, want 2", pos)
	}
	<-changed

	// End of a non-looping playlist: position holds, playlist_ended fires.
	s.handleMediaEnded(ctx)
	if _, pos, _, _, _ := s.Snapshot(); pos != 2 {
		t.Fatalf("position after final notification = %d, want 2", pos)
	}
	if len(ended) != 1 {
		t.Fatalf("playlist_ended count = %d, want 1", len(ended))
	}
	if len(changed) != 0 {
		t.Error("unexpected track_changed at playlist end")
	}
}
