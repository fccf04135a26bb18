/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package relay

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/schwwaaa/obs-relay/internal/events"
)

func TestFanOutDeliversOncePerSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(events.NewBus(), zerolog.Nop())
	subs := make([]*Subscriber, 3)
	for i := range subs {
		subs[i] = b.Register(8)
	}
	gone := b.Register(8)
	b.Unregister(gone)

	b.Publish(Event{Type: events.EventTrackChanged, Data: events.Payload{"position": 1}})

	for i, sub := range subs {
		if got := len(sub.ch); got != 1 {
			t.Errorf("subscriber %d received %d events, want 1", i, got)
		}
	}
	if b.SubscriberCount() != 3 {
		t.Errorf("subscriber count = %d, want 3", b.SubscriberCount())
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(events.NewBus(), zerolog.Nop())
	sub := b.Register(2)

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: events.EventTrackChanged, Data: events.Payload{"n": i}})
	}

	if got := len(sub.ch); got != 2 {
		t.Fatalf("queue holds %d events, want 2", got)
	}

	// Oldest events were dropped; the newest two remain.
	first := <-sub.ch
	second := <-sub.ch
	if first.Data["n"] != 3 || second.Data["n"] != 4 {
		t.Errorf("remaining events = %v, %v; want n=3 then n=4", first.Data, second.Data)
	}
}

func TestClosedSubscriberRemovedLazily(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(events.NewBus(), zerolog.Nop())
	dead := b.Register(8)
	live := b.Register(8)

	dead.Close()

	b.Publish(Event{Type: events.EventSceneSwitched, Data: events.Payload{}})

	if b.SubscriberCount() != 1 {
		t.Errorf("subscriber count = %d, want dead subscriber reaped", b.SubscriberCount())
	}
	if len(live.ch) != 1 {
		t.Error("live subscriber missed delivery")
	}
}

func TestRunPreservesCrossTypePublishOrder(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	b := NewBroadcaster(bus, zerolog.Nop())
	sub := b.Register(256)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	// Give Run time to wire its bus subscription.
	time.Sleep(50 * time.Millisecond)

	// Activation always precedes its first track change; clients must
	// observe the pair in that order.
	for i := 0; i < 50; i++ {
		bus.Publish(events.EventPlaylistActivated, events.Payload{"n": i})
		bus.Publish(events.EventTrackChanged, events.Payload{"n": i})
	}

	for i := 0; i < 50; i++ {
		first := readEvent(t, sub)
		second := readEvent(t, sub)
		if first.Type != events.EventPlaylistActivated || second.Type != events.EventTrackChanged {
			t.Fatalf("pair %d arrived as %s, %s", i, first.Type, second.Type)
		}
	}
}

func readEvent(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("event not relayed")
		return Event{}
	}
}

func TestRunRelaysBusEvents(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	b := NewBroadcaster(bus, zerolog.Nop())
	sub := b.Register(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	// Give Run time to wire its bus subscriptions.
	time.Sleep(50 * time.Millisecond)

	bus.Publish(events.EventStreamStarted, events.Payload{})
	bus.Publish(events.EventMediaEnded, events.Payload{}) // internal, not relayed

	select {
	case ev := <-sub.Events():
		if ev.Type != events.EventStreamStarted {
			t.Errorf("event type = %s", ev.Type)
		}
		if ev.Timestamp.IsZero() {
			t.Error("timestamp not set")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event not relayed")
	}

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected extra event relayed: %s", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}
