/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "testing"

func TestPublishReachesAllSubscribers(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	a := bus.Subscribe(EventTrackChanged)
	b := bus.Subscribe(EventTrackChanged)

	bus.Publish(EventTrackChanged, Payload{"position": 1})

	for i, sub := range []Subscriber{a, b} {
		select {
		case p := <-sub:
			if p["position"] != 1 {
				t.Fatalf("subscriber %d: got payload %v", i, p)
			}
		default:
			t.Fatalf("subscriber %d: no payload delivered", i)
		}
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub := bus.Subscribe(EventPlaylistEnded)

	// Overfill the buffered channel; publish must drop, not block.
	for i := 0; i < 20; i++ {
		bus.Publish(EventPlaylistEnded, Payload{"n": i})
	}

	if got := len(sub); got != cap(sub) {
		t.Fatalf("expected %d buffered payloads, got %d", cap(sub), got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub := bus.Subscribe(EventSessionConnected)
	bus.Unsubscribe(EventSessionConnected, sub)

	bus.Publish(EventSessionConnected, Payload{})

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
}

func TestSubscribeAllPreservesPublishOrder(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub := bus.SubscribeAll(256)

	for i := 0; i < 50; i++ {
		bus.Publish(EventPlaylistActivated, Payload{"n": i})
		bus.Publish(EventTrackChanged, Payload{"n": i})
	}

	for i := 0; i < 50; i++ {
		first := <-sub
		second := <-sub
		if first.Type != EventPlaylistActivated || second.Type != EventTrackChanged {
			t.Fatalf("pair %d arrived as %s, %s", i, first.Type, second.Type)
		}
		if first.Payload["n"] != i || second.Payload["n"] != i {
			t.Fatalf("pair %d payloads = %v, %v", i, first.Payload, second.Payload)
		}
	}
}

func TestUnsubscribeAllClosesChannel(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub := bus.SubscribeAll(8)
	bus.UnsubscribeAll(sub)

	bus.Publish(EventSceneSwitched, Payload{})

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
}

func TestSubscribersAreIsolatedByType(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub := bus.Subscribe(EventStreamStarted)

	bus.Publish(EventStreamStopped, Payload{})

	if len(sub) != 0 {
		t.Fatal("subscriber received payload for a different event type")
	}
}
