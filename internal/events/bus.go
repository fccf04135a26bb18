/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventSceneSwitched        EventType = "scene_switched"
	EventSceneChangedExternal EventType = "scene_changed_external"
	EventPresetActivated      EventType = "preset_activated"
	EventPlaylistActivated    EventType = "playlist_activated"
	EventTrackChanged         EventType = "track_changed"
	EventPlaylistEnded        EventType = "playlist_ended"
	EventStreamStarted        EventType = "stream_started"
	EventStreamStopped        EventType = "stream_stopped"
	EventRecordingStarted     EventType = "recording_started"
	EventRecordingStopped     EventType = "recording_stopped"
	EventSessionConnected     EventType = "session_connected"
	EventSessionDisconnected  EventType = "session_disconnected"

	// Upstream events that have no dedicated type above are relayed
	// under this carrier with the original event name in the payload.
	EventExternalStateChanged EventType = "external_state_changed"

	// EventMediaEnded is internal only: the supervisor publishes it when
	// the managed media source finishes a track, and the scheduler
	// consumes it for auto-advance. It is not relayed to subscribers.
	EventMediaEnded EventType = "media_ended"
)

// Relayable reports whether subscribers outside the core may observe
// the event type. Internal-only types never leave the process.
func Relayable(t EventType) bool {
	return t != EventMediaEnded
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// BusEvent pairs a published event with its type, for subscribers that
// follow every type through one channel.
type BusEvent struct {
	Type    EventType
	Payload Payload
}

// AllSubscriber receives every published event in publish order.
type AllSubscriber chan BusEvent

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu      sync.RWMutex
	subs    map[EventType][]Subscriber
	allSubs []AllSubscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// SubscribeAll registers a subscriber that receives every published
// event, in the order they were published. A non-positive buffer gets a
// default large enough to absorb bursts.
func (b *Bus) SubscribeAll(buffer int) AllSubscriber {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(AllSubscriber, buffer)
	b.mu.Lock()
	b.allSubs = append(b.allSubs, ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	allSubs := append([]AllSubscriber(nil), b.allSubs...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
	for _, sub := range allSubs {
		select {
		case sub <- BusEvent{Type: eventType, Payload: payload}:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}

// UnsubscribeAll removes a subscribe-all channel and closes it.
func (b *Bus) UnsubscribeAll(sub AllSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, candidate := range b.allSubs {
		if candidate == sub {
			b.allSubs = append(b.allSubs[:i], b.allSubs[i+1:]...)
			break
		}
	}
	close(sub)
}
