/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package relay fans internal events out to connected control clients.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/schwwaaa/obs-relay/internal/events"
	"github.com/schwwaaa/obs-relay/internal/telemetry"
)

// Event is the unit delivered to subscribers.
type Event struct {
	Type      events.EventType `json:"event"`
	Data      events.Payload   `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

// Subscriber is one registered client with a bounded outbound queue.
// The adapter that created it owns the transport; the broadcaster holds
// only the registration.
type Subscriber struct {
	id string
	ch chan Event

	mu     sync.Mutex
	closed bool
}

// ID returns the subscriber's opaque identity.
func (s *Subscriber) ID() string { return s.id }

// Events returns the subscriber's delivery channel.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Close marks the subscriber dead. The broadcaster unregisters it lazily
// on the next delivery attempt.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Subscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Broadcaster fans bus events out to all registered subscribers. A slow
// subscriber never delays another: each has its own bounded queue, and on
// overflow the oldest queued event is dropped in favor of the new one.
type Broadcaster struct {
	bus    *events.Bus
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[string]*Subscriber
}

// NewBroadcaster creates a broadcaster over the given bus.
func NewBroadcaster(bus *events.Bus, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		bus:    bus,
		logger: logger.With().Str("component", "broadcaster").Logger(),
		subs:   make(map[string]*Subscriber),
	}
}

// Register adds a subscriber with the given queue capacity.
func (b *Broadcaster) Register(queueSize int) *Subscriber {
	if queueSize <= 0 {
		queueSize = 64
	}
	sub := &Subscriber{
		id: uuid.NewString(),
		ch: make(chan Event, queueSize),
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	count := len(b.subs)
	b.mu.Unlock()

	telemetry.BroadcastSubscribers.Set(float64(count))
	b.logger.Debug().Str("subscriber", sub.id).Msg("subscriber registered")
	return sub
}

// Unregister removes a subscriber and closes its queue.
func (b *Broadcaster) Unregister(sub *Subscriber) {
	sub.Close()
	b.mu.Lock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
	count := len(b.subs)
	b.mu.Unlock()

	telemetry.BroadcastSubscribers.Set(float64(count))
	b.logger.Debug().Str("subscriber", sub.id).Msg("subscriber unregistered")
}

// Publish delivers one event to every live subscriber. Dead subscribers
// found along the way are unregistered without affecting the others.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	telemetry.EventsPublishedTotal.WithLabelValues(string(ev.Type)).Inc()

	var dead []*Subscriber
	for _, sub := range subs {
		if sub.isClosed() {
			dead = append(dead, sub)
			continue
		}
		b.deliver(sub, ev)
	}
	for _, sub := range dead {
		b.Unregister(sub)
	}
}

func (b *Broadcaster) deliver(sub *Subscriber, ev Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}

	// Queue full: drop the oldest event, then enqueue the new one.
	select {
	case <-sub.ch:
		telemetry.EventsDroppedTotal.Inc()
		b.logger.Debug().Str("subscriber", sub.id).Msg("queue full, dropped oldest event")
	default:
	}
	select {
	case sub.ch <- ev:
	default:
	}
}

// Run forwards every relayable bus event into the fan-out until ctx is
// done. A single subscribe-all channel keeps cross-type publish order
// intact: subscribers see events in the order they were published.
// Internal-only events are not relayed.
func (b *Broadcaster) Run(ctx context.Context) error {
	sub := b.bus.SubscribeAll(256)
	defer b.bus.UnsubscribeAll(sub)

	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return ctx.Err()
		case ev := <-sub:
			if !events.Relayable(ev.Type) {
				continue
			}
			b.Publish(Event{Type: ev.Type, Data: ev.Payload, Timestamp: time.Now()})
		}
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	for _, sub := range subs {
		b.Unregister(sub)
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
