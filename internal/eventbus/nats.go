/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus mirrors local events to NATS so dashboards and
// automation running on other hosts can follow the relay in real time.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/schwwaaa/obs-relay/internal/events"
)

// SubjectPrefix is the subject namespace for mirrored events. The full
// subject is "<prefix>.<event_type>".
const SubjectPrefix = "obsrelay.events"

// natsMessage is the wire format for a mirrored event.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // for deduplication
}

// Forwarder mirrors every relayable local event onto NATS. The local
// bus stays authoritative: NATS being down degrades mirroring, never
// control.
type Forwarder struct {
	url    string
	bus    *events.Bus
	nodeID string
	logger zerolog.Logger

	mu   sync.Mutex
	conn *nats.Conn
}

// NewForwarder creates a forwarder for the given NATS URL.
func NewForwarder(url string, bus *events.Bus, logger zerolog.Logger) *Forwarder {
	return &Forwarder{
		url:    url,
		bus:    bus,
		nodeID: generateNodeID(),
		logger: logger.With().Str("component", "eventbus").Logger(),
	}
}

// Run connects to NATS and mirrors events until ctx is done. A failed
// initial connection is logged and retried by the client; events
// arriving while disconnected are dropped from the mirror.
func (f *Forwarder) Run(ctx context.Context) error {
	conn, err := nats.Connect(f.url,
		nats.Name("obs-relay"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			f.logger.Warn().Err(err).Msg("nats disconnected, events will not be mirrored")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			f.logger.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer conn.Close()

	f.logger.Info().Str("url", f.url).Str("node_id", f.nodeID).Msg("event mirroring started")

	// One subscribe-all channel keeps the mirrored subjects in publish
	// order; per-type subscriptions would race the order away.
	sub := f.bus.SubscribeAll(256)
	defer f.bus.UnsubscribeAll(sub)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-sub:
			if !events.Relayable(ev.Type) {
				continue
			}
			f.publish(natsMessage{
				EventType: ev.Type,
				Payload:   ev.Payload,
				Timestamp: time.Now(),
				NodeID:    f.nodeID,
				MessageID: uuid.NewString(),
			})
		}
	}
}

func (f *Forwarder) publish(msg natsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		f.logger.Error().Err(err).Msg("event marshal failed")
		return
	}
	subject := fmt.Sprintf("%s.%s", SubjectPrefix, msg.EventType)
	if err := f.conn.Publish(subject, data); err != nil {
		f.logger.Debug().Err(err).Str("subject", subject).Msg("event mirror publish failed")
	}
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
