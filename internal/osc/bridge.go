/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package osc bridges OSC control surfaces (touch panels, hardware
// faders) onto the command router, with state feedback for motorized
// and display-equipped controllers.
package osc

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/hypebeast/go-osc/osc"
	"github.com/rs/zerolog"

	"github.com/schwwaaa/obs-relay/internal/command"
	"github.com/schwwaaa/obs-relay/internal/events"
	"github.com/schwwaaa/obs-relay/internal/relay"
)

// Dispatcher is the slice of the command router the bridge uses.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args map[string]any) (command.Result, error)
}

// Bridge serves an OSC listener and mirrors state to a feedback client.
type Bridge struct {
	listenAddr string
	router     Dispatcher
	relay      *relay.Broadcaster
	feedback   *osc.Client
	logger     zerolog.Logger
}

// New creates an OSC bridge. feedbackAddr may be empty to disable
// outbound state messages.
func New(listenAddr, feedbackAddr string, router Dispatcher, broadcaster *relay.Broadcaster, logger zerolog.Logger) (*Bridge, error) {
	b := &Bridge{
		listenAddr: listenAddr,
		router:     router,
		relay:      broadcaster,
		logger:     logger.With().Str("component", "osc").Logger(),
	}
	if feedbackAddr != "" {
		host, portStr, err := net.SplitHostPort(feedbackAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid OSC feedback address %q: %w", feedbackAddr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid OSC feedback port %q: %w", portStr, err)
		}
		b.feedback = osc.NewClient(host, port)
	}
	return b, nil
}

// Run serves the OSC listener and the feedback loop until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", b.listenAddr)
	if err != nil {
		return fmt.Errorf("osc listen: %w", err)
	}

	server := &osc.Server{
		Addr:       b.listenAddr,
		Dispatcher: b.dispatcher(ctx),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(conn)
	}()

	if b.feedback != nil {
		go b.feedbackLoop(ctx)
	}

	b.logger.Info().Str("addr", b.listenAddr).Msg("osc bridge listening")

	select {
	case <-ctx.Done():
		conn.Close()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (b *Bridge) dispatcher(ctx context.Context) osc.Dispatcher {
	d := osc.NewStandardDispatcher()

	handle := func(addr string, fn func(msg *osc.Message)) {
		if err := d.AddMsgHandler(addr, fn); err != nil {
			b.logger.Error().Err(err).Str("addr", addr).Msg("osc handler registration failed")
		}
	}

	handle("/obs/scene", func(msg *osc.Message) {
		scene, ok := stringArg(msg, 0)
		if !ok {
			b.logger.Warn().Msg("/obs/scene needs a scene name argument")
			return
		}
		b.dispatch(ctx, "switch_scene", map[string]any{"scene": scene})
	})

	handle("/obs/preset", func(msg *osc.Message) {
		preset, ok := stringArg(msg, 0)
		if !ok {
			b.logger.Warn().Msg("/obs/preset needs a preset name argument")
			return
		}
		b.dispatch(ctx, "activate_preset", map[string]any{"preset": preset})
	})

	handle("/obs/playlist/activate", func(msg *osc.Message) {
		name, ok := stringArg(msg, 0)
		if !ok {
			b.logger.Warn().Msg("/obs/playlist/activate needs a playlist name argument")
			return
		}
		b.dispatch(ctx, "playlist_activate", map[string]any{"playlist": name})
	})

	handle("/obs/playlist/next", func(msg *osc.Message) {
		b.dispatch(ctx, "playlist_next", nil)
	})

	handle("/obs/playlist/prev", func(msg *osc.Message) {
		b.dispatch(ctx, "playlist_prev", nil)
	})

	handle("/obs/playlist/seek", func(msg *osc.Message) {
		position, ok := intArg(msg, 0)
		if !ok {
			b.logger.Warn().Msg("/obs/playlist/seek needs a position argument")
			return
		}
		b.dispatch(ctx, "playlist_seek", map[string]any{"position": position})
	})

	handle("/obs/playlist/auto_advance", func(msg *osc.Message) {
		enabled, ok := boolArg(msg, 0)
		if !ok {
			b.logger.Warn().Msg("/obs/playlist/auto_advance needs a 0/1 argument")
			return
		}
		b.dispatch(ctx, "set_auto_advance", map[string]any{"enabled": enabled})
	})

	handle("/obs/stream/start", func(msg *osc.Message) {
		b.dispatch(ctx, "stream_start", nil)
	})

	handle("/obs/stream/stop", func(msg *osc.Message) {
		b.dispatch(ctx, "stream_stop", nil)
	})

	handle("/obs/record/start", func(msg *osc.Message) {
		b.dispatch(ctx, "record_start", nil)
	})

	handle("/obs/record/stop", func(msg *osc.Message) {
		b.dispatch(ctx, "record_stop", nil)
	})

	handle("/obs/volume", func(msg *osc.Message) {
		input, ok := stringArg(msg, 0)
		if !ok {
			b.logger.Warn().Msg("/obs/volume needs an input name argument")
			return
		}
		fader, ok := floatArg(msg, 1)
		if !ok {
			b.logger.Warn().Msg("/obs/volume needs a fader value argument")
			return
		}
		b.dispatch(ctx, "set_volume", map[string]any{
			"input":     input,
			"volume_db": FaderToDB(fader),
		})
	})

	handle("/obs/mute", func(msg *osc.Message) {
		input, ok := stringArg(msg, 0)
		if !ok {
			b.logger.Warn().Msg("/obs/mute needs an input name argument")
			return
		}
		muted, ok := boolArg(msg, 1)
		if !ok {
			b.logger.Warn().Msg("/obs/mute needs a 0/1 argument")
			return
		}
		b.dispatch(ctx, "set_mute", map[string]any{"input": input, "muted": muted})
	})

	handle("/obs/state/query", func(msg *osc.Message) {
		res, err := b.router.Dispatch(ctx, "get_status", nil)
		if err != nil || b.feedback == nil {
			return
		}
		b.sendStatus(res)
	})

	return d
}

func (b *Bridge) dispatch(ctx context.Context, name string, args map[string]any) {
	if _, err := b.router.Dispatch(ctx, name, args); err != nil {
		b.logger.Warn().Err(err).Str("command", name).Msg("osc command failed")
	}
}

// feedbackLoop mirrors relayed events to the feedback address.
func (b *Bridge) feedbackLoop(ctx context.Context) {
	sub := b.relay.Register(32)
	defer b.relay.Unregister(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			b.sendFeedback(ev)
		}
	}
}

func (b *Bridge) sendFeedback(ev relay.Event) {
	switch ev.Type {
	case events.EventSceneSwitched, events.EventSceneChangedExternal:
		if scene, ok := ev.Data["scene"].(string); ok {
			b.send(osc.NewMessage("/obs/state/scene", scene))
		}
	case events.EventTrackChanged, events.EventPlaylistActivated:
		playlistName, _ := ev.Data["playlist"].(string)
		track, _ := ev.Data["track"].(string)
		position := int32(0)
		if p, ok := ev.Data["position"].(int); ok {
			position = int32(p)
		}
		b.send(osc.NewMessage("/obs/state/track", playlistName, position, track))
	case events.EventStreamStarted:
		b.send(osc.NewMessage("/obs/state/stream", int32(1)))
	case events.EventStreamStopped:
		b.send(osc.NewMessage("/obs/state/stream", int32(0)))
	case events.EventRecordingStarted:
		b.send(osc.NewMessage("/obs/state/record", int32(1)))
	case events.EventRecordingStopped:
		b.send(osc.NewMessage("/obs/state/record", int32(0)))
	case events.EventSessionConnected:
		b.send(osc.NewMessage("/obs/state/connection", int32(1)))
	case events.EventSessionDisconnected:
		b.send(osc.NewMessage("/obs/state/connection", int32(0)))
	}
}

func (b *Bridge) sendStatus(res command.Result) {
	if scene, ok := res["scene"].(string); ok {
		b.send(osc.NewMessage("/obs/state/scene", scene))
	}
	if connected, ok := res["connected"].(bool); ok {
		b.send(osc.NewMessage("/obs/state/connection", boolToInt32(connected)))
	}
	if streaming, ok := res["streaming"].(bool); ok {
		b.send(osc.NewMessage("/obs/state/stream", boolToInt32(streaming)))
	}
}

func (b *Bridge) send(msg *osc.Message) {
	if b.feedback == nil {
		return
	}
	if err := b.feedback.Send(msg); err != nil {
		b.logger.Debug().Err(err).Str("addr", msg.Address).Msg("osc feedback send failed")
	}
}

// FaderToDB maps a 0..1 fader position onto the -60..0 dB range OBS
// volume controls expect. Values outside the range are clamped.
func FaderToDB(fader float64) float64 {
	if fader < 0 {
		fader = 0
	}
	if fader > 1 {
		fader = 1
	}
	return -60 + 60*fader
}

func boolToInt32(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

func stringArg(msg *osc.Message, idx int) (string, bool) {
	if idx >= len(msg.Arguments) {
		return "", false
	}
	s, ok := msg.Arguments[idx].(string)
	return s, ok
}

func intArg(msg *osc.Message, idx int) (int, bool) {
	if idx >= len(msg.Arguments) {
		return 0, false
	}
	switch v := msg.Arguments[idx].(type) {
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float32:
		return int(v), true
	default:
		return 0, false
	}
}

func floatArg(msg *osc.Message, idx int) (float64, bool) {
	if idx >= len(msg.Arguments) {
		return 0, false
	}
	switch v := msg.Arguments[idx].(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}

func boolArg(msg *osc.Message, idx int) (bool, bool) {
	if idx >= len(msg.Arguments) {
		return false, false
	}
	switch v := msg.Arguments[idx].(type) {
	case bool:
		return v, true
	case int32:
		return v != 0, true
	case float32:
		return v != 0, true
	default:
		return false, false
	}
}
