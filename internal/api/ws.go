/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/schwwaaa/obs-relay/internal/command"
	"github.com/schwwaaa/obs-relay/internal/telemetry"
)

// WebSocket frame types.
type wsFrame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Event     string          `json:"event,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *wsError        `json:"error,omitempty"`
	OK        *bool           `json:"ok,omitempty"`
}

type wsError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

type wsCommand struct {
	ID      string         `json:"id"`
	Command string         `json:"command"`
	Args    map[string]any `json:"args"`
}

// handleWebSocket serves the bidirectional control channel: commands in,
// results and relayed events out.
func (a *API) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := a.verifier.VerifyRequest(r); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	sub := a.relay.Register(64)
	defer a.relay.Unregister(sub)

	a.logger.Debug().Str("subscriber", sub.ID()).Msg("control websocket connected")

	ctx := r.Context()

	if err := a.sendHello(ctx, conn); err != nil {
		a.logger.Error().Err(err).Msg("failed to send hello")
		return
	}

	done := make(chan struct{})
	commandCh := make(chan wsCommand, 16)

	// Read commands from the client.
	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ws.CloseStatus(err) == ws.StatusNormalClosure {
					return
				}
				a.logger.Debug().Err(err).Msg("websocket read error")
				return
			}

			var frame struct {
				Type string `json:"type"`
				wsCommand
			}
			if err := json.Unmarshal(data, &frame); err != nil {
				a.logger.Warn().Err(err).Msg("invalid websocket message")
				continue
			}
			if frame.Type != "command" {
				continue
			}

			select {
			case commandCh <- frame.wsCommand:
			default:
				a.logger.Warn().Msg("command channel full, dropping message")
			}
		}
	}()

	pingTicker := time.NewTicker(15 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return

		case <-done:
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return

		case <-pingTicker.C:
			if err := a.sendFrame(ctx, conn, wsFrame{Type: "ping", Timestamp: time.Now()}); err != nil {
				a.logger.Debug().Err(err).Msg("ping failed")
				conn.Close(ws.StatusInternalError, "ping failed")
				return
			}

		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close(ws.StatusNormalClosure, "server shutting down")
				return
			}
			data, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			frame := wsFrame{
				Type:      "event",
				Event:     string(ev.Type),
				Timestamp: ev.Timestamp,
				Data:      data,
			}
			if err := a.sendFrame(ctx, conn, frame); err != nil {
				a.logger.Debug().Err(err).Msg("event send failed")
				conn.Close(ws.StatusInternalError, "send failed")
				return
			}

		case cmd := <-commandCh:
			res, err := a.router.Dispatch(ctx, cmd.Command, cmd.Args)
			a.sendResult(ctx, conn, cmd, res, err)
		}
	}
}

func (a *API) sendHello(ctx context.Context, conn *ws.Conn) error {
	data, err := json.Marshal(map[string]any{
		"connection": a.session.State().String(),
	})
	if err != nil {
		return err
	}
	return a.sendFrame(ctx, conn, wsFrame{
		Type:      "hello",
		Timestamp: time.Now(),
		Data:      data,
	})
}

func (a *API) sendResult(ctx context.Context, conn *ws.Conn, cmd wsCommand, res command.Result, err error) {
	frame := wsFrame{
		Type:      "result",
		ID:        cmd.ID,
		Timestamp: time.Now(),
	}
	ok := err == nil
	frame.OK = &ok
	if err != nil {
		frame.Error = &wsError{
			Status:  command.HTTPStatus(err),
			Message: err.Error(),
		}
	} else if res != nil {
		if data, merr := json.Marshal(res); merr == nil {
			frame.Data = data
		}
	}
	if serr := a.sendFrame(ctx, conn, frame); serr != nil {
		a.logger.Debug().Err(serr).Msg("result send failed")
	}
}

func (a *API) sendFrame(ctx context.Context, conn *ws.Conn, frame wsFrame) error {
	bytes, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}
