/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package obs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/schwwaaa/obs-relay/internal/events"
	"github.com/schwwaaa/obs-relay/internal/telemetry"
)

// ErrUpstreamUnavailable is returned by Send when the session is not
// connected. Callers must retry after observing session_connected.
var ErrUpstreamUnavailable = errors.New("upstream session unavailable")

// RequestError is a structured failure returned by the upstream for a
// request that reached it.
type RequestError struct {
	Code    int
	Comment string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("upstream request failed (code %d): %s", e.Code, e.Comment)
}

const sendTimeout = 10 * time.Second

// wsConn is the subset of the websocket connection the supervisor uses.
// Tests substitute a fake.
type wsConn interface {
	Read(ctx context.Context) (ws.MessageType, []byte, error)
	Write(ctx context.Context, typ ws.MessageType, p []byte) error
	Close(code ws.StatusCode, reason string) error
}

// Dialer opens a websocket connection to the upstream.
type Dialer func(ctx context.Context, url string) (wsConn, error)

func defaultDialer(ctx context.Context, url string) (wsConn, error) {
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(4 << 20)
	return conn, nil
}

// Options configures the supervisor.
type Options struct {
	URL                  string
	Password             string
	MediaSource          string
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int // 0 = retry forever
}

// Supervisor owns the single logical obs-websocket session: it connects,
// authenticates, reconnects with backoff, surfaces upstream events on the
// bus, and serializes request/response traffic.
type Supervisor struct {
	opts   Options
	bus    *events.Bus
	logger zerolog.Logger
	dial   Dialer

	mu       sync.Mutex
	state    SessionState
	attempts int
	conn     wsConn
	pending  map[string]chan requestResponseData
}

// NewSupervisor creates a supervisor in the Disconnected state.
func NewSupervisor(opts Options, bus *events.Bus, logger zerolog.Logger) *Supervisor {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 5 * time.Second
	}
	return &Supervisor{
		opts:    opts,
		bus:     bus,
		logger:  logger.With().Str("component", "obs_supervisor").Logger(),
		dial:    defaultDialer,
		pending: make(map[string]chan requestResponseData),
	}
}

// State returns the current session state.
func (s *Supervisor) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Healthy reports whether the session is connected.
func (s *Supervisor) Healthy() bool { return s.State() == StateConnected }

// Attempts returns the reconnect attempt counter for the current outage.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Supervisor) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	telemetry.SessionState.Set(float64(state))
}

// Run drives the connection state machine until ctx is cancelled or the
// configured attempt budget is exhausted. Only Run mutates the session
// state, so at most one connect attempt is ever in flight.
func (s *Supervisor) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.ReconnectInterval
	bo.MaxInterval = 4 * s.opts.ReconnectInterval
	bo.MaxElapsedTime = 0

	for {
		s.setState(StateConnecting)

		conn, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateDisconnected)
				return ctx.Err()
			}

			s.mu.Lock()
			s.attempts++
			attempts := s.attempts
			s.mu.Unlock()
			telemetry.ReconnectAttemptsTotal.Inc()

			s.logger.Warn().Err(err).Int("attempt", attempts).Msg("upstream connect failed")

			if s.opts.MaxReconnectAttempts > 0 && attempts >= s.opts.MaxReconnectAttempts {
				s.setState(StateDisconnected)
				s.bus.Publish(events.EventSessionDisconnected, events.Payload{
					"state":    StateDisconnected.String(),
					"terminal": true,
					"attempts": attempts,
				})
				s.logger.Error().Int("attempts", attempts).Msg("reconnect attempts exhausted, giving up")
				return nil
			}

			if err := s.waitBackoff(ctx, bo); err != nil {
				return err
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.attempts = 0
		s.mu.Unlock()
		bo.Reset()

		s.setState(StateConnected)
		s.logger.Info().Str("url", s.opts.URL).Msg("upstream session established")
		s.bus.Publish(events.EventSessionConnected, events.Payload{
			"state": StateConnected.String(),
		})

		readErr := s.readLoop(ctx, conn)
		conn.Close(ws.StatusNormalClosure, "session closed")

		s.mu.Lock()
		s.conn = nil
		s.failPendingLocked()
		s.mu.Unlock()

		s.bus.Publish(events.EventSessionDisconnected, events.Payload{
			"state": StateReconnecting.String(),
		})

		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return ctx.Err()
		}

		s.logger.Warn().Err(readErr).Msg("upstream session lost")
		s.setState(StateReconnecting)
		if err := s.waitBackoff(ctx, bo); err != nil {
			return err
		}
	}
}

func (s *Supervisor) waitBackoff(ctx context.Context, bo backoff.BackOff) error {
	wait := bo.NextBackOff()
	s.setState(StateReconnecting)
	select {
	case <-ctx.Done():
		s.setState(StateDisconnected)
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// connect dials the upstream and completes the Hello/Identify handshake.
// Event subscriptions ride on the Identify, so a reconnect automatically
// re-establishes them.
func (s *Supervisor) connect(ctx context.Context) (wsConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := s.dial(dialCtx, s.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	_, data, err := conn.Read(dialCtx)
	if err != nil {
		conn.Close(ws.StatusProtocolError, "handshake failed")
		return nil, fmt.Errorf("read hello: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Op != opHello {
		conn.Close(ws.StatusProtocolError, "handshake failed")
		return nil, fmt.Errorf("unexpected hello frame: %w", err)
	}
	var hello helloData
	if err := json.Unmarshal(env.D, &hello); err != nil {
		conn.Close(ws.StatusProtocolError, "handshake failed")
		return nil, fmt.Errorf("decode hello: %w", err)
	}

	identify := identifyData{
		RPCVersion:         rpcVersion,
		EventSubscriptions: eventSubscriptionAll,
	}
	if hello.Authentication != nil {
		identify.Authentication = authResponse(s.opts.Password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}

	frame, err := marshalEnvelope(opIdentify, identify)
	if err != nil {
		conn.Close(ws.StatusInternalError, "handshake failed")
		return nil, err
	}
	if err := conn.Write(dialCtx, ws.MessageText, frame); err != nil {
		conn.Close(ws.StatusProtocolError, "handshake failed")
		return nil, fmt.Errorf("write identify: %w", err)
	}

	_, data, err = conn.Read(dialCtx)
	if err != nil {
		conn.Close(ws.StatusProtocolError, "handshake failed")
		return nil, fmt.Errorf("read identified: %w", err)
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Op != opIdentified {
		conn.Close(ws.StatusProtocolError, "handshake failed")
		return nil, fmt.Errorf("identify rejected")
	}

	return conn, nil
}

// readLoop consumes frames until the connection fails or ctx is done.
func (s *Supervisor) readLoop(ctx context.Context, conn wsConn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn().Err(err).Msg("malformed upstream frame")
			continue
		}

		switch env.Op {
		case opRequestResponse:
			var resp requestResponseData
			if err := json.Unmarshal(env.D, &resp); err != nil {
				s.logger.Warn().Err(err).Msg("malformed request response")
				continue
			}
			s.mu.Lock()
			ch, ok := s.pending[resp.RequestID]
			if ok {
				delete(s.pending, resp.RequestID)
			}
			s.mu.Unlock()
			if ok {
				ch <- resp
			}

		case opEvent:
			var evt eventData
			if err := json.Unmarshal(env.D, &evt); err != nil {
				s.logger.Warn().Err(err).Msg("malformed upstream event")
				continue
			}
			s.handleEvent(evt)
		}
	}
}

func (s *Supervisor) failPendingLocked() {
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

// Send issues a request and waits for the upstream's structured result.
// Fails immediately with ErrUpstreamUnavailable when not connected;
// requests are never queued across an outage.
func (s *Supervisor) Send(ctx context.Context, requestType string, reqData any) (json.RawMessage, error) {
	s.mu.Lock()
	if s.state != StateConnected || s.conn == nil {
		s.mu.Unlock()
		return nil, ErrUpstreamUnavailable
	}
	conn := s.conn
	id := uuid.NewString()
	ch := make(chan requestResponseData, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}

	frame, err := marshalEnvelope(opRequest, requestData{
		RequestType: requestType,
		RequestID:   id,
		RequestData: reqData,
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	writeCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, ws.MessageText, frame); err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrUpstreamUnavailable
		}
		if !resp.RequestStatus.Result {
			return nil, &RequestError{Code: resp.RequestStatus.Code, Comment: resp.RequestStatus.Comment}
		}
		return resp.ResponseData, nil
	case <-writeCtx.Done():
		cleanup()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: request timed out", ErrUpstreamUnavailable)
	}
}

// handleEvent translates upstream notifications into bus events.
func (s *Supervisor) handleEvent(evt eventData) {
	switch evt.EventType {
	case "MediaInputPlaybackEnded":
		var d struct {
			InputName string `json:"inputName"`
		}
		if err := json.Unmarshal(evt.EventData, &d); err != nil {
			return
		}
		if d.InputName == s.opts.MediaSource {
			s.bus.Publish(events.EventMediaEnded, events.Payload{"input_name": d.InputName})
		}
		s.publishExternal(evt)

	case "CurrentProgramSceneChanged":
		var d struct {
			SceneName string `json:"sceneName"`
		}
		if err := json.Unmarshal(evt.EventData, &d); err != nil {
			return
		}
		s.bus.Publish(events.EventSceneChangedExternal, events.Payload{"scene": d.SceneName})

	case "StreamStateChanged":
		var d struct {
			OutputActive bool   `json:"outputActive"`
			OutputState  string `json:"outputState"`
		}
		if err := json.Unmarshal(evt.EventData, &d); err != nil {
			return
		}
		// Intermediate STARTING/STOPPING states are not relayed.
		if strings.HasSuffix(d.OutputState, "_STARTED") {
			s.bus.Publish(events.EventStreamStarted, events.Payload{})
		} else if strings.HasSuffix(d.OutputState, "_STOPPED") {
			s.bus.Publish(events.EventStreamStopped, events.Payload{})
		}

	case "RecordStateChanged":
		var d struct {
			OutputActive bool   `json:"outputActive"`
			OutputState  string `json:"outputState"`
		}
		if err := json.Unmarshal(evt.EventData, &d); err != nil {
			return
		}
		if strings.HasSuffix(d.OutputState, "_STARTED") {
			s.bus.Publish(events.EventRecordingStarted, events.Payload{})
		} else if strings.HasSuffix(d.OutputState, "_STOPPED") {
			s.bus.Publish(events.EventRecordingStopped, events.Payload{})
		}

	default:
		s.publishExternal(evt)
	}
}

func (s *Supervisor) publishExternal(evt eventData) {
	var data map[string]any
	if len(evt.EventData) > 0 {
		_ = json.Unmarshal(evt.EventData, &data)
	}
	s.bus.Publish(events.EventExternalStateChanged, events.Payload{
		"event_type": evt.EventType,
		"data":       data,
	})
}
