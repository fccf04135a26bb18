/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/schwwaaa/obs-relay/internal/events"
	"github.com/schwwaaa/obs-relay/internal/obs"
	"github.com/schwwaaa/obs-relay/internal/relay"
)

func readFrame(ctx context.Context, t *testing.T, conn *ws.Conn) wsFrame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return frame
}

// readFrameOfType skips unrelated frames (pings, interleaved events)
// until one of the wanted type arrives.
func readFrameOfType(ctx context.Context, t *testing.T, conn *ws.Conn, frameType string) wsFrame {
	t.Helper()
	for i := 0; i < 10; i++ {
		frame := readFrame(ctx, t, conn)
		if frame.Type == frameType {
			return frame
		}
	}
	t.Fatalf("no %q frame received", frameType)
	return wsFrame{}
}

func TestWebSocketCommandRoundTrip(t *testing.T) {
	t.Parallel()

	_, r := newTestAPI(t, "", obs.StateConnected)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "done")

	hello := readFrame(ctx, t, conn)
	if hello.Type != "hello" {
		t.Fatalf("first frame = %q", hello.Type)
	}
	var helloData map[string]any
	if err := json.Unmarshal(hello.Data, &helloData); err != nil {
		t.Fatal(err)
	}
	if helloData["connection"] != "connected" {
		t.Errorf("hello = %v", helloData)
	}

	cmd := `{"type":"command","id":"req-1","command":"switch_scene","args":{"scene":"BRB"}}`
	if err := conn.Write(ctx, ws.MessageText, []byte(cmd)); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The scene switch publishes an event on the bus, but the relay loop
	// is not running in this test, so only the result frame arrives.
	result := readFrameOfType(ctx, t, conn, "result")
	if result.ID != "req-1" || result.OK == nil || !*result.OK {
		t.Fatalf("result = %+v", result)
	}
	var resData map[string]any
	if err := json.Unmarshal(result.Data, &resData); err != nil {
		t.Fatal(err)
	}
	if resData["scene"] != "BRB" {
		t.Errorf("result data = %v", resData)
	}
}

func TestWebSocketCommandError(t *testing.T) {
	t.Parallel()

	_, r := newTestAPI(t, "", obs.StateConnected)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "done")
	readFrame(ctx, t, conn) // hello

	cmd := `{"type":"command","id":"req-2","command":"playlist_activate","args":{"playlist":"nope"}}`
	if err := conn.Write(ctx, ws.MessageText, []byte(cmd)); err != nil {
		t.Fatal(err)
	}

	result := readFrameOfType(ctx, t, conn, "result")
	if result.OK == nil || *result.OK {
		t.Fatalf("result = %+v", result)
	}
	if result.Error == nil || result.Error.Status != 404 {
		t.Errorf("error = %+v", result.Error)
	}
}

func TestWebSocketRelaysEvents(t *testing.T) {
	t.Parallel()

	a, r := newTestAPI(t, "", obs.StateConnected)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "done")
	readFrame(ctx, t, conn) // hello

	// Registration happens during the handshake, so the subscriber is
	// already in place when we publish directly to the fan-out.
	a.relay.Publish(relay.Event{
		Type:      events.EventTrackChanged,
		Data:      events.Payload{"track": "Track B", "position": 1},
		Timestamp: time.Now(),
	})

	frame := readFrameOfType(ctx, t, conn, "event")
	if frame.Event != "track_changed" {
		t.Fatalf("event = %q", frame.Event)
	}
	var data map[string]any
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data["track"] != "Track B" {
		t.Errorf("event data = %v", data)
	}
}

func TestWebSocketRequiresAuth(t *testing.T) {
	t.Parallel()

	_, r := newTestAPI(t, "sekrit", obs.StateConnected)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	if _, _, err := ws.Dial(ctx, base+"/ws", nil); err == nil {
		t.Fatal("dial without token should fail")
	}

	conn, _, err := ws.Dial(ctx, base+"/ws?token=sekrit", nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	conn.Close(ws.StatusNormalClosure, "done")
}
