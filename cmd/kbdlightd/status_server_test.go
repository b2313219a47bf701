package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestStatusServer_StateInitThenBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := discardLogger()
	state := &brightnessState{}
	state.Set(42, time.Now())

	srv := NewStatusServer(logger, func() statusSnapshot {
		return statusSnapshot{Brightness: state.Snapshot(), Fade: fadeIdle}
	}, HubConfig{})
	mux := http.NewServeMux()
	srv.Register(mux, defaultStatusPath)
	go srv.Hub().Run(ctx)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- serveStatus(ctx, ln, mux, logger) }()

	url := "ws://" + ln.Addr().String() + defaultStatusPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read state_init: %v", err)
	}
	env := decodeFrame(t, msg)
	if env.Type != "state_init" {
		t.Fatalf("first frame type = %q, want state_init", env.Type)
	}
	var snap wsMessageSnapshot
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatalf("state_init data: %v", err)
	}
	if snap.Brightness != 42 || !snap.BrightnessKnown || snap.FadeState != "idle" {
		t.Fatalf("state_init = %+v", snap)
	}

	// Registration is asynchronous; wait for the hub to see the client.
	waitUntil(t, time.Second, func() bool {
		srv.Hub().mu.Lock()
		defer srv.Hub().mu.Unlock()
		return len(srv.Hub().clients) == 1
	}, "client not registered")

	frame := []byte(`{"type":"fade_state","data":{"state":"fading"}}`)
	srv.Hub().broadcast <- frame

	_, msg, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if string(msg) != string(frame) {
		t.Fatalf("broadcast = %q, want %q", msg, frame)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serveStatus: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("status server did not shut down")
	}
}
