package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// frame mirrors the envelope kbdlightd writes on its status websocket.
type frame struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type stateInit struct {
	Brightness      int32     `json:"brightness"`
	BrightnessKnown bool      `json:"brightness_known"`
	BrightnessAt    time.Time `json:"brightness_at"`
	FadeState       string    `json:"fade_state"`
	FadesStarted    int64     `json:"fades_started"`
}

type brightnessChanged struct {
	Brightness int32  `json:"brightness"`
	Origin     string `json:"origin"`
}

type fadeChanged struct {
	State string `json:"state"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:7311/ws/state", "kbdlightd status websocket URL")
		raw   = flag.Bool("raw", false, "Print frames as received instead of formatting them")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	// The daemon pings every 20s; answering resets our deadline too.
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(message))
				continue
			}
			if *raw {
				fmt.Printf("%s\n", message)
				continue
			}
			fmt.Println(formatFrame(message))
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// formatFrame renders one status frame as a single line.
func formatFrame(message []byte) string {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		return fmt.Sprintf("[TEXT] %s", message)
	}

	ts := ""
	if f.Ts != nil {
		ts = f.Ts.Local().Format("15:04:05.000") + " "
	}

	switch f.Type {
	case "state_init":
		var s stateInit
		if err := json.Unmarshal(f.Data, &s); err != nil {
			break
		}
		level := "unknown"
		if s.BrightnessKnown {
			level = fmt.Sprintf("%d", s.Brightness)
		}
		return fmt.Sprintf("%s[STATE] brightness=%s fade=%s fades_started=%d", ts, level, s.FadeState, s.FadesStarted)

	case "brightness_changed":
		var b brightnessChanged
		if err := json.Unmarshal(f.Data, &b); err != nil {
			break
		}
		return fmt.Sprintf("%s[BRIGHTNESS] %d (%s)", ts, b.Brightness, b.Origin)

	case "fade_state":
		var s fadeChanged
		if err := json.Unmarshal(f.Data, &s); err != nil {
			break
		}
		return fmt.Sprintf("%s[FADE] %s", ts, s.State)
	}

	return fmt.Sprintf("%s[%s] %s", ts, f.Type, f.Data)
}
