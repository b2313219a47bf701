package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Status WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// Read-only view of the daemon for status bars and debugging:
//   - "state_init" on connect, built from the brightness cache and the fade
//     controller
//   - "brightness_changed" coalesced latest-wins over wsBrightnessCoalesceWindow
//   - "fade_state" on every idle/fading transition
//
// Slow clients are disconnected when their send buffer fills. Nothing in
// this file can block the brightness path: status events arrive through a
// non-blocking publisher.
// ============================================================================

type wsMessageSnapshot struct {
	Brightness      int32     `json:"brightness"`
	BrightnessKnown bool      `json:"brightness_known"`
	BrightnessAt    time.Time `json:"brightness_at"`

	FadeState    string `json:"fade_state"`
	FadesStarted int64  `json:"fades_started"`
}

type wsBrightnessChangedData struct {
	Brightness int32  `json:"brightness"`
	Origin     string `json:"origin"`
}

type wsFadeStateData struct {
	State string `json:"state"`
}

// wsOutboundEvent is a pre-typed, externally-consumable status event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time
}

// envelope is the wire format for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	// done is closed when Run returns; nothing reads register/unregister
	// after that.
	done     chan struct{}
	doneOnce sync.Once

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size (default 32).
	SendBuf int
	// BroadcastBuf is the hub inbound queue size (default 128).
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled, then disconnects all
// clients.
func (h *Hub) Run(ctx context.Context) {
	defer h.doneOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("status client connected", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first; removeClient takes the lock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// Register hands c to the hub. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister asks the hub to drop c. After shutdown it is a no-op; Run
// already closed every client.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.closeSend()
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	// Closing send tells writePump to exit.
	c.closeSend()
	h.logger.Info("status client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

// BroadcastBytes enqueues a serialized frame. It never blocks; if the hub
// queue is full the frame is dropped.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("status hub queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// closeStatus extracts a websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Debug("status "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Debug("status "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump writes queued frames and keepalive pings. It exits on write
// error or when send is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards inbound messages; it exists to process control frames
// and notice disconnects. It unregisters the client on exit.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			if c.hub != nil {
				c.hub.Unregister(c)
			}
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

type StatusServer struct {
	logger   *slog.Logger
	hub      *Hub
	snapshot func() statusSnapshot
}

// NewStatusServer constructs the status WS components. Register it on a mux
// and start hub.Run(ctx) and RunBroadcaster.
func NewStatusServer(logger *slog.Logger, snapshot func() statusSnapshot, cfg HubConfig) *StatusServer {
	return &StatusServer{
		logger:   logger,
		hub:      NewHub(logger, cfg),
		snapshot: snapshot,
	}
}

func (s *StatusServer) Hub() *Hub { return s.hub }

// Register registers the WS handler on mux.
func (s *StatusServer) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStatusWS)
}

var upgrader = websocket.Upgrader{
	// Local status consumers only; the listener is expected to bind loopback.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStatusWS upgrades, queues state_init, then registers the client.
func (s *StatusServer) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// state_init goes first in the send queue so it precedes any broadcast.
	if s.snapshot != nil {
		if msg, err := marshalSnapshot(s.snapshot(), time.Now().UTC()); err == nil {
			client.send <- msg
		} else {
			s.logger.Warn("status snapshot marshal failed", "error", err)
		}
	}

	if !s.hub.Register(client) {
		s.logger.Debug("status hub stopped, rejecting client", "remote_addr", r.RemoteAddr)
		_ = conn.Close()
		return
	}

	// Pump lifetimes belong to the hub, not to the request context, which
	// net/http cancels as soon as this handler returns.
	go client.writePump()
	go client.readPump()
}

func marshalSnapshot(snap statusSnapshot, now time.Time) ([]byte, error) {
	return json.Marshal(envelope{
		Type: "state_init",
		Ts:   &now,
		Data: wsMessageSnapshot{
			Brightness:      snap.Brightness.Level,
			BrightnessKnown: snap.Brightness.Known,
			BrightnessAt:    snap.Brightness.At,
			FadeState:       snap.Fade.String(),
			FadesStarted:    snap.Fades,
		},
	})
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads status events, marshals them and broadcasts them to
// all hub clients. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan statusEvent, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	// A fade emits a level every step; flush the latest pending level at most
	// once per window (no debounce-on-silence).
	var pending *wsOutboundEvent
	var timer *time.Timer
	var timerCh <-chan time.Time

	emit := func(ev wsOutboundEvent) {
		ts := ev.At
		if ts.IsZero() {
			ts = time.Now()
		}
		ts = ts.UTC()
		msg, err := json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
		if err != nil {
			logger.Warn("status broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPending := func() {
		if pending == nil {
			return
		}
		emit(*pending)
		pending = nil
	}

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = nil
		timerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushPending()
			stopTimer()
			return

		case <-timerCh:
			flushPending()
			stopTimer()

		case ev, ok := <-src:
			if !ok {
				flushPending()
				stopTimer()
				logger.Debug("status broadcaster stopping (source ended)")
				return
			}

			out, ok := convertStatusEvent(ev)
			if !ok {
				continue
			}

			if out.Type == "brightness_changed" {
				cp := out
				pending = &cp
				if timer == nil {
					timer = time.NewTimer(wsBrightnessCoalesceWindow)
					timerCh = timer.C
				}
				continue
			}

			// Keep ordering: a pending level goes out before the transition.
			flushPending()
			stopTimer()
			emit(out)
		}
	}
}

func convertStatusEvent(ev statusEvent) (wsOutboundEvent, bool) {
	switch ev := ev.(type) {
	case statusBrightnessChanged:
		return wsOutboundEvent{
			Type: "brightness_changed",
			Data: wsBrightnessChangedData{Brightness: ev.Level, Origin: ev.Origin},
			At:   ev.At,
		}, true

	case statusFadeChanged:
		return wsOutboundEvent{
			Type: "fade_state",
			Data: wsFadeStateData{State: ev.State.String()},
			At:   ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}
