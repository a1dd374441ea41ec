// Package ws pushes motion events and detector status to WebSocket
// clients in real time, so UIs do not need to poll the status endpoint.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"piwebcam/internal/motion"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The HTTP layer already serves permissive CORS; mirror it here.
		return true
	},
}

// EventHub manages WebSocket connections and broadcasts motion events.
type EventHub struct {
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

// NewEventHub creates an empty hub.
func NewEventHub(logger zerolog.Logger) *EventHub {
	return &EventHub{
		log:     logger,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the client. A read pump
// keeps the connection alive and notices disconnects.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.register(conn)
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("websocket client connected")

	go h.readPump(conn)
}

func (h *EventHub) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = struct{}{}
}

func (h *EventHub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HasClients reports whether anyone is listening, so callers can skip
// message construction entirely.
func (h *EventHub) HasClients() bool {
	return h.ClientCount() > 0
}

// BroadcastEvent sends a motion event with the current detector status to
// every connected client. Clients that fail to accept the write are
// dropped.
func (h *EventHub) BroadcastEvent(event motion.Event, status motion.Status) {
	if !h.HasClients() {
		return
	}

	msg := EventMessage{
		Type:      "motion_event",
		Event:     event.String(),
		Timestamp: time.Now(),
		Status:    status,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal event message")
		return
	}
	h.broadcast(data)
}

// BroadcastStatus pushes a plain status update (used for periodic pushes).
func (h *EventHub) BroadcastStatus(status motion.Status) {
	if !h.HasClients() {
		return
	}

	msg := StatusMessage{
		Type:      "status",
		Timestamp: time.Now(),
		Status:    status,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal status message")
		return
	}
	h.broadcast(data)
}

// RunStatusPusher broadcasts the detector status at the given interval
// until the context is cancelled. BroadcastStatus already skips the push
// when nobody is connected.
func (h *EventHub) RunStatusPusher(ctx context.Context, interval time.Duration, status func() motion.Status) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.BroadcastStatus(status())
		}
	}
}

func (h *EventHub) broadcast(data []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug().Err(err).Msg("dropping websocket client")
			h.unregister(conn)
			conn.Close()
		}
	}
}

// Close disconnects every client.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// readPump discards client messages and unregisters on disconnect.
func (h *EventHub) readPump(conn *websocket.Conn) {
	defer func() {
		h.unregister(conn)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
