// Package stream broadcasts captured JPEG frames to HTTP clients as an
// MJPEG (multipart/x-mixed-replace) stream.
package stream

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// Broadcaster fans captured frames out to any number of connected MJPEG
// clients. Each client gets a small buffered channel; clients that cannot
// keep up skip frames instead of stalling the capture loop.
type Broadcaster struct {
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	closed  bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		log:     logger,
		clients: make(map[chan []byte]struct{}),
	}
}

// Publish sends a frame to every connected client without blocking.
func (b *Broadcaster) Publish(frame []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.clients {
		select {
		case ch <- frame:
		default:
			// Client is slow, skip this frame for it.
		}
	}
}

// ClientCount returns the number of connected stream clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects all clients. Publish becomes a no-op afterwards.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.clients {
		close(ch)
		delete(b.clients, ch)
	}
}

func (b *Broadcaster) subscribe() (chan []byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, false
	}
	ch := make(chan []byte, 5)
	b.clients[ch] = struct{}{}
	return ch, true
}

func (b *Broadcaster) unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
	}
}

// ServeHTTP streams frames to one client until it disconnects or the
// broadcaster shuts down.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, ok := b.subscribe()
	if !ok {
		http.Error(w, "stream shutting down", http.StatusServiceUnavailable)
		return
	}
	defer b.unsubscribe(ch)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	b.log.Debug().Str("remote", r.RemoteAddr).Msg("stream client connected")
	defer b.log.Debug().Str("remote", r.RemoteAddr).Msg("stream client disconnected")

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame))
			if _, err := w.Write(frame); err != nil {
				return
			}
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
		}
	}
}
