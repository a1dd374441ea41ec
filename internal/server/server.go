// Package server wires the HTTP API: live image, MJPEG stream, detector
// status, snapshot history, login, and health.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"piwebcam/internal/auth"
	"piwebcam/internal/middleware"
	"piwebcam/internal/motion"
	"piwebcam/internal/snapshot"
)

// FrameProvider exposes the newest captured frame to the HTTP layer.
type FrameProvider interface {
	CurrentFrame() []byte
	Ready() bool
}

// Info describes the running camera for the health endpoint.
type Info struct {
	Host      string
	Port      int
	Width     int
	Height    int
	Framerate int

	// StaticDir is the root for plain file requests. Empty disables
	// static serving.
	StaticDir string
}

// Server holds the handler dependencies.
type Server struct {
	info     Info
	frames   FrameProvider
	detector *motion.Detector
	store    *snapshot.Store
	authn    *auth.Authenticator
	stream   http.Handler
	events   http.Handler
	log      zerolog.Logger
}

// New creates a server. stream and events are mounted as-is under
// /stream and /api/ws.
func New(info Info, frames FrameProvider, detector *motion.Detector, store *snapshot.Store,
	authn *auth.Authenticator, stream, events http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		info:     info,
		frames:   frames,
		detector: detector,
		store:    store,
		authn:    authn,
		stream:   stream,
		events:   events,
		log:      logger,
	}
}

// Routes builds the router. Everything except /health and /api/login sits
// behind the auth middleware; with auth disabled the middleware is a
// pass-through.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS)

	// Unauthenticated: monitoring probes and the login exchange.
	r.Get("/health", s.handleHealth)
	r.Post("/api/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(s.authn))

		r.Get("/webcam.jpg", s.handleCurrentImage)
		if s.stream != nil {
			r.Get("/stream", s.stream.ServeHTTP)
		}
		if s.events != nil {
			r.Get("/api/ws", s.events.ServeHTTP)
		}

		r.Get("/api/status", s.handleStatus)
		r.Get("/api/snapshots", s.handleSnapshotList)
		r.Get("/api/snapshots/latest", s.handleSnapshotLatest)
		r.Get("/api/snapshots/{id}", s.handleSnapshotByID)

		// Anything else is a file request for the viewer page and its
		// assets.
		r.Get("/*", s.handleStaticFile)
	})

	return r
}
