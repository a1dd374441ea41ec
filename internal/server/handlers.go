package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"piwebcam/internal/auth"
	"piwebcam/internal/snapshot"
)

// healthResponse matches the long-standing /health payload shape that
// monitoring setups scrape.
type healthResponse struct {
	Status string `json:"status"`
	Camera struct {
		Ready      bool   `json:"ready"`
		Resolution string `json:"resolution"`
		Framerate  int    `json:"framerate"`
	} `json:"camera"`
	Server struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"server"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var resp healthResponse
	resp.Status = "ok"
	resp.Camera.Ready = s.frames.Ready()
	resp.Camera.Resolution = fmt.Sprintf("%dx%d", s.info.Width, s.info.Height)
	resp.Camera.Framerate = s.info.Framerate
	resp.Server.Host = s.info.Host
	resp.Server.Port = s.info.Port

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCurrentImage(w http.ResponseWriter, r *http.Request) {
	frame := s.frames.CurrentFrame()
	if frame == nil {
		http.Error(w, "Camera initializing, please wait", http.StatusServiceUnavailable)
		return
	}
	writeJPEG(w, frame)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.detector.Status())
}

// snapshotInfo is the metadata view of a stored snapshot; image bytes are
// fetched separately by ID.
type snapshotInfo struct {
	ID        string  `json:"id"`
	Timestamp float64 `json:"timestamp"`
	SizeBytes int     `json:"size_bytes"`
}

func (s *Server) handleSnapshotList(w http.ResponseWriter, r *http.Request) {
	entries := s.store.All()

	// Oldest first, matching the store's insertion order.
	infos := make([]snapshotInfo, len(entries))
	for i, entry := range entries {
		infos[i] = snapshotInfo{
			ID:        entry.ID,
			Timestamp: float64(entry.Timestamp.UnixNano()) / 1e9,
			SizeBytes: len(entry.Image),
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     s.store.Count(),
		"snapshots": infos,
	})
}

func (s *Server) handleSnapshotLatest(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.store.Latest()
	if !ok {
		http.Error(w, "no snapshots captured", http.StatusNotFound)
		return
	}
	writeJPEG(w, entry.Image)
}

func (s *Server) handleSnapshotByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			http.Error(w, "snapshot not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJPEG(w, entry.Image)
}

// handleStaticFile serves the viewer page and its assets from the
// configured static directory. Requests resolving outside that directory
// are rejected before any file access.
func (s *Server) handleStaticFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	if s.info.StaticDir == "" || name == "" {
		http.Error(w, "404 file not found", http.StatusNotFound)
		return
	}

	root, err := filepath.Abs(s.info.StaticDir)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	requested, err := filepath.Abs(filepath.Join(root, filepath.FromSlash(name)))
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if requested != root && !strings.HasPrefix(requested, root+string(os.PathSeparator)) {
		s.log.Warn().Str("path", name).Msg("path traversal attempt blocked")
		http.Error(w, "403 Forbidden", http.StatusForbidden)
		return
	}

	data, err := os.ReadFile(requested)
	if err != nil {
		s.log.Debug().Str("path", name).Msg("file not found")
		http.Error(w, "404 file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func contentTypeFor(filename string) string {
	switch {
	case strings.HasSuffix(filename, "html"):
		return "text/html"
	case strings.HasSuffix(filename, "css"):
		return "text/css"
	case strings.HasSuffix(filename, "jpg"), strings.HasSuffix(filename, "jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(filename, "png"):
		return "image/png"
	case strings.HasSuffix(filename, "svg"):
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	token, expiresAt, err := s.authn.Authenticate(req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAuthDisabled):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "authentication is disabled"})
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		default:
			s.log.Error().Err(err).Msg("login failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeJPEG serves stored image bytes exactly as captured, without any
// re-encoding.
func writeJPEG(w http.ResponseWriter, image []byte) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(image)))
	w.Write(image)
}
