// Package webmonitor serves a browser preview of the producer: the latest
// kept frame as JPEG, an MJPEG stream and a server-sent status feed.
package webmonitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/perceptual-video/pvstream/internal/broadcast"
	"github.com/perceptual-video/pvstream/internal/logger"
)

// Config tunes the preview
type Config struct {
	Quality        int           // JPEG quality (1-100)
	KeepAlive      time.Duration // Resend the last image after this long without a frame
	StatusInterval time.Duration // Period of the status feed
}

// DefaultConfig returns the default preview settings
func DefaultConfig() Config {
	return Config{
		Quality:        75,
		KeepAlive:      5 * time.Second,
		StatusInterval: time.Second,
	}
}

// Server serves the preview endpoints
type Server struct {
	cfg    Config
	hub    *broadcast.Hub
	status func() map[string]any
	blank  []byte
}

// NewServer creates a preview server over hub. status, if non-nil, feeds
// the /status/stream endpoint.
func NewServer(hub *broadcast.Hub, status func() map[string]any, cfg Config) (*Server, error) {
	def := DefaultConfig()
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = def.Quality
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	blank, err := blankJPEG(320, 240, cfg.Quality)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, hub: hub, status: status, blank: blank}, nil
}

// Register adds the preview routes to mux
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/preview.jpg", s.handleSnapshot)
	mux.HandleFunc("/preview.mjpeg", s.handleStream)
	mux.HandleFunc("/status/stream", s.handleStatusStream)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data := s.blank
	if frame := s.hub.Latest(); frame != nil {
		var err error
		if data, err = frameJPEG(frame, s.cfg.Quality); err != nil {
			logger.Warn("Monitor", "Failed to encode preview: %v", err)
			http.Error(w, "Failed to render frame", http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

// handleStream streams hub frames as MJPEG (fanout pattern)
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := s.hub.Subscribe()
	defer sub.Close()
	logger.Debug("Monitor", "MJPEG client %s connected", sub.ID())

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	last := s.blank
	if s.hub.Latest() == nil {
		if err := writePart(w, last); err != nil {
			return
		}
		flusher.Flush()
	}
	for {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.KeepAlive)
		frame, err := sub.Next(ctx)
		cancel()

		switch {
		case err == nil:
			data, err := frameJPEG(frame, s.cfg.Quality)
			if err != nil {
				logger.Warn("Monitor", "Failed to encode preview: %v", err)
				continue
			}
			last = data
		case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil:
			// No frame for a while, resend to keep the connection alive
		default:
			return
		}

		if err := writePart(w, last); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleStatusStream pushes the status map as server-sent events
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	if s.status == nil {
		http.Error(w, "Status unavailable", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		if err := writeSSE(w, s.status()); err != nil {
			logger.Debug("SSE", "Client disconnected during event write: %v", err)
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
