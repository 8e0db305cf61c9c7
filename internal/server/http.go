package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"
)

// Server exposes a running simulation over HTTP.
type Server struct {
	mux     *http.ServeMux
	handler *Handlers
	srv     *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(addr string, handler *Handlers) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		handler: handler,
	}
	s.setupRoutes()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	// API routes
	s.mux.HandleFunc("/api/stats", s.handler.HandleStats)
	s.mux.HandleFunc("/api/config", s.handler.HandleConfig)
	s.mux.HandleFunc("/api/results", s.handler.HandleResults)

	s.mux.Handle("/metrics", s.handler.metrics.Handler())

	// WebSocket
	s.mux.HandleFunc("/ws", s.handler.HandleWebSocket)
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Printf("[INFO] Serving on http://%s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and closes websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.handler.hub.CloseAll()
	return s.srv.Shutdown(ctx)
}
