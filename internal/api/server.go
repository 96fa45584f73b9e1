package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/habit-coach/internal/config"
)

// Server represents the API server
type Server struct {
	config   config.ServerConfig
	handler  http.Handler
	handlers *Handlers
	server   *http.Server
}

// NewServer creates the API server over h and hc.
func NewServer(cfg config.ServerConfig, h *Handlers, hc *HealthChecker) *Server {
	return &Server{
		config:   cfg,
		handler:  SetupRoutes(h, hc, cfg),
		handlers: h,
	}
}

// Addr is the listen address derived from the config.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.GetHost(), s.config.Port)
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, then cancels and waits for
// background admin work.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.handlers.Close()
	return err
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
