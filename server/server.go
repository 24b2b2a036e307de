// Package server exposes the service's HTTP endpoints: health, manual pass
// triggering, status, and metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"spotify-notifier/monitor"
)

// Poller triggers diff passes and reports the last pass summary.
type Poller interface {
	RunPass(ctx context.Context) error
	Status() monitor.Status
}

// Server handles HTTP requests.
type Server struct {
	poller  Poller
	logger  *slog.Logger
	metrics http.Handler
}

// Config holds server configuration.
type Config struct {
	Poller  Poller
	Logger  *slog.Logger
	Metrics http.Handler
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		poller:  cfg.Poller,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Handler builds the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/pollz", s.handlePoll)
	mux.HandleFunc("/statusz", s.handleStatus)
	mux.Handle("/metrics", s.metrics)
	return mux
}

// ListenAndServe starts the server with timeouts to prevent resource
// exhaustion.
func (s *Server) ListenAndServe(port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

// handlePoll lets an external scheduler (or an operator) trigger a pass.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Poll endpoint triggered")

	if err := s.poller.RunPass(r.Context()); err != nil {
		s.logger.Error("Triggered pass failed", "error", err)
		http.Error(w, "Pass failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"completed"}`); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.poller.Status()); err != nil {
		s.logger.Warn("Failed to write status response", "error", err)
	}
}
