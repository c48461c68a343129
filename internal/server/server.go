// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package server exposes the run manager over HTTP: a JSON API for
// creating and controlling runs, an SSE stream of iteration events and
// Prometheus metrics on a private registry.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/curioloop/largemin/internal/problems"
	"github.com/curioloop/largemin/internal/runs"
	"github.com/curioloop/largemin/internal/store"
)

// Server is the HTTP front of one run manager.
type Server struct {
	addr        string
	mgr         *runs.Manager
	broadcaster *Broadcaster
	metrics     *metrics
	httpServer  *http.Server
}

// New wires a server: the manager publishes its events into the SSE
// broadcaster and the metrics. The store may be nil and baseDir empty,
// which disables checkpoints and traces.
func New(addr string, st store.Store, baseDir string) *Server {
	s := &Server{
		addr:        addr,
		broadcaster: NewBroadcaster(),
	}
	s.mgr = runs.NewManager(st, baseDir, s.onEvent)
	s.metrics = newMetrics(s.activeRuns)
	return s
}

// Manager returns the run manager behind the server.
func (s *Server) Manager() *runs.Manager { return s.mgr }

// onEvent fans one manager event out to the subscribers and the
// metrics, and settles the per-run accounting once the run ends.
func (s *Server) onEvent(ev runs.Event) {
	s.broadcaster.Broadcast(ev)
	s.metrics.observe(ev)
	if ev.State.Terminal() {
		if run, found := s.mgr.Get(ev.RunID); found {
			s.metrics.finished(run)
		}
		s.broadcaster.CleanupRun(ev.RunID)
	}
}

// activeRuns counts the runs currently executing. Sampled at scrape time.
func (s *Server) activeRuns() float64 {
	n := 0
	for _, r := range s.mgr.List() {
		if r.State == runs.StateRunning {
			n++
		}
	}
	return float64(n)
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.metrics.handler())

	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/runs/", s.handleRunsWithID)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start serves HTTP on the configured address until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRuns handles /api/runs.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRunsWithID handles /api/runs/{id} and /api/runs/{id}/events.
func (s *Server) handleRunsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Run ID required", http.StatusBadRequest)
		return
	}
	runID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleGetRun(w, r, runID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handleStopRun(w, r, runID)
	case len(parts) == 2 && parts[1] == "events" && r.Method == http.MethodGet:
		s.handleRunEvents(w, r, runID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateRun handles POST /api/runs: register a run and start it.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var config runs.Config
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if config.Problem == "" {
		http.Error(w, "problem is required", http.StatusBadRequest)
		return
	}
	if _, err := problems.Get(config.Problem); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if config.Dim <= 0 {
		http.Error(w, "dim must be positive", http.StatusBadRequest)
		return
	}
	if config.Epsilon < 0 || config.GradTol < 0 {
		http.Error(w, "tolerances must not be negative", http.StatusBadRequest)
		return
	}
	if config.Wolfe < 0 || config.Wolfe >= 1 {
		http.Error(w, "wolfe must be in [0, 1)", http.StatusBadRequest)
		return
	}
	if config.Memory <= 0 {
		config.Memory = 10
	}
	if config.MaxIter <= 0 {
		config.MaxIter = 1000
	}

	run := s.mgr.Create(config)
	if err := s.mgr.Start(run.ID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.metrics.runsStarted.Inc()

	run, _ = s.mgr.Get(run.ID)
	writeJSON(w, http.StatusCreated, run)
}

// handleListRuns handles GET /api/runs.
func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.List())
}

// handleGetRun handles GET /api/runs/{id}.
func (s *Server) handleGetRun(w http.ResponseWriter, _ *http.Request, runID string) {
	run, found := s.mgr.Get(runID)
	if !found {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleStopRun handles DELETE /api/runs/{id}: request cancellation.
// The run winds down asynchronously, so the reply is a snapshot, not
// the terminal state.
func (s *Server) handleStopRun(w http.ResponseWriter, _ *http.Request, runID string) {
	if err := s.mgr.Stop(runID); err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	run, _ := s.mgr.Get(runID)
	writeJSON(w, http.StatusAccepted, run)
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
