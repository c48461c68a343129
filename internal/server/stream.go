// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/curioloop/largemin/internal/runs"
)

// Broadcaster fans run events out to SSE subscribers.
type Broadcaster struct {
	mu        sync.Mutex
	clients   map[string]map[chan runs.Event]bool // runID -> subscriber channels
	lastEvent map[string]runs.Event               // runID -> latest event for reconnects
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients:   make(map[string]map[chan runs.Event]bool),
		lastEvent: make(map[string]runs.Event),
	}
}

// Subscribe registers a subscriber for one run. The channel is buffered
// so a slow reader never blocks the run; a reconnecting subscriber
// immediately receives the latest event.
func (b *Broadcaster) Subscribe(runID string) chan runs.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan runs.Event, 16)

	if b.clients[runID] == nil {
		b.clients[runID] = make(map[chan runs.Event]bool)
	}
	b.clients[runID][ch] = true

	if last, ok := b.lastEvent[runID]; ok {
		select {
		case ch <- last:
		default:
		}
	}

	slog.Debug("SSE client subscribed", "runID", runID, "clients", len(b.clients[runID]))
	return ch
}

// Unsubscribe removes and closes one subscriber channel.
func (b *Broadcaster) Unsubscribe(runID string, ch chan runs.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[runID]; ok {
		if clients[ch] {
			delete(clients, ch)
			close(ch)
		}
		if len(clients) == 0 {
			delete(b.clients, runID)
		}
	}
}

// Broadcast delivers one event to every subscriber of its run.
// A full channel drops the event for that subscriber instead of
// stalling the run goroutine.
func (b *Broadcaster) Broadcast(event runs.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastEvent[event.RunID] = event

	for ch := range b.clients[event.RunID] {
		select {
		case ch <- event:
		default:
			slog.Warn("SSE channel full, dropping event", "runID", event.RunID)
		}
	}
}

// CleanupRun drops every subscriber and the cached event of a run.
func (b *Broadcaster) CleanupRun(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[runID]; ok {
		for ch := range clients {
			close(ch)
		}
		delete(b.clients, runID)
	}
	delete(b.lastEvent, runID)
}

// handleRunEvents handles GET /api/runs/{id}/events as an SSE stream.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request, runID string) {
	run, found := s.mgr.Get(runID)
	if !found {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	eventChan := s.broadcaster.Subscribe(runID)
	defer s.broadcaster.Unsubscribe(runID, eventChan)

	// Open with the current state, so even a finished run yields one event.
	initial := runs.Event{
		RunID:     run.ID,
		State:     run.State,
		Iteration: run.Iteration,
		F:         run.F,
		GradNorm:  run.GradNorm,
		Timestamp: time.Now(),
	}
	if err := writeSSEEvent(w, initial); err != nil {
		slog.Error("Failed to write initial SSE event", "error", err)
		return
	}
	flusher.Flush()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected", "runID", runID)
			return

		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()

		case <-pingTicker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes one event in SSE wire format.
func writeSSEEvent(w http.ResponseWriter, event runs.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
