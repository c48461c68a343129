// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package runs manages the lifecycle of minimization runs: creating them
// from a problem configuration, executing them in the background, feeding
// progress to subscribers, and checkpointing through the store.
package runs

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/curioloop/largemin/internal/store"
)

// State is the lifecycle phase of a run.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Config aliases the checkpoint copy of a run configuration so that
// callers deal with a single type.
type Config = store.RunConfig

// Run is an observable snapshot of one minimization run.
type Run struct {
	ID        string     `json:"id"`
	State     State      `json:"state"`
	Config    Config     `json:"config"`
	F         float64    `json:"f"`
	GradNorm  float64    `json:"gradNorm"`
	Iteration int        `json:"iteration"`
	NumEval   int        `json:"numEval"`
	Status    string     `json:"status,omitempty"`
	X         []float64  `json:"x,omitempty"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Event is a notification emitted after every accepted iteration and
// once more at the terminal transition.
type Event struct {
	RunID     string    `json:"runId"`
	State     State     `json:"state"`
	Iteration int       `json:"iteration"`
	F         float64   `json:"f"`
	GradNorm  float64   `json:"gradNorm"`
	Timestamp time.Time `json:"timestamp"`
}

// runState is the manager-internal record of a run.
type runState struct {
	run  Run
	seed []float64 // starting point override, used by resume
	base int       // iteration offset carried over from a checkpoint
	stop atomic.Bool
	done chan struct{}
}

// Manager tracks runs and executes them on background goroutines.
type Manager struct {
	mu   sync.RWMutex
	runs map[string]*runState

	// st receives checkpoints when non-nil.
	st store.Store
	// baseDir is where traces are written. Empty disables tracing.
	baseDir string
	// notify receives progress events when non-nil.
	notify func(Event)
}

// NewManager builds a manager. The store and the notify hook may be nil,
// and baseDir may be empty, which disables checkpointing, notification
// and tracing respectively.
func NewManager(st store.Store, baseDir string, notify func(Event)) *Manager {
	return &Manager{
		runs:    make(map[string]*runState),
		st:      st,
		baseDir: baseDir,
		notify:  notify,
	}
}

// Create registers a new pending run for the given configuration.
func (m *Manager) Create(config Config) Run {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs := &runState{
		run: Run{
			ID:        uuid.New().String(),
			State:     StatePending,
			Config:    config,
			StartTime: time.Now(),
		},
		done: make(chan struct{}),
	}
	m.runs[rs.run.ID] = rs
	return snapshot(rs)
}

// CreateFrom registers a pending run that resumes from a checkpoint.
// The checkpoint seeds the starting point and the iteration count, after
// validating that it belongs to the same objective. The config may relax
// tolerances or change the partition layout.
//
// The run keeps the checkpoint's ID, so its trace and checkpoint keep
// accumulating in the same run directory. Resuming an ID this manager
// still executes is refused.
func (m *Manager) CreateFrom(cp *store.Checkpoint, config Config) (Run, error) {
	if err := cp.Validate(); err != nil {
		return Run{}, fmt.Errorf("cannot resume: %w", err)
	}
	if err := cp.IsCompatible(config); err != nil {
		return Run{}, fmt.Errorf("cannot resume: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, found := m.runs[cp.RunID]; found && !prev.run.State.Terminal() {
		return Run{}, fmt.Errorf("run %s is still %s", cp.RunID, prev.run.State)
	}

	seed := make([]float64, len(cp.X))
	copy(seed, cp.X)

	rs := &runState{
		run: Run{
			ID:        cp.RunID,
			State:     StatePending,
			Config:    config,
			F:         cp.F,
			GradNorm:  cp.GradNorm,
			Iteration: cp.Iteration,
			StartTime: time.Now(),
		},
		seed: seed,
		base: cp.Iteration,
		done: make(chan struct{}),
	}
	m.runs[rs.run.ID] = rs
	return snapshot(rs), nil
}

// Get returns a snapshot of the run with the given ID.
func (m *Manager) Get(id string) (Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rs, found := m.runs[id]
	if !found {
		return Run{}, false
	}
	return snapshot(rs), true
}

// List returns snapshots of all runs, oldest first.
func (m *Manager) List() []Run {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Run, 0, len(m.runs))
	for _, rs := range m.runs {
		out = append(out, snapshot(rs))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Start launches the pending run with the given ID on a background
// goroutine. Use Wait to block until it finishes.
func (m *Manager) Start(id string) error {
	m.mu.Lock()
	rs, found := m.runs[id]
	if !found {
		m.mu.Unlock()
		return fmt.Errorf("run not found: %s", id)
	}
	if rs.run.State != StatePending {
		m.mu.Unlock()
		return fmt.Errorf("run %s is %s, not pending", id, rs.run.State)
	}
	rs.run.State = StateRunning
	m.mu.Unlock()

	go m.execute(rs)
	return nil
}

// Stop requests cancellation of a run. A pending run is cancelled
// immediately, a running run stops at its next iteration boundary.
// Stopping a finished run is a no-op.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	rs, found := m.runs[id]
	if !found {
		m.mu.Unlock()
		return fmt.Errorf("run not found: %s", id)
	}

	switch rs.run.State {
	case StatePending:
		now := time.Now()
		rs.run.State = StateCancelled
		rs.run.EndTime = &now
		m.mu.Unlock()
		m.emit(rs)
		close(rs.done)
		return nil
	case StateRunning:
		rs.stop.Store(true)
		m.mu.Unlock()
		return nil
	default:
		m.mu.Unlock()
		return nil
	}
}

// Wait blocks until the run with the given ID reaches a terminal state
// and returns its final snapshot.
func (m *Manager) Wait(id string) (Run, error) {
	m.mu.RLock()
	rs, found := m.runs[id]
	m.mu.RUnlock()
	if !found {
		return Run{}, fmt.Errorf("run not found: %s", id)
	}

	<-rs.done

	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshot(rs), nil
}

// update mutates a run record under the manager lock.
func (m *Manager) update(rs *runState, fn func(r *Run)) {
	m.mu.Lock()
	fn(&rs.run)
	m.mu.Unlock()
}

// emit sends a progress event to the notify hook, when one is set.
func (m *Manager) emit(rs *runState) {
	if m.notify == nil {
		return
	}
	m.mu.RLock()
	ev := Event{
		RunID:     rs.run.ID,
		State:     rs.run.State,
		Iteration: rs.run.Iteration,
		F:         rs.run.F,
		GradNorm:  rs.run.GradNorm,
		Timestamp: time.Now(),
	}
	m.mu.RUnlock()
	m.notify(ev)
}

// snapshot copies a run record so callers never share mutable state.
// The caller must hold at least the read lock.
func snapshot(rs *runState) Run {
	run := rs.run
	if run.X != nil {
		run.X = append([]float64(nil), run.X...)
	}
	return run
}
