// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store persists minimization runs on the filesystem.
//
// A run owns a directory <baseDir>/runs/<runID>/ holding a checkpoint.json
// with the latest saved iterate and a trace.jsonl with the per-iteration
// progress history.
package store

// Store is the persistence boundary for run checkpoints.
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveCheckpoint saves a checkpoint for the given run, replacing any
	// previous one. The write must be atomic so that a crash never leaves
	// a truncated checkpoint behind.
	SaveCheckpoint(runID string, checkpoint *Checkpoint) error

	// LoadCheckpoint retrieves the checkpoint for the given run.
	// Returns ErrNotFound if the run has no checkpoint.
	LoadCheckpoint(runID string) (*Checkpoint, error)

	// ListCheckpoints returns metadata for every stored checkpoint.
	ListCheckpoints() ([]CheckpointInfo, error)

	// DeleteCheckpoint removes the checkpoint and trace of the given run.
	// Returns ErrNotFound if the run has no stored state.
	DeleteCheckpoint(runID string) error
}

// ErrNotFound is returned when a requested run has no stored state.
// Use errors.Is(err, ErrNotFound) to check for it.
var ErrNotFound = &NotFoundError{}

// NotFoundError reports a missing checkpoint.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "checkpoint not found: " + e.RunID
	}
	return "checkpoint not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
