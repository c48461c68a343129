// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"fmt"
	"math"
	"time"
)

// RunConfig is the checkpoint copy of a run configuration.
// Keeping a copy here avoids an import cycle with the packages that
// launch runs, and lets resume validate compatibility.
type RunConfig struct {
	// Problem is the catalog name of the objective family.
	Problem string `json:"problem"`
	// Dim is the global problem dimension.
	Dim int `json:"dim"`
	// Memory is the number of correction pairs the minimizer keeps.
	Memory int `json:"memory"`
	// Epsilon is the relative objective reduction tolerance.
	Epsilon float64 `json:"epsilon"`
	// GradTol is the gradient norm tolerance.
	GradTol float64 `json:"gradTol"`
	// MaxIter caps the iteration count of one run.
	MaxIter int `json:"maxIter"`
	// Parts is the number of SPMD ranks sharing the vector (0 or 1 means dense).
	Parts int `json:"parts,omitempty"`
	// CheckpointEvery saves a checkpoint every N iterations (0 disables).
	CheckpointEvery int `json:"checkpointEvery,omitempty"`
	// Wolfe overrides the curvature tolerance of the line search (0 keeps the default).
	Wolfe float64 `json:"wolfe,omitempty"`
	// WarmStart seeds each line search with the previous accepted step length.
	WarmStart bool `json:"warmStart,omitempty"`
}

// Checkpoint is a saved run state that can be resumed later.
//
// The checkpoint holds the current iterate, not the correction history:
// a resumed run restarts from X with an empty quasi-Newton memory and
// rebuilds its curvature pairs within a few iterations. This keeps the
// format independent of the minimizer internals at the cost of a short
// warm-up after resume.
type Checkpoint struct {
	// RunID identifies the run this state belongs to.
	RunID string `json:"runId"`
	// X is the current iterate over the global dimension.
	X []float64 `json:"x"`
	// F is the objective value at X.
	F float64 `json:"f"`
	// GradNorm is the gradient norm at X.
	GradNorm float64 `json:"gradNorm"`
	// Iteration counts the minimizer iterations completed so far.
	Iteration int `json:"iteration"`
	// Timestamp records when this checkpoint was created.
	Timestamp time.Time `json:"timestamp"`
	// Config is the configuration the run was started with.
	Config RunConfig `json:"config"`
}

// CheckpointInfo is checkpoint metadata without the iterate payload,
// used to list runs cheaply.
type CheckpointInfo struct {
	RunID     string    `json:"runId"`
	F         float64   `json:"f"`
	GradNorm  float64   `json:"gradNorm"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
	Problem   string    `json:"problem"`
	Dim       int       `json:"dim"`
}

// NewCheckpoint builds a checkpoint from run state, stamping the current time.
func NewCheckpoint(runID string, x []float64, f, gradNorm float64, iteration int, config RunConfig) *Checkpoint {
	return &Checkpoint{
		RunID:     runID,
		X:         x,
		F:         f,
		GradNorm:  gradNorm,
		Iteration: iteration,
		Timestamp: time.Now(),
		Config:    config,
	}
}

// ToInfo strips the iterate payload from a checkpoint.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		RunID:     c.RunID,
		F:         c.F,
		GradNorm:  c.GradNorm,
		Iteration: c.Iteration,
		Timestamp: c.Timestamp,
		Problem:   c.Config.Problem,
		Dim:       c.Config.Dim,
	}
}

// Validate checks that the checkpoint is complete and internally consistent.
func (c *Checkpoint) Validate() error {
	switch {
	case c.RunID == "":
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	case len(c.X) == 0:
		return &ValidationError{Field: "X", Reason: "cannot be empty"}
	case math.IsNaN(c.F):
		return &ValidationError{Field: "F", Reason: "cannot be NaN"}
	case math.IsNaN(c.GradNorm) || c.GradNorm < 0:
		return &ValidationError{Field: "GradNorm", Reason: "must be a non-negative number"}
	case c.Iteration < 0:
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	case c.Timestamp.IsZero():
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	case c.Config.Problem == "":
		return &ValidationError{Field: "Config.Problem", Reason: "cannot be empty"}
	case c.Config.Dim <= 0:
		return &ValidationError{Field: "Config.Dim", Reason: "must be positive"}
	case c.Config.Memory <= 0:
		return &ValidationError{Field: "Config.Memory", Reason: "must be positive"}
	case c.Config.MaxIter <= 0:
		return &ValidationError{Field: "Config.MaxIter", Reason: "must be positive"}
	case c.Config.Epsilon < 0 || c.Config.GradTol < 0:
		return &ValidationError{Field: "Config", Reason: "tolerances cannot be negative"}
	case len(c.X) != c.Config.Dim:
		return &ValidationError{
			Field:  "X",
			Reason: fmt.Sprintf("length mismatch: got %d values for dimension %d", len(c.X), c.Config.Dim),
		}
	}
	return nil
}

// ValidationError reports an inconsistent checkpoint field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks whether the checkpoint can seed a run with the given
// configuration. Only the objective identity must match: tolerances, memory
// and the partition layout may change between the original run and a resume.
func (c *Checkpoint) IsCompatible(config RunConfig) error {
	if c.Config.Problem != config.Problem {
		return &CompatibilityError{
			Field:    "Problem",
			Expected: c.Config.Problem,
			Actual:   config.Problem,
		}
	}
	if c.Config.Dim != config.Dim {
		return &CompatibilityError{
			Field:    "Dim",
			Expected: fmt.Sprintf("%d", c.Config.Dim),
			Actual:   fmt.Sprintf("%d", config.Dim),
		}
	}
	return nil
}

// CompatibilityError reports a checkpoint that cannot seed the requested run.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
