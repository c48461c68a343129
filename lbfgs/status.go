// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgs

// Status encodes the terminal condition of a minimization run.
// The value carries one of three family bits:
//   - statusConv : a convergence test was satisfied
//   - statusStop : iteration was cut short but the iterate is usable
//   - statusHalt : a fatal defect was detected and the run aborted
type Status int

const (
	iterLoop   Status = 0
	statusConv Status = 1 << (4 + iota) // convergence family
	statusStop                          // early-stop family
	statusHalt                          // fatal-abort family
)

const (
	// ConvGradNorm indicates the gradient norm dropped below GradTolerance.
	ConvGradNorm Status = statusConv | (1 + iota)
	// ConvFuncDelta indicates the relative function decrease dropped below Epsilon.
	ConvFuncDelta
)

const (
	// StopIterLimit indicates the iteration counter reached MaxIterations.
	StopIterLimit Status = statusStop | (1 + iota)
	// StopEvalLimit indicates the evaluation counter reached MaxEvaluations.
	StopEvalLimit
	// StopLineSearch indicates the backtracking search could not make progress
	// even after the correction memory was refreshed.
	StopLineSearch
	// StopCallback indicates the progress callback requested a stop.
	StopCallback
)

const (
	// HaltDimension indicates the starting point does not match the factory dimension.
	HaltDimension Status = statusHalt | (1 + iota)
	// HaltNonFinite indicates a NaN or Inf value at an accepted iterate.
	HaltNonFinite
	// HaltEvalPanic indicates the objective panicked during evaluation.
	HaltEvalPanic
)

// Converged reports whether the run satisfied a convergence test.
func (s Status) Converged() bool { return s&statusConv > 0 }

// Stopped reports whether the run ended early with a usable iterate.
func (s Status) Stopped() bool { return s&statusStop > 0 }

// Halted reports whether the run aborted on a fatal defect.
func (s Status) Halted() bool { return s&statusHalt > 0 }

func (s Status) String() string {
	switch s {
	case iterLoop:
		return "IN PROGRESS"
	case ConvGradNorm:
		return "CONVERGENCE: NORM_OF_GRADIENT_<=_GTOL"
	case ConvFuncDelta:
		return "CONVERGENCE: REL_REDUCTION_OF_F_<=_EPSILON"
	case StopIterLimit:
		return "STOP: TOTAL NO. of ITERATIONS REACHED LIMIT"
	case StopEvalLimit:
		return "STOP: TOTAL NO. of f AND g EVALUATIONS EXCEEDS LIMIT"
	case StopLineSearch:
		return "ABNORMAL_TERMINATION_IN_LNSRCH"
	case StopCallback:
		return "STOP: CALLBACK REQUESTED TERMINATION"
	case HaltDimension:
		return "ERROR: X DIMENSION NOT MATCH PROBLEM"
	case HaltNonFinite:
		return "ERROR: NON_FINITE FUNCTION OR GRADIENT VALUE"
	case HaltEvalPanic:
		return "ERROR: PANIC DURING FUNCTION EVALUATION"
	}
	return "UNKNOWN STATUS"
}
