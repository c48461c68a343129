// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgs

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	zero = 0.0
	one  = 1.0
)

// epsmch is the machine precision for float64.
var epsmch = math.Nextafter(1, 2) - 1

const (
	defaultMemory  = 10
	defaultMaxIter = 1000000
	defaultEpsilon = 1.0e-3
	defaultGradTol = 1.0e-5
)

// LogLevel controls the verbosity of iteration printing.
//
//   - LogNoop : no output at all
//   - LogLast : print one summary at the last iteration
//   - LogEval : print f and |g| every Level iterations
//   - LogTrace : print details of every iteration
type LogLevel int

const (
	LogNoop  LogLevel = -1
	LogLast  LogLevel = 0
	LogEval  LogLevel = 1
	LogTrace LogLevel = 99
)

// Logger writes optimization progress.
// Msg receives human-readable messages and Out receives the
// one-line-per-iteration table.
type Logger struct {
	Level LogLevel
	Msg   io.Writer
	Out   io.Writer
}

func (log *Logger) enable(lv LogLevel) bool {
	return log.Level >= lv
}

func (log *Logger) log(format string, a ...any) {
	_, _ = fmt.Fprintf(log.Msg, format, a...)
}

func (log *Logger) out(format string, a ...any) {
	_, _ = fmt.Fprintf(log.Out, format, a...)
}

// Termination bundles the stopping tolerances of a run.
// A zero value selects the defaults noted on each field.
type Termination struct {
	// MaxIterations caps the number of accepted iterations (default 1000000).
	MaxIterations int
	// MaxEvaluations caps the number of objective value evaluations
	// (default unlimited).
	MaxEvaluations int
	// Epsilon stops the run once |f − fOld| ≤ Epsilon·max(1,|fOld|)
	// (default 1e-3).
	Epsilon float64
	// GradTolerance stops the run once ‖g‖ ≤ GradTolerance (default 1e-5).
	GradTolerance float64
}

// SearchTol tunes the backtracking line search.
// A zero field selects the default noted on it.
type SearchTol struct {
	// Decrease is the sufficient-decrease constant of the Armijo
	// condition f(x+t·d) ≤ f(x) + Decrease·t·gᵀd (default 1e-4).
	Decrease float64
	// Curvature, when positive, additionally enforces the strong Wolfe
	// condition |g(x+t·d)ᵀd| ≤ Curvature·|gᵀd| at the cost of one
	// gradient evaluation per trial (default 0, disabled).
	Curvature float64
	// Shrink is the contraction factor applied after a rejected trial
	// (default 0.5).
	Shrink float64
	// MaxTrials caps the number of trial steps per search (default 20).
	MaxTrials int
	// WarmStart begins each search from the previously accepted step
	// length instead of 1.
	WarmStart bool
}

// Problem describes one minimization task min f(𝐱) for a smooth
// function f whose gradient is available.
type Problem[V Vector[V]] struct {
	// M is the number of correction pairs kept in memory (default 10).
	M int
	// Vec produces vectors of the problem dimension.
	Vec Factory[V]
	// Eval provides the objective value and gradient.
	Eval Objective[V]
	// Stop holds the termination tolerances.
	Stop Termination
	// Search tunes the line search (nil selects the defaults).
	Search *SearchTol
	// Progress, when non-nil, is invoked after every accepted iteration.
	Progress Callback[V]
}

// Optimizer holds an immutable, validated problem specification.
// One Optimizer may drive many Fit runs, sequentially or concurrently,
// each with its own Workspace.
type Optimizer[V Vector[V]] struct {
	iterSpec[V]
}

// Workspace holds the scratch vectors and correction memory of one run.
// A Workspace is reusable across sequential Fit calls but must never be
// shared by concurrent ones.
type Workspace[V Vector[V]] struct {
	n, m int
	iterCtx[V]
}

// Summary reports the terminal condition and effort counters of a run.
type Summary struct {
	Status  Status
	NumIter int
	NumEval int
	NumGrad int
}

// Result carries the outcome of one Fit run.
// X and G remain valid after the workspace is reused.
type Result[V Vector[V]] struct {
	OK   bool    // a convergence test was satisfied
	F    float64 // best function value found
	X, G V       // best iterate and its gradient (zero until first evaluation)
	Summary
}

type iterSpec[V Vector[V]] struct {
	n, m     int
	vec      Factory[V]
	eval     Objective[V]
	stop     Termination
	search   SearchTol
	progress Callback[V]
	logger   Logger
}

// New validates the problem and binds it to an optimizer.
// Passing a nil logger disables all output.
func (p *Problem[V]) New(logger *Logger) (optimizer *Optimizer[V], err error) {

	if logger == nil {
		logger = &Logger{Level: LogNoop}
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}
	if logger.Out == nil {
		logger.Out = os.Stderr
	}

	m := p.M
	if m == 0 {
		m = defaultMemory
	}

	stop := p.Stop
	if stop.MaxIterations == 0 {
		stop.MaxIterations = defaultMaxIter
	}
	if stop.MaxEvaluations == 0 {
		stop.MaxEvaluations = math.MaxInt
	}
	if stop.Epsilon == 0 {
		stop.Epsilon = defaultEpsilon
	}
	if stop.GradTolerance == 0 {
		stop.GradTolerance = defaultGradTol
	}

	search := SearchTol{Decrease: searchDecrease, Shrink: searchShrink, MaxTrials: searchBackExit}
	if p.Search != nil {
		search = *p.Search
		if search.Decrease == 0 {
			search.Decrease = searchDecrease
		}
		if search.Shrink == 0 {
			search.Shrink = searchShrink
		}
		if search.MaxTrials == 0 {
			search.MaxTrials = searchBackExit
		}
	}

	n := 0
	if p.Vec != nil {
		n = p.Vec.Len()
	}

	switch {
	case p.Vec == nil:
		err = errors.New("vector factory is required")
	case p.Eval == nil:
		err = errors.New("evaluation target is required")
	case n <= 0:
		err = errors.New("problem dimension must greater than 0")
	case m < 0:
		err = errors.New("correction number must greater than 0")
	case stop.MaxIterations < 0:
		err = errors.New("max iteration must greater than 1")
	case stop.MaxEvaluations < 0:
		err = errors.New("max evaluation must greater than 1")
	case stop.Epsilon < 0:
		err = errors.New("accuracy tolerance must not less than 0")
	case stop.GradTolerance < 0:
		err = errors.New("gradient tolerance must not less than 0")
	case search.Decrease <= 0 || search.Decrease >= 1:
		err = errors.New("sufficient decrease constant must between 0 and 1")
	case search.Curvature < 0 || search.Curvature >= 1:
		err = errors.New("curvature constant must between 0 and 1")
	case search.Curvature > 0 && search.Curvature <= search.Decrease:
		err = errors.New("curvature constant must greater than decrease constant")
	case search.Shrink <= 0 || search.Shrink >= 1:
		err = errors.New("shrink factor must between 0 and 1")
	case search.MaxTrials < 0:
		err = errors.New("search trial number must greater than 0")
	}
	if err != nil {
		return
	}

	optimizer = &Optimizer[V]{iterSpec[V]{
		n:        n,
		m:        m,
		vec:      p.Vec,
		eval:     p.Eval,
		stop:     stop,
		search:   search,
		progress: p.Progress,
		logger:   *logger,
	}}
	return
}

// Init allocates a workspace matching the optimizer dimensions.
func (o *Optimizer[V]) Init() *Workspace[V] {
	w := &Workspace[V]{n: o.n, m: o.m}
	w.iterCtx.init(o.vec, o.m, o.search.Curvature > zero)
	return w
}

// Fit minimizes the objective starting from x.
//
// The starting point is copied, never mutated. The returned error is
// non-nil only for the fatal-abort family (dimension mismatch,
// non-finite values, evaluation panic); in every other outcome the
// result alone describes the run, with Result.X holding the best
// iterate found so far even when the run was cut short.
//
// When the vector storage is partitioned, Fit is a collective call:
// every participant must invoke it with the same configuration and the
// shards of the same logical starting point.
func (o *Optimizer[V]) Fit(x V, w *Workspace[V]) (*Result[V], error) {
	if w == nil || w.n != o.n || w.m != o.m {
		panic("workspace not match problem")
	}

	if got := x.Len(); got != o.n {
		res := &Result[V]{Summary: Summary{Status: HaltDimension}}
		return res, &DimensionError{Want: o.n, Got: got}
	}

	loc := &iterLoc[V]{x: o.vec.New(), g: o.vec.New()}
	loc.x.Copy(x, one)

	d := &iterDriver[V]{optimizer: o, workspace: w, location: loc}
	task := d.mainLoop()

	res := &Result[V]{
		OK: task&statusConv > 0,
		F:  loc.f,
		X:  loc.x,
		G:  loc.g,
		Summary: Summary{
			Status:  task,
			NumIter: w.iter,
			NumEval: w.totalEval,
			NumGrad: w.totalGrad,
		},
	}

	var err error
	switch task {
	case HaltNonFinite:
		err = &NonFiniteError{Where: loc.badWhere, Value: loc.badValue}
	case HaltEvalPanic:
		err = &EvalPanicError{Value: w.panicked}
	}
	return res, err
}
