// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgs

import (
	"math"
	"time"
)

// errInfo refines the driver state beyond the public Status:
// warnings steer the main loop, errors only annotate the final report.
type errInfo int

const (
	ok errInfo = iota
	errAscentDir    // directional derivative at x is not negative
	errSearchFailed // trial budget exhausted on a steepest-descent direction
	warnRestartLoop // retry the iteration with refreshed correction memory
	warnSlowSearch  // converged, but the searches backtracked heavily
	warnCutShort    // a terminal task was raised inside the search
)

// iterLoc is the current location of a run: the iterate, its gradient
// and the scalars derived from them.
type iterLoc[V Vector[V]] struct {
	x, g     V
	f        float64
	gNorm    float64
	badWhere string  // set on HaltNonFinite
	badValue float64 // set on HaltNonFinite
}

// iterCtx is the mutable per-run scratch shared by the driver phases.
type iterCtx[V Vector[V]] struct {
	hist hist[V]
	d    V // search direction
	xt   V // trial point, previous iterate after a commit
	gp   V // previous gradient after a commit
	gt   V // trial gradient, only with curvature checking

	iter      int
	totalEval int
	totalGrad int
	panicked  any

	gd      float64 // directional derivative gᵀd
	dNorm   float64 // ‖d‖
	stp     float64 // last accepted step length
	fOld    float64 // function value before the last accepted step
	numBack int     // rejected trials in the last search
}

func (c *iterCtx[V]) init(vec Factory[V], m int, wolfe bool) {
	c.d, c.xt, c.gp = vec.New(), vec.New(), vec.New()
	if wolfe {
		c.gt = vec.New()
	}
	c.hist.init(vec, m)
}

func (c *iterCtx[V]) clear() {
	c.hist.reset()
	c.hist.skipped = 0
	c.iter, c.totalEval, c.totalGrad = 0, 0, 0
	c.panicked = nil
	c.gd, c.dNorm, c.stp, c.fOld = zero, zero, zero, zero
	c.numBack = 0
}

type iterDriver[V Vector[V]] struct {
	optimizer *Optimizer[V]
	workspace *Workspace[V]
	location  *iterLoc[V]
	start     time.Time
}

// mainLoop drives one minimization run and returns its terminal status.
//
// Each pass computes a quasi-Newton direction from the correction
// memory, locates an acceptable step along it, commits the new iterate
// and folds the observed displacement back into the memory. A failed
// pass refreshes the memory and retries from a steepest-descent
// direction before giving up.
func (d *iterDriver[V]) mainLoop() (task Status) {

	o, w, loc := d.optimizer, d.workspace, d.location
	ctx, log := &w.iterCtx, &o.logger

	ctx.clear()
	d.start = time.Now()
	d.printInit()

	if task = d.nextLocation(); task == iterLoop {
		task = d.checkStart()
		if log.enable(LogEval) {
			log.log("At iterate%5d    f= %12.5e    |g|= %12.5e\n", ctx.iter, loc.f, loc.gNorm)
		}
	}

	info := ok
	for task == iterLoop {

		if info != ok {
			info = ok
			ctx.hist.reset()
			if log.enable(LogLast) {
				log.log("Refreshing LBFGS memory and restarting iteration.\n")
			}
		}

		if log.enable(LogTrace) {
			log.log("\n\nITERATION %5d\n", ctx.iter+1)
		}

		d.searchDirection()
		if info = d.searchOptimalStep(&task); info != ok {
			continue
		}

		d.updateCorrection()
		task = d.newIteration(task)
		task = d.invokeCallback(task)
		task = d.checkConvergence(task)
		if task == ConvFuncDelta && ctx.numBack >= searchBackSlow {
			info = warnSlowSearch
		}
		d.printIter(task)
	}

	d.printExit(task, info)
	return
}

// nextLocation evaluates the objective and its gradient at the current
// iterate behind the recover fence.
func (d *iterDriver[V]) nextLocation() (task Status) {
	w, loc := d.workspace, d.location
	defer func() {
		if r := recover(); r != nil {
			w.panicked, task = r, HaltEvalPanic
		}
	}()
	d.optimizer.eval.Set(loc.x)
	w.totalEval++
	loc.f = d.optimizer.eval.Value()
	w.totalGrad++
	d.optimizer.eval.Gradient(loc.g)
	return iterLoop
}

// checkStart validates the starting location and applies the gradient
// test before the first iteration, so an already-optimal start returns
// immediately without touching the line search.
func (d *iterDriver[V]) checkStart() Status {
	o, loc := d.optimizer, d.location
	if math.IsInf(loc.f, 0) || math.IsNaN(loc.f) {
		loc.badWhere, loc.badValue = "function", loc.f
		return HaltNonFinite
	}
	loc.gNorm = loc.g.Norm()
	if math.IsInf(loc.gNorm, 0) || math.IsNaN(loc.gNorm) {
		loc.badWhere, loc.badValue = "gradient", loc.gNorm
		return HaltNonFinite
	}
	if loc.gNorm <= o.stop.GradTolerance {
		return ConvGradNorm
	}
	return iterLoop
}

// searchDirection prepares the next line search: the quasi-Newton
// direction, its norm and the directional derivative.
func (d *iterDriver[V]) searchDirection() {
	w, loc := d.workspace, d.location
	ctx := &w.iterCtx
	ctx.hist.direction(loc.g, ctx.d)
	ctx.dNorm = ctx.d.Norm()
	ctx.gd = loc.g.Dot(ctx.d)
}

// updateCorrection folds the accepted displacement into the correction
// memory. The previous iterate and gradient were parked in xt and gp by
// the line search commit.
func (d *iterDriver[V]) updateCorrection() {
	w, loc := d.workspace, d.location
	ctx, log := &w.iterCtx, &d.optimizer.logger
	sy, yy, kept := ctx.hist.insert(loc.x, ctx.xt, loc.g, ctx.gp)
	if !kept && log.enable(LogEval) {
		log.log("Skipping L-BFGS update. sy: %f, yy: %f\n", sy, yy)
	}
}

func (d *iterDriver[V]) newIteration(task Status) Status {
	o, w := d.optimizer, d.workspace
	w.iter++
	if task == iterLoop && w.iter >= o.stop.MaxIterations {
		task = StopIterLimit
	}
	if task == iterLoop && w.totalEval >= o.stop.MaxEvaluations {
		task = StopEvalLimit
	}
	return task
}

func (d *iterDriver[V]) invokeCallback(task Status) Status {
	o, w, loc := d.optimizer, d.workspace, d.location
	if o.progress == nil {
		return task
	}
	if o.progress(w.iter, loc.f, loc.gNorm, loc.x) && task == iterLoop {
		task = StopCallback
	}
	return task
}

// checkConvergence applies the gradient-norm and relative-reduction
// tests. A satisfied test overrides a pending iteration or evaluation
// limit, so a run that converges on its last permitted iteration still
// reports convergence. A callback stop is never overridden.
func (d *iterDriver[V]) checkConvergence(task Status) Status {
	o, w, loc := d.optimizer, d.workspace, d.location
	ctx := &w.iterCtx
	if task == StopCallback {
		return task
	}
	if loc.gNorm <= o.stop.GradTolerance {
		task = ConvGradNorm
	} else if math.Abs(loc.f-ctx.fOld) <= o.stop.Epsilon*math.Max(one, math.Abs(ctx.fOld)) {
		task = ConvFuncDelta
	}
	return task
}

func (d *iterDriver[V]) printInit() {
	o := d.optimizer
	log := &o.logger
	if !log.enable(LogLast) {
		return
	}
	log.log("RUNNING THE L-BFGS CODE\n")
	log.log("\n           * * *\n")
	log.log("\nMachine precision = %10.3e\n", epsmch)
	log.log(" N = %12d    M = %12d\n", o.n, o.m)
	if log.enable(LogEval) {
		log.out("RUNNING THE L-BFGS CODE\n")
		log.out("\nMachine precision = %10.3e\n", epsmch)
		log.out(" N = %12d    M = %12d\n", o.n, o.m)
		log.out("\n%4s %5s %5s %9s %9s %12s %12s\n",
			"it", "nf", "back", "step", "stepl", "|g|", "f")
	}
}

func (d *iterDriver[V]) printIter(task Status) {
	o, w, loc := d.optimizer, d.workspace, d.location
	ctx, log := &w.iterCtx, &o.logger
	if !log.enable(LogLast) {
		return
	}
	stepl := ctx.stp * ctx.dNorm
	if log.enable(LogTrace) {
		log.log("\nLINE SEARCH %d times; norm of step = %12.5e\n", ctx.numBack, stepl)
		log.log("At iterate%5d    f= %12.5e    |g|= %12.5e\n", ctx.iter, loc.f, loc.gNorm)
	} else if log.enable(LogEval) {
		if ctx.iter%int(log.Level) == 0 || task != iterLoop {
			log.log("At iterate%5d    f= %12.5e    |g|= %12.5e\n", ctx.iter, loc.f, loc.gNorm)
		}
	} else if task != iterLoop {
		log.log("At iterate%5d    f= %12.5e    |g|= %12.5e\n", ctx.iter, loc.f, loc.gNorm)
	}
	if log.enable(LogEval) {
		log.out("%4d %5d %5d %9.2e %9.2e %12.5e %12.5e\n",
			ctx.iter, ctx.totalEval, ctx.numBack, ctx.stp, stepl, loc.gNorm, loc.f)
	}
}

func (d *iterDriver[V]) printExit(task Status, info errInfo) {
	o, w, loc := d.optimizer, d.workspace, d.location
	ctx, log := &w.iterCtx, &o.logger
	if !log.enable(LogLast) {
		return
	}

	log.log("\n           * * *\n")
	log.log("\nTit   = total number of iterations\n")
	log.log("Tnf   = total number of function evaluations\n")
	log.log("Tng   = total number of gradient evaluations\n")
	log.log("Skip  = number of BFGS updates skipped\n")
	log.log("|g|   = norm of the final gradient\n")
	log.log("F     = final function value\n")
	log.log("\n           * * *\n")

	log.log("\n%5s %6s %6s %6s %6s %10s %14s\n", "N", "Tit", "Tnf", "Tng", "Skip", "|g|", "F")
	log.log("%5d %6d %6d %6d %6d %10.3e %14.6e\n",
		o.n, ctx.iter, ctx.totalEval, ctx.totalGrad, ctx.hist.skipped, loc.gNorm, loc.f)

	log.log("\n%s\n", task)
	switch info {
	case errAscentDir:
		log.log("\n Derivative >= 0, backtracking line search impossible.")
		log.log("\n Possible causes: 1 error in function or gradient evaluation;")
		log.log("\n                  2 rounding errors dominate computation.\n")
	case errSearchFailed:
		log.log("\n Line search cannot locate an adequate point after %d trials.\n", o.search.MaxTrials)
	case warnSlowSearch:
		log.log("\n Warning:  more than %d backtracking steps in the last line search.\n", searchBackSlow)
	}
	log.log("\n Total User time %s\n", time.Since(d.start).Round(time.Microsecond))
}
