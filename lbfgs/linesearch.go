// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgs

import "math"

const (
	searchStepMax  = 1.0e10 // cap for the very first trial step
	searchDecrease = 1.0e-4 // default Armijo sufficient-decrease constant
	searchShrink   = 0.5    // default contraction factor
	searchBackExit = 20     // default number of trials before giving up
	searchBackSlow = 10     // trials per search considered suspiciously slow
)

// searchOptimalStep finds a step length t along the current direction d
// satisfying the sufficient-decrease condition
//
//	f(x + t·d) ≤ f(x) + cᵃ·t·gᵀd
//
// and, when curvature checking is enabled, the strong Wolfe condition
//
//	|g(x + t·d)ᵀd| ≤ cᵇ·|gᵀd|
//
// by backtracking: start from t = 1 (scaled by 1/‖d‖ on the first
// iteration, or warm-started from the last accepted step) and shrink
// after every rejected trial. A NaN trial value fails the test and is
// shrunk past like any other rejection.
//
// On success the accepted point is committed into the location, the
// previous iterate and gradient are preserved for the correction
// update, and the fresh gradient is evaluated. When no acceptable step
// exists the caller either refreshes the correction memory and retries
// (warnRestartLoop) or gives up on a bare steepest-descent direction.
//
// Trial acceptance depends only on globally reduced scalars, so every
// participant of a partitioned run walks the same trial sequence.
func (d *iterDriver[V]) searchOptimalStep(task *Status) (info errInfo) {

	o, w, loc := d.optimizer, d.workspace, d.location
	ctx, search := &w.iterCtx, &o.search

	if !(ctx.gd < zero) { // not a descent direction (or NaN slope)
		if ctx.hist.count > 0 {
			return warnRestartLoop
		}
		*task = StopLineSearch
		return errAscentDir
	}

	// With curvature checking the first trial must stay at 1: the strong
	// Wolfe condition always fails as t → 0, and backtracking only shrinks.
	wolfe := search.Curvature > zero
	stp := one
	if ctx.iter == 0 && !wolfe {
		stp = math.Min(one/ctx.dNorm, searchStepMax)
	} else if search.WarmStart && ctx.stp > zero {
		stp = ctx.stp
	}

	ctx.numBack = 0
	for {
		if w.totalEval >= o.stop.MaxEvaluations {
			*task = StopEvalLimit
			return warnCutShort
		}

		ctx.xt.Copy(loc.x, one)
		ctx.xt.Add(ctx.d, stp)
		ft, good := d.evalValue(ctx.xt)
		if !good {
			*task = HaltEvalPanic
			return warnCutShort
		}

		accept := ft <= loc.f+search.Decrease*stp*ctx.gd // NaN compares false
		if accept && wolfe {
			if !d.evalGradient(ctx.gt) {
				*task = HaltEvalPanic
				return warnCutShort
			}
			accept = math.Abs(ctx.gt.Dot(ctx.d)) <= search.Curvature*math.Abs(ctx.gd)
		}

		if accept {
			if math.IsInf(ft, 0) {
				loc.badWhere, loc.badValue = "function", ft
				*task = HaltNonFinite
				return warnCutShort
			}
			ctx.fOld, loc.f = loc.f, ft
			ctx.stp = stp
			loc.x.Swap(ctx.xt) // xt now holds the previous iterate
			loc.g.Swap(ctx.gp) // gp now holds the previous gradient
			if wolfe {
				loc.g.Copy(ctx.gt, one)
			} else if !d.evalGradient(loc.g) {
				*task = HaltEvalPanic
				return warnCutShort
			}
			loc.gNorm = loc.g.Norm()
			if math.IsInf(loc.gNorm, 0) || math.IsNaN(loc.gNorm) {
				loc.badWhere, loc.badValue = "gradient", loc.gNorm
				*task = HaltNonFinite
				return warnCutShort
			}
			return ok
		}

		ctx.numBack++
		if ctx.numBack >= search.MaxTrials {
			if ctx.hist.count > 0 {
				return warnRestartLoop
			}
			*task = StopLineSearch
			return errSearchFailed
		}
		stp *= search.Shrink
	}
}

// evalValue binds the objective to x and evaluates its value behind a
// recover fence, so a panicking objective aborts the run instead of
// unwinding through the driver.
func (d *iterDriver[V]) evalValue(x V) (f float64, ok bool) {
	w := d.workspace
	defer func() {
		if r := recover(); r != nil {
			w.panicked, ok = r, false
		}
	}()
	d.optimizer.eval.Set(x)
	w.totalEval++
	return d.optimizer.eval.Value(), true
}

// evalGradient evaluates the gradient at the point bound by the last
// evalValue call, behind the same recover fence.
func (d *iterDriver[V]) evalGradient(out V) (ok bool) {
	w := d.workspace
	defer func() {
		if r := recover(); r != nil {
			w.panicked, ok = r, false
		}
	}()
	w.totalGrad++
	d.optimizer.eval.Gradient(out)
	return true
}
