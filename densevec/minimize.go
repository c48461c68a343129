// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package densevec

import (
	"errors"

	"github.com/curioloop/largemin/lbfgs"
)

// Tolerances bundles the stopping tolerances of Minimize.
// Zero fields select the optimizer defaults.
type Tolerances struct {
	Epsilon float64 // relative function-decrease tolerance
	GradTol float64 // gradient-norm tolerance
}

// Progress mirrors the optimizer callback on plain slices.
// The slice is borrowed and read-only. Returning true stops the run.
type Progress func(iter int, f, gNorm float64, x []float64) (stop bool)

// Minimize runs the limited-memory minimizer over a slice-backed
// problem in one call: keep m correction pairs, start from start and
// iterate at most maxIter times.
//
// It returns the best point found, its value and the terminal status.
// The error is non-nil only when the setup is invalid or the run hits
// a fatal defect; an exhausted iteration budget or a stuck line search
// still returns the best point with a nil error.
func Minimize(fn Func, gr Grad, start []float64, m int, tol Tolerances,
	maxIter int, progress Progress) ([]float64, float64, lbfgs.Status, error) {

	if len(start) == 0 {
		return nil, 0, 0, errors.New("densevec: starting point is empty")
	}
	fac := NewFactory(len(start))

	var cb lbfgs.Callback[*Dense]
	if progress != nil {
		cb = func(iter int, f, gNorm float64, x *Dense) bool {
			return progress(iter, f, gNorm, x.data)
		}
	}

	p := lbfgs.Problem[*Dense]{
		M:    m,
		Vec:  fac,
		Eval: NewObjective(fn, gr),
		Stop: lbfgs.Termination{
			MaxIterations: maxIter,
			Epsilon:       tol.Epsilon,
			GradTolerance: tol.GradTol,
		},
		Progress: cb,
	}

	s, err := p.New(nil)
	if err != nil {
		return nil, 0, 0, err
	}

	r, err := s.Fit(fac.Of(start), s.Init())
	var best []float64
	if r.X != nil {
		best = r.X.Slice()
	}
	return best, r.F, r.Status, err
}
