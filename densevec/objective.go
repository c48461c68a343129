// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package densevec

import "github.com/curioloop/largemin/lbfgs"

// Func computes the objective value at x.
type Func func(x []float64) float64

// Grad writes the gradient at x into g. Both slices have equal length
// and g holds no meaningful content on entry.
type Grad func(g, x []float64)

// Objective adapts a Func/Grad pair to the optimizer evaluation
// contract. The value of the bound point is computed at most once, so
// repeated Value calls between two Set calls are free.
type Objective struct {
	fn Func
	gr Grad

	x     *Dense
	f     float64
	fresh bool

	numFunc int
	numGrad int
}

var _ lbfgs.Objective[*Dense] = (*Objective)(nil)

// NewObjective binds a value function and its gradient.
func NewObjective(fn Func, gr Grad) *Objective {
	if fn == nil || gr == nil {
		panic("densevec: objective function and gradient are required")
	}
	return &Objective{fn: fn, gr: gr}
}

// Set binds the evaluation point and drops any cached value.
func (o *Objective) Set(x *Dense) {
	o.x, o.fresh = x, false
}

// Value reports f at the bound point.
func (o *Objective) Value() float64 {
	if o.x == nil {
		panic("densevec: evaluation before Set")
	}
	if !o.fresh {
		o.f, o.fresh = o.fn(o.x.data), true
		o.numFunc++
	}
	return o.f
}

// Gradient writes ∇f at the bound point into out.
func (o *Objective) Gradient(out *Dense) {
	if o.x == nil {
		panic("densevec: evaluation before Set")
	}
	out.check(o.x)
	o.gr(out.data, o.x.data)
	o.numGrad++
}

// NumFunc reports how many times the value function actually ran.
func (o *Objective) NumFunc() int { return o.numFunc }

// NumGrad reports how many times the gradient function actually ran.
func (o *Objective) NumGrad() int { return o.numGrad }
