// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package partvec

import "github.com/curioloop/largemin/lbfgs"

// Func computes the objective value from the local shard. Whenever the
// value couples contributions of several ranks, the function reduces
// them itself through c; such reductions make the function a collective
// and every rank must perform them in the same order.
type Func func(c Comm, x []float64) float64

// Grad writes the local gradient shard for the bound point into g,
// under the same collective discipline as Func.
type Grad func(c Comm, g, x []float64)

// Objective adapts a shard-local Func/Grad pair to the optimizer
// evaluation contract. The value of the bound point is computed at
// most once, which also keeps the collective call sequence identical
// on every rank no matter how often Value is re-read.
type Objective struct {
	comm Comm
	fn   Func
	gr   Grad

	x     *Part
	f     float64
	fresh bool

	numFunc int
	numGrad int
}

var _ lbfgs.Objective[*Part] = (*Objective)(nil)

// NewObjective binds a value function and its gradient to a group.
func NewObjective(comm Comm, fn Func, gr Grad) *Objective {
	if fn == nil || gr == nil {
		panic("partvec: objective function and gradient are required")
	}
	return &Objective{comm: comm, fn: fn, gr: gr}
}

// Set binds the evaluation point and drops any cached value.
func (o *Objective) Set(x *Part) {
	o.x, o.fresh = x, false
}

// Value reports f at the bound point. Collective on the first read
// after a Set.
func (o *Objective) Value() float64 {
	if o.x == nil {
		panic("partvec: evaluation before Set")
	}
	if !o.fresh {
		o.f, o.fresh = o.fn(o.comm, o.x.data), true
		o.numFunc++
	}
	return o.f
}

// Gradient writes the local shard of ∇f into out. Collective whenever
// the bound Grad reduces.
func (o *Objective) Gradient(out *Part) {
	if o.x == nil {
		panic("partvec: evaluation before Set")
	}
	out.check(o.x)
	o.gr(o.comm, out.data, o.x.data)
	o.numGrad++
}

// NumFunc reports how many times the value function actually ran.
func (o *Objective) NumFunc() int { return o.numFunc }

// NumGrad reports how many times the gradient function actually ran.
func (o *Objective) NumGrad() int { return o.numGrad }
