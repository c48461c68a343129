// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package partvec

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/curioloop/largemin/lbfgs"
)

// Part is one rank's shard of a partitioned vector.
//
// Elementwise operations touch only the local shard. Dot and Norm are
// collectives: every rank must call them at the same step, and every
// rank receives the same globally reduced scalar. Len reports the
// global dimension, so the optimizer never needs to know the layout.
type Part struct {
	comm Comm
	data []float64
	n    int // global dimension
}

var _ lbfgs.Vector[*Part] = (*Part)(nil)

// Factory produces shards of one fixed partitioning.
type Factory struct {
	comm   Comm
	local  int
	offset int
	global int
}

var _ lbfgs.Factory[*Part] = Factory{}

// NewFactory agrees on a partitioning: each rank contributes the size
// of its local shard and learns the global dimension and its own
// offset. This is a collective call.
func NewFactory(comm Comm, local int) Factory {
	if local < 0 {
		panic("partvec: local size must not less than 0")
	}
	contrib := make([]float64, comm.Size())
	contrib[comm.Rank()] = float64(local)
	sizes := comm.AllReduceSum(OpLen, contrib...)

	global, offset := 0, 0
	for r, sz := range sizes {
		global += int(sz)
		if r < comm.Rank() {
			offset += int(sz)
		}
	}
	if global <= 0 {
		panic("partvec: global dimension must greater than 0")
	}
	return Factory{comm: comm, local: local, offset: offset, global: global}
}

// Len reports the global dimension.
func (f Factory) Len() int { return f.global }

// Local reports the size of this rank's shard.
func (f Factory) Local() int { return f.local }

// Offset reports the global index of this rank's first element.
func (f Factory) Offset() int { return f.offset }

// Comm returns the reduction handle the factory was built on.
func (f Factory) Comm() Comm { return f.comm }

// New returns a fresh zeroed shard.
func (f Factory) New() *Part {
	return &Part{comm: f.comm, data: make([]float64, f.local), n: f.global}
}

// Of returns a fresh shard initialized from v.
func (f Factory) Of(v []float64) *Part {
	if len(v) != f.local {
		panic("bound check error")
	}
	x := f.New()
	copy(x.data, v)
	return x
}

func (v *Part) check(other *Part) {
	if len(other.data) != len(v.data) || other.n != v.n {
		panic("bound check error")
	}
}

// Len reports the global dimension of the partitioned vector.
func (v *Part) Len() int { return v.n }

// Zero sets the local shard to 0.
func (v *Part) Zero() {
	for i := range v.data {
		v.data[i] = 0
	}
}

// Copy sets the receiver shard to c×src. Copying a shard onto itself
// scales it in place.
func (v *Part) Copy(src *Part, c float64) {
	v.check(src)
	if v != src {
		copy(v.data, src.data)
	}
	if c != 1 {
		floats.Scale(c, v.data)
	}
}

// Add accumulates c×src into the receiver shard.
func (v *Part) Add(src *Part, c float64) {
	v.check(src)
	floats.AddScaled(v.data, c, src.data)
}

// Dot returns the global inner product. Collective.
func (v *Part) Dot(other *Part) float64 {
	v.check(other)
	local := floats.Dot(v.data, other.data)
	return v.comm.AllReduceSum(OpDot, local)[0]
}

// Norm returns the global Euclidean norm. Collective.
func (v *Part) Norm() float64 {
	local := floats.Dot(v.data, v.data)
	return math.Sqrt(v.comm.AllReduceSum(OpNorm, local)[0])
}

// Swap exchanges the local storage with other in O(1).
func (v *Part) Swap(other *Part) {
	v.check(other)
	v.data, other.data = other.data, v.data
}

// Slice exposes the local shard without copying.
// The caller must not grow it or hold it across a Swap.
func (v *Part) Slice() []float64 { return v.data }
