// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package densevec stores optimization vectors in a single contiguous
// slice, backed by level-1 BLAS kernels. It is the storage of choice
// whenever the whole variable fits in one process.
package densevec

import (
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/curioloop/largemin/lbfgs"
)

// Dense is a slice-backed vector satisfying the optimizer contract.
// The zero value is unusable; obtain instances from a Factory.
type Dense struct {
	data []float64
}

var _ lbfgs.Vector[*Dense] = (*Dense)(nil)

// Factory produces Dense vectors of one fixed dimension.
type Factory struct {
	n int
}

var _ lbfgs.Factory[*Dense] = Factory{}

// NewFactory returns a factory for vectors of dimension n.
func NewFactory(n int) Factory {
	if n <= 0 {
		panic("densevec: dimension must greater than 0")
	}
	return Factory{n: n}
}

// Len reports the vector dimension.
func (f Factory) Len() int { return f.n }

// New returns a fresh zeroed vector.
func (f Factory) New() *Dense { return &Dense{data: make([]float64, f.n)} }

// Of returns a fresh vector initialized from v.
func (f Factory) Of(v []float64) *Dense {
	if len(v) != f.n {
		panic("bound check error")
	}
	x := f.New()
	copy(x.data, v)
	return x
}

func (v *Dense) raw() blas64.Vector {
	return blas64.Vector{N: len(v.data), Inc: 1, Data: v.data}
}

func (v *Dense) check(other *Dense) {
	if len(other.data) != len(v.data) {
		panic("bound check error")
	}
}

// Len reports the vector dimension.
func (v *Dense) Len() int { return len(v.data) }

// Zero sets every element to 0.
func (v *Dense) Zero() {
	for i := range v.data {
		v.data[i] = 0
	}
}

// Copy sets the receiver to c×src. Copying a vector onto itself
// scales it in place.
func (v *Dense) Copy(src *Dense, c float64) {
	v.check(src)
	if v != src {
		blas64.Copy(src.raw(), v.raw())
	}
	if c != 1 {
		blas64.Scal(c, v.raw())
	}
}

// Add accumulates c×src into the receiver.
func (v *Dense) Add(src *Dense, c float64) {
	v.check(src)
	blas64.Axpy(c, src.raw(), v.raw())
}

// Dot returns the inner product with other.
func (v *Dense) Dot(other *Dense) float64 {
	v.check(other)
	return blas64.Dot(v.raw(), other.raw())
}

// Norm returns the Euclidean norm.
func (v *Dense) Norm() float64 { return blas64.Nrm2(v.raw()) }

// Swap exchanges the backing storage with other in O(1).
func (v *Dense) Swap(other *Dense) {
	v.check(other)
	v.data, other.data = other.data, v.data
}

// Slice exposes the backing storage without copying.
// The caller must not grow it or hold it across a Swap.
func (v *Dense) Slice() []float64 { return v.data }
