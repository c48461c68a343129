// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lbfgs implements a limited-memory BFGS minimizer over an
// abstract vector storage, so the same driver runs unchanged whether
// the optimization variable lives in one slice or is partitioned
// across many cooperating workers.
package lbfgs

// Vector is the storage abstraction the optimizer works on.
// A Vector represents a fixed-length sequence of real numbers whose
// physical layout is opaque: it may be a plain slice or one shard of a
// partitioned vector shared by several workers.
//
// All vectors participating in one optimization run must have the same
// logical dimension and the same partitioning scheme.
//
// When the storage is partitioned, Dot and Norm are collective
// operations: every participant must call them at the same point of
// the algorithm with the same logical arguments, and every participant
// observes the same globally reduced scalar. The optimizer preserves
// this property by deriving all of its control flow from such scalars.
//
// The receiver and the argument may alias only for Copy and Swap;
// a Copy onto itself scales the vector in place. Implementations must
// treat a dimension mismatch as a caller defect and panic.
type Vector[V any] interface {
	// Len reports the logical (global) dimension of the vector.
	Len() int
	// Zero sets every element to 0.
	Zero()
	// Copy sets the receiver to c×src elementwise.
	Copy(src V, c float64)
	// Add accumulates c×src into the receiver elementwise.
	Add(src V, c float64)
	// Dot returns the Euclidean inner product with other.
	Dot(other V) float64
	// Norm returns the Euclidean norm of the vector.
	Norm() float64
	// Swap exchanges the underlying storage with other, O(1) where possible.
	Swap(other V)
}

// Factory creates correctly shaped vectors on demand.
// The optimizer consults it when a workspace is allocated and when a
// correction slot is filled for the first time, never inside the hot
// arithmetic of an iteration.
type Factory[V Vector[V]] interface {
	// Len reports the logical dimension of the vectors the factory produces.
	Len() int
	// New returns a fresh zero-initialized vector.
	New() V
}

// Objective binds a scalar function and its gradient to a vector argument.
//
// Set stores the evaluation point and invalidates any cached results.
// Value and Gradient report the function value and gradient at the most
// recently Set point; they may be called in either order, any number of
// times, and must return identical results for one Set point. Calling
// either before any Set is a caller defect.
//
// The vector passed to Set is borrowed for the duration of one
// Set/Value/Gradient cycle and must not be retained or mutated.
type Objective[V Vector[V]] interface {
	Set(x V)
	Value() float64
	Gradient(out V)
}

// Callback receives progress after every accepted iteration: the
// iteration counter, the new function value, the new gradient norm and
// the new iterate. The vector is borrowed and read-only. Returning true
// requests a cooperative stop; the run then terminates with StopCallback
// and reports the current iterate.
type Callback[V Vector[V]] func(iter int, f, gNorm float64, x V) (stop bool)
