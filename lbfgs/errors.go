// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgs

import "fmt"

// DimensionError reports a starting point whose dimension does not
// match the problem factory. It is detected before any evaluation,
// so the returned result carries no iterate.
type DimensionError struct {
	Want, Got int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("lbfgs: dimension mismatch: x has length %d, problem expects %d", e.Got, e.Want)
}

// NonFiniteError reports a NaN or Inf value observed at an accepted
// iterate. Non-finite trial values inside the line search are handled
// by backtracking and never surface as errors.
type NonFiniteError struct {
	Where string // "function" or "gradient"
	Value float64
}

func (e *NonFiniteError) Error() string {
	return fmt.Sprintf("lbfgs: non-finite %s value %v at accepted iterate", e.Where, e.Value)
}

// EvalPanicError reports a panic raised by the objective during
// evaluation. The recovered value is preserved in Value.
type EvalPanicError struct {
	Value any
}

func (e *EvalPanicError) Error() string {
	return fmt.Sprintf("lbfgs: objective evaluation panic: %v", e.Value)
}
