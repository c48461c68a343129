// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problems

import (
	"errors"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

func init() {
	register(Problem{
		Name:  "sphere",
		Doc:   "Separable convex quadratic with minimum at x[i] = i.",
		Build: buildSphere,
	})
	register(Problem{
		Name:  "rosenbrock",
		Doc:   "Chained Rosenbrock valley with minimum at the all-ones point.",
		Build: buildRosenbrock,
	})
	register(Problem{
		Name:  "quadratic",
		Doc:   "Dense random positive definite quadratic form with a fixed seed.",
		Build: buildQuadratic,
	})
	register(Problem{
		Name:  "scaled",
		Doc:   "Quartically flat objective with strongly uneven coordinate scaling.",
		Build: buildScaled,
	})
}

func buildSphere(n int) (Instance, error) {
	if n <= 0 {
		return Instance{}, errors.New("problems: dimension must greater than 0")
	}

	best := make([]float64, n)
	for i := range best {
		best[i] = float64(i)
	}

	fn := func(x []float64) float64 {
		sum := 0.0
		for i, v := range x {
			d := v - float64(i)
			sum += d * d
		}
		return sum / 2
	}
	gr := func(g, x []float64) {
		for i, v := range x {
			g[i] = v - float64(i)
		}
	}

	return Instance{Func: fn, Grad: gr, Start: make([]float64, n), Best: best}, nil
}

func buildRosenbrock(n int) (Instance, error) {
	if n < 2 {
		return Instance{}, errors.New("problems: rosenbrock needs at least two variables")
	}

	start := make([]float64, n)
	best := make([]float64, n)
	for i := range start {
		start[i] = 3.0
		best[i] = 1.0
	}

	fn := func(x []float64) float64 {
		f := 0.25 * (x[0] - 1.0) * (x[0] - 1.0)
		for i := 1; i < n; i++ {
			t := x[i] - x[i-1]*x[i-1]
			f += t * t
		}
		return 4.0 * f
	}
	gr := func(g, x []float64) {
		t1 := x[1] - x[0]*x[0]
		g[0] = 2.0*(x[0]-1.0) - 16.0*x[0]*t1
		for i := 1; i < n-1; i++ {
			t2 := t1
			t1 = x[i+1] - x[i]*x[i]
			g[i] = 8.0*t2 - 16.0*x[i]*t1
		}
		g[n-1] = 8.0 * t1
	}

	return Instance{Func: fn, Grad: gr, Start: start, Best: best}, nil
}

func buildQuadratic(n int) (Instance, error) {
	if n <= 0 {
		return Instance{}, errors.New("problems: dimension must greater than 0")
	}

	rng := rand.New(rand.NewSource(1))
	data := make([]float64, n*n)
	for i := range data {
		data[i] = 2*rng.Float64() - 1
	}
	b := make([]float64, n)
	for i := range b {
		b[i] = 2*rng.Float64() - 1
	}

	// A = MᵀM/n + I is symmetric positive definite with a modest condition number.
	var a mat.SymDense
	a.SymOuterK(1/float64(n), mat.NewDense(n, n, data).T())
	for i := 0; i < n; i++ {
		a.SetSym(i, i, a.At(i, i)+1)
	}

	bv := mat.NewVecDense(n, b)
	best := mat.NewVecDense(n, nil)
	var chol mat.Cholesky
	if !chol.Factorize(&a) {
		return Instance{}, errors.New("problems: quadratic form is not positive definite")
	}
	if err := chol.SolveVecTo(best, bv); err != nil {
		return Instance{}, err
	}

	fn := func(x []float64) float64 {
		xv := mat.NewVecDense(n, x)
		ax := mat.NewVecDense(n, nil)
		ax.MulVec(&a, xv)
		return 0.5*mat.Dot(ax, xv) - mat.Dot(bv, xv)
	}
	gr := func(g, x []float64) {
		xv := mat.NewVecDense(n, x)
		gv := mat.NewVecDense(n, g)
		gv.MulVec(&a, xv)
		gv.AddScaledVec(gv, -1, bv)
	}

	return Instance{Func: fn, Grad: gr, Start: make([]float64, n), Best: best.RawVector().Data}, nil
}

func buildScaled(n int) (Instance, error) {
	if n <= 0 {
		return Instance{}, errors.New("problems: dimension must greater than 0")
	}

	start := make([]float64, n)
	best := make([]float64, n)
	for i := range start {
		start[i] = 1000.0
		best[i] = float64(i)
	}

	fn := func(x []float64) float64 {
		s := 0.0
		for i, v := range x {
			c := float64(i)
			d := v - c
			s += d * d / (2 * (c + 1) * (c + 1))
		}
		return s * s / 2
	}
	gr := func(g, x []float64) {
		t := 0.0
		for i, v := range x {
			c := float64(i)
			d := v - c
			t += d * d / ((c + 1) * (c + 1))
		}
		for i, v := range x {
			c := float64(i)
			g[i] = (v - c) * t / (2 * (c + 1) * (c + 1))
		}
	}

	return Instance{Func: fn, Grad: gr, Start: start, Best: best}, nil
}
