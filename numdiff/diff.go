package numdiff

import (
	"errors"
	"math"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)

type Method int

const (
	// Forward use the first order accuracy forward difference.
	Forward Method = iota
	// Central use the second order accuracy central difference.
	Central
)

// ApproxSpec represents a numerical differentiation algorithm to estimate the gradient of a scalar function.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
//
// # License
//
//   - https://github.com/scipy/scipy/blob/main/LICENSE.txt
type ApproxSpec struct {
	N int
	// Function of which to estimate the gradient.
	// The argument x passed to this function is an n-vector.
	Object func(x []float64) float64
	// Finite difference method to use.
	Method Method
	// Relative step size used to compute absolute step size.
	// The default absolute step size is computed as h = RelStep * sign(x0) * max(1, abs(x0)) with RelStep being selected automatically.
	// Otherwise, absolute step size is computed as h = RelStep * sign(x0) * abs(x0) when RelStep is provided.
	RelStep float64
	// Absolute step size to use.
	// The RelStep is used when AbsStep is not provide.
	// For Central method the sign of AbsStep is ignored.
	AbsStep float64
	approxCtx
}

type approxCtx struct {
	absStep []float64
}

// Check the parameters and initialize approxCtx.
func (as *ApproxSpec) Check(x0, grad []float64) (err error) {

	switch {
	case as.N <= 0:
		err = errors.New("negative dimensions")
	case as.Method != Forward && as.Method != Central:
		err = errors.New("unknown method")
	case as.Object == nil:
		err = errors.New("object function is required")
	case as.N != len(x0):
		return errors.New("invalid x0 dimensions")
	case as.N != len(grad):
		return errors.New("invalid grad dimensions")
	}

	if len(as.absStep) != as.N {
		as.absStep = make([]float64, as.N)
	}
	return
}

// Diff calculate approximation of gradient by finite differences.
// The entries of x0 are perturbed in place and restored before return.
func (as *ApproxSpec) Diff(x0, grad []float64) error {

	if err := as.Check(x0, grad); err != nil {
		return err
	}

	as.absoluteStep(x0)

	if as.Method == Central {
		as.approxCentral(x0, grad)
	} else {
		as.approxForward(x0, grad)
	}

	return nil
}

func (as *ApproxSpec) absoluteStep(x0 []float64) {
	h := as.absStep
	if len(h) != len(x0) {
		panic("bound check error")
	}

	var eps float64
	switch as.Method {
	case Forward:
		eps = sqrtEps
	case Central:
		eps = cubeEps
	default:
		panic("unknown method")
	}

	abs := as.AbsStep
	rel := as.RelStep
	if abs == 0 && rel == 0 {
		for i, v := range x0 {
			h[i] = math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
		}
	} else {
		for i, v := range x0 {
			s := abs
			if s == 0 {
				s = math.Copysign(rel, v) * math.Abs(v)
			}
			d := (v + s) - v
			if d == 0 {
				s = math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
			}
			h[i] = s
		}
	}
}

func (as *ApproxSpec) approxForward(x0, df []float64) {

	h, n := as.absStep, as.N
	if len(h) != len(x0) || len(df) != n {
		panic("bound check error")
	}

	fun := as.Object
	f0 := fun(x0)
	for i, s := range h {
		t := x0[i]
		x0[i] = t + s
		df[i] = (fun(x0) - f0) / s
		x0[i] = t
	}
}

func (as *ApproxSpec) approxCentral(x0, df []float64) {

	h, n := as.absStep, as.N
	if len(h) != len(x0) || len(df) != n {
		panic("bound check error")
	}

	fun := as.Object
	for i, s := range h {
		x := x0[i]
		d := 1.0 / (2 * s)
		x0[i] = x - s
		f1 := fun(x0)
		x0[i] = x + s
		f2 := fun(x0)
		df[i] = (f2 - f1) * d
		x0[i] = x
	}
}

// CheckGrad compares an analytic gradient against its central difference approximation.
// The return value is the largest relative deviation over all components,
// where each deviation is scaled by max(1, abs(approx)).
func CheckGrad(fun func(x []float64) float64, grad func(g, x []float64), x0 []float64) (float64, error) {

	if grad == nil {
		return math.NaN(), errors.New("gradient function is required")
	}

	n := len(x0)
	gradDiff := make([]float64, n)

	approx := ApproxSpec{N: n, Method: Central, Object: fun}
	if err := approx.Diff(x0, gradDiff); err != nil {
		return math.NaN(), err
	}

	gradTest := make([]float64, n)
	grad(gradTest, x0)

	maxErr := 0.0
	for i := 0; i < n; i++ {
		absErr := math.Abs(gradTest[i] - gradDiff[i])
		absErr /= math.Max(1, math.Abs(gradDiff[i]))
		if absErr > maxErr {
			maxErr = absErr
		}
	}
	return maxErr, nil
}
