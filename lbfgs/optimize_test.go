// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgs

import (
	"errors"
	"io"
	"math"
	"testing"
)

// testVec is a plain slice-backed vector for exercising the driver
// without pulling in any real storage package.
type testVec struct {
	v []float64
}

func (t *testVec) Len() int { return len(t.v) }

func (t *testVec) Zero() {
	for i := range t.v {
		t.v[i] = 0
	}
}

func (t *testVec) Copy(src *testVec, c float64) {
	if len(src.v) != len(t.v) {
		panic("bound check error")
	}
	if t == src {
		for i := range t.v {
			t.v[i] *= c
		}
		return
	}
	for i, v := range src.v {
		t.v[i] = c * v
	}
}

func (t *testVec) Add(src *testVec, c float64) {
	if len(src.v) != len(t.v) {
		panic("bound check error")
	}
	for i, v := range src.v {
		t.v[i] += c * v
	}
}

func (t *testVec) Dot(other *testVec) float64 {
	if len(other.v) != len(t.v) {
		panic("bound check error")
	}
	s := 0.0
	for i, v := range t.v {
		s += v * other.v[i]
	}
	return s
}

func (t *testVec) Norm() float64 { return math.Sqrt(t.Dot(t)) }

func (t *testVec) Swap(other *testVec) { t.v, other.v = other.v, t.v }

type testFac int

func (f testFac) Len() int      { return int(f) }
func (f testFac) New() *testVec { return &testVec{make([]float64, int(f))} }

func (f testFac) of(v []float64) *testVec {
	x := f.New()
	copy(x.v, v)
	return x
}

// testEval adapts a pair of slice closures to the Objective contract,
// caching the value of the bound point like a real binding would.
type testEval struct {
	fn     func(x []float64) float64
	gr     func(g, x []float64)
	x      *testVec
	f      float64
	fresh  bool
	nf, ng int
}

func (e *testEval) Set(x *testVec) { e.x, e.fresh = x, false }

func (e *testEval) Value() float64 {
	if !e.fresh {
		e.f, e.fresh = e.fn(e.x.v), true
		e.nf++
	}
	return e.f
}

func (e *testEval) Gradient(out *testVec) {
	e.gr(out.v, e.x.v)
	e.ng++
}

func testLog() *Logger {
	return &Logger{Level: LogTrace, Msg: io.Discard, Out: io.Discard}
}

// sphereEval builds f(𝐱) = ½·Σ(xᵢ−i)², whose unique minimum is xᵢ = i.
func sphereEval() *testEval {
	return &testEval{
		fn: func(x []float64) float64 {
			f := 0.0
			for i, v := range x {
				d := v - float64(i)
				f += 0.5 * d * d
			}
			return f
		},
		gr: func(g, x []float64) {
			for i, v := range x {
				g[i] = v - float64(i)
			}
		},
	}
}

func TestSphere(t *testing.T) {

	n := 30
	p := Problem[*testVec]{
		M:    5,
		Vec:  testFac(n),
		Eval: sphereEval(),
		Stop: Termination{MaxIterations: 100, Epsilon: 1e-6, GradTolerance: 1e-6},
	}

	s, err := p.New(testLog())
	if err != nil {
		t.Fatal(err)
	}

	r, err := s.Fit(testFac(n).New(), s.Init())
	switch {
	case err != nil:
		t.Fatal(err)
	case !r.OK:
		t.Fatal("TestSphere: Not Converge")
	case r.Status != ConvGradNorm:
		t.Fatal("TestSphere: Wrong Status")
	case r.NumIter > 10:
		t.Fatal("TestSphere: Too Many Iter")
	}
	for i, v := range r.X.v {
		if math.Abs(v-float64(i)) > 1e-4 {
			t.Fatal("TestSphere: Wrong X")
		}
	}
}

func TestDiagQuadratic(t *testing.T) {

	n := 20
	eval := &testEval{
		fn: func(x []float64) float64 {
			f := 0.0
			for i, v := range x {
				a := 1.0 + 3.0*float64(i)/float64(len(x))
				d := v - float64(i%5)
				f += 0.5 * a * d * d
			}
			return f
		},
		gr: func(g, x []float64) {
			for i, v := range x {
				a := 1.0 + 3.0*float64(i)/float64(len(x))
				g[i] = a * (v - float64(i%5))
			}
		},
	}

	p := Problem[*testVec]{
		M:    7,
		Vec:  testFac(n),
		Eval: eval,
		Stop: Termination{MaxIterations: 200, Epsilon: 1e-12, GradTolerance: 1e-7},
	}

	s, err := p.New(nil)
	if err != nil {
		t.Fatal(err)
	}

	r, err := s.Fit(testFac(n).New(), s.Init())
	switch {
	case err != nil:
		t.Fatal(err)
	case !r.OK:
		t.Fatal("TestDiagQuadratic: Not Converge")
	}
	for i, v := range r.X.v {
		if math.Abs(v-float64(i%5)) > 1e-5 {
			t.Fatal("TestDiagQuadratic: Wrong X")
		}
	}
}

// rosenEval is the two-dimensional Rosenbrock function
// f = (1−x₀)² + 100·(x₁−x₀²)² with its narrow curved valley.
func rosenEval() *testEval {
	return &testEval{
		fn: func(x []float64) float64 {
			a, b := 1.0-x[0], x[1]-x[0]*x[0]
			return a*a + 100.0*b*b
		},
		gr: func(g, x []float64) {
			b := x[1] - x[0]*x[0]
			g[0] = -2.0*(1.0-x[0]) - 400.0*b*x[0]
			g[1] = 200.0 * b
		},
	}
}

func TestRosenbrock(t *testing.T) {

	p := Problem[*testVec]{
		M:    6,
		Vec:  testFac(2),
		Eval: rosenEval(),
		Stop: Termination{MaxIterations: 2000, Epsilon: 1e-12, GradTolerance: 1e-6},
	}

	s, err := p.New(testLog())
	if err != nil {
		t.Fatal(err)
	}

	r, err := s.Fit(testFac(2).of([]float64{-1.2, 1.0}), s.Init())
	switch {
	case err != nil:
		t.Fatal(err)
	case !r.OK:
		t.Fatal("TestRosenbrock: Not Converge")
	case r.F > 1e-8:
		t.Fatal("TestRosenbrock: Wrong F")
	case math.Abs(r.X.v[0]-1) > 1e-3 || math.Abs(r.X.v[1]-1) > 1e-3:
		t.Fatal("TestRosenbrock: Wrong X")
	}
}

func TestWolfeSearch(t *testing.T) {

	n := 30
	p := Problem[*testVec]{
		M:      5,
		Vec:    testFac(n),
		Eval:   sphereEval(),
		Stop:   Termination{MaxIterations: 100, Epsilon: 1e-12, GradTolerance: 1e-6},
		Search: &SearchTol{Curvature: 0.9, WarmStart: true},
	}

	s, err := p.New(nil)
	if err != nil {
		t.Fatal(err)
	}

	r, err := s.Fit(testFac(n).New(), s.Init())
	switch {
	case err != nil:
		t.Fatal(err)
	case !r.OK:
		t.Fatal("TestWolfeSearch: Not Converge")
	case r.NumIter > 10:
		t.Fatal("TestWolfeSearch: Too Many Iter")
	case r.NumGrad <= r.NumIter:
		t.Fatal("TestWolfeSearch: Curvature Not Checked")
	}
	for i, v := range r.X.v {
		if math.Abs(v-float64(i)) > 1e-4 {
			t.Fatal("TestWolfeSearch: Wrong X")
		}
	}
}

func TestAtOptimum(t *testing.T) {

	n := 10
	p := Problem[*testVec]{
		Vec:  testFac(n),
		Eval: sphereEval(),
		Stop: Termination{GradTolerance: 1e-8},
	}

	s, err := p.New(nil)
	if err != nil {
		t.Fatal(err)
	}

	x := testFac(n).New()
	for i := range x.v {
		x.v[i] = float64(i)
	}

	r, err := s.Fit(x, s.Init())
	switch {
	case err != nil:
		t.Fatal(err)
	case !r.OK || r.Status != ConvGradNorm:
		t.Fatal("TestAtOptimum: Wrong Status")
	case r.NumIter != 0:
		t.Fatal("TestAtOptimum: Wrong NumIter")
	case r.NumEval != 1:
		t.Fatal("TestAtOptimum: Wrong NumEval")
	}
}

func TestMaxIter(t *testing.T) {

	p := Problem[*testVec]{
		M:    6,
		Vec:  testFac(2),
		Eval: rosenEval(),
		Stop: Termination{MaxIterations: 3, Epsilon: 1e-12, GradTolerance: 1e-12},
	}

	s, err := p.New(nil)
	if err != nil {
		t.Fatal(err)
	}

	r, err := s.Fit(testFac(2).of([]float64{-1.2, 1.0}), s.Init())
	switch {
	case err != nil:
		t.Fatal(err)
	case r.OK:
		t.Fatal("TestMaxIter: Unexpected Converge")
	case r.Status != StopIterLimit:
		t.Fatal("TestMaxIter: Wrong Status")
	case r.NumIter != 3:
		t.Fatal("TestMaxIter: Wrong NumIter")
	}
}

func TestEvalLimit(t *testing.T) {

	p := Problem[*testVec]{
		M:    6,
		Vec:  testFac(2),
		Eval: rosenEval(),
		Stop: Termination{MaxEvaluations: 3, Epsilon: 1e-12, GradTolerance: 1e-12},
	}

	s, err := p.New(nil)
	if err != nil {
		t.Fatal(err)
	}

	r, err := s.Fit(testFac(2).of([]float64{-1.2, 1.0}), s.Init())
	switch {
	case err != nil:
		t.Fatal(err)
	case r.Status != StopEvalLimit:
		t.Fatal("TestEvalLimit: Wrong Status")
	case r.NumEval > 3:
		t.Fatal("TestEvalLimit: Over Budget")
	}
}

func TestCallbackStop(t *testing.T) {

	n := 30
	var iters []int
	var values []float64

	p := Problem[*testVec]{
		M:    5,
		Vec:  testFac(n),
		Eval: sphereEval(),
		Stop: Termination{MaxIterations: 100, Epsilon: 1e-12, GradTolerance: 1e-12},
		Progress: func(iter int, f, gNorm float64, x *testVec) bool {
			iters = append(iters, iter)
			values = append(values, f)
			return iter >= 2
		},
	}

	s, err := p.New(nil)
	if err != nil {
		t.Fatal(err)
	}

	r, err := s.Fit(testFac(n).New(), s.Init())
	switch {
	case err != nil:
		t.Fatal(err)
	case r.Status != StopCallback:
		t.Fatal("TestCallbackStop: Wrong Status")
	case r.NumIter != 2:
		t.Fatal("TestCallbackStop: Wrong NumIter")
	case len(iters) != 2 || iters[0] != 1 || iters[1] != 2:
		t.Fatal("TestCallbackStop: Wrong Callback Sequence")
	case values[1] >= values[0]:
		t.Fatal("TestCallbackStop: F Not Decreasing")
	}
}

// failEval reports a finite value only at the very first evaluation,
// so every later trial is rejected and the search must give up while
// the starting iterate stays intact.
type failEval struct {
	calls int
}

func (e *failEval) Set(*testVec) {}

func (e *failEval) Value() float64 {
	e.calls++
	if e.calls == 1 {
		return 7.5
	}
	return math.NaN()
}

func (e *failEval) Gradient(out *testVec) {
	for i := range out.v {
		out.v[i] = 1
	}
}

func TestLineSearchFail(t *testing.T) {

	n := 4
	p := Problem[*testVec]{
		M:    3,
		Vec:  testFac(n),
		Eval: &failEval{},
		Stop: Termination{MaxIterations: 50},
	}

	s, err := p.New(testLog())
	if err != nil {
		t.Fatal(err)
	}

	x := testFac(n).of([]float64{1, 2, 3, 4})
	r, err := s.Fit(x, s.Init())
	switch {
	case err != nil:
		t.Fatal("TestLineSearchFail: Unexpected Error")
	case r.OK:
		t.Fatal("TestLineSearchFail: Unexpected Converge")
	case r.Status != StopLineSearch:
		t.Fatal("TestLineSearchFail: Wrong Status")
	case r.NumIter != 0:
		t.Fatal("TestLineSearchFail: Wrong NumIter")
	case r.F != 7.5:
		t.Fatal("TestLineSearchFail: Start Value Lost")
	}
	for i, v := range r.X.v {
		if v != x.v[i] {
			t.Fatal("TestLineSearchFail: Start Point Lost")
		}
	}
}

// sinkEval reports a finite start and −Inf afterwards, so the first
// accepted step lands on a non-finite value.
type sinkEval struct {
	calls int
}

func (e *sinkEval) Set(*testVec) {}

func (e *sinkEval) Value() float64 {
	e.calls++
	if e.calls == 1 {
		return 1.0
	}
	return math.Inf(-1)
}

func (e *sinkEval) Gradient(out *testVec) {
	for i := range out.v {
		out.v[i] = 1
	}
}

func TestNonFinite(t *testing.T) {

	n := 4
	p := Problem[*testVec]{
		Vec:  testFac(n),
		Eval: &sinkEval{},
		Stop: Termination{MaxIterations: 50},
	}

	s, err := p.New(nil)
	if err != nil {
		t.Fatal(err)
	}

	r, err := s.Fit(testFac(n).New(), s.Init())
	var bad *NonFiniteError
	switch {
	case err == nil || !errors.As(err, &bad):
		t.Fatal("TestNonFinite: Missing Error")
	case bad.Where != "function":
		t.Fatal("TestNonFinite: Wrong Error Site")
	case r.Status != HaltNonFinite:
		t.Fatal("TestNonFinite: Wrong Status")
	case r.OK:
		t.Fatal("TestNonFinite: Unexpected Converge")
	}
}

// bombEval panics once the third evaluation is requested.
type bombEval struct {
	inner *testEval
	calls int
}

func (e *bombEval) Set(x *testVec) { e.inner.Set(x) }

func (e *bombEval) Value() float64 {
	e.calls++
	if e.calls >= 3 {
		panic("model backend lost")
	}
	return e.inner.Value()
}

func (e *bombEval) Gradient(out *testVec) { e.inner.Gradient(out) }

func TestEvalPanic(t *testing.T) {

	n := 30
	p := Problem[*testVec]{
		Vec:  testFac(n),
		Eval: &bombEval{inner: sphereEval()},
		Stop: Termination{MaxIterations: 50},
	}

	s, err := p.New(nil)
	if err != nil {
		t.Fatal(err)
	}

	r, err := s.Fit(testFac(n).New(), s.Init())
	var bomb *EvalPanicError
	switch {
	case err == nil || !errors.As(err, &bomb):
		t.Fatal("TestEvalPanic: Missing Error")
	case bomb.Value != "model backend lost":
		t.Fatal("TestEvalPanic: Wrong Panic Value")
	case r.Status != HaltEvalPanic:
		t.Fatal("TestEvalPanic: Wrong Status")
	}
}

func TestDimension(t *testing.T) {

	p := Problem[*testVec]{
		Vec:  testFac(4),
		Eval: sphereEval(),
	}

	s, err := p.New(nil)
	if err != nil {
		t.Fatal(err)
	}

	r, err := s.Fit(testFac(3).New(), s.Init())
	var dim *DimensionError
	switch {
	case err == nil || !errors.As(err, &dim):
		t.Fatal("TestDimension: Missing Error")
	case dim.Want != 4 || dim.Got != 3:
		t.Fatal("TestDimension: Wrong Sizes")
	case r.Status != HaltDimension:
		t.Fatal("TestDimension: Wrong Status")
	case r.NumEval != 0:
		t.Fatal("TestDimension: Unexpected Evaluation")
	}
}

func TestWorkspaceReuse(t *testing.T) {

	n := 30
	p := Problem[*testVec]{
		M:    5,
		Vec:  testFac(n),
		Eval: sphereEval(),
		Stop: Termination{MaxIterations: 100, Epsilon: 1e-12, GradTolerance: 1e-6},
	}

	s, err := p.New(nil)
	if err != nil {
		t.Fatal(err)
	}

	w := s.Init()
	first, err := s.Fit(testFac(n).New(), w)
	if err != nil || !first.OK {
		t.Fatal("TestWorkspaceReuse: First Run Failed")
	}

	x := testFac(n).New()
	for i := range x.v {
		x.v[i] = 100
	}
	second, err := s.Fit(x, w)
	switch {
	case err != nil || !second.OK:
		t.Fatal("TestWorkspaceReuse: Second Run Failed")
	case second.NumIter > 20:
		t.Fatal("TestWorkspaceReuse: Stale State Dragged Over")
	}
	for i, v := range first.X.v {
		if math.Abs(v-float64(i)) > 1e-4 {
			t.Fatal("TestWorkspaceReuse: First Result Clobbered")
		}
	}
}

func TestValidate(t *testing.T) {

	cases := []Problem[*testVec]{
		{Eval: sphereEval()},
		{Vec: testFac(4)},
		{Vec: testFac(0), Eval: sphereEval()},
		{M: -1, Vec: testFac(4), Eval: sphereEval()},
		{Vec: testFac(4), Eval: sphereEval(), Stop: Termination{MaxIterations: -1}},
		{Vec: testFac(4), Eval: sphereEval(), Stop: Termination{Epsilon: -1}},
		{Vec: testFac(4), Eval: sphereEval(), Search: &SearchTol{Decrease: 2}},
		{Vec: testFac(4), Eval: sphereEval(), Search: &SearchTol{Curvature: 1e-5}},
		{Vec: testFac(4), Eval: sphereEval(), Search: &SearchTol{Shrink: 1}},
	}

	for i, p := range cases {
		if _, err := p.New(nil); err == nil {
			t.Fatalf("TestValidate: Case %d Not Rejected", i)
		}
	}
}
