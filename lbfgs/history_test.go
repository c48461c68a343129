// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgs

import (
	"math"
	"testing"
)

// pairAt reads the k-th stored pair counting from the oldest.
func (h *hist[V]) pairAt(k int) (V, V) {
	i := (h.head + k) % h.m
	return h.s[i], h.y[i]
}

// stepPair fabricates an accepted displacement: moving from xPrev to x
// with gradient gPrev at xPrev and g at x.
func stepPair(fac testFac, xv, pv, gv, qv []float64) (x, xPrev, g, gPrev *testVec) {
	return fac.of(xv), fac.of(pv), fac.of(gv), fac.of(qv)
}

func TestHistRing(t *testing.T) {

	fac := testFac(3)
	var h hist[*testVec]
	h.init(fac, 3)

	// Five accepted pairs with s = y, so sᵀy = ‖s‖² > 0 holds trivially.
	for k := 1; k <= 5; k++ {
		v := float64(k)
		x, p, g, q := stepPair(fac, []float64{v, 0, 0}, []float64{0, 0, 0}, []float64{v, 0, 0}, []float64{0, 0, 0})
		sy, yy, kept := h.insert(x, p, g, q)
		switch {
		case !kept:
			t.Fatalf("TestHistRing: Pair %d Rejected", k)
		case sy != v*v || yy != v*v:
			t.Fatalf("TestHistRing: Pair %d Wrong Products", k)
		case h.gamma != 1:
			t.Fatalf("TestHistRing: Pair %d Wrong Gamma", k)
		}
	}

	if h.count != 3 {
		t.Fatal("TestHistRing: Wrong Count")
	}

	// Capacity 3 after five inserts keeps exactly pairs 3, 4, 5.
	for k := 0; k < 3; k++ {
		s, _ := h.pairAt(k)
		if s.v[0] != float64(k+3) {
			t.Fatal("TestHistRing: Oldest Not Evicted")
		}
	}
}

func TestHistReject(t *testing.T) {

	fac := testFac(3)
	var h hist[*testVec]
	h.init(fac, 3)

	x, p, g, q := stepPair(fac, []float64{1, 0, 0}, []float64{0, 0, 0}, []float64{1, 0, 0}, []float64{0, 0, 0})
	if _, _, kept := h.insert(x, p, g, q); !kept {
		t.Fatal("TestHistReject: Valid Pair Rejected")
	}
	gamma := h.gamma

	// y = −s violates the curvature condition.
	x, p, g, q = stepPair(fac, []float64{0, 2, 0}, []float64{0, 0, 0}, []float64{0, 0, 0}, []float64{0, 2, 0})
	sy, _, kept := h.insert(x, p, g, q)
	switch {
	case kept:
		t.Fatal("TestHistReject: Negative Curvature Accepted")
	case sy >= 0:
		t.Fatal("TestHistReject: Wrong Product")
	case h.count != 1 || h.skipped != 1:
		t.Fatal("TestHistReject: Wrong Counters")
	case h.gamma != gamma:
		t.Fatal("TestHistReject: Gamma Changed By Rejection")
	}

	// A NaN displacement must be rejected, not poison the memory.
	x, p, g, q = stepPair(fac, []float64{math.NaN(), 0, 0}, []float64{0, 0, 0}, []float64{1, 0, 0}, []float64{0, 0, 0})
	if _, _, kept = h.insert(x, p, g, q); kept {
		t.Fatal("TestHistReject: NaN Pair Accepted")
	}

	// The survivor must still be the first pair, untouched.
	s, y := h.pairAt(0)
	if s.v[0] != 1 || y.v[0] != 1 {
		t.Fatal("TestHistReject: Stored Pair Corrupted")
	}
}

// denseTwoLoop recomputes the recursion on flat slices with the same
// operation order, so the abstract-vector path must match it exactly.
func denseTwoLoop(s, y [][]float64, rho []float64, gamma float64, g []float64) []float64 {
	n, m := len(g), len(s)
	d := make([]float64, n)
	alpha := make([]float64, m)
	copy(d, g)
	for k := m - 1; k >= 0; k-- {
		dot := 0.0
		for i := range d {
			dot += s[k][i] * d[i]
		}
		alpha[k] = rho[k] * dot
		for i := range d {
			d[i] -= alpha[k] * y[k][i]
		}
	}
	for i := range d {
		d[i] *= gamma
	}
	for k := 0; k < m; k++ {
		dot := 0.0
		for i := range d {
			dot += y[k][i] * d[i]
		}
		beta := rho[k] * dot
		for i := range d {
			d[i] += (alpha[k] - beta) * s[k][i]
		}
	}
	for i := range d {
		d[i] = -d[i]
	}
	return d
}

func TestTwoLoop(t *testing.T) {

	fac := testFac(4)
	var h hist[*testVec]
	h.init(fac, 3)

	steps := [][2][]float64{
		{{0.5, -0.2, 0.1, 0.3}, {0.4, -0.1, 0.2, 0.2}},
		{{-0.1, 0.4, 0.2, -0.2}, {-0.2, 0.5, 0.1, -0.1}},
		{{0.3, 0.1, -0.4, 0.2}, {0.2, 0.2, -0.3, 0.1}},
	}

	var s, y [][]float64
	var rho []float64
	gamma := 1.0
	zeros := []float64{0, 0, 0, 0}
	for _, st := range steps {
		x, p, g, q := stepPair(fac, st[0], zeros, st[1], zeros)
		sy, yy, kept := h.insert(x, p, g, q)
		if !kept {
			t.Fatal("TestTwoLoop: Pair Rejected")
		}
		s = append(s, st[0])
		y = append(y, st[1])
		rho = append(rho, 1/sy)
		gamma = sy / yy
	}

	g := fac.of([]float64{1.0, -2.0, 0.5, 1.5})
	d := fac.New()
	h.direction(g, d)

	want := denseTwoLoop(s, y, rho, gamma, g.v)
	for i := range want {
		if d.v[i] != want[i] {
			t.Fatalf("TestTwoLoop: Direction Mismatch At %d", i)
		}
	}

	// Rejected updates leave the next direction query untouched.
	x, p, gg, q := stepPair(fac, []float64{1, 1, 1, 1}, zeros, []float64{-1, -1, -1, -1}, zeros)
	if _, _, kept := h.insert(x, p, gg, q); kept {
		t.Fatal("TestTwoLoop: Bad Pair Accepted")
	}
	again := fac.New()
	h.direction(g, again)
	for i := range want {
		if again.v[i] != want[i] {
			t.Fatal("TestTwoLoop: Direction Drifted After Rejection")
		}
	}
}

func TestEmptyDirection(t *testing.T) {

	fac := testFac(4)
	var h hist[*testVec]
	h.init(fac, 3)

	g := fac.of([]float64{1.5, -2.5, 3.5, -4.5})
	d := fac.New()
	h.direction(g, d)
	for i, v := range g.v {
		if d.v[i] != -v {
			t.Fatal("TestEmptyDirection: Not Steepest Descent")
		}
	}

	// After a refresh the memory behaves as empty again.
	zeros := []float64{0, 0, 0, 0}
	x, p, gg, q := stepPair(fac, []float64{1, 0, 0, 0}, zeros, []float64{2, 0, 0, 0}, zeros)
	if _, _, kept := h.insert(x, p, gg, q); !kept {
		t.Fatal("TestEmptyDirection: Pair Rejected")
	}
	h.reset()
	if h.count != 0 {
		t.Fatal("TestEmptyDirection: Reset Kept Pairs")
	}
	h.direction(g, d)
	for i, v := range g.v {
		if d.v[i] != -v {
			t.Fatal("TestEmptyDirection: Reset Not Clean")
		}
	}
}
