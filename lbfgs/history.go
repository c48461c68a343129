// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgs

// hist is the bounded correction memory of the limited-memory update.
//
// It keeps at most m displacement pairs
//
//	sₖ = xₖ₊₁ − xₖ
//	yₖ = gₖ₊₁ − gₖ
//
// together with ρₖ = 1/(sₖᵀyₖ), stored in a ring ordered oldest to
// newest. Slot vectors are allocated lazily on first use and reused
// for the rest of the workspace lifetime.
type hist[V Vector[V]] struct {
	vec        Factory[V]
	m          int
	s, y       []V
	sNew, yNew V // candidate pair, swapped into the ring on acceptance
	rho        []float64
	alpha      []float64
	gamma      float64 // initial Hessian scaling γ = sᵀy/yᵀy of the newest pair

	head    int // ring index of the oldest pair
	count   int // number of stored pairs
	alloc   int // number of slots already materialized
	skipped int // updates rejected by the curvature guard
}

func (h *hist[V]) init(vec Factory[V], m int) {
	h.vec = vec
	h.m = m
	h.s = make([]V, m)
	h.y = make([]V, m)
	h.sNew, h.yNew = vec.New(), vec.New()
	h.rho = make([]float64, m)
	h.alpha = make([]float64, m)
	h.reset()
}

// reset drops all stored pairs but keeps their storage.
// The skip counter survives a refresh so the final report still
// covers the whole run.
func (h *hist[V]) reset() {
	h.head, h.count = 0, 0
	h.gamma = one
}

// insert assembles the candidate pair (x−xPrev, g−gPrev) in scratch
// storage and accepts it only when the curvature condition
//
//	sᵀy > εₘ·yᵀy
//
// holds. The candidate reaches the ring only after the test passes, so
// a rejected pair leaves every stored pair intact and a run of
// degenerate steps can never evict useful curvature information.
// When the memory is full an accepted pair replaces the oldest one.
func (h *hist[V]) insert(x, xPrev, g, gPrev V) (sy, yy float64, ok bool) {
	s, y := h.sNew, h.yNew
	s.Copy(x, one)
	s.Add(xPrev, -one)
	y.Copy(g, one)
	y.Add(gPrev, -one)

	sy = s.Dot(y)
	yy = y.Dot(y)
	if !(sy > epsmch*yy) { // also rejects NaN
		h.skipped++
		return sy, yy, false
	}

	i := (h.head + h.count) % h.m
	if i >= h.alloc {
		h.s[i], h.y[i] = h.vec.New(), h.vec.New()
		h.alloc = i + 1
	}
	h.s[i], h.sNew = s, h.s[i]
	h.y[i], h.yNew = y, h.y[i]

	h.rho[i] = one / sy
	h.gamma = sy / yy
	if h.count == h.m {
		h.head = (h.head + 1) % h.m
	} else {
		h.count++
	}
	return sy, yy, true
}

// direction computes the quasi-Newton descent direction d = −Hₖ·g by
// the two-loop recursion, where Hₖ is the inverse Hessian approximation
// implied by the stored pairs and the initial scaling γ·I.
// With no stored pairs the direction degenerates to steepest descent −g.
func (h *hist[V]) direction(g, d V) {
	d.Copy(g, one)
	for k := h.count - 1; k >= 0; k-- {
		i := (h.head + k) % h.m
		a := h.rho[i] * h.s[i].Dot(d)
		h.alpha[i] = a
		d.Add(h.y[i], -a)
	}
	if h.count > 0 {
		d.Copy(d, h.gamma)
	}
	for k := 0; k < h.count; k++ {
		i := (h.head + k) % h.m
		b := h.rho[i] * h.y[i].Dot(d)
		d.Add(h.s[i], h.alpha[i]-b)
	}
	d.Copy(d, -one)
}
