// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package partvec partitions an optimization vector across several
// cooperating participants, one shard per rank, and reduces the global
// scalars the optimizer needs through an explicit collective layer.
//
// Every reduction is a collective operation: all participants of one
// group must issue the same sequence of tagged calls with the same
// operand count, or the computation is incoherent. The in-process
// implementation turns such protocol violations into panics on every
// participant instead of deadlocking.
package partvec

import (
	"fmt"
	"sync"
)

// OpTag names the collective operation a participant is executing, so
// a rendezvous can verify that all ranks run the same step.
type OpTag uint8

const (
	OpLen OpTag = 1 + iota
	OpDot
	OpNorm
	OpValue
	OpGradient
	OpVote
	OpGather
)

func (t OpTag) String() string {
	switch t {
	case OpLen:
		return "len"
	case OpDot:
		return "dot"
	case OpNorm:
		return "norm"
	case OpValue:
		return "value"
	case OpGradient:
		return "gradient"
	case OpVote:
		return "vote"
	case OpGather:
		return "gather"
	}
	return "unknown"
}

// Comm is one participant's handle on a reduction group.
type Comm interface {
	// Size reports the number of participants in the group.
	Size() int
	// Rank reports this participant's index in [0, Size).
	Rank() int
	// AllReduceSum adds the operands of all participants elementwise
	// and returns the same totals to every caller. It blocks until the
	// whole group arrives, and the summation is rank-ordered so every
	// run produces bit-identical results.
	AllReduceSum(tag OpTag, vals ...float64) []float64
}

// Solo is the trivial group of one participant.
type Solo struct{}

func (Solo) Size() int { return 1 }
func (Solo) Rank() int { return 0 }

func (Solo) AllReduceSum(_ OpTag, vals ...float64) []float64 {
	out := make([]float64, len(vals))
	copy(out, vals)
	return out
}

// Group is an in-process reduction group whose participants are
// goroutines. Construct it once, then hand one Comm per rank to each
// participant.
type Group struct {
	size int

	mu     sync.Mutex
	cond   *sync.Cond
	gen    uint64 // rendezvous generation
	tag    OpTag
	width  int
	parts  [][]float64
	sum    []float64
	joined int
	poison string // first detected protocol violation
}

// NewGroup creates a reduction group of the given size.
func NewGroup(size int) *Group {
	if size <= 0 {
		panic("partvec: group size must greater than 0")
	}
	g := &Group{size: size, parts: make([][]float64, size)}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Comm returns the handle of one rank. Each rank must be driven by
// exactly one goroutine at a time.
func (g *Group) Comm(rank int) Comm {
	if rank < 0 || rank >= g.size {
		panic("partvec: rank out of range")
	}
	return &member{g: g, rank: rank}
}

type member struct {
	g    *Group
	rank int
}

func (m *member) Size() int { return m.g.size }
func (m *member) Rank() int { return m.rank }

func (m *member) AllReduceSum(tag OpTag, vals ...float64) []float64 {
	g := m.g
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.poison != "" {
		panic(g.poison)
	}

	if g.joined == 0 {
		g.tag, g.width = tag, len(vals)
	} else if tag != g.tag || len(vals) != g.width {
		g.poison = fmt.Sprintf("partvec: collective mismatch: rank %d joined %s(%d) while group runs %s(%d)",
			m.rank, tag, len(vals), g.tag, g.width)
		g.cond.Broadcast()
		panic(g.poison)
	}
	if g.parts[m.rank] != nil {
		g.poison = fmt.Sprintf("partvec: rank %d joined the same collective twice", m.rank)
		g.cond.Broadcast()
		panic(g.poison)
	}

	g.parts[m.rank] = vals
	g.joined++

	if g.joined == g.size {
		// Last arrival folds the contributions in rank order, so the
		// reduced values are identical on every run.
		sum := make([]float64, g.width)
		for r := 0; r < g.size; r++ {
			for i, v := range g.parts[r] {
				sum[i] += v
			}
			g.parts[r] = nil
		}
		g.sum = sum
		g.joined = 0
		g.gen++
		g.cond.Broadcast()
	} else {
		gen := g.gen
		for g.gen == gen && g.poison == "" {
			g.cond.Wait()
		}
		if g.poison != "" {
			panic(g.poison)
		}
	}

	out := make([]float64, len(g.sum))
	copy(out, g.sum)
	return out
}
