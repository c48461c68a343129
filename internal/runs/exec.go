// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package runs

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/curioloop/largemin/densevec"
	"github.com/curioloop/largemin/internal/problems"
	"github.com/curioloop/largemin/internal/store"
	"github.com/curioloop/largemin/lbfgs"
	"github.com/curioloop/largemin/partvec"
)

// outcome is what one execution path hands back to execute.
type outcome struct {
	x        []float64
	f        float64
	gradNorm float64
	summary  lbfgs.Summary
}

// execute drives one run to a terminal state. It owns the run goroutine.
func (m *Manager) execute(rs *runState) {
	defer func() {
		if r := recover(); r != nil {
			m.finish(rs, StateFailed, nil, fmt.Errorf("run panicked: %v", r))
		}
	}()

	m.mu.RLock()
	id := rs.run.ID
	config := rs.run.Config
	m.mu.RUnlock()

	slog.Info("Run started",
		"runID", id,
		"problem", config.Problem,
		"dim", config.Dim,
		"parts", config.Parts,
		"resumedAt", rs.base)

	tw := m.openTrace(rs)
	if tw != nil {
		defer tw.Close()
	}

	var out *outcome
	var err error
	if config.Parts > 1 {
		out, err = m.runPartitioned(rs, config, tw)
	} else {
		out, err = m.runDense(rs, config, tw)
	}

	switch {
	case err != nil:
		m.finish(rs, StateFailed, out, err)
	case out.summary.Status == lbfgs.StopCallback:
		m.finish(rs, StateCancelled, out, nil)
	default:
		m.finish(rs, StateCompleted, out, nil)
	}
}

// runDense minimizes a slice-backed problem instance.
func (m *Manager) runDense(rs *runState, config Config, tw *store.TraceWriter) (*outcome, error) {
	prob, err := problems.Get(config.Problem)
	if err != nil {
		return nil, err
	}
	inst, err := prob.Build(config.Dim)
	if err != nil {
		return nil, err
	}

	start := inst.Start
	if rs.seed != nil {
		start = rs.seed
	}

	fac := densevec.NewFactory(config.Dim)
	p := lbfgs.Problem[*densevec.Dense]{
		M:    config.Memory,
		Vec:  fac,
		Eval: densevec.NewObjective(inst.Func, inst.Grad),
		Stop: lbfgs.Termination{
			MaxIterations: config.MaxIter,
			Epsilon:       config.Epsilon,
			GradTolerance: config.GradTol,
		},
		Search: searchTol(config),
		Progress: func(iter int, f, gNorm float64, x *densevec.Dense) bool {
			it := rs.base + iter
			m.observe(rs, it, f, gNorm, tw)
			if m.checkpointDue(config, it) {
				m.saveCheckpoint(rs, config, x.Slice(), f, gNorm, it)
				if tw != nil {
					_ = tw.Flush()
				}
			}
			return rs.stop.Load()
		},
	}

	opt, err := p.New(nil)
	if err != nil {
		return nil, err
	}
	res, err := opt.Fit(fac.Of(start), opt.Init())
	if err != nil {
		return nil, err
	}
	return &outcome{
		x:        res.X.Slice(),
		f:        res.F,
		gradNorm: res.G.Norm(),
		summary:  res.Summary,
	}, nil
}

// runPartitioned minimizes a partitioned problem instance: one
// goroutine per rank over an in-process reduction group, with the
// dimension spread as evenly as the division allows.
func (m *Manager) runPartitioned(rs *runState, config Config, tw *store.TraceWriter) (*outcome, error) {
	parts, dim := config.Parts, config.Dim

	group := partvec.NewGroup(parts)
	outs := make([]*outcome, parts)
	errs := make([]error, parts)

	var wg sync.WaitGroup
	for rank := 0; rank < parts; rank++ {
		local := dim / parts
		if rank < dim%parts {
			local++
		}
		wg.Add(1)
		go func(rank, local int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[rank] = fmt.Errorf("rank %d panicked: %v", rank, r)
				}
			}()
			outs[rank], errs[rank] = m.fitShard(rs, config, group.Comm(rank), local, tw)
		}(rank, local)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return outs[0], nil
}

// fitShard is the per-rank body of a partitioned run. Setup failures
// are identical on every rank, so an early return never abandons a
// collective the other ranks already joined.
func (m *Manager) fitShard(rs *runState, config Config, comm partvec.Comm, local int, tw *store.TraceWriter) (*outcome, error) {
	fac := partvec.NewFactory(comm, local)
	offset := fac.Offset()
	lead := comm.Rank() == 0

	inst, err := problems.BuildSPMD(config.Problem, local, offset)
	if err != nil {
		return nil, err
	}

	start := inst.Start
	if rs.seed != nil {
		start = rs.seed[offset : offset+local]
	}

	p := lbfgs.Problem[*partvec.Part]{
		M:    config.Memory,
		Vec:  fac,
		Eval: partvec.NewObjective(comm, inst.Func, inst.Grad),
		Stop: lbfgs.Termination{
			MaxIterations: config.MaxIter,
			Epsilon:       config.Epsilon,
			GradTolerance: config.GradTol,
		},
		Search: searchTol(config),
		Progress: func(iter int, f, gNorm float64, x *partvec.Part) bool {
			it := rs.base + iter
			if lead {
				m.observe(rs, it, f, gNorm, tw)
			}
			if m.checkpointDue(config, it) {
				// Every rank joins the gather, only the lead rank writes.
				global := gatherGlobal(comm, config.Dim, offset, x.Slice())
				if lead {
					m.saveCheckpoint(rs, config, global, f, gNorm, it)
					if tw != nil {
						_ = tw.Flush()
					}
				}
			}
			// The stop flag is process-local state, so each rank reads
			// it at a slightly different moment. The decision must be
			// reduced before any rank acts on it, or the ranks diverge.
			vote := 0.0
			if rs.stop.Load() {
				vote = 1
			}
			return comm.AllReduceSum(partvec.OpVote, vote)[0] > 0
		},
	}

	opt, err := p.New(nil)
	if err != nil {
		return nil, err
	}
	res, err := opt.Fit(fac.Of(start), opt.Init())
	if err != nil {
		return nil, err
	}

	global := gatherGlobal(comm, config.Dim, offset, res.X.Slice())
	gradNorm := res.G.Norm()
	if !lead {
		return nil, nil
	}
	return &outcome{
		x:        global,
		f:        res.F,
		gradNorm: gradNorm,
		summary:  res.Summary,
	}, nil
}

// searchTol maps the optional line-search settings of a run onto the
// minimizer. A nil return keeps the built-in defaults.
func searchTol(config Config) *lbfgs.SearchTol {
	if config.Wolfe == 0 && !config.WarmStart {
		return nil
	}
	return &lbfgs.SearchTol{Curvature: config.Wolfe, WarmStart: config.WarmStart}
}

// gatherGlobal assembles the full iterate from one shard per rank.
// The shards are disjoint, so a zero-padded sum is a gather. Every
// rank must join the call.
func gatherGlobal(comm partvec.Comm, dim, offset int, shard []float64) []float64 {
	contrib := make([]float64, dim)
	copy(contrib[offset:], shard)
	return comm.AllReduceSum(partvec.OpGather, contrib...)
}

// observe publishes one accepted iteration: run record, notify hook
// and trace line.
func (m *Manager) observe(rs *runState, iter int, f, gNorm float64, tw *store.TraceWriter) {
	m.update(rs, func(r *Run) {
		r.Iteration = iter
		r.F = f
		r.GradNorm = gNorm
	})
	m.emit(rs)
	if tw != nil {
		entry := store.TraceEntry{Iteration: iter, F: f, GradNorm: gNorm, Timestamp: time.Now()}
		if err := tw.Write(entry); err != nil {
			slog.Warn("Trace write failed", "runID", rs.run.ID, "error", err)
		}
	}
}

// checkpointDue reports whether the iteration ends a checkpoint period.
// The decision depends only on shared configuration, so every rank of
// a partitioned run takes the same branch.
func (m *Manager) checkpointDue(config Config, iter int) bool {
	return m.st != nil && config.CheckpointEvery > 0 && iter%config.CheckpointEvery == 0
}

// saveCheckpoint persists a snapshot of the iterate. Failures are
// logged, never fatal: losing a checkpoint must not kill the run.
func (m *Manager) saveCheckpoint(rs *runState, config Config, x []float64, f, gNorm float64, iter int) {
	cp := store.NewCheckpoint(rs.run.ID, append([]float64(nil), x...), f, gNorm, iter, config)
	if err := m.st.SaveCheckpoint(rs.run.ID, cp); err != nil {
		slog.Warn("Checkpoint save failed", "runID", rs.run.ID, "error", err)
	}
}

// openTrace opens the iteration trace of a run, appending when the run
// resumes an earlier one. A trace failure downgrades to a warning.
func (m *Manager) openTrace(rs *runState) *store.TraceWriter {
	if m.baseDir == "" {
		return nil
	}
	tw, err := store.NewTraceWriter(m.baseDir, rs.run.ID, rs.base > 0)
	if err != nil {
		slog.Warn("Trace disabled", "runID", rs.run.ID, "error", err)
		return nil
	}
	return tw
}

// finish moves a run into a terminal state, records the outcome and
// writes the final checkpoint.
func (m *Manager) finish(rs *runState, state State, out *outcome, err error) {
	now := time.Now()

	m.mu.Lock()
	config := rs.run.Config
	rs.run.State = state
	rs.run.EndTime = &now
	if out != nil {
		rs.run.F = out.f
		rs.run.GradNorm = out.gradNorm
		rs.run.Iteration = rs.base + out.summary.NumIter
		rs.run.NumEval = out.summary.NumEval
		rs.run.Status = out.summary.Status.String()
		rs.run.X = out.x
	}
	if err != nil {
		rs.run.Error = err.Error()
	}
	id, iter := rs.run.ID, rs.run.Iteration
	m.mu.Unlock()

	// Emit before releasing waiters, so whoever Wait returns to has
	// already seen the terminal event.
	m.emit(rs)
	close(rs.done)

	if err != nil {
		slog.Error("Run failed", "runID", id, "error", err)
		return
	}
	slog.Info("Run finished", "runID", id, "state", string(state), "status", out.summary.Status.String(), "iterations", iter)

	// A final checkpoint makes a finished or cancelled run resumable.
	if m.st != nil && out != nil {
		m.saveCheckpoint(rs, config, out.x, out.f, out.gradNorm, iter)
	}
}
