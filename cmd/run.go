// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/curioloop/largemin/internal/problems"
	"github.com/curioloop/largemin/internal/runs"
	"github.com/curioloop/largemin/internal/store"
	"github.com/curioloop/largemin/numdiff"
)

var (
	problemName     string
	probDim         int
	memSize         int
	epsilon         float64
	gradTol         float64
	maxIter         int
	numParts        int
	wolfe           float64
	warmStart       bool
	checkGrad       bool
	checkpointDir   string
	checkpointEvery int
	traceEnabled    bool
	quiet           bool
)

// progressInterval spaces the progress log lines of a non-quiet run.
const progressInterval = 100

// gradCheckTol bounds the relative deviation between the analytic
// gradient and its central difference approximation.
const gradCheckTol = 1e-6

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Minimize a named problem",
	Long: `Minimizes one of the built-in problem families and prints a result
summary. With --parts > 1 the vector is split into shards minimized by
cooperating workers. Known problems: ` + strings.Join(problems.Names(), ", ") + `.`,
	RunE: runMinimize,
}

func init() {
	runCmd.Flags().StringVar(&problemName, "problem", "", "Problem family to minimize (required)")
	runCmd.Flags().IntVar(&probDim, "dim", 100, "Problem dimension")
	runCmd.Flags().IntVar(&memSize, "m", 10, "Number of correction pairs kept in memory")
	runCmd.Flags().Float64Var(&epsilon, "epsilon", 1e-3, "Relative objective reduction tolerance")
	runCmd.Flags().Float64Var(&gradTol, "gtol", 1e-5, "Gradient norm tolerance")
	runCmd.Flags().IntVar(&maxIter, "max-iter", 1000, "Maximum number of iterations")
	runCmd.Flags().IntVar(&numParts, "parts", 1, "Number of vector shards minimized in parallel")
	runCmd.Flags().Float64Var(&wolfe, "wolfe", 0, "Curvature constant of the strong Wolfe condition (0 disables)")
	runCmd.Flags().BoolVar(&warmStart, "warm-start", false, "Seed each line search with the previous step length")
	runCmd.Flags().BoolVar(&checkGrad, "check-grad", false, "Verify the analytic gradient and exit")
	runCmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "Directory for run state (empty disables persistence)")
	runCmd.Flags().IntVar(&checkpointEvery, "checkpoint-every", 50, "Checkpoint every N iterations (0 disables periodic saves)")
	runCmd.Flags().BoolVar(&traceEnabled, "trace", false, "Write a per-iteration trace next to the checkpoint")
	runCmd.Flags().BoolVar(&quiet, "quiet", false, "Suppress progress output")

	runCmd.MarkFlagRequired("problem")
	rootCmd.AddCommand(runCmd)
}

func runMinimize(cmd *cobra.Command, args []string) error {
	prob, err := problems.Get(problemName)
	if err != nil {
		return err
	}
	if probDim <= 0 {
		return fmt.Errorf("dim must be positive, got %d", probDim)
	}

	if checkGrad {
		return runGradCheck(prob)
	}

	if numParts < 1 {
		return fmt.Errorf("parts must be at least 1, got %d", numParts)
	}
	if traceEnabled && checkpointDir == "" {
		return fmt.Errorf("the --trace flag requires --checkpoint-dir")
	}

	var st store.Store
	traceDir := ""
	if checkpointDir != "" {
		fs, err := store.NewFSStore(checkpointDir)
		if err != nil {
			return fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		st = fs
		if traceEnabled {
			traceDir = checkpointDir
		}
	}

	config := runs.Config{
		Problem:         problemName,
		Dim:             probDim,
		Memory:          memSize,
		Epsilon:         epsilon,
		GradTol:         gradTol,
		MaxIter:         maxIter,
		Parts:           numParts,
		CheckpointEvery: checkpointEvery,
		Wolfe:           wolfe,
		WarmStart:       warmStart,
	}

	mgr := runs.NewManager(st, traceDir, progressHook())
	run := mgr.Create(config)

	start := time.Now()
	final, err := executeRun(mgr, run.ID)
	if err != nil {
		return err
	}

	printRunSummary(final, time.Since(start))
	if final.State == runs.StateFailed {
		return fmt.Errorf("run failed: %s", final.Error)
	}
	return nil
}

// runGradCheck compares the analytic gradient of the selected problem
// against a central difference approximation at the standard start.
func runGradCheck(prob problems.Problem) error {
	inst, err := prob.Build(probDim)
	if err != nil {
		return err
	}
	maxErr, err := numdiff.CheckGrad(inst.Func, inst.Grad, inst.Start)
	if err != nil {
		return fmt.Errorf("gradient check failed: %w", err)
	}
	fmt.Printf("Gradient check: %s (n=%d), max relative deviation %.3e\n", problemName, probDim, maxErr)
	if maxErr > gradCheckTol {
		return fmt.Errorf("analytic gradient deviates from central difference by %.3e (tolerance %.0e)", maxErr, gradCheckTol)
	}
	fmt.Println("PASS")
	return nil
}

// progressHook builds the notify hook of an interactive run.
// Quiet runs get no hook at all.
func progressHook() func(runs.Event) {
	if quiet {
		return nil
	}
	return func(ev runs.Event) {
		if ev.State == runs.StateRunning && ev.Iteration%progressInterval == 0 {
			slog.Info("Progress", "iter", ev.Iteration, "f", ev.F, "gradNorm", ev.GradNorm)
		}
	}
}

// executeRun starts the run and blocks until it reaches a terminal
// state. An interrupt signal requests a clean stop, so the run winds
// down through its regular cancellation path and keeps its checkpoint.
func executeRun(mgr *runs.Manager, id string) (runs.Run, error) {
	if err := mgr.Start(id); err != nil {
		return runs.Run{}, err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("Signal received, stopping run", "signal", sig.String(), "runID", id)
			_ = mgr.Stop(id)
		case <-watchDone:
		}
	}()

	return mgr.Wait(id)
}

func printRunSummary(run runs.Run, elapsed time.Duration) {
	fmt.Printf("Run:        %s\n", run.ID)
	fmt.Printf("Problem:    %s (n=%d", run.Config.Problem, run.Config.Dim)
	if run.Config.Parts > 1 {
		fmt.Printf(", %d parts", run.Config.Parts)
	}
	fmt.Printf(")\n")
	fmt.Printf("State:      %s\n", run.State)
	if run.Status != "" {
		fmt.Printf("Status:     %s\n", run.Status)
	}
	fmt.Printf("Iterations: %d\n", run.Iteration)
	fmt.Printf("Evals:      %d\n", run.NumEval)
	fmt.Printf("F:          %.6e\n", run.F)
	fmt.Printf("|grad|:     %.6e\n", run.GradNorm)
	fmt.Printf("Elapsed:    %s\n", elapsed.Round(time.Millisecond))
}
