// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/curioloop/largemin/internal/runs"
	"github.com/curioloop/largemin/internal/store"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Resume a run from its checkpoint",
	Long: `Reloads the checkpoint of an earlier run and continues minimizing
from its saved iterate. The quasi-Newton memory restarts empty and is
rebuilt within a few iterations.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&checkpointDataDir, "data-dir", "./data", "Base directory for run state")
	resumeCmd.Flags().Float64Var(&epsilon, "epsilon", 1e-3, "Relative objective reduction tolerance")
	resumeCmd.Flags().Float64Var(&gradTol, "gtol", 1e-5, "Gradient norm tolerance")
	resumeCmd.Flags().IntVar(&maxIter, "max-iter", 1000, "Maximum number of iterations")
	resumeCmd.Flags().IntVar(&numParts, "parts", 1, "Number of vector shards minimized in parallel")
	resumeCmd.Flags().IntVar(&checkpointEvery, "checkpoint-every", 50, "Checkpoint every N iterations (0 disables periodic saves)")
	resumeCmd.Flags().BoolVar(&traceEnabled, "trace", false, "Append to the per-iteration trace of the run")
	resumeCmd.Flags().BoolVar(&quiet, "quiet", false, "Suppress progress output")

	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st, err := store.NewFSStore(checkpointDataDir)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	cp, err := st.LoadCheckpoint(runID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	// Explicit settings override the stored configuration, whether they
	// arrive through a flag, the environment or a config file.
	config := cp.Config
	flags := cmd.Flags()
	if flags.Changed("epsilon") {
		config.Epsilon = epsilon
	}
	if flags.Changed("gtol") {
		config.GradTol = gradTol
	}
	if flags.Changed("max-iter") {
		config.MaxIter = maxIter
	}
	if flags.Changed("parts") {
		config.Parts = numParts
	}
	if flags.Changed("checkpoint-every") {
		config.CheckpointEvery = checkpointEvery
	}

	traceDir := ""
	if traceEnabled {
		traceDir = checkpointDataDir
	}

	mgr := runs.NewManager(st, traceDir, progressHook())
	run, err := mgr.CreateFrom(cp, config)
	if err != nil {
		return err
	}

	slog.Info("Resuming run",
		"runID", run.ID,
		"problem", config.Problem,
		"fromIteration", run.Iteration,
		"f", run.F)

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
