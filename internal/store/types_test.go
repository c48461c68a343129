// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/curioloop/largemin/internal/store"
)

func TestValidate_Checkpoint(t *testing.T) {
	require.NoError(t, testCheckpoint("run-a").Validate())

	cases := []struct {
		field  string
		mutate func(c *store.Checkpoint)
	}{
		{"RunID", func(c *store.Checkpoint) { c.RunID = "" }},
		{"X", func(c *store.Checkpoint) { c.X = nil }},
		{"F", func(c *store.Checkpoint) { c.F = math.NaN() }},
		{"GradNorm", func(c *store.Checkpoint) { c.GradNorm = -1 }},
		{"Iteration", func(c *store.Checkpoint) { c.Iteration = -1 }},
		{"Timestamp", func(c *store.Checkpoint) { c.Timestamp = time.Time{} }},
		{"Config.Problem", func(c *store.Checkpoint) { c.Config.Problem = "" }},
		{"Config.Dim", func(c *store.Checkpoint) { c.Config.Dim = 0 }},
		{"Config.Memory", func(c *store.Checkpoint) { c.Config.Memory = 0 }},
		{"Config.MaxIter", func(c *store.Checkpoint) { c.Config.MaxIter = 0 }},
		{"Config", func(c *store.Checkpoint) { c.Config.GradTol = -1 }},
		{"X", func(c *store.Checkpoint) { c.X = []float64{1} }},
	}

	for _, tc := range cases {
		cp := testCheckpoint("run-a")
		tc.mutate(cp)

		err := cp.Validate()
		require.Error(t, err, tc.field)

		var ve *store.ValidationError
		require.ErrorAs(t, err, &ve, tc.field)
		require.Equal(t, tc.field, ve.Field)
	}
}

func TestNewCheckpoint_Stamps(t *testing.T) {
	cp := store.NewCheckpoint("run-a", []float64{1, 2}, 0.5, 0.1, 3, store.RunConfig{
		Problem: "sphere", Dim: 2, Memory: 5, MaxIter: 10,
	})
	require.NoError(t, cp.Validate())
	require.False(t, cp.Timestamp.IsZero())
}

func TestToInfo_StripsIterate(t *testing.T) {
	cp := testCheckpoint("run-a")
	info := cp.ToInfo()

	require.Equal(t, cp.RunID, info.RunID)
	require.Equal(t, cp.F, info.F)
	require.Equal(t, cp.GradNorm, info.GradNorm)
	require.Equal(t, cp.Iteration, info.Iteration)
	require.Equal(t, cp.Config.Problem, info.Problem)
	require.Equal(t, cp.Config.Dim, info.Dim)
}

func TestIsCompatible_ObjectiveIdentity(t *testing.T) {
	cp := testCheckpoint("run-a")

	require.NoError(t, cp.IsCompatible(cp.Config))

	// Tolerances, memory and partition layout may change on resume.
	relaxed := cp.Config
	relaxed.Epsilon = 1e-3
	relaxed.Memory = 20
	relaxed.Parts = 4
	require.NoError(t, cp.IsCompatible(relaxed))

	other := cp.Config
	other.Problem = "rosenbrock"
	err := cp.IsCompatible(other)
	var ce *store.CompatibilityError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "Problem", ce.Field)

	other = cp.Config
	other.Dim = 5
	err = cp.IsCompatible(other)
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "Dim", ce.Field)
}
