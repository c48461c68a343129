// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/curioloop/largemin/internal/store"
)

func testInfo(id string, age time.Duration) store.CheckpointInfo {
	return store.CheckpointInfo{
		RunID:     id,
		Problem:   "sphere",
		Dim:       10,
		Iteration: 42,
		F:         0.5,
		GradNorm:  0.1,
		Timestamp: time.Now().Add(-age),
	}
}

func testConfig() store.RunConfig {
	return store.RunConfig{
		Problem: "sphere",
		Dim:     3,
		Memory:  5,
		Epsilon: 1e-9,
		GradTol: 1e-8,
		MaxIter: 100,
	}
}

func TestSelectCheckpointsForDeletion_ByAge(t *testing.T) {
	infos := []store.CheckpointInfo{
		testInfo("old", 10*24*time.Hour),
		testInfo("mid", 5*24*time.Hour),
		testInfo("new", time.Hour),
	}

	toDelete := selectCheckpointsForDeletion(infos, 0, 7)
	if len(toDelete) != 1 {
		t.Fatalf("expected 1 checkpoint to delete, got %d", len(toDelete))
	}
	if toDelete[0].RunID != "old" {
		t.Errorf("expected to delete old, got %s", toDelete[0].RunID)
	}
}

func TestSelectCheckpointsForDeletion_ByCount(t *testing.T) {
	infos := []store.CheckpointInfo{
		testInfo("a", 4*time.Hour),
		testInfo("b", 3*time.Hour),
		testInfo("c", 2*time.Hour),
		testInfo("d", time.Hour),
	}

	toDelete := selectCheckpointsForDeletion(infos, 2, 0)
	if len(toDelete) != 2 {
		t.Fatalf("expected 2 checkpoints to delete, got %d", len(toDelete))
	}
	deleted := map[string]bool{}
	for _, info := range toDelete {
		deleted[info.RunID] = true
	}
	if !deleted["a"] || !deleted["b"] {
		t.Errorf("expected to delete the two oldest (a, b), got %v", deleted)
	}
}

func TestSelectCheckpointsForDeletion_Combined(t *testing.T) {
	infos := []store.CheckpointInfo{
		testInfo("ancient", 30*24*time.Hour),
		testInfo("recent", time.Hour),
	}

	// The ancient entry matches both criteria but must appear only once.
	toDelete := selectCheckpointsForDeletion(infos, 1, 7)
	if len(toDelete) != 1 {
		t.Fatalf("expected 1 checkpoint to delete, got %d", len(toDelete))
	}
	if toDelete[0].RunID != "ancient" {
		t.Errorf("expected to delete ancient, got %s", toDelete[0].RunID)
	}
}

func TestSelectCheckpointsForDeletion_NoPolicy(t *testing.T) {
	infos := []store.CheckpointInfo{testInfo("a", time.Hour)}
	if toDelete := selectCheckpointsForDeletion(infos, 0, 0); len(toDelete) != 0 {
		t.Errorf("expected nothing to delete, got %d", len(toDelete))
	}
}

func TestGetDirSize(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(tmpDir, "a.json"), make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	subDir := filepath.Join(tmpDir, "sub")
	if err := os.Mkdir(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(subDir, "b.json"), make([]byte, 50), 0644); err != nil {
		t.Fatal(err)
	}

	size, err := getDirSize(tmpDir)
	if err != nil {
		t.Fatalf("getDirSize failed: %v", err)
	}
	if size != 150 {
		t.Errorf("expected size 150, got %d", size)
	}
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{5 * 1024 * 1024 * 1024, "5.0 GB"},
	}
	for _, c := range cases {
		if got := formatBytes(c.bytes); got != c.want {
			t.Errorf("formatBytes(%d) = %q, want %q", c.bytes, got, c.want)
		}
	}
}

func TestPreviewVector(t *testing.T) {
	short := previewVector([]float64{1, 2}, 4)
	if short != "[1 2]" {
		t.Errorf("unexpected short preview: %q", short)
	}
	long := previewVector(make([]float64, 100), 4)
	if long != "[0 0 0 0 ...] (100 values)" {
		t.Errorf("unexpected long preview: %q", long)
	}
}

func TestCheckpointsListCommand_NoCheckpoints(t *testing.T) {
	tmpDir := t.TempDir()

	originalDataDir := checkpointDataDir
	checkpointDataDir = tmpDir
	defer func() { checkpointDataDir = originalDataDir }()

	if err := runListCheckpoints(nil, nil); err != nil {
		t.Errorf("expected no error for empty store, got %v", err)
	}
}

func TestCheckpointsListCommand_WithCheckpoints(t *testing.T) {
	tmpDir := t.TempDir()

	checkpointStore, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	cp := store.NewCheckpoint("run-a", []float64{1, 2, 3}, 0.5, 0.1, 10, testConfig())
	if err := checkpointStore.SaveCheckpoint("run-a", cp); err != nil {
		t.Fatal(err)
	}

	originalDataDir := checkpointDataDir
	checkpointDataDir = tmpDir
	defer func() { checkpointDataDir = originalDataDir }()

	if err := runListCheckpoints(nil, nil); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckpointsCleanCommand_NoFlags(t *testing.T) {
	originalKeep, originalAge := keepLast, olderThanDays
	keepLast, olderThanDays = 0, 0
	defer func() { keepLast, olderThanDays = originalKeep, originalAge }()

	if err := runCleanCheckpoints(nil, nil); err == nil {
		t.Error("expected an error when no retention policy is given")
	}
}

func TestCheckpointsCleanCommand_WithForce(t *testing.T) {
	tmpDir := t.TempDir()

	checkpointStore, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatal(err)
	}

	old := store.NewCheckpoint("old", []float64{1, 2, 3}, 0.5, 0.1, 10, testConfig())
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	if err := checkpointStore.SaveCheckpoint("old", old); err != nil {
		t.Fatal(err)
	}
	fresh := store.NewCheckpoint("fresh", []float64{4, 5, 6}, 0.25, 0.05, 20, testConfig())
	if err := checkpointStore.SaveCheckpoint("fresh", fresh); err != nil {
		t.Fatal(err)
	}

	originalDataDir := checkpointDataDir
	originalKeep, originalAge, originalForce := keepLast, olderThanDays, forceClean
	checkpointDataDir = tmpDir
	keepLast, olderThanDays, forceClean = 1, 0, true
	defer func() {
		checkpointDataDir = originalDataDir
		keepLast, olderThanDays, forceClean = originalKeep, originalAge, originalForce
	}()

	if err := runCleanCheckpoints(nil, nil); err != nil {
		t.Fatalf("clean failed: %v", err)
	}

	infos, err := checkpointStore.ListCheckpoints()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 checkpoint to survive, got %d", len(infos))
	}
	if infos[0].RunID != "fresh" {
		t.Errorf("expected the fresh checkpoint to survive, got %s", infos[0].RunID)
	}
}
