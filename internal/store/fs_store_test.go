package store

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/manifoldopt/internal/opt"
)

// setupTestStore creates a temporary directory and returns an FSStore for testing.
func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir()
	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}

	return store, tempDir
}

func testRunConfig() RunConfig {
	return RunConfig{
		Problem:       "rayleigh",
		Size:          5,
		Solver:        "trust-regions",
		Params:        opt.Params{RhoPrime: 0.1},
		MaxIterations: 100,
		MinGradNorm:   1e-6,
		Seed:          42,
	}
}

// createTestRun creates a completed run record with test data.
func createTestRun(runID string) *RunRecord {
	rec := NewRunRecord(runID, testRunConfig())
	rec.Finish([]float64{1, 0, 0, 0, 0}, &opt.Result{
		Cost:       1.0,
		Iterations: 12,
		CostEvals:  13,
		Stop:       opt.Stop{Kind: opt.StopMinGradNorm, Reason: "Terminated - min grad norm reached after 12 iterations, 0.00 seconds."},
	})
	return rec
}

func TestNewFSStore(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "nested", "data")

	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	if store.BaseDir() != tempDir {
		t.Errorf("BaseDir = %s, want %s", store.BaseDir(), tempDir)
	}
	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Fatal("Base directory was not created")
	}
}

func TestSaveRun(t *testing.T) {
	store, tempDir := setupTestStore(t)

	runID := "test-run-123"
	if err := store.SaveRun(createTestRun(runID)); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	expectedPath := filepath.Join(tempDir, "runs", runID, "run.json")
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Fatalf("Run file was not created at %s", expectedPath)
	}
	if _, err := os.Stat(expectedPath + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("Temp file should not exist after save")
	}
}

func TestSaveRun_Invalid(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.SaveRun(nil); err == nil {
		t.Error("Expected error for nil record")
	}

	rec := createTestRun("any-id")
	rec.RunID = ""
	if err := store.SaveRun(rec); err == nil {
		t.Error("Expected error for empty runID")
	}

	rec = createTestRun("no-point")
	rec.X = nil
	err := store.SaveRun(rec)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected ValidationError, got %T: %v", err, err)
	}
	if validationErr.Field != "X" {
		t.Errorf("Field = %s, want X", validationErr.Field)
	}
}

func TestSaveRun_Overwrite(t *testing.T) {
	store, _ := setupTestStore(t)

	runID := "test-run-overwrite"
	running := NewRunRecord(runID, testRunConfig())
	if err := store.SaveRun(running); err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	if err := store.SaveRun(createTestRun(runID)); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := store.LoadRun(runID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Status != StatusCompleted {
		t.Errorf("Status = %s, want %s", loaded.Status, StatusCompleted)
	}
}

func TestLoadRun(t *testing.T) {
	store, _ := setupTestStore(t)

	runID := "test-run-load"
	original := createTestRun(runID)
	original.Log = &opt.Log{
		Solver:     "trust-regions",
		Manifold:   "Sphere(5)",
		Iterations: []opt.IterationRecord{{Iteration: 0, Cost: 3, Extra: map[string]opt.Float{"rho": opt.Float(math.NaN())}}},
	}
	if err := store.SaveRun(original); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	loaded, err := store.LoadRun(runID)
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}

	if loaded.RunID != original.RunID {
		t.Errorf("RunID mismatch: expected %s, got %s", original.RunID, loaded.RunID)
	}
	if loaded.Cost != original.Cost {
		t.Errorf("Cost mismatch: expected %g, got %g", original.Cost, loaded.Cost)
	}
	if loaded.Iterations != original.Iterations {
		t.Errorf("Iterations mismatch: expected %d, got %d", original.Iterations, loaded.Iterations)
	}
	if len(loaded.X) != len(original.X) {
		t.Errorf("X length mismatch: expected %d, got %d", len(original.X), len(loaded.X))
	}
	if loaded.Stop == nil || loaded.Stop.Kind != opt.StopMinGradNorm {
		t.Errorf("Stop = %v, want min-grad-norm", loaded.Stop)
	}
	if loaded.Config.Params.RhoPrime != 0.1 {
		t.Errorf("Config.Params.RhoPrime = %g, want 0.1", loaded.Config.Params.RhoPrime)
	}
	if loaded.Log == nil || len(loaded.Log.Iterations) != 1 {
		t.Fatalf("Log not restored: %+v", loaded.Log)
	}
	if rho := loaded.Log.Iterations[0].Extra["rho"]; !math.IsNaN(float64(rho)) {
		t.Errorf("rho = %g, want NaN", rho)
	}
}

func TestLoadRun_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.LoadRun("nonexistent-run")
	if err == nil {
		t.Fatal("Expected error for nonexistent run")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected NotFoundError, got %T: %v", err, err)
	}
	if err.Error() != "run not found: nonexistent-run" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestLoadRun_EmptyRunID(t *testing.T) {
	store, _ := setupTestStore(t)

	if _, err := store.LoadRun(""); err == nil {
		t.Fatal("Expected error for empty runID")
	}
}

func TestListRuns_Empty(t *testing.T) {
	store, _ := setupTestStore(t)

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("Expected empty list, got %d runs", len(infos))
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	store, _ := setupTestStore(t)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, runID := range []string{"run-1", "run-2", "run-3"} {
		rec := createTestRun(runID)
		rec.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.SaveRun(rec); err != nil {
			t.Fatalf("Failed to save run %s: %v", runID, err)
		}
	}

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(infos))
	}
	for i, want := range []string{"run-3", "run-2", "run-1"} {
		if infos[i].RunID != want {
			t.Errorf("infos[%d].RunID = %s, want %s", i, infos[i].RunID, want)
		}
	}
	if infos[0].Stop != "min-grad-norm" {
		t.Errorf("Stop = %q, want min-grad-norm", infos[0].Stop)
	}
}

func TestListRuns_SkipsInvalidDirectories(t *testing.T) {
	store, tempDir := setupTestStore(t)

	validRunID := "valid-run"
	if err := store.SaveRun(createTestRun(validRunID)); err != nil {
		t.Fatalf("Failed to save valid run: %v", err)
	}

	// A directory with only a trace and no run.json.
	if err := os.MkdirAll(filepath.Join(tempDir, "runs", "trace-only"), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	// A corrupt record.
	corruptDir := filepath.Join(tempDir, "runs", "corrupt")
	if err := os.MkdirAll(corruptDir, 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(corruptDir, "run.json"), []byte("{"), 0644); err != nil {
		t.Fatalf("Failed to write corrupt record: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "runs", "dummy.txt"), []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create dummy file: %v", err)
	}

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != 1 || infos[0].RunID != validRunID {
		t.Errorf("Expected only %s, got %+v", validRunID, infos)
	}
}

func TestDeleteRun(t *testing.T) {
	store, tempDir := setupTestStore(t)

	runID := "test-run-delete"
	if err := store.SaveRun(createTestRun(runID)); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	writer, err := NewTraceWriter(tempDir, runID, false)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	if err := writer.Write(TraceEntry{Iteration: 0, Cost: 1}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	writer.Close()

	if err := store.DeleteRun(runID); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tempDir, "runs", runID)); !os.IsNotExist(err) {
		t.Error("Run directory should not exist after delete")
	}
	if _, err := store.LoadRun(runID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete: expected NotFoundError, got %v", err)
	}
}

func TestDeleteRun_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	err := store.DeleteRun("nonexistent-run")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected NotFoundError, got %T: %v", err, err)
	}
	if err := store.DeleteRun(""); err == nil {
		t.Error("Expected error for empty runID")
	}
}

func TestConcurrentSave(t *testing.T) {
	store, _ := setupTestStore(t)

	const numGoroutines = 10
	done := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			done <- store.SaveRun(createTestRun(fmt.Sprintf("concurrent-run-%d", id)))
		}(i)
	}
	for i := 0; i < numGoroutines; i++ {
		if err := <-done; err != nil {
			t.Errorf("Concurrent save failed: %v", err)
		}
	}

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != numGoroutines {
		t.Errorf("Expected %d runs, got %d", numGoroutines, len(infos))
	}
}
