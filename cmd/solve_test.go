package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/manifoldopt/internal/server"
	"github.com/cwbudde/manifoldopt/internal/store"
)

// resetSolveFlags restores the solve flags to their defaults after a test.
func resetSolveFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		problemName = ""
		problemSize = 5
		problemSeed = 0
		backendName = ""
		solverName = "trust-regions"
		maxIters = 1000
		maxTime = 0
		minGradNorm = 1e-6
		maxCostEvals = 0
		seed = 42
		fromRun = ""
		dataDir = "./data"
		tracePoints = false
		solveLog = "summary"
		verbosity = 0
		configFile = ""
	})
}

func solve(t *testing.T) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	solveCmd.SetOut(&buf)
	defer solveCmd.SetOut(nil)
	err := runSolve(solveCmd, nil)
	return buf.String(), err
}

func runIDFromOutput(t *testing.T, out string) string {
	t.Helper()
	line, _, _ := strings.Cut(out, "\n")
	id, ok := strings.CutPrefix(line, "Run ")
	if !ok {
		t.Fatalf("Unexpected output: %q", out)
	}
	id, _, _ = strings.Cut(id, ":")
	return id
}

func TestSolveCommand(t *testing.T) {
	resetSolveFlags(t)
	tmpDir := t.TempDir()

	problemName = "rayleigh"
	problemSize = 4
	problemSeed = 3
	dataDir = tmpDir

	out, err := solve(t)
	if err != nil {
		t.Fatalf("solve failed: %v", err)
	}
	for _, want := range []string{"Cost:", "gap to optimum", "Iterations:", "Stored in:"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output should contain %q:\n%s", want, out)
		}
	}

	st, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	rec, err := st.LoadRun(runIDFromOutput(t, out))
	if err != nil {
		t.Fatalf("Run should be stored: %v", err)
	}
	if rec.Status != store.StatusCompleted {
		t.Errorf("Status = %s, want completed", rec.Status)
	}
	if rec.Log == nil || rec.Log.Final == nil {
		t.Error("Summary log should be stored with the run")
	}
}

func TestSolveCommand_WarmStartAndConfig(t *testing.T) {
	resetSolveFlags(t)
	tmpDir := t.TempDir()

	problemName = "karcher"
	problemSize = 3
	dataDir = tmpDir
	solverName = "steepest-descent"
	maxIters = 2

	out, err := solve(t)
	if err != nil {
		t.Fatalf("First solve failed: %v", err)
	}
	first := runIDFromOutput(t, out)

	configPath := filepath.Join(tmpDir, "cg.yaml")
	if err := os.WriteFile(configPath, []byte("beta_rule: polak-ribiere\north_value: 0.5\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	configFile = configPath
	solverName = "conjugate-gradient"
	maxIters = 200
	fromRun = first

	out, err = solve(t)
	if err != nil {
		t.Fatalf("Warm-started solve failed: %v", err)
	}

	st, _ := store.NewFSStore(tmpDir)
	rec, err := st.LoadRun(runIDFromOutput(t, out))
	if err != nil {
		t.Fatalf("Run should be stored: %v", err)
	}
	if rec.Config.WarmStart != first {
		t.Errorf("WarmStart = %q, want %q", rec.Config.WarmStart, first)
	}
	if rec.Config.Params.BetaRule != "polak-ribiere" || rec.Config.Params.OrthValue != 0.5 {
		t.Errorf("Params from config file not applied: %+v", rec.Config.Params)
	}
}

func TestSolveCommand_Errors(t *testing.T) {
	resetSolveFlags(t)
	dataDir = ""

	problemName = "unknown"
	if _, err := solve(t); err == nil {
		t.Error("Expected error for an unknown problem")
	}

	problemName = "rayleigh"
	solveLog = "verbose"
	if _, err := solve(t); err == nil {
		t.Error("Expected error for an unknown log verbosity")
	}

	solveLog = "summary"
	fromRun = "some-run"
	if _, err := solve(t); err == nil {
		t.Error("Expected error for a warm start without storage")
	}

	fromRun = ""
	configFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := solve(t); err == nil {
		t.Error("Expected error for a missing config file")
	}
}

func TestLoadSolverParams(t *testing.T) {
	params, err := loadSolverParams("")
	if err != nil {
		t.Fatalf("Empty path should give defaults: %v", err)
	}
	if params.RhoPrime != 0 || params.BetaRule != "" {
		t.Errorf("Expected zero params, got %+v", params)
	}

	path := filepath.Join(t.TempDir(), "tr.json")
	content := `{"rho_prime": 0.2, "max_inner": 15, "use_rand": true, "line_search": "adaptive"}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	params, err = loadSolverParams(path)
	if err != nil {
		t.Fatalf("loadSolverParams failed: %v", err)
	}
	if params.RhoPrime != 0.2 || params.MaxInner != 15 || !params.UseRand || params.LineSearch != "adaptive" {
		t.Errorf("Unexpected params: %+v", params)
	}
}

func TestStatusCommand(t *testing.T) {
	srv := server.NewServer(":0", nil)
	defer srv.Shutdown(context.Background())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	original := serverURL
	serverURL = ts.URL
	defer func() { serverURL = original }()

	var buf bytes.Buffer
	statusCmd.SetOut(&buf)
	defer statusCmd.SetOut(nil)

	if err := runStatus(statusCmd, nil); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(buf.String(), "No runs found") {
		t.Errorf("Unexpected output: %q", buf.String())
	}

	resp, err := ts.Client().Post(ts.URL+"/api/v1/runs", "application/json",
		strings.NewReader(`{"problem": "rayleigh", "size": 4, "problemSeed": 1}`))
	if err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}
	resp.Body.Close()

	buf.Reset()
	if err := runStatus(statusCmd, nil); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Found 1 run(s)") {
		t.Fatalf("Unexpected output: %q", out)
	}
	runID := strings.TrimSpace(strings.TrimPrefix(strings.Split(out, "\n")[2], "Run ID:"))

	deadline := time.Now().Add(10 * time.Second)
	for {
		buf.Reset()
		if err := runStatus(statusCmd, []string{runID}); err != nil {
			t.Fatalf("status %s failed: %v", runID, err)
		}
		if strings.Contains(buf.String(), "State: completed") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Run did not complete:\n%s", buf.String())
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(buf.String(), "Problem: rayleigh (size 4, seed 1)") {
		t.Errorf("Unexpected status output:\n%s", buf.String())
	}

	if err := runStatus(statusCmd, []string{"missing"}); err == nil || !strings.Contains(err.Error(), "run not found") {
		t.Errorf("Expected run not found error, got %v", err)
	}
}
