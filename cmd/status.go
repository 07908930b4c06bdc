package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/manifoldopt/internal/opt"
	"github.com/cwbudde/manifoldopt/internal/server"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Query server status or a specific run",
	Long: `Queries a running server for run status information.
If no run-id is provided, lists all runs of the server.
If run-id is provided, shows detailed status for that run.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := outWriter(cmd)
	if len(args) == 0 {
		return listServerRuns(out, fmt.Sprintf("%s/api/v1/runs", serverURL))
	}
	runID := args[0]
	return getRunStatus(out, fmt.Sprintf("%s/api/v1/runs/%s/status", serverURL, runID), runID)
}

func getJSON(url string, v interface{}) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listServerRuns(out io.Writer, url string) error {
	var jobs []server.Job
	if _, err := getJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No runs found")
		return nil
	}

	fmt.Fprintf(out, "Found %d run(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(out, "Run ID: %s\n", job.ID)
		fmt.Fprintf(out, "  State: %s\n", job.State)
		fmt.Fprintf(out, "  Problem: %s (size %d)\n", job.Config.Problem, job.Config.Size)
		fmt.Fprintf(out, "  Solver: %s\n", job.Config.Solver)
		fmt.Fprintf(out, "  Iterations: %d\n", job.Iterations)
		fmt.Fprintf(out, "  Cost: %.10g\n", float64(job.Cost))
		fmt.Fprintln(out)
	}

	return nil
}

// runStatusResponse mirrors the body of GET /api/v1/runs/{id}/status.
type runStatusResponse struct {
	ID         string           `json:"id"`
	State      server.JobState  `json:"state"`
	Config     server.JobConfig `json:"config"`
	Cost       opt.Float        `json:"cost"`
	Optimum    opt.Float        `json:"optimum"`
	Iterations int              `json:"iterations"`
	CostEvals  int              `json:"costEvals"`
	Stop       string           `json:"stop"`
	StopReason string           `json:"stopReason"`
	Elapsed    float64          `json:"elapsed"`
	Error      string           `json:"error"`
}

func getRunStatus(out io.Writer, url, runID string) error {
	var status runStatusResponse
	code, err := getJSON(url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run: %s\n", status.ID)
	fmt.Fprintf(out, "State: %s\n", status.State)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Problem: %s (size %d, seed %d)\n", status.Config.Problem, status.Config.Size, status.Config.ProblemSeed)
	fmt.Fprintf(out, "  Solver: %s\n", status.Config.Solver)
	fmt.Fprintf(out, "  Max iterations: %d\n", status.Config.MaxIterations)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Iterations: %d\n", status.Iterations)
	fmt.Fprintf(out, "  Cost evals: %d\n", status.CostEvals)
	fmt.Fprintf(out, "  Cost: %.10g\n", float64(status.Cost))
	fmt.Fprintf(out, "  Gap to optimum: %.3g\n", float64(status.Cost-status.Optimum))
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.Stop != "" {
		fmt.Fprintf(out, "  Stop: %s (%s)\n", status.Stop, status.StopReason)
	}

	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}

	return nil
}
