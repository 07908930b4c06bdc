package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/manifoldopt/internal/store"
)

var (
	runsDataDir   string
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage stored optimization runs",
	Long: `Manage stored optimization runs including listing, inspecting and cleaning old runs.
Stored runs can be continued with "solve --from <run-id>".`,
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored runs",
	Long:  `Display all runs with metadata including run ID, start time, problem, solver, cost, stop reason and size on disk.`,
	RunE:  runListRuns,
}

var showRunCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show a stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRun,
}

var cleanRunsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old runs",
	Long: `Delete old runs and their traces based on a retention policy.
You can keep only the most recent N runs or delete runs older than N days.`,
	RunE: runCleanRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.AddCommand(listRunsCmd)
	runsCmd.AddCommand(showRunCmd)
	runsCmd.AddCommand(cleanRunsCmd)

	runsCmd.PersistentFlags().StringVar(&runsDataDir, "data-dir", "./data", "Base directory for run storage")

	cleanRunsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the last N runs (0 = keep all)")
	cleanRunsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs older than N days (0 = no age limit)")
	cleanRunsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func runListRuns(cmd *cobra.Command, args []string) error {
	runStore, err := store.NewFSStore(runsDataDir)
	if err != nil {
		return fmt.Errorf("failed to create run store: %w", err)
	}

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	out := outWriter(cmd)
	if len(infos) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTARTED\tSTATUS\tPROBLEM\tSOLVER\tITERS\tCOST\tSTOP\tSIZE")
	fmt.Fprintln(w, "------\t-------\t------\t-------\t-------\t-----\t----\t----\t----")

	for _, info := range infos {
		size, err := getDirSize(filepath.Join(runStore.BaseDir(), "runs", info.RunID))
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s(%d)\t%s\t%d\t%.6g\t%s\t%s\n",
			shortID(info.RunID),
			info.StartedAt.Format("2006-01-02 15:04:05"),
			info.Status,
			info.Problem,
			info.Size,
			info.Solver,
			info.Iterations,
			float64(info.Cost),
			info.Stop,
			sizeStr,
		)
	}

	w.Flush()

	fmt.Fprintf(out, "\nTotal runs: %d\n", len(infos))
	return nil
}

func runShowRun(cmd *cobra.Command, args []string) error {
	runStore, err := store.NewFSStore(runsDataDir)
	if err != nil {
		return fmt.Errorf("failed to create run store: %w", err)
	}

	rec, err := runStore.LoadRun(args[0])
	if err != nil {
		return err
	}

	out := outWriter(cmd)
	fmt.Fprintf(out, "Run: %s\n", rec.RunID)
	fmt.Fprintf(out, "Status: %s\n", rec.Status)
	fmt.Fprintln(out)

	cfg := rec.Config
	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Problem: %s (size %d, seed %d)\n", cfg.Problem, cfg.Size, cfg.ProblemSeed)
	fmt.Fprintf(out, "  Solver: %s\n", cfg.Solver)
	if cfg.Backend != "" {
		fmt.Fprintf(out, "  Backend: %s\n", cfg.Backend)
	}
	fmt.Fprintf(out, "  Max iterations: %d\n", cfg.MaxIterations)
	fmt.Fprintf(out, "  Min grad norm: %g\n", cfg.MinGradNorm)
	if cfg.MaxTime > 0 {
		fmt.Fprintf(out, "  Max time: %s\n", cfg.MaxTime)
	}
	if cfg.WarmStart != "" {
		fmt.Fprintf(out, "  Warm start: %s\n", cfg.WarmStart)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Result:")
	fmt.Fprintf(out, "  Cost: %.10g\n", float64(rec.Cost))
	fmt.Fprintf(out, "  Iterations: %d\n", rec.Iterations)
	fmt.Fprintf(out, "  Cost evals: %d\n", rec.CostEvals)
	if rec.Stop != nil {
		fmt.Fprintf(out, "  Stop: %s (%s)\n", rec.Stop.Kind, rec.Stop.Reason)
	}
	if !rec.FinishedAt.IsZero() {
		fmt.Fprintf(out, "  Elapsed: %s\n", rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond))
	}
	if rec.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", rec.Error)
	}

	entries, err := readTrace(runStore.BaseDir(), rec.RunID)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		first, last := entries[0], entries[len(entries)-1]
		fmt.Fprintf(out, "\nTrace: %d entries, cost %.6g at iteration %d -> %.6g at iteration %d\n",
			len(entries), float64(first.Cost), first.Iteration, float64(last.Cost), last.Iteration)
	}
	return nil
}

// readTrace returns the trace of a run, or nil when the run has none.
func readTrace(baseDir, runID string) ([]store.TraceEntry, error) {
	reader, err := store.NewTraceReader(baseDir, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return reader.ReadAll()
}

func runCleanRuns(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	runStore, err := store.NewFSStore(runsDataDir)
	if err != nil {
		return fmt.Errorf("failed to create run store: %w", err)
	}

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	out := outWriter(cmd)
	if len(infos) == 0 {
		fmt.Fprintln(out, "No runs to clean.")
		return nil
	}

	toDelete := selectRunsForDeletion(infos, keepLast, olderThanDays)

	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No runs match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d run(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s, %s)\n",
			shortID(info.RunID),
			info.Status,
			info.StartedAt.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := runStore.DeleteRun(info.RunID); err != nil {
			slog.Error("Failed to delete run", "run_id", info.RunID, "error", err)
			failed++
		} else {
			slog.Info("Deleted run", "run_id", info.RunID)
			deleted++
		}
	}

	fmt.Fprintf(out, "\nDeleted %d run(s), %d failed.\n", deleted, failed)
	return nil
}

// selectRunsForDeletion determines which runs should be deleted based on the
// retention policy. Running runs are never selected.
func selectRunsForDeletion(infos []store.RunInfo, keepLast int, olderThanDays int) []store.RunInfo {
	var toDelete []store.RunInfo
	selected := make(map[string]bool)

	var finished []store.RunInfo
	for _, info := range infos {
		if info.Status != store.StatusRunning {
			finished = append(finished, info)
		}
	}

	if olderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays)
		for _, info := range finished {
			if info.StartedAt.Before(cutoff) {
				toDelete = append(toDelete, info)
				selected[info.RunID] = true
			}
		}
	}

	if keepLast > 0 && len(finished) > keepLast {
		sorted := make([]store.RunInfo, len(finished))
		copy(sorted, finished)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].StartedAt.After(sorted[j].StartedAt)
		})

		for _, info := range sorted[keepLast:] {
			if !selected[info.RunID] {
				toDelete = append(toDelete, info)
				selected[info.RunID] = true
			}
		}
	}

	return toDelete
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

func outWriter(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats a byte count as a human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
