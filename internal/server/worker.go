package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cwbudde/manifoldopt/internal/opt"
	"github.com/cwbudde/manifoldopt/internal/runner"
	"github.com/cwbudde/manifoldopt/internal/store"
)

// progressInterval throttles SSE progress events.
const progressInterval = 500 * time.Millisecond

// runJob executes an optimization job in the background.
// If runStore is not nil, the run is persisted and checkpointed every
// checkpointInterval while it solves.
func runJob(ctx context.Context, jm *JobManager, runStore *store.FSStore, metrics *Metrics, checkpointInterval time.Duration, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	jm.setCancel(jobID, cancel)
	defer jm.clearCancel(jobID)

	solver := job.Config.Solver
	metrics.RecordStart(solver)
	start := time.Now()

	var lastExtra map[string]opt.Float
	var extraMu sync.Mutex
	observer := func(rec opt.IterationRecord) {
		jm.UpdateJob(jobID, func(j *Job) {
			j.Iterations = rec.Iteration
			j.Cost = rec.Cost
			if rec.X != nil {
				j.X = rec.X
			}
		})
		extraMu.Lock()
		lastExtra = rec.Extra
		extraMu.Unlock()
		metrics.RecordIteration(solver)
	}

	plan, err := runner.Prepare(job.Config, runner.Options{
		RunID:        jobID,
		Store:        runStore,
		LogVerbosity: opt.LogSummary,
		Observer:     observer,
	})
	if err != nil {
		metrics.RecordFinish(solver, "error", time.Since(start))
		markJobFailed(jm, jobID, err)
		return err
	}

	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
		j.Optimum = opt.Float(plan.Instance.Optimum)
	})
	if err != nil {
		return err
	}

	slog.Info("Starting job",
		"job_id", jobID,
		"problem", job.Config.Problem,
		"size", job.Config.Size,
		"solver", solver,
	)

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitorProgress(ctx, jm, jobID, done, func() map[string]opt.Float {
			extraMu.Lock()
			defer extraMu.Unlock()
			return lastExtra
		})
	}()

	if runStore != nil && checkpointInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitorCheckpoints(ctx, jm, runStore, checkpointInterval, jobID, done)
		}()
	}

	rec, res, err := plan.Execute(ctx)

	close(done)
	wg.Wait()

	// A checkpoint tick may have landed after Execute saved the final
	// record; write it again so the stored status is the final one.
	if runStore != nil && rec != nil {
		if saveErr := runStore.SaveRun(rec); saveErr != nil {
			slog.Error("Failed to save final record", "job_id", jobID, "error", saveErr)
		}
	}

	if err != nil {
		metrics.RecordFinish(solver, "error", time.Since(start))
		markJobFailed(jm, jobID, err)
		return err
	}

	metrics.RecordFinish(solver, res.Stop.Kind.String(), res.Elapsed)

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = jobState(rec.Status)
		j.X = rec.X
		j.Cost = rec.Cost
		j.Iterations = rec.Iterations
		j.CostEvals = rec.CostEvals
		j.Stop = res.Stop.Kind.String()
		j.StopReason = res.Stop.Reason
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	slog.Info("Job finished",
		"job_id", jobID,
		"state", jobState(rec.Status),
		"stop", res.Stop.Kind.String(),
		"cost", res.Cost,
		"gap", plan.Instance.Gap(res.Cost),
		"iterations", res.Iterations,
		"elapsed", res.Elapsed,
	)

	final, _ := jm.GetJob(jobID)
	jm.broadcaster.Broadcast(progressEvent(final, nil))
	return nil
}

func jobState(status string) JobState {
	switch status {
	case store.StatusCompleted:
		return StateCompleted
	case store.StatusCancelled:
		return StateCancelled
	default:
		return StateFailed
	}
}

// monitorProgress periodically broadcasts progress events during optimization
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, done chan struct{}, extra func() map[string]opt.Float) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}
			jm.broadcaster.Broadcast(progressEvent(job, extra()))
		}
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)

	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(progressEvent(job, nil))
	}
}

// monitorCheckpoints periodically saves the progress of a running job
func monitorCheckpoints(ctx context.Context, jm *JobManager, runStore *store.FSStore, interval time.Duration, jobID string, done chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := saveCheckpoint(jm, runStore, jobID); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	}
}

// saveCheckpoint rewrites the running record of a job with its current point
// and cost.
func saveCheckpoint(jm *JobManager, runStore *store.FSStore, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if len(job.X) == 0 {
		slog.Debug("Skipping checkpoint, no point yet", "job_id", jobID)
		return nil
	}

	rec := store.NewRunRecord(jobID, job.Config)
	rec.StartedAt = job.StartTime
	rec.X = job.X
	rec.Cost = job.Cost
	rec.Iterations = job.Iterations

	if err := runStore.SaveRun(rec); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved",
		"job_id", jobID,
		"iteration", job.Iterations,
		"cost", float64(job.Cost),
	)
	return nil
}
