package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kkraso01/cognicodeide/internal/events"
	"github.com/kkraso01/cognicodeide/internal/executor"
	"github.com/kkraso01/cognicodeide/internal/metrics"
	"github.com/kkraso01/cognicodeide/internal/store"
)

// Dispatcher is the execution core shared by both queue backends: it takes
// a claimed job through running -> terminal and persists the outcome. The
// limiter caps concurrent subprocess trees regardless of how many workers
// feed it.
type Dispatcher struct {
	store    store.Store
	exec     *executor.Executor
	limiter  chan struct{}
	events   events.Publisher
	logger   *slog.Logger
	workerID string
}

func NewDispatcher(st store.Store, exec *executor.Executor, maxConcurrent int, pub events.Publisher, logger *slog.Logger, workerID string) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	return &Dispatcher{
		store:    st,
		exec:     exec,
		limiter:  make(chan struct{}, maxConcurrent),
		events:   pub,
		logger:   logger,
		workerID: workerID,
	}
}

// Process executes one job under the shared limiter and persists the
// terminal run state. It never returns user-code failures as errors; those
// land in the run record.
func (d *Dispatcher) Process(ctx context.Context, job *Job) error {
	select {
	case d.limiter <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-d.limiter }()

	metrics.RunsExecuting.Inc()
	defer metrics.RunsExecuting.Dec()
	metrics.QueueWaitTime.Observe(time.Since(job.EnqueuedAt).Seconds())

	logger := d.logger.With("run_id", job.RunID, "attempt_id", job.Payload.AttemptID)

	if err := d.store.MarkRunning(ctx, job.RunID, time.Now()); err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			// Reconciler or a crash path already resolved it.
			logger.Warn("Skipping run already past queued")
			return nil
		}
		return fmt.Errorf("mark run %d running: %w", job.RunID, err)
	}
	d.events.Publish(events.Event{
		Type:      "run_started",
		RunID:     job.RunID,
		AttemptID: job.Payload.AttemptID,
		Status:    string(store.StatusRunning),
		WorkerID:  d.workerID,
	})

	outcome, execErr := d.exec.Execute(ctx, job.Payload)

	// Result writes must survive caller shutdown.
	completionCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if execErr != nil {
		logger.Error("Execution infrastructure failed", "error", execErr)
		diagnostic := fmt.Sprintf("Internal execution error: %v", execErr)
		if err := d.store.FailRun(completionCtx, job.RunID, diagnostic, time.Now()); err != nil {
			logger.Error("Failed to persist infrastructure error", "error", err)
		}
		d.publishTerminal(job, store.StatusError)
		return nil
	}

	result := outcomeToResult(outcome)
	if err := d.store.CompleteRun(completionCtx, job.RunID, result, time.Now()); err != nil {
		logger.Error("Failed to persist run result", "error", err)
		return fmt.Errorf("complete run %d: %w", job.RunID, err)
	}

	observePhases(outcome)
	logger.Info("Run completed", "status", result.Status)
	d.publishTerminal(job, result.Status)
	return nil
}

func (d *Dispatcher) publishTerminal(job *Job, status store.RunStatus) {
	metrics.RunsCompleted.WithLabelValues(string(status)).Inc()
	d.events.Publish(events.Event{
		Type:      "run_finished",
		RunID:     job.RunID,
		AttemptID: job.Payload.AttemptID,
		Status:    string(status),
		WorkerID:  d.workerID,
	})
}

func outcomeToResult(o *executor.Outcome) store.RunResult {
	res := store.RunResult{Status: store.RunStatus(o.Status)}
	if o.Build != nil {
		res.BuildStdout = ptr(o.Build.Stdout)
		res.BuildStderr = ptr(o.Build.Stderr)
		res.BuildExitCode = ptr(o.Build.ExitCode)
		res.BuildTime = ptr(o.Build.Elapsed.Seconds())
	}
	if o.Run != nil {
		res.Stdout = ptr(o.Run.Stdout)
		res.Stderr = ptr(o.Run.Stderr)
		res.ExitCode = ptr(o.Run.ExitCode)
		res.RunTime = ptr(o.Run.Elapsed.Seconds())
	} else if o.Build != nil {
		// Build failures surface their stderr as the run's stderr so the
		// poll view always has a diagnostic to show.
		res.Stderr = ptr(fmt.Sprintf("Build failed:\n%s", o.Build.Stderr))
		res.ExitCode = ptr(o.Build.ExitCode)
	}
	return res
}

func observePhases(o *executor.Outcome) {
	if o.Build != nil {
		metrics.PhaseDuration.WithLabelValues("build").Observe(o.Build.Elapsed.Seconds())
	}
	if o.Run != nil {
		metrics.PhaseDuration.WithLabelValues("run").Observe(o.Run.Elapsed.Seconds())
	}
}

func ptr[T any](v T) *T {
	return &v
}
