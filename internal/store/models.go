package store

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	StatusQueued           RunStatus = "queued"
	StatusRunning          RunStatus = "running"
	StatusSuccess          RunStatus = "success"
	StatusError            RunStatus = "error"
	StatusTimeout          RunStatus = "timeout"
	StatusCompilationError RunStatus = "compilation_error"
	// StatusCancelled is reserved for cooperative cancellation. Nothing
	// transitions into it yet; clients must still be able to render it.
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether a run in this status will never change again.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusQueued, StatusRunning:
		return false
	default:
		return true
	}
}

// Run is the durable record of one execution request and its outcome.
// Nullable columns are pointers; they stay nil until the phase that owns
// them completes.
type Run struct {
	ID        int64     `db:"id"`
	AttemptID int64     `db:"attempt_id"`
	Status    RunStatus `db:"status"`

	CreatedAt  time.Time  `db:"created_at"`
	StartedAt  *time.Time `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`

	// Build phase output. All nil when no build step applied.
	BuildStdout   *string  `db:"build_stdout"`
	BuildStderr   *string  `db:"build_stderr"`
	BuildExitCode *int     `db:"build_exit_code"`
	BuildTime     *float64 `db:"build_time"`

	// Run phase output.
	Stdout   *string  `db:"stdout"`
	Stderr   *string  `db:"stderr"`
	ExitCode *int     `db:"exit_code"`
	RunTime  *float64 `db:"run_time"`

	// RequestJSON is the full request serialized verbatim at admission
	// time. It is immutable once written; distributed workers re-read it
	// instead of receiving the payload inline.
	RequestJSON json.RawMessage `db:"request_json"`

	// CodeSnapshot holds the serialized file list when it fit under the
	// snapshot threshold; SnapshotHash is always set.
	CodeSnapshot *string `db:"code_snapshot"`
	SnapshotHash string  `db:"snapshot_hash"`
}

// TotalTime derives elapsed wall time from the recorded timestamps. It is
// never recomputed from phase timers so scheduling delay is not
// double-counted.
func (r *Run) TotalTime() *float64 {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return nil
	}
	secs := r.FinishedAt.Sub(*r.StartedAt).Seconds()
	return &secs
}

// RunResult carries the terminal outcome a worker persists in one write.
type RunResult struct {
	Status RunStatus

	BuildStdout   *string
	BuildStderr   *string
	BuildExitCode *int
	BuildTime     *float64

	Stdout   *string
	Stderr   *string
	ExitCode *int
	RunTime  *float64
}
