package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNoRun = errors.New("run not found")
	// ErrStaleTransition is returned when a state write finds the run
	// already past the expected state. Only the owning worker mutates a
	// run beyond queued, so hitting this means the reconciler or a crash
	// path got there first.
	ErrStaleTransition = errors.New("run already in a terminal state")
)

// NewRun is the admission-time insert payload.
type NewRun struct {
	AttemptID    int64
	RequestJSON  json.RawMessage
	SnapshotHash string
	CodeSnapshot *string
}

// ListFilter narrows ListRuns for the ops listing endpoint.
type ListFilter struct {
	Status    RunStatus
	AttemptID int64
	Limit     int
}

// Store is the persistence collaborator for runs. It is the single source
// of truth for run state; both queue backends share one implementation.
type Store interface {
	// CreateRun inserts a run in the queued state and returns it with its
	// assigned id.
	CreateRun(ctx context.Context, n NewRun) (*Run, error)

	GetRun(ctx context.Context, id int64) (*Run, error)

	// ActiveRunForAttempt returns the attempt's run currently in
	// queued/running state, or ErrNoRun. This is the strict-lock point
	// query; the check-then-insert window is advisory.
	ActiveRunForAttempt(ctx context.Context, attemptID int64) (*Run, error)

	// LastRunForAttempt returns the attempt's most recently created run,
	// or ErrNoRun. Used by the throttle check.
	LastRunForAttempt(ctx context.Context, attemptID int64) (*Run, error)

	// MarkRunning transitions queued -> running and stamps started_at.
	// Returns ErrStaleTransition if the run is not queued.
	MarkRunning(ctx context.Context, id int64, startedAt time.Time) error

	// CompleteRun writes the terminal outcome and stamps finished_at.
	// Returns ErrStaleTransition if the run is already terminal.
	CompleteRun(ctx context.Context, id int64, res RunResult, finishedAt time.Time) error

	// FailRun moves a non-terminal run to error with a diagnostic in
	// stderr. Used for enqueue failures and infrastructure errors.
	FailRun(ctx context.Context, id int64, diagnostic string, finishedAt time.Time) error

	// SweepStale fails runs stuck in queued/running longer than the grace
	// period and returns how many were resolved. A job that vanishes
	// without a worker claiming it must still reach a terminal state.
	SweepStale(ctx context.Context, grace time.Duration, now time.Time) (int64, error)

	ListRuns(ctx context.Context, f ListFilter) ([]*Run, error)

	Ping(ctx context.Context) error
}
