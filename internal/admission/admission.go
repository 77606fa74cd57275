package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kkraso01/cognicodeide/internal/events"
	"github.com/kkraso01/cognicodeide/internal/executor"
	"github.com/kkraso01/cognicodeide/internal/metrics"
	"github.com/kkraso01/cognicodeide/internal/queue"
	"github.com/kkraso01/cognicodeide/internal/store"
)

const (
	DefaultThrottle          = 2 * time.Second
	DefaultSnapshotThreshold = 256 * 1024
)

// ValidationError rejects a malformed request before any side effect.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ConflictError rejects a submit while the attempt already has a
// queued/running run. Carries the blocking run's id.
type ConflictError struct {
	RunID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("run already in progress for this attempt (run_id=%d)", e.RunID)
}

// ThrottledError rejects a submit inside the per-attempt throttle window.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("please wait %.0fs between runs", e.RetryAfter.Seconds())
}

// Ticket is a successful admission: the created run plus its queue
// position when the backend can report one (-1 otherwise).
type Ticket struct {
	Run      *store.Run
	Position int
}

// Controller validates execution requests against the strict lock and the
// per-attempt throttle before handing them to the queue backend. It owns
// the only insert path for runs.
type Controller struct {
	store             store.Store
	backend           queue.Backend
	events            events.Publisher
	logger            *slog.Logger
	throttle          time.Duration
	snapshotThreshold int

	// mu makes the lock/throttle checks and the run insert atomic with
	// respect to concurrent submitters in this process.
	mu sync.Mutex
}

type Option func(*Controller)

func WithThrottle(d time.Duration) Option {
	return func(c *Controller) { c.throttle = d }
}

func WithSnapshotThreshold(n int) Option {
	return func(c *Controller) { c.snapshotThreshold = n }
}

func NewController(st store.Store, backend queue.Backend, pub events.Publisher, logger *slog.Logger, opts ...Option) *Controller {
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	c := &Controller{
		store:             st,
		backend:           backend,
		events:            pub,
		logger:            logger,
		throttle:          DefaultThrottle,
		snapshotThreshold: DefaultSnapshotThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit admits one execution request. Conflict and throttle rejections
// happen before any write; an overloaded backend still leaves a terminal
// error run behind so the client sees a result instead of a silent drop.
func (c *Controller) Submit(ctx context.Context, req *executor.Request) (*Ticket, error) {
	if err := validate(req); err != nil {
		metrics.SubmissionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	run, err := c.admit(ctx, req)
	if err != nil {
		return nil, err
	}

	job := &queue.Job{RunID: run.ID, Payload: req, EnqueuedAt: time.Now()}
	if err := c.backend.Submit(ctx, job); err != nil {
		// The run record stays behind as a terminal error so polling
		// clients see a result rather than a silent drop.
		diagnostic := "Execution queue overloaded"
		if !errors.Is(err, queue.ErrOverloaded) {
			diagnostic = fmt.Sprintf("Queue error: %v", err)
		}
		c.logger.Error("Failed to enqueue run", "run_id", run.ID, "error", err)
		if failErr := c.store.FailRun(ctx, run.ID, diagnostic, time.Now()); failErr != nil {
			c.logger.Error("Failed to mark rejected run", "run_id", run.ID, "error", failErr)
		}
		metrics.SubmissionsTotal.WithLabelValues("overloaded").Inc()
		if errors.Is(err, queue.ErrOverloaded) {
			return nil, queue.ErrOverloaded
		}
		return nil, err
	}

	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	c.logger.Info("Enqueued run", "run_id", run.ID, "attempt_id", req.AttemptID, "language", req.Language)
	c.events.Publish(events.Event{
		Type:      "run_queued",
		RunID:     run.ID,
		AttemptID: req.AttemptID,
		Status:    string(store.StatusQueued),
	})

	return &Ticket{Run: run, Position: c.backend.Position()}, nil
}

// admit runs the lock and throttle checks and inserts the queued run as
// one atomic step; without the mutex two racing submits for the same
// attempt could both pass the active-run check before either inserts.
// Cross-process writers need the partial unique index noted in schema.sql.
func (c *Controller) admit(ctx context.Context, req *executor.Request) (*store.Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Strict lock: at most one non-terminal run per attempt.
	active, err := c.store.ActiveRunForAttempt(ctx, req.AttemptID)
	if err == nil {
		metrics.SubmissionsTotal.WithLabelValues("conflict").Inc()
		return nil, &ConflictError{RunID: active.ID}
	}
	if !errors.Is(err, store.ErrNoRun) {
		return nil, fmt.Errorf("check active run: %w", err)
	}

	last, err := c.store.LastRunForAttempt(ctx, req.AttemptID)
	if err != nil && !errors.Is(err, store.ErrNoRun) {
		return nil, fmt.Errorf("check last run: %w", err)
	}
	if err == nil {
		if since := time.Since(last.CreatedAt); since < c.throttle {
			metrics.SubmissionsTotal.WithLabelValues("rate_limited").Inc()
			return nil, &ThrottledError{RetryAfter: c.throttle - since}
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("serialize request: %w", err)
	}

	hash, snapshot, err := SnapshotFiles(req.Files, c.snapshotThreshold)
	if err != nil {
		return nil, fmt.Errorf("snapshot files: %w", err)
	}

	run, err := c.store.CreateRun(ctx, store.NewRun{
		AttemptID:    req.AttemptID,
		RequestJSON:  payload,
		SnapshotHash: hash,
		CodeSnapshot: snapshot,
	})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

func validate(req *executor.Request) error {
	if req.AttemptID == 0 {
		return &ValidationError{Reason: "attempt_id is required"}
	}
	if len(req.Files) == 0 {
		return &ValidationError{Reason: "at least one file is required"}
	}
	if req.Language == "" && req.RunCommand == "" {
		return &ValidationError{Reason: "language or run_command is required"}
	}
	return nil
}
