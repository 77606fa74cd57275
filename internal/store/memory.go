package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process store for tests and single-node development.
// It enforces the same forward-only transitions as the Postgres store.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	runs   map[int64]*Run
}

func NewMemory() *Memory {
	return &Memory{
		nextID: 1,
		runs:   make(map[int64]*Run),
	}
}

func (s *Memory) CreateRun(ctx context.Context, n NewRun) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &Run{
		ID:           s.nextID,
		AttemptID:    n.AttemptID,
		Status:       StatusQueued,
		CreatedAt:    time.Now(),
		RequestJSON:  append([]byte(nil), n.RequestJSON...),
		CodeSnapshot: n.CodeSnapshot,
		SnapshotHash: n.SnapshotHash,
	}
	s.nextID++
	s.runs[run.ID] = run

	out := *run
	return &out, nil
}

func (s *Memory) GetRun(ctx context.Context, id int64) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNoRun
	}
	out := *run
	return &out, nil
}

func (s *Memory) ActiveRunForAttempt(ctx context.Context, attemptID int64) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Run
	for _, run := range s.runs {
		if run.AttemptID != attemptID || run.Status.Terminal() {
			continue
		}
		if latest == nil || run.CreatedAt.After(latest.CreatedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, ErrNoRun
	}
	out := *latest
	return &out, nil
}

func (s *Memory) LastRunForAttempt(ctx context.Context, attemptID int64) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Run
	for _, run := range s.runs {
		if run.AttemptID != attemptID {
			continue
		}
		if latest == nil || run.CreatedAt.After(latest.CreatedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, ErrNoRun
	}
	out := *latest
	return &out, nil
}

func (s *Memory) MarkRunning(ctx context.Context, id int64, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrNoRun
	}
	if run.Status != StatusQueued {
		return ErrStaleTransition
	}
	run.Status = StatusRunning
	started := startedAt
	run.StartedAt = &started
	return nil
}

func (s *Memory) CompleteRun(ctx context.Context, id int64, res RunResult, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrNoRun
	}
	if run.Status.Terminal() {
		return ErrStaleTransition
	}
	run.Status = res.Status
	finished := finishedAt
	run.FinishedAt = &finished
	run.BuildStdout = res.BuildStdout
	run.BuildStderr = res.BuildStderr
	run.BuildExitCode = res.BuildExitCode
	run.BuildTime = res.BuildTime
	run.Stdout = res.Stdout
	run.Stderr = res.Stderr
	run.ExitCode = res.ExitCode
	run.RunTime = res.RunTime
	return nil
}

func (s *Memory) FailRun(ctx context.Context, id int64, diagnostic string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrNoRun
	}
	if run.Status.Terminal() {
		return ErrStaleTransition
	}
	run.Status = StatusError
	run.Stderr = &diagnostic
	finished := finishedAt
	run.FinishedAt = &finished
	return nil
}

func (s *Memory) SweepStale(ctx context.Context, grace time.Duration, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-grace)
	diagnostic := "Execution abandoned: no worker resolved this run within the grace period"

	var swept int64
	for _, run := range s.runs {
		stale := (run.Status == StatusQueued && run.CreatedAt.Before(cutoff)) ||
			(run.Status == StatusRunning && run.StartedAt != nil && run.StartedAt.Before(cutoff))
		if !stale {
			continue
		}
		run.Status = StatusError
		msg := diagnostic
		run.Stderr = &msg
		finished := now
		run.FinishedAt = &finished
		swept++
	}
	return swept, nil
}

func (s *Memory) ListRuns(ctx context.Context, f ListFilter) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*Run
	for _, run := range s.runs {
		if f.Status != "" && run.Status != f.Status {
			continue
		}
		if f.AttemptID != 0 && run.AttemptID != f.AttemptID {
			continue
		}
		out := *run
		runs = append(runs, &out)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *Memory) Ping(ctx context.Context) error {
	return nil
}
