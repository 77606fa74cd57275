package admission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkraso01/cognicodeide/internal/executor"
	"github.com/kkraso01/cognicodeide/internal/queue"
	"github.com/kkraso01/cognicodeide/internal/store"
)

type fakeBackend struct {
	mu        sync.Mutex
	submitErr error
	position  int
	jobs      []*queue.Job
}

func (f *fakeBackend) Submit(ctx context.Context, job *queue.Job) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Position() int                      { return f.position }
func (f *fakeBackend) Start(ctx context.Context) error    { return nil }
func (f *fakeBackend) Shutdown(ctx context.Context) error { return nil }

func validRequest(attemptID int64) *executor.Request {
	return &executor.Request{
		AttemptID:  attemptID,
		Language:   "python",
		Files:      []executor.FileData{{Name: "main.py", Content: "print(1)"}},
		RunCommand: "echo hi",
	}
}

func newTestController(backend queue.Backend, opts ...Option) (*Controller, *store.Memory) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()
	return NewController(st, backend, nil, logger, opts...), st
}

func TestSubmitCreatesQueuedRun(t *testing.T) {
	backend := &fakeBackend{position: 3}
	ctrl, st := newTestController(backend)
	ctx := context.Background()

	ticket, err := ctrl.Submit(ctx, validRequest(1))
	require.NoError(t, err)
	assert.Equal(t, store.StatusQueued, ticket.Run.Status)
	assert.Equal(t, 3, ticket.Position)
	assert.Len(t, ticket.Run.SnapshotHash, 64)
	require.Len(t, backend.jobs, 1)
	assert.Equal(t, ticket.Run.ID, backend.jobs[0].RunID)

	// The persisted request payload is what distributed workers re-read.
	got, err := st.GetRun(ctx, ticket.Run.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"attempt_id": 1,
		"language": "python",
		"files": [{"name": "main.py", "path": "", "content": "print(1)", "is_main": false}],
		"stdin": "",
		"run_command": "echo hi"
	}`, string(got.RequestJSON))
	assert.NotNil(t, got.CodeSnapshot)
}

func TestSubmitStrictLock(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, st := newTestController(backend, WithThrottle(0))
	ctx := context.Background()

	first, err := ctrl.Submit(ctx, validRequest(2))
	require.NoError(t, err)

	_, err = ctrl.Submit(ctx, validRequest(2))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.Run.ID, conflict.RunID)

	// The rejection must not leave a second row behind.
	runs, err := st.ListRuns(ctx, store.ListFilter{AttemptID: 2})
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	// Lock persists while running, releases at terminal.
	require.NoError(t, st.MarkRunning(ctx, first.Run.ID, time.Now()))
	_, err = ctrl.Submit(ctx, validRequest(2))
	require.ErrorAs(t, err, &conflict)

	require.NoError(t, st.CompleteRun(ctx, first.Run.ID, store.RunResult{Status: store.StatusSuccess}, time.Now()))
	_, err = ctrl.Submit(ctx, validRequest(2))
	require.NoError(t, err)
}

func TestSubmitStrictLockConcurrent(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, st := newTestController(backend, WithThrottle(0))
	ctx := context.Background()

	const submitters = 16
	var wg sync.WaitGroup
	var accepted, conflicted atomic.Int64
	start := make(chan struct{})
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := ctrl.Submit(ctx, validRequest(9))
			if err == nil {
				accepted.Add(1)
				return
			}
			var conflict *ConflictError
			if errors.As(err, &conflict) {
				conflicted.Add(1)
				return
			}
			t.Errorf("unexpected submit error: %v", err)
		}()
	}
	close(start)
	wg.Wait()

	// Exactly one submitter wins the lock; the rest see its run id.
	assert.Equal(t, int64(1), accepted.Load())
	assert.Equal(t, int64(submitters-1), conflicted.Load())

	runs, err := st.ListRuns(ctx, store.ListFilter{AttemptID: 9})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.StatusQueued, runs[0].Status)
	require.Len(t, backend.jobs, 1)
}

func TestSubmitThrottle(t *testing.T) {
	backend := &fakeBackend{}
	ctrl, st := newTestController(backend, WithThrottle(time.Hour))
	ctx := context.Background()

	first, err := ctrl.Submit(ctx, validRequest(3))
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, first.Run.ID, "done", time.Now()))

	_, err = ctrl.Submit(ctx, validRequest(3))
	var throttled *ThrottledError
	require.ErrorAs(t, err, &throttled)
	assert.Greater(t, throttled.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, throttled.RetryAfter, time.Hour)

	// Throttle rejections leave no new row.
	runs, err := st.ListRuns(ctx, store.ListFilter{AttemptID: 3})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSubmitOverloadedLeavesErrorRun(t *testing.T) {
	backend := &fakeBackend{submitErr: queue.ErrOverloaded}
	ctrl, st := newTestController(backend)
	ctx := context.Background()

	_, err := ctrl.Submit(ctx, validRequest(4))
	assert.ErrorIs(t, err, queue.ErrOverloaded)

	// The client still gets a pollable terminal run.
	runs, err := st.ListRuns(ctx, store.ListFilter{AttemptID: 4})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.StatusError, runs[0].Status)
	require.NotNil(t, runs[0].Stderr)
	assert.Equal(t, "Execution queue overloaded", *runs[0].Stderr)
}

func TestSubmitBackendFailureLeavesDiagnostic(t *testing.T) {
	backend := &fakeBackend{submitErr: errors.New("broker unreachable")}
	ctrl, st := newTestController(backend)
	ctx := context.Background()

	_, err := ctrl.Submit(ctx, validRequest(5))
	require.Error(t, err)
	assert.NotErrorIs(t, err, queue.ErrOverloaded)

	runs, err := st.ListRuns(ctx, store.ListFilter{AttemptID: 5})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.StatusError, runs[0].Status)
	require.NotNil(t, runs[0].Stderr)
	assert.Contains(t, *runs[0].Stderr, "broker unreachable")
}

func TestSubmitValidation(t *testing.T) {
	ctrl, st := newTestController(&fakeBackend{})
	ctx := context.Background()

	cases := []*executor.Request{
		{Files: []executor.FileData{{Name: "a", Content: "b"}}, Language: "python"},
		{AttemptID: 6, Language: "python"},
		{AttemptID: 6, Files: []executor.FileData{{Name: "a", Content: "b"}}},
	}
	for _, req := range cases {
		_, err := ctrl.Submit(ctx, req)
		var invalid *ValidationError
		assert.ErrorAs(t, err, &invalid)
	}

	// Invalid requests never touch the store.
	runs, err := st.ListRuns(ctx, store.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)

	// Explicit run command substitutes for a known language.
	_, err = ctrl.Submit(ctx, &executor.Request{
		AttemptID:  6,
		Files:      []executor.FileData{{Name: "a", Content: "b"}},
		RunCommand: "echo ok",
	})
	require.NoError(t, err)
}

func TestSubmitOversizedSnapshotKeepsHash(t *testing.T) {
	ctrl, st := newTestController(&fakeBackend{}, WithSnapshotThreshold(16))
	ctx := context.Background()

	ticket, err := ctrl.Submit(ctx, validRequest(7))
	require.NoError(t, err)

	got, err := st.GetRun(ctx, ticket.Run.ID)
	require.NoError(t, err)
	assert.Len(t, got.SnapshotHash, 64)
	assert.Nil(t, got.CodeSnapshot)
}
