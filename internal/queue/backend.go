package queue

import (
	"context"
	"errors"
	"time"

	"github.com/kkraso01/cognicodeide/internal/executor"
)

// ErrOverloaded signals backpressure: the bounded queue could not accept
// the job within the enqueue wait. Callers report it instead of blocking.
var ErrOverloaded = errors.New("execution queue overloaded")

// Job is the transient scheduling unit: a run id plus the payload needed
// to execute it. It lives only between admission and worker pickup.
type Job struct {
	RunID      int64
	Payload    *executor.Request
	EnqueuedAt time.Time
}

// Backend accepts admitted jobs for asynchronous execution. The in-process
// pool and the AMQP publisher implement identical external behavior: same
// run states, same polling contract.
type Backend interface {
	// Submit hands a job to the backend. Returns ErrOverloaded when the
	// queue is full.
	Submit(ctx context.Context, job *Job) error

	// Position reports the current queue depth, or -1 when the backend
	// cannot observe it (distributed).
	Position() int

	Start(ctx context.Context) error

	// Shutdown stops accepting dequeues and waits for in-flight jobs to
	// finish. Running jobs are bounded by the executor's own timeouts.
	Shutdown(ctx context.Context) error
}
