package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kkraso01/cognicodeide/internal/metrics"
)

const (
	DefaultCapacity    = 200
	DefaultWorkers     = 2
	DefaultEnqueueWait = time.Second
)

// Pool is the in-process queue backend: a bounded FIFO channel drained by
// a fixed set of worker goroutines. Workers may outnumber limiter slots so
// dequeue/release cycles stay quick; actual parallelism is capped by the
// dispatcher's limiter.
type Pool struct {
	dispatcher  *Dispatcher
	jobs        chan *Job
	workers     int
	enqueueWait time.Duration
	logger      *slog.Logger

	quit chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

type PoolOption func(*Pool)

func WithCapacity(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.jobs = make(chan *Job, n)
		}
	}
}

func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithEnqueueWait(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.enqueueWait = d
		}
	}
}

func NewPool(d *Dispatcher, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		dispatcher:  d,
		jobs:        make(chan *Job, DefaultCapacity),
		workers:     DefaultWorkers,
		enqueueWait: DefaultEnqueueWait,
		logger:      logger,
		quit:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit attempts a bounded-wait insert. A full queue rejects with
// ErrOverloaded instead of blocking the caller indefinitely.
func (p *Pool) Submit(ctx context.Context, job *Job) error {
	timer := time.NewTimer(p.enqueueWait)
	defer timer.Stop()

	select {
	case p.jobs <- job:
		metrics.QueueDepth.Set(float64(len(p.jobs)))
		return nil
	case <-timer.C:
		return ErrOverloaded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) Position() int {
	return len(p.jobs)
}

func (p *Pool) Start(ctx context.Context) error {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}
	p.logger.Info("Started execution workers", "count", p.workers, "capacity", cap(p.jobs))
	return nil
}

// Shutdown stops dequeues and waits for in-flight jobs. Jobs still queued
// stay queued; the reconciler resolves them if no process ever restarts.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.once.Do(func() { close(p.quit) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Execution workers shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With("worker", id)
	logger.Info("Worker started")

	for {
		// Shutdown takes priority over a non-empty queue: once it begins,
		// no further jobs are dequeued.
		select {
		case <-p.quit:
			logger.Info("Worker stopped")
			return
		case <-ctx.Done():
			logger.Info("Worker stopped")
			return
		default:
		}

		select {
		case <-p.quit:
			logger.Info("Worker stopped")
			return
		case <-ctx.Done():
			logger.Info("Worker stopped")
			return
		case job := <-p.jobs:
			metrics.QueueDepth.Set(float64(len(p.jobs)))
			// A dequeued job runs to completion under the executor's own
			// timeouts; caller cancellation only stops further dequeues.
			if err := p.dispatcher.Process(context.WithoutCancel(ctx), job); err != nil {
				logger.Error("Error processing job", "run_id", job.RunID, "error", err)
			}
		}
	}
}
