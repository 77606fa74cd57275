package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kkraso01/cognicodeide/internal/metrics"
	"github.com/kkraso01/cognicodeide/internal/store"
)

const (
	DefaultSweepSchedule = "@every 1m"
	DefaultGracePeriod   = 10 * time.Minute
)

// Reconciler sweeps runs stuck in queued/running past the grace period and
// resolves them to error. The broker is not a guaranteed-append-to-progress
// structure: a message can vanish with the broker or its worker, and the
// run must still terminate rather than hang queued forever.
type Reconciler struct {
	store    store.Store
	grace    time.Duration
	schedule string
	logger   *slog.Logger
	cron     *cron.Cron
}

func NewReconciler(st store.Store, grace time.Duration, schedule string, logger *slog.Logger) *Reconciler {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Reconciler{
		store:    st,
		grace:    grace,
		schedule: schedule,
		logger:   logger,
	}
}

func (r *Reconciler) Start(ctx context.Context) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(r.schedule, func() {
		if err := r.Sweep(ctx); err != nil {
			r.logger.Error("Stale run sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("Reconciler started", "schedule", r.schedule, "grace", r.grace)
	return nil
}

func (r *Reconciler) Sweep(ctx context.Context) error {
	swept, err := r.store.SweepStale(ctx, r.grace, time.Now())
	if err != nil {
		return err
	}
	if swept > 0 {
		metrics.SweptRuns.Add(float64(swept))
		r.logger.Warn("Resolved stale runs to error", "count", swept)
	}
	return nil
}

func (r *Reconciler) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}
