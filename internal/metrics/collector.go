package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultInterval = 2 * time.Second
	queryTimeout    = 2 * time.Second
)

var (
	runsQueuedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "runlab_runs_queued",
		Help: "Runs currently persisted in the queued state.",
	})
	runsRunningGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "runlab_runs_running",
		Help: "Runs currently persisted in the running state.",
	})
)

// StartCollector periodically samples run-state counts from the database.
// Unlike the in-process gauges, these reflect the whole deployment when
// multiple workers share one store.
func StartCollector(ctx context.Context, pool *pgxpool.Pool, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = defaultInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := collectRunMetrics(ctx, pool); err != nil && logger != nil {
				logger.Warn("Run metrics collection failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func collectRunMetrics(ctx context.Context, pool *pgxpool.Pool) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := pool.Query(queryCtx, `
		SELECT status, COUNT(*)
		FROM runs
		WHERE status IN ('queued', 'running')
		GROUP BY status
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var queued, running int64
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return err
		}
		switch status {
		case "queued":
			queued = count
		case "running":
			running = count
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	runsQueuedGauge.Set(float64(queued))
	runsRunningGauge.Set(float64(running))
	return nil
}
