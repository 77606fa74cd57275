package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const runColumns = `
	id, attempt_id, status, created_at, started_at, finished_at,
	build_stdout, build_stderr, build_exit_code, build_time,
	stdout, stderr, exit_code, run_time,
	request_json, code_snapshot, snapshot_hash`

// DB is the Postgres-backed store.
type DB struct {
	pool *pgxpool.Pool
}

func NewDB(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

func (s *DB) CreateRun(ctx context.Context, n NewRun) (*Run, error) {
	query := `
		INSERT INTO runs (attempt_id, status, created_at, request_json, code_snapshot, snapshot_hash)
		VALUES ($1, 'queued', NOW(), $2, $3, $4)
		RETURNING ` + runColumns
	row := s.pool.QueryRow(ctx, query, n.AttemptID, n.RequestJSON, n.CodeSnapshot, n.SnapshotHash)
	return scanRun(row)
}

func (s *DB) GetRun(ctx context.Context, id int64) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRun
		}
		return nil, err
	}
	return run, nil
}

func (s *DB) ActiveRunForAttempt(ctx context.Context, attemptID int64) (*Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE attempt_id = $1 AND status IN ('queued', 'running')
		ORDER BY created_at DESC
		LIMIT 1`
	run, err := scanRun(s.pool.QueryRow(ctx, query, attemptID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRun
		}
		return nil, err
	}
	return run, nil
}

func (s *DB) LastRunForAttempt(ctx context.Context, attemptID int64) (*Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE attempt_id = $1
		ORDER BY created_at DESC
		LIMIT 1`
	run, err := scanRun(s.pool.QueryRow(ctx, query, attemptID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRun
		}
		return nil, err
	}
	return run, nil
}

func (s *DB) MarkRunning(ctx context.Context, id int64, startedAt time.Time) error {
	query := `
		UPDATE runs
		SET status = 'running', started_at = $2
		WHERE id = $1 AND status = 'queued'`
	tag, err := s.pool.Exec(ctx, query, id, startedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}

func (s *DB) CompleteRun(ctx context.Context, id int64, res RunResult, finishedAt time.Time) error {
	query := `
		UPDATE runs
		SET status = $2,
		    finished_at = $3,
		    build_stdout = $4,
		    build_stderr = $5,
		    build_exit_code = $6,
		    build_time = $7,
		    stdout = $8,
		    stderr = $9,
		    exit_code = $10,
		    run_time = $11
		WHERE id = $1 AND status IN ('queued', 'running')`
	tag, err := s.pool.Exec(ctx, query, id, res.Status, finishedAt,
		res.BuildStdout, res.BuildStderr, res.BuildExitCode, res.BuildTime,
		res.Stdout, res.Stderr, res.ExitCode, res.RunTime)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}

func (s *DB) FailRun(ctx context.Context, id int64, diagnostic string, finishedAt time.Time) error {
	query := `
		UPDATE runs
		SET status = 'error', stderr = $2, finished_at = $3
		WHERE id = $1 AND status IN ('queued', 'running')`
	tag, err := s.pool.Exec(ctx, query, id, diagnostic, finishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}

func (s *DB) SweepStale(ctx context.Context, grace time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-grace)
	query := `
		WITH stale AS (
			SELECT id FROM runs
			WHERE (status = 'queued' AND created_at < $1)
			   OR (status = 'running' AND started_at < $1)
			FOR UPDATE SKIP LOCKED
		)
		UPDATE runs
		SET status = 'error',
		    stderr = 'Execution abandoned: no worker resolved this run within the grace period',
		    finished_at = $2
		FROM stale
		WHERE runs.id = stale.id`
	tag, err := s.pool.Exec(ctx, query, cutoff, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *DB) ListRuns(ctx context.Context, f ListFilter) ([]*Run, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	args := []interface{}{}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.AttemptID != 0 {
		args = append(args, f.AttemptID)
		query += fmt.Sprintf(" AND attempt_id = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *DB) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	err := row.Scan(
		&r.ID, &r.AttemptID, &r.Status, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
		&r.BuildStdout, &r.BuildStderr, &r.BuildExitCode, &r.BuildTime,
		&r.Stdout, &r.Stderr, &r.ExitCode, &r.RunTime,
		&r.RequestJSON, &r.CodeSnapshot, &r.SnapshotHash,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
