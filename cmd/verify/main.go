package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// verify checks the runs table for invariant violations after a load run
// or an incident. Exit code 1 means at least one check failed.
func main() {
	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres DSN")
	staleAfter := flag.Duration("stale-after", 10*time.Minute, "Age at which a non-terminal run counts as stuck")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer pool.Close()

	var totalRuns int
	_ = pool.QueryRow(ctx, "SELECT count(*) FROM runs").Scan(&totalRuns)
	fmt.Printf("Total runs in DB: %d\n", totalRuns)

	failures := 0

	// 1. Runs stuck in a non-terminal state past the reconciler grace.
	var stuckRuns int
	_ = pool.QueryRow(ctx,
		"SELECT count(*) FROM runs WHERE status IN ('queued','running') AND created_at < NOW() - $1::interval",
		fmt.Sprintf("%f seconds", staleAfter.Seconds()),
	).Scan(&stuckRuns)
	failures += report(stuckRuns == 0,
		"No runs stuck past the sweep grace",
		fmt.Sprintf("Found %d runs stuck in queued/running", stuckRuns))

	// 2. Strict lock: no attempt may hold two non-terminal runs.
	var lockViolations int
	_ = pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT attempt_id FROM runs
			WHERE status IN ('queued','running')
			GROUP BY attempt_id HAVING count(*) > 1
		) AS dup
	`).Scan(&lockViolations)
	failures += report(lockViolations == 0,
		"No attempt holds more than one active run",
		fmt.Sprintf("Found %d attempts with concurrent active runs", lockViolations))

	// 3. Every run must carry its snapshot hash from admission.
	var missingHashes int
	_ = pool.QueryRow(ctx,
		"SELECT count(*) FROM runs WHERE snapshot_hash IS NULL OR length(snapshot_hash) <> 64",
	).Scan(&missingHashes)
	failures += report(missingHashes == 0,
		"All runs carry a snapshot hash",
		fmt.Sprintf("Found %d runs without a valid snapshot hash", missingHashes))

	// 4. Terminal runs must have finished_at; timestamps must be ordered.
	var badTimestamps int
	_ = pool.QueryRow(ctx, `
		SELECT count(*) FROM runs
		WHERE (status NOT IN ('queued','running') AND finished_at IS NULL)
		   OR (started_at IS NOT NULL AND started_at < created_at)
		   OR (finished_at IS NOT NULL AND started_at IS NOT NULL AND finished_at < started_at)
	`).Scan(&badTimestamps)
	failures += report(badTimestamps == 0,
		"All terminal runs have ordered timestamps",
		fmt.Sprintf("Found %d runs with missing or disordered timestamps", badTimestamps))

	if failures > 0 {
		os.Exit(1)
	}
}

func report(ok bool, pass, fail string) int {
	if ok {
		fmt.Printf("[PASS] %s\n", pass)
		return 0
	}
	fmt.Printf("[FAIL] %s\n", fail)
	return 1
}
