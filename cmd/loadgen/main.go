package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// loadgen hammers the execute API with many distinct attempts and reports
// how admissions break down. Each attempt id gets its own submit loop so
// the per-attempt lock and throttle behave as they would for real users.
func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Base URL of the execution API")
	attempts := flag.Int("attempts", 50, "Number of distinct attempt IDs")
	perAttempt := flag.Int("runs", 5, "Submissions per attempt")
	interval := flag.Duration("interval", 100*time.Millisecond, "Delay between submissions per attempt")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	r := rand.New(rand.NewSource(*seed))
	baseAttempt := 1_000_000 + r.Int63n(1_000_000)

	var accepted, conflicted, throttled, overloaded, failed atomic.Int64

	log.Printf("Submitting %d runs across %d attempts against %s", *attempts**perAttempt, *attempts, *baseURL)
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *attempts; i++ {
		attemptID := baseAttempt + int64(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < *perAttempt; j++ {
				status, err := submit(*baseURL, attemptID, j)
				switch {
				case err != nil:
					failed.Add(1)
				case status == http.StatusAccepted:
					accepted.Add(1)
				case status == http.StatusConflict:
					conflicted.Add(1)
				case status == http.StatusTooManyRequests:
					throttled.Add(1)
				case status == http.StatusServiceUnavailable:
					overloaded.Add(1)
				default:
					failed.Add(1)
				}
				time.Sleep(*interval)
			}
		}()
	}
	wg.Wait()

	log.Printf("Done in %v", time.Since(start))
	log.Printf("accepted=%d conflict=%d throttled=%d overloaded=%d failed=%d",
		accepted.Load(), conflicted.Load(), throttled.Load(), overloaded.Load(), failed.Load())
}

func submit(baseURL string, attemptID int64, seq int) (int, error) {
	payload := map[string]any{
		"attempt_id": attemptID,
		"files": []map[string]string{
			{"name": "main.sh", "content": fmt.Sprintf("# attempt %d run %d", attemptID, seq)},
		},
		"run_command": fmt.Sprintf("echo run-%d-%d", attemptID, seq),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	resp, err := http.Post(baseURL+"/api/execute", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
