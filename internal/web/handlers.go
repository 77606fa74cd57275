package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kkraso01/cognicodeide/internal/admission"
	"github.com/kkraso01/cognicodeide/internal/executor"
	"github.com/kkraso01/cognicodeide/internal/queue"
	"github.com/kkraso01/cognicodeide/internal/store"
)

const maxRequestBody = 2 << 20

// runView is the polling representation of a run. Nullable fields stay
// null until the owning phase completes.
type runView struct {
	ID        int64  `json:"id"`
	AttemptID int64  `json:"attempt_id"`
	Status    string `json:"status"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`

	BuildStdout   *string  `json:"build_stdout"`
	BuildStderr   *string  `json:"build_stderr"`
	BuildExitCode *int     `json:"build_exit_code"`
	BuildTime     *float64 `json:"build_time"`

	Stdout   *string  `json:"stdout"`
	Stderr   *string  `json:"stderr"`
	ExitCode *int     `json:"exit_code"`
	RunTime  *float64 `json:"run_time"`

	TotalTime    *float64 `json:"total_time"`
	SnapshotHash string   `json:"snapshot_hash,omitempty"`
}

func newRunView(run *store.Run) runView {
	return runView{
		ID:            run.ID,
		AttemptID:     run.AttemptID,
		Status:        string(run.Status),
		CreatedAt:     run.CreatedAt,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
		BuildStdout:   run.BuildStdout,
		BuildStderr:   run.BuildStderr,
		BuildExitCode: run.BuildExitCode,
		BuildTime:     run.BuildTime,
		Stdout:        run.Stdout,
		Stderr:        run.Stderr,
		ExitCode:      run.ExitCode,
		RunTime:       run.RunTime,
		TotalTime:     run.TotalTime(),
		SnapshotHash:  run.SnapshotHash,
	}
}

type submitResponse struct {
	RunID         int64  `json:"run_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	QueuePosition *int   `json:"queue_position,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer body.Close()

	var req executor.Request
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ticket, err := s.admission.Submit(r.Context(), &req)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}

	resp := submitResponse{
		RunID:   ticket.Run.ID,
		Status:  string(ticket.Run.Status),
		Message: "Job queued for execution",
	}
	if ticket.Position >= 0 {
		resp.QueuePosition = &ticket.Position
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	var conflict *admission.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"detail":        "A run is already in progress for this attempt",
			"active_run_id": conflict.RunID,
		})
		return
	}

	var throttled *admission.ThrottledError
	if errors.As(err, &throttled) {
		seconds := int(math.Ceil(throttled.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"detail":              "Please wait before submitting another run",
			"retry_after_seconds": seconds,
		})
		return
	}

	if errors.Is(err, queue.ErrOverloaded) {
		writeError(w, http.StatusServiceUnavailable, "Execution queue is full, try again later")
		return
	}

	var invalid *admission.ValidationError
	if errors.As(err, &invalid) {
		writeError(w, http.StatusBadRequest, invalid.Reason)
		return
	}

	s.logger.Error("Submit failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "runID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNoRun) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("Failed to load run", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, newRunView(run))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.ListFilter{Limit: 50}

	if val := strings.TrimSpace(query.Get("status")); val != "" {
		filter.Status = store.RunStatus(val)
	}
	if val := strings.TrimSpace(query.Get("attempt_id")); val != "" {
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid attempt_id")
			return
		}
		filter.AttemptID = parsed
	}
	if val := strings.TrimSpace(query.Get("limit")); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = parsed
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.logger.Error("Failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": views})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
