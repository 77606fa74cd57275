package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/kkraso01/cognicodeide/internal/events"
)

type eventFilter struct {
	eventType string
	attemptID *int64
	runID     *int64
}

func parseEventFilter(r *http.Request) (eventFilter, error) {
	query := r.URL.Query()
	filter := eventFilter{
		eventType: strings.TrimSpace(query.Get("type")),
	}
	if val := strings.TrimSpace(query.Get("attempt_id")); val != "" {
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return eventFilter{}, fmt.Errorf("invalid attempt_id")
		}
		filter.attemptID = &parsed
	}
	if val := strings.TrimSpace(query.Get("run_id")); val != "" {
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return eventFilter{}, fmt.Errorf("invalid run_id")
		}
		filter.runID = &parsed
	}
	return filter, nil
}

func (f eventFilter) Matches(event events.Event) bool {
	if f.eventType != "" && event.Type != f.eventType {
		return false
	}
	if f.attemptID != nil && event.AttemptID != *f.attemptID {
		return false
	}
	if f.runID != nil && event.RunID != *f.runID {
		return false
	}
	return true
}
