package logging

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// Init builds the process logger. Format "text" gives a colorized dev
// handler; anything else gets JSON for log shippers. All attrs pass
// through the redacting handler.
func Init(format, processID string) *slog.Logger {
	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug})
	default:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	handler = newRedactingHandler(handler)
	logger := slog.New(handler).With("process_id", processID)
	slog.SetDefault(logger)
	return logger
}
