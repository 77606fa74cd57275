package main

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// memoryLogIntervalFromEnv reads RUNLAB_MEMORY_LOG_INTERVAL. Zero means
// the logger stays off; the value takes a Go duration or bare seconds,
// matching the other duration knobs.
func memoryLogIntervalFromEnv(logger *slog.Logger) time.Duration {
	value := strings.TrimSpace(os.Getenv("RUNLAB_MEMORY_LOG_INTERVAL"))
	if value == "" {
		return 0
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		if seconds, convErr := strconv.Atoi(value); convErr == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		if logger != nil {
			logger.Warn("Invalid RUNLAB_MEMORY_LOG_INTERVAL, skipping memory logger", "value", value, "error", err)
		}
		return 0
	}
	return parsed
}

// startMemoryLogger emits periodic memory snapshots. The daemon spawns a
// subprocess per run phase, so a slow leak in output buffering or scratch
// handling shows up in these lines long before the host notices.
func startMemoryLogger(ctx context.Context, logger *slog.Logger, interval time.Duration) {
	if logger == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		reportMemoryUsage(logger)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reportMemoryUsage(logger)
			}
		}
	}()
}

func reportMemoryUsage(logger *slog.Logger) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	attrs := []any{
		"heap_alloc_bytes", m.HeapAlloc,
		"heap_inuse_bytes", m.HeapInuse,
		"stack_inuse_bytes", m.StackInuse,
		"sys_bytes", m.Sys,
		"num_gc", m.NumGC,
		"goroutines", runtime.NumGoroutine(),
	}
	// RSS covers what MemStats cannot: pipe buffers and the kernel side
	// of the run subprocesses.
	if rss, ok := residentSetBytes(); ok {
		attrs = append(attrs, "rss_bytes", rss)
	}
	logger.Info("runlabd memory usage", attrs...)
}

func residentSetBytes() (uint64, bool) {
	if runtime.GOOS != "linux" {
		return 0, false
	}
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		// VmRSS is reported in kB.
		if len(fields) >= 2 && fields[0] == "VmRSS:" {
			value, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return 0, false
			}
			return value * 1024, true
		}
	}
	return 0, false
}
