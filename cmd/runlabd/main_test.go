package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kkraso01/cognicodeide/internal/config"
	"github.com/kkraso01/cognicodeide/internal/executor"
)

func TestMemoryLogIntervalFromEnv(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Setenv("RUNLAB_MEMORY_LOG_INTERVAL", "30s")
	if got := memoryLogIntervalFromEnv(logger); got != 30*time.Second {
		t.Fatalf("expected 30s, got %v", got)
	}

	t.Setenv("RUNLAB_MEMORY_LOG_INTERVAL", "45")
	if got := memoryLogIntervalFromEnv(logger); got != 45*time.Second {
		t.Fatalf("expected bare seconds to parse, got %v", got)
	}

	t.Setenv("RUNLAB_MEMORY_LOG_INTERVAL", "soon")
	if got := memoryLogIntervalFromEnv(logger); got != 0 {
		t.Fatalf("expected invalid value to disable logger, got %v", got)
	}
}

func TestBuildLauncher(t *testing.T) {
	cfg := config.DefaultConfig()

	launcher, err := buildLauncher(cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := launcher.(executor.HostLauncher); !ok {
		t.Fatalf("expected host launcher, got %T", launcher)
	}

	cfg.Launcher = config.LauncherDocker
	launcher, err = buildLauncher(cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	docker, ok := launcher.(executor.DockerLauncher)
	if !ok {
		t.Fatalf("expected docker launcher, got %T", launcher)
	}
	if docker.Image != cfg.DockerImage {
		t.Fatalf("expected image %q, got %q", cfg.DockerImage, docker.Image)
	}

	cfg.Launcher = "chroot"
	if _, err := buildLauncher(cfg); err == nil {
		t.Fatal("expected error for unknown launcher")
	}
}
