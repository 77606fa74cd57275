package executor

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestLimitedBufferCapsWithoutError(t *testing.T) {
	buf := &limitedBuffer{cap: 8}

	n, err := buf.Write([]byte("0123456789"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected full write reported, got %d", n)
	}
	if buf.String() != "01234567" {
		t.Fatalf("expected capped content, got %q", buf.String())
	}

	// Further writes are swallowed entirely.
	n, err = buf.Write([]byte("more"))
	if err != nil || n != 4 {
		t.Fatalf("expected overflow write to succeed, got n=%d err=%v", n, err)
	}
	if buf.Len() != 8 {
		t.Fatalf("expected buffer to stay at cap, got %d", buf.Len())
	}
}

func TestHostLauncherKillsProcessTree(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test commands require a POSIX shell")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	// The child spawns its own child; both must die with the group.
	start := time.Now()
	result, err := HostLauncher{}.Launch(ctx, "sleep 30 & sleep 30", t.TempDir(), "", 1024)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("group kill took too long: %v", elapsed)
	}
	if result.ExitCode == 0 {
		t.Fatal("expected non-zero exit after kill")
	}
}

func TestHostLauncherCapturesBothStreams(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test commands require a POSIX shell")
	}

	result, err := HostLauncher{}.Launch(context.Background(),
		"echo out; echo err >&2", t.TempDir(), "", 1024)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if !strings.Contains(result.Stdout, "out") {
		t.Fatalf("stdout not captured: %q", result.Stdout)
	}
	if !strings.Contains(result.Stderr, "err") {
		t.Fatalf("stderr not captured: %q", result.Stderr)
	}
	if result.Elapsed <= 0 {
		t.Fatal("expected elapsed time recorded")
	}
}
