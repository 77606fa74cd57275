package executor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func newTestExecutor(t *testing.T, opts ...Option) *Executor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test commands require a POSIX shell")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []Option{
		WithRunTimeout(5 * time.Second),
		WithBuildTimeout(5 * time.Second),
	}
	return New(HostLauncher{}, logger, append(base, opts...)...)
}

func TestExecuteSuccess(t *testing.T) {
	e := newTestExecutor(t)

	outcome, err := e.Execute(context.Background(), &Request{
		AttemptID:  1,
		Files:      []FileData{{Name: "main.sh", Content: "unused"}},
		RunCommand: "echo hello",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Status != OutcomeSuccess {
		t.Fatalf("expected success, got %s", outcome.Status)
	}
	if outcome.Run == nil || outcome.Run.Stdout != "hello\n" {
		t.Fatalf("unexpected run result: %+v", outcome.Run)
	}
	if outcome.Run.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", outcome.Run.ExitCode)
	}
	if outcome.Build != nil {
		t.Fatal("expected no build phase without a build command")
	}
}

func TestExecuteStdin(t *testing.T) {
	e := newTestExecutor(t)

	outcome, err := e.Execute(context.Background(), &Request{
		AttemptID:  1,
		Files:      []FileData{{Name: "main.sh", Content: ""}},
		RunCommand: "cat",
		Stdin:      "piped input\n",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Run.Stdout != "piped input\n" {
		t.Fatalf("expected stdin echoed, got %q", outcome.Run.Stdout)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	e := newTestExecutor(t)

	outcome, err := e.Execute(context.Background(), &Request{
		AttemptID:  1,
		Files:      []FileData{{Name: "main.sh", Content: ""}},
		RunCommand: "sh -c 'echo oops >&2; exit 3'",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Status != OutcomeError {
		t.Fatalf("expected error, got %s", outcome.Status)
	}
	if outcome.Run.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %d", outcome.Run.ExitCode)
	}
	if !strings.Contains(outcome.Run.Stderr, "oops") {
		t.Fatalf("expected stderr captured, got %q", outcome.Run.Stderr)
	}
}

func TestExecuteTimeout(t *testing.T) {
	e := newTestExecutor(t, WithRunTimeout(300*time.Millisecond))

	start := time.Now()
	outcome, err := e.Execute(context.Background(), &Request{
		AttemptID:  1,
		Files:      []FileData{{Name: "main.sh", Content: ""}},
		RunCommand: "sleep 30",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Status != OutcomeTimeout {
		t.Fatalf("expected timeout, got %s", outcome.Status)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout took too long to enforce: %v", elapsed)
	}
}

func TestExecuteBuildFailureSkipsRun(t *testing.T) {
	e := newTestExecutor(t)

	outcome, err := e.Execute(context.Background(), &Request{
		AttemptID:    1,
		Files:        []FileData{{Name: "main.sh", Content: ""}},
		BuildCommand: "sh -c 'echo broken >&2; exit 1'",
		RunCommand:   "echo should-not-run",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Status != OutcomeCompilationError {
		t.Fatalf("expected compilation_error, got %s", outcome.Status)
	}
	if outcome.Run != nil {
		t.Fatal("run phase must not execute after a failed build")
	}
	if outcome.Build == nil || !strings.Contains(outcome.Build.Stderr, "broken") {
		t.Fatalf("expected build stderr captured, got %+v", outcome.Build)
	}
}

func TestExecuteBuildThenRun(t *testing.T) {
	e := newTestExecutor(t)

	outcome, err := e.Execute(context.Background(), &Request{
		AttemptID:    1,
		Files:        []FileData{{Name: "main.sh", Content: ""}},
		BuildCommand: "echo compiled > artifact.txt",
		RunCommand:   "cat artifact.txt",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Status != OutcomeSuccess {
		t.Fatalf("expected success, got %s", outcome.Status)
	}
	if outcome.Build == nil || outcome.Build.ExitCode != 0 {
		t.Fatalf("expected successful build phase, got %+v", outcome.Build)
	}
	if outcome.Run.Stdout != "compiled\n" {
		t.Fatalf("expected build artifact visible to run phase, got %q", outcome.Run.Stdout)
	}
}

func TestExecuteSkipsBuildWithoutPrecondition(t *testing.T) {
	e := newTestExecutor(t)

	// Python projects without requirements.txt skip pip install entirely.
	outcome, err := e.Execute(context.Background(), &Request{
		AttemptID:  1,
		Language:   "python",
		Files:      []FileData{{Name: "main.py", Content: "print(1)"}},
		RunCommand: "echo ran",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Build != nil {
		t.Fatal("expected build phase skipped without requirements.txt")
	}
	if outcome.Status != OutcomeSuccess {
		t.Fatalf("expected success, got %s", outcome.Status)
	}
}

func TestExecuteMaterializesNestedFiles(t *testing.T) {
	e := newTestExecutor(t)

	outcome, err := e.Execute(context.Background(), &Request{
		AttemptID: 1,
		Files: []FileData{
			{Name: "main.sh", Content: ""},
			{Name: "data.txt", Path: "sub/dir/data.txt", Content: "nested"},
		},
		RunCommand: "cat sub/dir/data.txt",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Run.Stdout != "nested" {
		t.Fatalf("expected nested file content, got %q", outcome.Run.Stdout)
	}
}

func TestExecuteRejectsEscapingPath(t *testing.T) {
	e := newTestExecutor(t)

	_, err := e.Execute(context.Background(), &Request{
		AttemptID:  1,
		Files:      []FileData{{Name: "evil", Path: "../evil.txt", Content: "x"}},
		RunCommand: "true",
	})
	if err == nil {
		t.Fatal("expected error for path escaping the scratch dir")
	}
}

func TestExecuteNoRunCommand(t *testing.T) {
	e := newTestExecutor(t)

	_, err := e.Execute(context.Background(), &Request{
		AttemptID: 1,
		Language:  "cobol",
		Files:     []FileData{{Name: "main.cob", Content: ""}},
	})
	if err == nil {
		t.Fatal("expected error for language without a run command")
	}
}

func TestExecuteCleansScratchDir(t *testing.T) {
	e := newTestExecutor(t)

	outcome, err := e.Execute(context.Background(), &Request{
		AttemptID:  1,
		Files:      []FileData{{Name: "main.sh", Content: ""}},
		RunCommand: "pwd",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	workDir := strings.TrimSpace(outcome.Run.Stdout)
	if workDir == "" || !strings.Contains(filepath.Base(workDir), "runlab-") {
		t.Fatalf("unexpected scratch dir: %q", workDir)
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Fatalf("expected scratch dir removed, stat err: %v", err)
	}
}

func TestExecuteOutputCap(t *testing.T) {
	e := newTestExecutor(t, WithMaxOutput(16))

	outcome, err := e.Execute(context.Background(), &Request{
		AttemptID:  1,
		Files:      []FileData{{Name: "main.sh", Content: ""}},
		RunCommand: "sh -c 'yes x | head -c 4096'",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(outcome.Run.Stdout) > 16 {
		t.Fatalf("expected output capped at 16 bytes, got %d", len(outcome.Run.Stdout))
	}
	if outcome.Status != OutcomeSuccess {
		t.Fatalf("output cap must not fail the run, got %s", outcome.Status)
	}
}
