package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultRunTimeout   = 30 * time.Second
	DefaultBuildTimeout = 120 * time.Second
	DefaultMaxOutput    = 1024 * 1024
)

// Executor runs one job's build+run pipeline in a scratch directory. It is
// stateless and holds no concurrency control of its own; the queue layer
// bounds how many executions are in flight.
type Executor struct {
	launcher     Launcher
	logger       *slog.Logger
	runTimeout   time.Duration
	buildTimeout time.Duration
	maxOutput    int
}

type Option func(*Executor)

func WithRunTimeout(d time.Duration) Option {
	return func(e *Executor) { e.runTimeout = d }
}

func WithBuildTimeout(d time.Duration) Option {
	return func(e *Executor) { e.buildTimeout = d }
}

func WithMaxOutput(n int) Option {
	return func(e *Executor) { e.maxOutput = n }
}

func New(launcher Launcher, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		launcher:     launcher,
		logger:       logger,
		runTimeout:   DefaultRunTimeout,
		buildTimeout: DefaultBuildTimeout,
		maxOutput:    DefaultMaxOutput,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute materializes the request's files into a fresh scratch directory,
// runs the build phase (when one applies) and then the run phase. The
// scratch directory is removed on every exit path. The returned error is
// reserved for infrastructure failures; user-code failures are expressed
// through the Outcome status.
func (e *Executor) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	workDir, err := os.MkdirTemp("", "runlab-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	if err := materializeFiles(workDir, req.Files); err != nil {
		return nil, fmt.Errorf("write project files: %w", err)
	}

	langDefaults := DefaultCommands(req.Language)
	buildCmd := req.BuildCommand
	if buildCmd == "" {
		buildCmd = langDefaults.Build
	}
	runCmd := req.RunCommand
	if runCmd == "" {
		runCmd = langDefaults.Run
	}

	var buildResult *PhaseResult
	if buildCmd != "" && e.shouldBuild(req, langDefaults, workDir) {
		buildCtx, cancel := context.WithTimeout(ctx, e.buildTimeout)
		buildResult, err = e.launcher.Launch(buildCtx, buildCmd, workDir, "", e.maxOutput)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("launch build command: %w", err)
		}
		if buildResult.ExitCode != 0 {
			e.logger.Info("Build phase failed", "language", req.Language, "exit_code", buildResult.ExitCode)
			return &Outcome{Status: OutcomeCompilationError, Build: buildResult}, nil
		}
	}

	if runCmd == "" {
		return nil, fmt.Errorf("no run command for language %q", req.Language)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.runTimeout)
	defer cancel()
	runResult, err := e.launcher.Launch(runCtx, runCmd, workDir, req.Stdin, e.maxOutput)
	if err != nil {
		return nil, fmt.Errorf("launch run command: %w", err)
	}

	status := OutcomeSuccess
	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		status = OutcomeTimeout
	case runResult.ExitCode != 0:
		status = OutcomeError
	}

	return &Outcome{Status: status, Build: buildResult, Run: runResult}, nil
}

// shouldBuild skips the build step when its only precondition file is
// absent, e.g. python projects without a requirements.txt.
func (e *Executor) shouldBuild(req *Request, d languageDefaults, workDir string) bool {
	if req.BuildCommand != "" {
		return true
	}
	if d.BuildPrecondition == "" {
		return true
	}
	_, err := os.Stat(filepath.Join(workDir, d.BuildPrecondition))
	return err == nil
}

func materializeFiles(workDir string, files []FileData) error {
	for _, f := range files {
		rel := f.Path
		if rel == "" {
			rel = f.Name
		}
		if rel == "" {
			return fmt.Errorf("file with empty name and path")
		}
		if !filepath.IsLocal(rel) {
			return fmt.Errorf("file path escapes scratch dir: %q", rel)
		}
		dst := filepath.Join(workDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, []byte(f.Content), 0o644); err != nil {
			return err
		}
	}
	return nil
}
