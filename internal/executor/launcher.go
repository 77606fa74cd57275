package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// limitedBuffer caps the total bytes captured from a phase. Overflow is
// dropped but reported as written so the child never blocks on a full pipe.
type limitedBuffer struct {
	bytes.Buffer
	cap int
}

func (l *limitedBuffer) Write(p []byte) (n int, err error) {
	left := l.cap - l.Len()
	if left <= 0 {
		return len(p), nil
	}
	if len(p) > left {
		p = p[:left]
	}
	n, err = l.Buffer.Write(p)
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// Launcher starts one command in a working directory and waits for it.
// It is the isolation seam: the host launcher runs commands directly, the
// docker launcher wraps them in a container. The executor's contract does
// not change between them.
type Launcher interface {
	Launch(ctx context.Context, command, workDir, stdin string, maxOutput int) (*PhaseResult, error)
}

// HostLauncher runs commands directly on the host through the shell, in
// their own process group so a timeout kills the whole subprocess tree.
// It provides no isolation beyond the scratch directory; deployments
// exposed to untrusted code should use DockerLauncher or equivalent.
type HostLauncher struct{}

func (HostLauncher) Launch(ctx context.Context, command, workDir, stdin string, maxOutput int) (*PhaseResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workDir
	return runCommand(ctx, cmd, stdin, maxOutput)
}

// DockerLauncher wraps each command in a fresh container with the scratch
// directory bind-mounted as the working directory.
type DockerLauncher struct {
	Image       string
	MemoryLimit string // e.g. "256m"
	CPULimit    string // e.g. "1.0"
	NetworkMode string // default "none"
}

func (d DockerLauncher) Launch(ctx context.Context, command, workDir, stdin string, maxOutput int) (*PhaseResult, error) {
	network := d.NetworkMode
	if network == "" {
		network = "none"
	}
	args := []string{
		"run", "--rm", "-i",
		"--network", network,
		"-v", fmt.Sprintf("%s:/work", workDir),
		"-w", "/work",
	}
	if d.MemoryLimit != "" {
		args = append(args, "--memory", d.MemoryLimit)
	}
	if d.CPULimit != "" {
		args = append(args, "--cpus", d.CPULimit)
	}
	args = append(args, d.Image, "sh", "-c", command)

	cmd := exec.CommandContext(ctx, "docker", args...)
	return runCommand(ctx, cmd, stdin, maxOutput)
}

func runCommand(ctx context.Context, cmd *exec.Cmd, stdin string, maxOutput int) (*PhaseResult, error) {
	stdoutBuf := &limitedBuffer{cap: maxOutput}
	stderrBuf := &limitedBuffer{cap: maxOutput}
	cmd.Stdout = stdoutBuf
	cmd.Stderr = stderrBuf
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		terminateProcessGroup(cmd)
		return nil
	}

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := &PhaseResult{
		Stdout:  stdoutBuf.String(),
		Stderr:  stderrBuf.String(),
		Elapsed: elapsed,
	}

	switch {
	case err == nil:
		result.ExitCode = 0
	default:
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Killed before exiting on its own, or never started.
			result.ExitCode = -1
			if ctx.Err() == nil {
				return result, err
			}
		}
	}
	return result, nil
}
