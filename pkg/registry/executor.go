package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ErrExecutorStart is returned when the copy process could not be started.
var ErrExecutorStart = errors.New("failed to start copy process")

// Result is the outcome of a finished process.
type Result struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
}

// Executor runs an external program to completion.
type Executor interface {
	// Run returns an error only when the program could not be started or
	// waited for. A non-zero exit is reported in Result.
	Run(ctx context.Context, path string, args []string) (Result, error)
}

// ProcessExecutor runs programs as child processes. The whole process tree
// is killed when ctx is done.
type ProcessExecutor struct{}

func (ProcessExecutor) Run(ctx context.Context, path string, args []string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrExecutorStart, err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	prepareCommandForTreeControl(cmd)
	cmd.Cancel = func() error { return killCommandTree(cmd) }

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrExecutorStart, err)
	}

	err := cmd.Wait()
	res := Result{
		Success:  err == nil,
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return res, fmt.Errorf("wait for %s: %w", path, err)
	}
	return res, nil
}
