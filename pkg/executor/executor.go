// Package executor spawns handler commands as OS child processes. It is
// the only component that touches os/exec; everything above it deals in
// ExecutionResult values.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/shevd/shev/pkg/metrics"
	"github.com/shevd/shev/pkg/types"
)

// waitDelay bounds how long Run waits for inherited pipes to close after
// the deadline kills the shell. Without it a handler that forks a
// background process holding stdout open would block the consumer past
// its timeout.
const waitDelay = time.Second

// Executor runs handler commands under their configured shell
type Executor struct{}

// New creates an executor
func New() *Executor {
	return &Executor{}
}

// Execute runs the handler's command with EVENT_CONTEXT and the handler's
// env overlaid on the process environment. A configured timeout bounds the
// run; expiry kills the child and returns an error. A non-zero exit is a
// success=false result, not an error.
func (e *Executor) Execute(ctx context.Context, handler *types.Handler, eventContext string) (*types.ExecutionResult, error) {
	if handler.Timeout != nil && *handler.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*handler.Timeout)*time.Second)
		defer cancel()
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ExecutorDuration, handler.EventType)

	bin, args := handler.Shell.CommandArgs(handler.Command)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = waitDelay

	env := os.Environ()
	env = append(env, "EVENT_CONTEXT="+eventContext)
	for k, v := range handler.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		// the deadline may come from the caller's context rather than
		// the handler timeout
		if handler.Timeout != nil && *handler.Timeout > 0 {
			return nil, fmt.Errorf("Command timed out after %d seconds", *handler.Timeout)
		}
		return nil, fmt.Errorf("Command timed out: %v", ctx.Err())
	}
	if err != nil {
		if errors.Is(err, exec.ErrWaitDelay) {
			// the shell exited but a forked child still held the pipes;
			// the shell's own exit status is the outcome
			code := cmd.ProcessState.ExitCode()
			return &types.ExecutionResult{
				Success:  code == 0,
				Stdout:   lossyUTF8(stdout.Bytes()),
				Stderr:   lossyUTF8(stderr.Bytes()),
				ExitCode: code,
			}, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &types.ExecutionResult{
				Success:  false,
				Stdout:   lossyUTF8(stdout.Bytes()),
				Stderr:   lossyUTF8(stderr.Bytes()),
				ExitCode: exitErr.ExitCode(),
			}, nil
		}
		return nil, fmt.Errorf("Failed to spawn process: %v", err)
	}

	return &types.ExecutionResult{
		Success:  true,
		Stdout:   lossyUTF8(stdout.Bytes()),
		Stderr:   lossyUTF8(stderr.Bytes()),
		ExitCode: 0,
	}, nil
}

// lossyUTF8 replaces invalid byte sequences so captured output is always
// storable as TEXT.
func lossyUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
