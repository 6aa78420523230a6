// Package execx runs external commands the way invoke.go in the agent's
// teacher lineage does: a shell wrapper, an explicit environment, and
// captured combined output, but additionally bounded by a timeout and a
// fixed-size ring buffer since these commands run unattended during a
// recovery procedure and must never be able to block it indefinitely.
package execx

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/armon/circbuf"
)

// maxOutputBytes bounds captured stdout+stderr per invocation.
const maxOutputBytes = 32 * 1024

// Result is the outcome of a Run call.
type Result struct {
	Output   string
	ExitCode int
	TimedOut bool
}

// Run executes command under a shell, waiting at most timeout before
// killing it. env, if non-nil, is appended to the child's environment.
func Run(ctx context.Context, timeout time.Duration, command string, env []string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell, flag := "/bin/sh", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "cmd", "/C"
	}

	cmd := exec.CommandContext(ctx, shell, flag, command)
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}

	buf, err := circbuf.NewBuffer(maxOutputBytes)
	if err != nil {
		return Result{}, fmt.Errorf("execx: allocate output buffer: %w", err)
	}
	cmd.Stdout = buf
	cmd.Stderr = buf

	runErr := cmd.Run()
	res := Result{Output: buf.String()}

	if ctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		return res, fmt.Errorf("execx: command timed out after %s: %s", timeout, command)
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		return res, fmt.Errorf("execx: command failed: %w", runErr)
	}

	return res, nil
}
