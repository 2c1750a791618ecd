// Package shell implements the workspace command-runner port with os/exec.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Strob0t/agentmode/internal/port/workspace"
)

// waitDelay bounds how long Run waits for orphaned children holding the
// output pipes after the command itself was killed.
const waitDelay = 500 * time.Millisecond

// Runner runs commands through the platform shell inside the workspace root.
type Runner struct {
	root      string
	timeout   time.Duration
	maxOutput int
	slots     *Slots
}

// New creates a Runner. A zero timeout means no per-command limit; a
// non-positive maxOutput keeps full output.
func New(root string, timeout time.Duration, maxOutput int) *Runner {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	return &Runner{root: abs, timeout: timeout, maxOutput: maxOutput}
}

// SetSlots shares a concurrency limit with other runners.
func (r *Runner) SetSlots(s *Slots) { r.slots = s }

// Run implements workspace.Shell. A non-zero exit code is reported in the
// result, not as an error; err is reserved for commands that could not run.
func (r *Runner) Run(ctx context.Context, command, cwd string) (workspace.CommandResult, error) {
	if strings.TrimSpace(command) == "" {
		return workspace.CommandResult{}, errors.New("shell: empty command")
	}
	dir, err := r.resolve(cwd)
	if err != nil {
		return workspace.CommandResult{}, err
	}
	var res workspace.CommandResult
	err = r.slots.Do(ctx, func() error {
		var runErr error
		res, runErr = r.run(ctx, command, dir)
		return runErr
	})
	return res, err
}

func (r *Runner) run(ctx context.Context, command, dir string) (workspace.CommandResult, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := shellCommand(ctx, command)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := workspace.CommandResult{
		Stdout: r.clip(stdout.String()),
		Stderr: r.clip(stderr.String()),
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			return res, fmt.Errorf("shell: %q: %w", command, ctx.Err())
		}
	default:
		return res, fmt.Errorf("shell: %q: %w", command, err)
	}
	return res, nil
}

func (r *Runner) resolve(cwd string) (string, error) {
	if cwd == "" {
		return r.root, nil
	}
	dir := filepath.Clean(filepath.Join(r.root, cwd))
	rel, err := filepath.Rel(r.root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("shell cwd %s: %w", cwd, workspace.ErrOutsideRoot)
	}
	return dir, nil
}

func (r *Runner) clip(s string) string {
	if r.maxOutput <= 0 || len(s) <= r.maxOutput {
		return s
	}
	return s[:r.maxOutput] + "\n... (output truncated)"
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command) //nolint:gosec // G204: commands come from approved plan steps
	}
	return exec.CommandContext(ctx, "sh", "-c", command) //nolint:gosec // G204: commands come from approved plan steps
}
