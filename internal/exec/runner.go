package exec

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

const (
	// DefaultTimeout bounds a single command when the caller's context
	// carries no deadline of its own.
	DefaultTimeout = 2 * time.Minute

	// DefaultMaxOutput caps combined stdout/stderr returned to the
	// caller. Command output ends up inside model prompts, so the cap
	// is deliberately modest.
	DefaultMaxOutput = 256 * 1024
)

const truncationMarker = "\n... [output truncated]"

// Runner implements CommandRunner using os/exec with an output cap and
// a fallback deadline.
type Runner struct {
	// Timeout applies when ctx has no deadline. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxOutput caps returned bytes. Zero means DefaultMaxOutput.
	MaxOutput int
}

// NewRunner creates a Runner with default limits.
func NewRunner() *Runner {
	return &Runner{Timeout: DefaultTimeout, MaxOutput: DefaultMaxOutput}
}

// Run executes a command and returns combined stdout/stderr output,
// truncated at MaxOutput. A non-zero exit status is reported as an
// error alongside whatever output the command produced.
func (r *Runner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		timeout := r.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	out, err := cmd.CombinedOutput()
	out = r.cap(out)
	if ctx.Err() == context.DeadlineExceeded {
		return out, fmt.Errorf("command %q timed out: %w", name, context.DeadlineExceeded)
	}
	return out, err
}

// RunShell executes a command line through "sh -c".
func (r *Runner) RunShell(ctx context.Context, workDir string, command string) ([]byte, error) {
	return r.Run(ctx, workDir, "sh", "-c", command)
}

func (r *Runner) cap(out []byte) []byte {
	limit := r.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	if len(out) <= limit {
		return out
	}
	capped := make([]byte, 0, limit+len(truncationMarker))
	capped = append(capped, out[:limit]...)
	return append(capped, truncationMarker...)
}

// Verify Runner implements CommandRunner at compile time.
var _ CommandRunner = (*Runner)(nil)
