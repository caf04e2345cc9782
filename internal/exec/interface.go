// Package exec runs external commands on behalf of the shell tool
// server. Output is capped and every invocation carries a deadline so
// a runaway command cannot wedge a run or flood a model transcript.
package exec

import (
	"context"
)

// CommandRunner executes external commands. The abstraction keeps the
// shell tool server testable without forking real processes.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr,
	// truncated at the runner's output cap. The working directory is
	// set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// RunShell executes a command line through "sh -c".
	RunShell(ctx context.Context, workDir string, command string) (output []byte, err error)
}
