package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"

	"github.com/banyanhq/banyan/pkg/models"
)

// ToolError is a classified tool invocation failure. The kind drives
// how the orchestrator reacts: every kind is recoverable and becomes a
// node-level reject, never a run abort.
type ToolError struct {
	Kind   models.ErrorKind
	Server string
	Tool   string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("tool %s on %s: %s", e.Tool, e.Server, e.Kind)
	}
	return fmt.Sprintf("tool %s on %s: %s: %v", e.Tool, e.Server, e.Kind, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func newToolError(kind models.ErrorKind, server, tool string, err error) *ToolError {
	return &ToolError{Kind: kind, Server: server, Tool: tool, Err: err}
}

// classifyCallError maps a transport-level failure to an error kind.
// A reached deadline is a timeout; everything else the wire can
// produce is a remote error.
func classifyCallError(ctx context.Context, err error) models.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorKindTimeout
	}
	// The per-call context may have expired while the transport was
	// reporting a different error.
	if ctx.Err() == context.DeadlineExceeded {
		return models.ErrorKindTimeout
	}
	return models.ErrorKindRemoteError
}

// isDisconnect reports whether an error looks like a dead connection
// rather than a tool-level failure. Pooled connections hit this when
// a server process exits between calls.
func isDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"broken pipe", "connection reset", "use of closed", "connection refused", "process already finished"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
