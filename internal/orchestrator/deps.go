// Package orchestrator drives runs: it walks the task tree, carries each
// node through plan, execute and verify, and owns every policy around
// retries, decomposition, approvals and cancellation. One goroutine per run
// mutates the tree; everything else observes through snapshots and events.
package orchestrator

import (
	"context"

	"github.com/banyanhq/banyan/pkg/models"
)

// ToolBroker is the slice of the tool broker the run loop needs.
type ToolBroker interface {
	// Tools returns the current tool catalog.
	Tools(ctx context.Context) ([]models.ToolDescriptor, error)
	// Invoke runs one tool call. Tool failures come back inside the
	// result; the error return means the caller's context ended.
	Invoke(ctx context.Context, call models.ToolCall) (*models.ToolResult, error)
}

// StrategyMemory is the slice of strategy memory the run loop needs.
type StrategyMemory interface {
	Recall(goal string, limit int) ([]*models.StrategyRecord, error)
	RecallFailures(goal string, limit int) ([]*models.StrategyRecord, error)
	Record(rec *models.StrategyRecord) error
}

// AuditLedger is the slice of the audit ledger the run loop needs.
type AuditLedger interface {
	Append(runID, actor, action, nodeID string, payload any, outcome string) (*models.AuditEntry, error)
	DumpState(runID string, state any, outcome string) error
}

// RunStore persists run snapshots and settled outcomes. The settled
// outcome backs idempotent re-submission.
type RunStore interface {
	SaveSnapshot(snap *models.RunSnapshot) error
	SaveResult(res *models.RunResult) error
	GetResult(runID string) (*models.RunResult, error)
}
