// Package agent defines the planner, executor and verifier capabilities of a
// run, plus their Claude-backed implementations. Agents never talk to tool
// servers or the danger gate directly; every call goes through the Dispatcher
// the orchestrator hands them.
package agent

import (
	"context"
	"fmt"

	"github.com/banyanhq/banyan/pkg/models"
)

// Dispatcher issues one tool call on behalf of an agent. The orchestrator
// supplies the implementation, which applies the danger gate, deadlines and
// audit recording for the node being worked on. A non-nil error means the
// attempt itself ended (context cancelled or aborted), not that the tool
// failed; tool failures come back inside the ToolResult.
type Dispatcher interface {
	Dispatch(ctx context.Context, call models.ToolCall) (*models.ToolResult, error)
}

// PlanRequest carries everything a Planner may consider for one node.
type PlanRequest struct {
	// Goal is the node's goal text.
	Goal string
	// ContextStack holds ancestor goals, outermost first.
	ContextStack []string
	// Attempt counts prior rejected attempts on this node.
	Attempt int
	// LastRationale is the rejection rationale from the previous attempt.
	LastRationale string
	// MemoryHits are strategy records recalled for similar goals.
	MemoryHits []models.StrategyRecord
	// Tools is the tool surface the plan may draw on.
	Tools []models.ToolDescriptor
	// Temperature for the model call. Zero keeps the API default.
	Temperature float64
}

// DecomposeRequest asks for subgoals once a node has exhausted its attempts.
type DecomposeRequest struct {
	Goal          string
	ContextStack  []string
	LastRationale string
	MemoryHits    []models.StrategyRecord
	Temperature   float64
}

// Planner proposes strategies for goals and splits stuck ones.
type Planner interface {
	// Plan proposes a strategy and optional concrete steps for the goal.
	Plan(ctx context.Context, req PlanRequest) (*models.Plan, error)
	// Decompose splits a stuck goal into at least two smaller subgoals.
	Decompose(ctx context.Context, req DecomposeRequest) ([]string, error)
}

// ExecuteRequest carries one attempt's goal, plan and tool surface.
type ExecuteRequest struct {
	// NodeID identifies the node being executed, for logging only.
	NodeID string
	// Goal is the node's goal text.
	Goal string
	// ContextStack holds ancestor goals, outermost first.
	ContextStack []string
	// Plan is the strategy to carry out. Never nil by the time an
	// executor sees it.
	Plan *models.Plan
	// Tools is the tool surface offered to the model.
	Tools []models.ToolDescriptor
	// Temperature for the model call. Zero keeps the API default.
	Temperature float64
	// Dispatch routes the attempt's tool calls.
	Dispatch Dispatcher
}

// Executor carries out a plan through tool calls and reports what happened.
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) (*models.ExecutionReport, error)
}

// VerifyRequest carries an execution report for judgement.
type VerifyRequest struct {
	Goal         string
	ContextStack []string
	Report       *models.ExecutionReport
	Temperature  float64
}

// Verifier judges whether an execution satisfied its goal.
type Verifier interface {
	Verify(ctx context.Context, req VerifyRequest) (*models.Verdict, error)
}

// Error wraps a reasoning-backend failure with the role that hit it. The
// orchestrator converts these into node rejections instead of letting them
// abort the run.
type Error struct {
	Role models.Role
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s agent: %v", e.Role, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(role models.Role, err error) *Error {
	return &Error{Role: role, Err: err}
}
