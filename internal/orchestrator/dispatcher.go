package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banyanhq/banyan/internal/agent"
	"github.com/banyanhq/banyan/internal/audit"
	"github.com/banyanhq/banyan/internal/gate"
	"github.com/banyanhq/banyan/pkg/models"
)

// errCallDenied marks a tool call the operator refused.
var errCallDenied = errors.New("tool call denied")

// nodeDispatcher routes one attempt's tool calls through the danger gate
// and the broker, recording everything on the audit trail. It is handed to
// the executor so agents never see the gate or the ledger. A denied call
// aborts the whole attempt; sibling nodes are untouched.
type nodeDispatcher struct {
	run   *Run
	node  *models.TaskNode
	abort context.CancelFunc

	mu     sync.Mutex
	denial string
}

var _ agent.Dispatcher = (*nodeDispatcher)(nil)

// Dispatch issues one tool call on the node's behalf.
func (d *nodeDispatcher) Dispatch(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
	// The node's deadline caps every call it makes.
	if deadline := d.node.Constraints.Deadline; deadline > 0 {
		if call.Timeout <= 0 || call.Timeout > deadline {
			call.Timeout = deadline
		}
	}

	if !d.node.Constraints.AllowDangerousOps {
		if held, rule := d.run.policy.Match(call); held {
			resp, err := d.hold(ctx, call, rule)
			if err != nil {
				return nil, err
			}
			if !resp.Approved {
				reason := resp.Reason
				if reason == "" {
					reason = rule
				}
				d.mu.Lock()
				d.denial = fmt.Sprintf("%s (decided by %s)", reason, resp.DecidedBy)
				d.mu.Unlock()

				d.abort()
				return nil, fmt.Errorf("%w: %s", errCallDenied, reason)
			}
		}
	}

	result, err := d.run.broker.Invoke(ctx, call)
	if err != nil {
		return nil, err
	}

	d.run.recordToolCall(d.node.ID, call, result)
	return result, nil
}

// hold parks the call with the approval manager until someone decides.
func (d *nodeDispatcher) hold(ctx context.Context, call models.ToolCall, rule string) (gate.Response, error) {
	d.run.audit(audit.ActorGate, audit.ActionGateHold, d.node.ID,
		map[string]any{"tool": call.Tool, "rule": rule}, "held")
	d.run.emit(Event{Type: EventGateHeld, NodeID: d.node.ID, Goal: d.node.Goal, Message: rule})
	d.run.note(audit.ActorGate, d.node.ID, "holding %s for approval: %s", call.Tool, rule)

	resp, err := d.run.approvals.WaitForApproval(ctx, gate.Request{
		RunID:  d.run.id,
		NodeID: d.node.ID,
		Call:   call,
		Rule:   rule,
	})
	if err != nil {
		return gate.Response{}, err
	}

	outcome := "denied"
	if resp.Approved {
		outcome = "approved"
	}
	d.run.audit(audit.ActorGate, audit.ActionGateDecision, d.node.ID,
		map[string]any{"tool": call.Tool, "decided_by": resp.DecidedBy, "reason": resp.Reason}, outcome)
	d.run.emit(Event{Type: EventGateDecided, NodeID: d.node.ID, Goal: d.node.Goal,
		Message: fmt.Sprintf("%s %s by %s", call.Tool, outcome, resp.DecidedBy)})
	d.run.note(audit.ActorGate, d.node.ID, "%s %s by %s", call.Tool, outcome, resp.DecidedBy)

	return resp, nil
}

// denialReason returns the recorded denial, if any call was refused.
func (d *nodeDispatcher) denialReason() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.denial
}
