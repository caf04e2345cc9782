package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banyanhq/banyan/internal/agent"
	"github.com/banyanhq/banyan/internal/audit"
	"github.com/banyanhq/banyan/internal/memory"
	"github.com/banyanhq/banyan/pkg/models"
)

// rationaleAgentUnavailable is the rejection rationale substituted when a
// reasoning backend fails outright.
const rationaleAgentUnavailable = "agent_unavailable"

// loop is the run's single mutating goroutine. It walks the tree leaf by
// leaf until the root settles, converting every recoverable error into a
// node-level reject along the way.
func (r *Run) loop(ctx context.Context, constraints models.Constraints) {
	defer close(r.done)
	defer r.emitter.Close()
	defer r.pause.Stop()

	rootID, err := r.tree.SubmitRoot(r.goal, constraints)
	if err != nil {
		r.finishFatal(&FatalError{Reason: "submit root", Err: err})
		return
	}

	r.audit(audit.ActorOrchestrator, audit.ActionRunStarted, rootID, map[string]any{"goal": r.goal}, "ok")
	r.emit(Event{Type: EventRunStarted, NodeID: rootID, Goal: r.goal})
	r.note(audit.ActorOrchestrator, rootID, "run started: %s", r.goal)
	log.Printf("[orchestrator] run %s started: %s", r.id, truncateGoal(r.goal))

	for {
		if err := r.pause.WaitIfPaused(ctx); err != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}

		node, ok := r.tree.NextActiveLeaf()
		if !ok {
			break
		}

		if cancelRoot, ok := r.nodeCancelRoot(node.ID); ok {
			r.cancelSubtree(cancelRoot)
			continue
		}

		if err := r.step(ctx, node); err != nil {
			var fatal *FatalError
			if errors.As(err, &fatal) {
				r.finishFatal(fatal)
				return
			}
			// context ended mid-step; the outer check settles the run
			continue
		}

		if err := r.tree.Validate(); err != nil {
			r.finishFatal(&FatalError{Reason: "graph invariant violated", Err: err})
			return
		}

		r.persistSnapshot()
	}

	if ctx.Err() != nil {
		r.cancelSubtree(rootID)
	}
	r.finish(rootID)
}

// step runs one visit of a single leaf: consume feedback, plan if needed,
// execute, verify, then settle or requeue. Recoverable trouble becomes a
// reject; only graph corruption escapes as *FatalError.
func (r *Run) step(ctx context.Context, node *models.TaskNode) error {
	if verdict := r.takeFeedback(node.ID); verdict != nil {
		return r.applyFeedback(ctx, node, verdict)
	}

	if node.Status == models.TaskStatusPending {
		if err := r.tree.Transition(node.ID, models.TaskStatusActive); err != nil {
			return &FatalError{Reason: "activate node", Err: err}
		}
	}

	temperature := r.cfg.Escalation.TemperatureFor(node.AttemptCount)
	tools := r.discoverTools(ctx, node.ID)

	plan := node.Plan
	if plan == nil {
		var err error
		plan, err = r.planNode(ctx, node, tools, temperature)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return r.reject(ctx, node, rejectOutcome{
				rationale: rationaleAgentUnavailable,
				detail:    err.Error(),
				outcome:   "agent_error",
			})
		}
	}

	report, denial, err := r.executeNode(ctx, node, plan, tools, temperature)
	if cancelRoot, ok := r.nodeCancelRoot(node.ID); ok {
		// Cancelled while executing; drop the attempt unjudged.
		r.cancelSubtree(cancelRoot)
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			// Deadline rejections retry like any other but are logged
			// distinctly for diagnostics.
			return r.reject(ctx, node, rejectOutcome{
				rationale: fmt.Sprintf("execution exceeded the %s deadline", r.executeTimeout()),
				outcome:   "timeout",
			})
		}
		return r.reject(ctx, node, rejectOutcome{
			rationale: rationaleAgentUnavailable,
			detail:    err.Error(),
			outcome:   "agent_error",
		})
	}
	if denial != "" {
		// An operator refused a gated call. That abandons the node, not
		// the run; siblings keep going.
		return r.denyNode(node, denial)
	}

	verdict, err := r.verifyNode(ctx, node, report, temperature)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.reject(ctx, node, rejectOutcome{
			rationale: rationaleAgentUnavailable,
			detail:    err.Error(),
			outcome:   "agent_error",
		})
	}

	return r.settle(ctx, node, report, verdict)
}

// discoverTools fetches the current tool catalog. Discovery trouble only
// costs the agents their tool list for this visit.
func (r *Run) discoverTools(ctx context.Context, nodeID string) []models.ToolDescriptor {
	tools, err := r.broker.Tools(ctx)
	if err != nil {
		r.note(audit.ActorBroker, nodeID, "tool discovery failed: %v", err)
		return nil
	}
	return tools
}

// planNode obtains a strategy for the node, biased by memory hits and any
// rationale from the previous rejection.
func (r *Run) planNode(ctx context.Context, node *models.TaskNode, tools []models.ToolDescriptor, temperature float64) (*models.Plan, error) {
	req := agent.PlanRequest{
		Goal:          node.Goal,
		ContextStack:  node.ContextStack,
		Attempt:       node.AttemptCount,
		LastRationale: node.LastRationale,
		MemoryHits:    r.recall(node.Goal, false),
		Tools:         tools,
		Temperature:   temperature,
	}

	planCtx, cancel := r.phaseContext(ctx, r.cfg.PlanTimeout)
	defer cancel()

	plan, err := r.planner.Plan(planCtx, req)
	if err != nil {
		r.audit(audit.ActorPlanner, audit.ActionPlan, node.ID, map[string]any{"attempt": node.AttemptCount}, "error")
		return nil, err
	}

	if err := r.tree.SetPlan(node.ID, plan); err != nil {
		return nil, &FatalError{Reason: "store plan", Err: err}
	}
	r.audit(audit.ActorPlanner, audit.ActionPlan, node.ID, map[string]any{
		"attempt":     node.AttemptCount,
		"strategy":    plan.Strategy,
		"steps":       len(plan.Steps),
		"temperature": temperature,
	}, "ok")
	r.emit(Event{Type: EventNodePlanned, NodeID: node.ID, Goal: node.Goal,
		Message: plan.Strategy, Attempt: node.AttemptCount})
	r.note(audit.ActorPlanner, node.ID, "planned (attempt %d, temp %.2f): %s",
		node.AttemptCount, temperature, truncateGoal(plan.Strategy))
	return plan, nil
}

// executeNode runs one attempt. The returned denial is non-empty when the
// danger gate refused a call mid-attempt.
func (r *Run) executeNode(ctx context.Context, node *models.TaskNode, plan *models.Plan, tools []models.ToolDescriptor, temperature float64) (*models.ExecutionReport, string, error) {
	execCtx, cancel := r.phaseContext(ctx, r.executeTimeout())
	defer cancel()

	attemptCtx, abort := context.WithCancel(execCtx)
	defer abort()
	untrack := r.trackInflight(node.ID, abort)
	defer untrack()

	dispatcher := &nodeDispatcher{run: r, node: node, abort: abort}

	r.mu.Lock()
	r.metrics.Attempts++
	r.mu.Unlock()

	r.emit(Event{Type: EventNodeStarted, NodeID: node.ID, Goal: node.Goal, Attempt: node.AttemptCount})
	r.note(audit.ActorExecutor, node.ID, "executing: %s", truncateGoal(node.Goal))

	report, err := r.executor.Execute(attemptCtx, agent.ExecuteRequest{
		NodeID:       node.ID,
		Goal:         node.Goal,
		ContextStack: node.ContextStack,
		Plan:         plan,
		Tools:        tools,
		Temperature:  temperature,
		Dispatch:     dispatcher,
	})

	if denial := dispatcher.denialReason(); denial != "" {
		return nil, denial, nil
	}
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			err = context.DeadlineExceeded
		}
		r.audit(audit.ActorExecutor, audit.ActionExecute, node.ID,
			map[string]any{"attempt": node.AttemptCount}, "error")
		return nil, "", err
	}

	r.audit(audit.ActorExecutor, audit.ActionExecute, node.ID, map[string]any{
		"attempt": node.AttemptCount,
		"actions": len(report.Actions),
		"failed":  report.Failed,
	}, "ok")
	return report, "", nil
}

// verifyNode judges the attempt. Tool-level timeouts inside the report are
// surfaced to the verifier like any other failed action.
func (r *Run) verifyNode(ctx context.Context, node *models.TaskNode, report *models.ExecutionReport, temperature float64) (*models.Verdict, error) {
	verifyCtx, cancel := r.phaseContext(ctx, r.cfg.VerifyTimeout)
	defer cancel()

	verdict, err := r.verifier.Verify(verifyCtx, agent.VerifyRequest{
		Goal:         node.Goal,
		ContextStack: node.ContextStack,
		Report:       report,
		Temperature:  temperature,
	})
	if err != nil {
		r.audit(audit.ActorVerifier, audit.ActionVerify, node.ID,
			map[string]any{"attempt": node.AttemptCount}, "error")
		return nil, err
	}
	if verdict.Decision == models.DecisionReject && verdict.Rationale == "" {
		// The contract demands a rationale; an empty one is a backend bug
		// handled as agent failure, not a crash.
		return nil, &agent.Error{Role: models.RoleVerifier, Err: errors.New("reject without rationale")}
	}
	if verdict.Source == "" {
		verdict.Source = models.VerdictSourceVerifier
	}

	r.audit(audit.ActorVerifier, audit.ActionVerify, node.ID, map[string]any{
		"decision":  string(verdict.Decision),
		"rationale": verdict.Rationale,
	}, string(verdict.Decision))
	r.emit(Event{Type: EventNodeVerified, NodeID: node.ID, Goal: node.Goal,
		Decision: verdict.Decision, Message: verdict.Rationale})
	return verdict, nil
}

// settle applies a verdict to an active node.
func (r *Run) settle(ctx context.Context, node *models.TaskNode, report *models.ExecutionReport, verdict *models.Verdict) error {
	switch verdict.Decision {
	case models.DecisionApprove:
		return r.succeed(node, report.Output)
	case models.DecisionReject:
		return r.reject(ctx, node, rejectOutcome{
			rationale:   verdict.Rationale,
			remediation: verdict.Remediation,
			outcome:     "reject",
		})
	case models.DecisionNeedMoreInfo:
		// Retries like a reject; the rationale tells the next plan what
		// was missing.
		rationale := verdict.Rationale
		if rationale == "" {
			rationale = "verifier could not judge the result"
		}
		return r.reject(ctx, node, rejectOutcome{rationale: rationale, outcome: "need_more_info"})
	default:
		return r.reject(ctx, node, rejectOutcome{
			rationale: fmt.Sprintf("unintelligible verdict %q", verdict.Decision),
			outcome:   "agent_error",
		})
	}
}

// succeed marks a node successful and lets the tree propagate upward.
func (r *Run) succeed(node *models.TaskNode, output string) error {
	if output != "" {
		if err := r.tree.SetResult(node.ID, output); err != nil {
			return &FatalError{Reason: "store result", Err: err}
		}
	}
	if err := r.tree.Transition(node.ID, models.TaskStatusSuccess); err != nil {
		return &FatalError{Reason: "mark success", Err: err}
	}

	r.emit(Event{Type: EventNodeSucceeded, NodeID: node.ID, Goal: node.Goal})
	r.note(audit.ActorOrchestrator, node.ID, "succeeded: %s", truncateGoal(node.Goal))
	r.remember(node, models.OutcomeSuccess, successNarrative(node, output))
	return nil
}

// rejectOutcome carries one rejection's bookkeeping.
type rejectOutcome struct {
	rationale   string
	remediation string
	detail      string
	outcome     string
}

// reject records a failed attempt and either requeues the node with an
// escalated temperature or decomposes it into subgoals.
func (r *Run) reject(ctx context.Context, node *models.TaskNode, out rejectOutcome) error {
	if err := r.tree.Transition(node.ID, models.TaskStatusFailed); err != nil {
		return &FatalError{Reason: "mark failed", Err: err}
	}

	rationale := out.rationale
	if out.remediation != "" {
		rationale = rationale + "\nSuggested remediation: " + out.remediation
	}
	if out.detail != "" {
		r.debugLog.Log("reject detail node=%s: %s", node.ID, out.detail)
	}
	if err := r.tree.RecordRejection(node.ID, rationale); err != nil {
		return &FatalError{Reason: "record rejection", Err: err}
	}
	attempts := node.AttemptCount + 1

	r.emit(Event{Type: EventNodeRejected, NodeID: node.ID, Goal: node.Goal,
		Message: out.rationale, Attempt: attempts})
	r.note(audit.ActorOrchestrator, node.ID, "attempt %d rejected (%s): %s",
		attempts, out.outcome, truncateGoal(out.rationale))

	if attempts < r.cfg.MaxAttempts {
		if err := r.tree.Transition(node.ID, models.TaskStatusSuspended); err != nil {
			return &FatalError{Reason: "suspend node", Err: err}
		}
		if err := r.tree.Transition(node.ID, models.TaskStatusPending); err != nil {
			return &FatalError{Reason: "requeue node", Err: err}
		}
		r.audit(audit.ActorOrchestrator, audit.ActionRequeue, node.ID, map[string]any{
			"attempt":          attempts,
			"next_temperature": r.cfg.Escalation.TemperatureFor(attempts),
		}, out.outcome)
		return nil
	}

	return r.decompose(ctx, node, rationale)
}

// decompose splits a node that exhausted its attempts. At the depth bound
// the node instead fails permanently and the run completes with whatever
// progress its siblings made.
func (r *Run) decompose(ctx context.Context, node *models.TaskNode, rationale string) error {
	if node.Depth() >= r.cfg.MaxDepth {
		r.audit(audit.ActorOrchestrator, audit.ActionDecompose, node.ID,
			map[string]any{"depth": node.Depth()}, "depth_bound")
		r.emit(Event{Type: EventNodeFailed, NodeID: node.ID, Goal: node.Goal, Message: rationale})
		r.note(audit.ActorOrchestrator, node.ID, "failed permanently at depth bound %d", r.cfg.MaxDepth)
		r.remember(node, models.OutcomeFailure, failureNarrative(node, rationale))
		return nil
	}

	subgoals, err := r.planner.Decompose(ctx, agent.DecomposeRequest{
		Goal:          node.Goal,
		ContextStack:  node.ContextStack,
		LastRationale: rationale,
		MemoryHits:    r.recall(node.Goal, true),
		Temperature:   r.cfg.Escalation.Cap,
	})
	if err != nil || len(subgoals) < 2 {
		if err == nil {
			err = fmt.Errorf("planner proposed %d subgoals, need at least 2", len(subgoals))
		}
		r.audit(audit.ActorPlanner, audit.ActionDecompose, node.ID, map[string]any{"error": err.Error()}, "error")
		r.emit(Event{Type: EventNodeFailed, NodeID: node.ID, Goal: node.Goal, Err: err})
		r.note(audit.ActorPlanner, node.ID, "decomposition unavailable, node fails permanently: %v", err)
		r.remember(node, models.OutcomeFailure, failureNarrative(node, rationale))
		return nil
	}

	childIDs, err := r.tree.Decompose(node.ID, subgoals)
	if err != nil {
		return &FatalError{Reason: "decompose node", Err: err}
	}

	r.mu.Lock()
	r.metrics.Decompositions++
	r.mu.Unlock()

	r.emit(Event{Type: EventNodeDecomposed, NodeID: node.ID, Goal: node.Goal,
		Message: fmt.Sprintf("%d subgoals", len(childIDs))})
	r.note(audit.ActorOrchestrator, node.ID, "decomposed into %d subgoals", len(childIDs))
	r.remember(node, models.OutcomeFailure, failureNarrative(node, rationale))
	return nil
}

// denyNode abandons a node after an operator refused one of its calls.
// Only this node fails; nothing is retried because a retry would just
// re-issue the refused call.
func (r *Run) denyNode(node *models.TaskNode, denial string) error {
	if err := r.tree.Transition(node.ID, models.TaskStatusFailed); err != nil {
		return &FatalError{Reason: "mark denied node failed", Err: err}
	}
	if err := r.tree.RecordRejection(node.ID, "denied: "+denial); err != nil {
		return &FatalError{Reason: "record denial", Err: err}
	}

	r.emit(Event{Type: EventNodeFailed, NodeID: node.ID, Goal: node.Goal, Message: "denied: " + denial})
	r.note(audit.ActorGate, node.ID, "node abandoned after denial: %s", denial)
	r.remember(node, models.OutcomeFailure, failureNarrative(node, "operator denied a required call: "+denial))
	return nil
}

// applyFeedback consumes a human verdict for a pending node exactly as a
// Verifier output would be.
func (r *Run) applyFeedback(ctx context.Context, node *models.TaskNode, verdict *models.Verdict) error {
	if err := r.tree.Transition(node.ID, models.TaskStatusActive); err != nil {
		return &FatalError{Reason: "activate node for feedback", Err: err}
	}
	r.note(audit.ActorHuman, node.ID, "applying human feedback: %s", verdict.Decision)
	return r.settle(ctx, node, &models.ExecutionReport{}, verdict)
}

// cancelSubtree cancels a subtree in the tree and audits the sweep.
func (r *Run) cancelSubtree(rootID string) {
	cancelled, err := r.tree.CancelSubtree(rootID)
	if err != nil {
		r.debugLog.Log("cancel subtree %s: %v", rootID, err)
		return
	}
	if len(cancelled) > 0 {
		r.audit(audit.ActorOrchestrator, audit.ActionCancel, rootID,
			map[string]any{"cancelled": len(cancelled)}, "ok")
		r.note(audit.ActorOrchestrator, rootID, "cancelled %d nodes", len(cancelled))
	}
}

// finish settles the run from the root's terminal state.
func (r *Run) finish(rootID string) {
	root, err := r.tree.Get(rootID)
	if err != nil {
		r.finishFatal(&FatalError{Reason: "root vanished", Err: err})
		return
	}

	status := models.RunStatusFailed
	switch root.Status {
	case models.TaskStatusSuccess:
		status = models.RunStatusSucceeded
	case models.TaskStatusCancelled:
		status = models.RunStatusCancelled
	}

	r.setStatus(status)
	result := &models.RunResult{
		RunID:       r.id,
		Goal:        r.goal,
		Status:      status,
		RootStatus:  root.Status,
		Output:      root.Result,
		StartedAt:   r.startedAt,
		CompletedAt: time.Now(),
		Metrics:     r.snapshotMetrics(),
	}

	r.mu.Lock()
	r.result = result
	r.mu.Unlock()

	r.audit(audit.ActorOrchestrator, audit.ActionRunCompleted, rootID,
		map[string]any{"status": string(status)}, string(root.Status))
	r.emit(Event{Type: EventRunCompleted, NodeID: rootID, Message: string(status)})
	r.note(audit.ActorOrchestrator, rootID, "run completed: %s", status)
	log.Printf("[orchestrator] run %s completed: %s", r.id, status)

	r.persistSnapshot()
	if r.store != nil {
		if err := r.store.SaveResult(result); err != nil {
			log.Printf("[orchestrator] persist result for run %s: %v", r.id, err)
		}
	}
}

// finishFatal aborts the run, dumping the full tree to the audit ledger.
// Partial progress stays queryable through the snapshot and the store.
func (r *Run) finishFatal(fatal *FatalError) {
	log.Printf("[orchestrator] run %s aborted: %v", r.id, fatal)
	r.debugLog.Log("FATAL: %v", fatal)

	if err := r.ledger.DumpState(r.id, r.tree.Nodes(), fatal.Reason); err != nil {
		log.Printf("[orchestrator] state dump for run %s failed: %v", r.id, err)
	}

	r.setStatus(models.RunStatusFailed)
	result := &models.RunResult{
		RunID:       r.id,
		Goal:        r.goal,
		Status:      models.RunStatusFailed,
		StartedAt:   r.startedAt,
		CompletedAt: time.Now(),
		Metrics:     r.snapshotMetrics(),
	}
	if rootID := r.tree.RootID(); rootID != "" {
		if root, err := r.tree.Get(rootID); err == nil {
			result.RootStatus = root.Status
		}
	}

	r.mu.Lock()
	r.result = result
	r.fatal = fatal
	r.mu.Unlock()

	r.emit(Event{Type: EventRunCompleted, Message: "fatal: " + fatal.Reason, Err: fatal})
	r.persistSnapshot()
	if r.store != nil {
		if err := r.store.SaveResult(result); err != nil {
			log.Printf("[orchestrator] persist result for run %s: %v", r.id, err)
		}
	}
}

// recall fetches memory hits for a goal. failures selects records of past
// failures instead of successes. Recall trouble only costs the bias.
func (r *Run) recall(goal string, failures bool) []models.StrategyRecord {
	if r.memory == nil {
		return nil
	}

	var (
		recs []*models.StrategyRecord
		err  error
	)
	if failures {
		recs, err = r.memory.RecallFailures(goal, r.recallTop)
	} else {
		recs, err = r.memory.Recall(goal, r.recallTop)
	}
	if err != nil {
		r.debugLog.Log("memory recall failed: %v", err)
		return nil
	}

	hits := make([]models.StrategyRecord, 0, len(recs))
	for _, rec := range recs {
		hits = append(hits, *rec)
	}
	return hits
}

// remember writes one strategy record on node settlement. Best effort.
func (r *Run) remember(node *models.TaskNode, outcome models.RecordOutcome, narrative string) {
	if r.memory == nil {
		return
	}
	rec := &models.StrategyRecord{
		ID:          uuid.New().String(),
		Fingerprint: memory.Fingerprint(node.Goal),
		Goal:        node.Goal,
		Outcome:     outcome,
		Narrative:   narrative,
		Score:       settleScore(node, outcome),
		CreatedAt:   time.Now(),
	}
	if err := r.memory.Record(rec); err != nil {
		r.debugLog.Log("memory record failed: %v", err)
		return
	}
	r.audit(audit.ActorMemory, "remember", node.ID, map[string]any{"outcome": string(outcome)}, "ok")
}

// settleScore rates a settlement: clean first-attempt successes score
// highest, late successes lower, failures lowest.
func settleScore(node *models.TaskNode, outcome models.RecordOutcome) float64 {
	if outcome == models.OutcomeFailure {
		return 0.2
	}
	score := 1.0 - 0.2*float64(node.AttemptCount)
	if score < 0.4 {
		score = 0.4
	}
	return score
}

func successNarrative(node *models.TaskNode, output string) string {
	var sb strings.Builder
	if node.Plan != nil && node.Plan.Strategy != "" {
		sb.WriteString("Worked: " + node.Plan.Strategy)
	} else {
		sb.WriteString("Worked on attempt " + fmt.Sprint(node.AttemptCount+1))
	}
	if output != "" {
		sb.WriteString("\nResult: " + truncateGoal(output))
	}
	return sb.String()
}

func failureNarrative(node *models.TaskNode, rationale string) string {
	return fmt.Sprintf("Failed after %d attempts: %s", node.AttemptCount+1, truncateGoal(rationale))
}

// phaseContext bounds one plan/execute/verify round trip. Zero timeout
// passes the parent straight through.
func (r *Run) phaseContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *Run) executeTimeout() time.Duration {
	return r.cfg.ExecuteTimeout
}

func truncateGoal(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 120 {
		return s[:117] + "..."
	}
	return s
}
