package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/banyanhq/banyan/internal/agent"
	"github.com/banyanhq/banyan/internal/audit"
	"github.com/banyanhq/banyan/internal/config"
	"github.com/banyanhq/banyan/internal/gate"
	"github.com/banyanhq/banyan/internal/graph"
	"github.com/banyanhq/banyan/pkg/models"
)

// FatalError aborts a run: the graph was corrupted or a resource the loop
// cannot do without gave out. It is the only error class a caller of Wait
// sees; everything recoverable becomes a node-level reject inside the loop.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal: %s: %v", e.Reason, e.Err)
	}
	return "fatal: " + e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }

// Deps are the collaborators a run needs. Planner, Executor, Verifier,
// Broker and Ledger are required; Memory and Store are optional and their
// absence only disables recall and persistence.
type Deps struct {
	Planner  agent.Planner
	Executor agent.Executor
	Verifier agent.Verifier
	Broker   ToolBroker
	Ledger   AuditLedger
	Memory   StrategyMemory
	Store    RunStore
	// Policy matches tool calls against the deny list. Nil means an
	// empty policy that holds nothing.
	Policy *gate.Policy
	// Approvals parks held calls for a decision. Nil means auto-deny
	// is impossible because nothing is ever held.
	Approvals *gate.Manager
	// Tokens reports cumulative agent token usage for the metrics
	// block. Nil leaves the counters at zero.
	Tokens func() (in, out int64)
	// DebugLog receives run-loop diagnostics. Nil means no debug log.
	DebugLog *DebugLogger
}

// Run is one execution of a root goal. All tree mutation happens on the
// loop goroutine; everything else observes through Snapshot and Events.
type Run struct {
	id   string
	goal string
	cfg  config.OrchestratorConfig

	tree      *graph.Tree
	broker    ToolBroker
	memory    StrategyMemory
	ledger    AuditLedger
	store     RunStore
	planner   agent.Planner
	executor  agent.Executor
	verifier  agent.Verifier
	policy    *gate.Policy
	approvals *gate.Manager
	tokens    func() (int64, int64)
	debugLog  *DebugLogger

	emitter *Emitter
	pause   *pauseController

	cancel    context.CancelFunc
	startOnce sync.Once
	done      chan struct{}

	mu         sync.Mutex
	status     models.RunStatus
	version    uint64
	startedAt  time.Time
	updatedAt  time.Time
	logs       []models.LogEntry
	metrics    models.Metrics
	feedback   map[string]*models.Verdict
	inflight   map[string]context.CancelFunc
	cancelled  map[string]bool
	result     *models.RunResult
	fatal      error
	recallTop  int
	signalStop func()
}

// logRingSize bounds the recent-activity log kept in snapshots. The full
// history lives in the audit ledger.
const logRingSize = 50

// NewRun creates a run in running state with an empty tree. Start begins
// the loop.
func NewRun(id, goal string, cfg *config.Config, deps Deps) (*Run, error) {
	if id == "" || goal == "" {
		return nil, fmt.Errorf("run needs an id and a goal")
	}
	if deps.Planner == nil || deps.Executor == nil || deps.Verifier == nil {
		return nil, fmt.Errorf("run %s: planner, executor and verifier are required", id)
	}
	if deps.Broker == nil {
		return nil, fmt.Errorf("run %s: broker is required", id)
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("run %s: audit ledger is required", id)
	}

	oc := cfg.Orchestrator
	if oc.MaxAttempts <= 0 {
		oc.MaxAttempts = 3
	}
	if oc.MaxDepth <= 0 {
		oc.MaxDepth = 5
	}

	policy := deps.Policy
	if policy == nil {
		policy = gate.NewPolicy()
	}
	approvals := deps.Approvals
	if approvals == nil {
		approvals = gate.NewManager(cfg.Gate)
	}
	debugLog := deps.DebugLog
	if debugLog == nil {
		debugLog = NopLogger()
	}
	recallTop := cfg.Memory.RecallLimit
	if recallTop <= 0 {
		recallTop = 3
	}

	now := time.Now()
	r := &Run{
		id:        id,
		goal:      goal,
		cfg:       oc,
		tree:      graph.New(),
		broker:    deps.Broker,
		memory:    deps.Memory,
		ledger:    deps.Ledger,
		store:     deps.Store,
		planner:   deps.Planner,
		executor:  deps.Executor,
		verifier:  deps.Verifier,
		policy:    policy,
		approvals: approvals,
		tokens:    deps.Tokens,
		debugLog:  debugLog,
		emitter:   NewEmitter(256),
		pause:     newPauseController(),
		done:      make(chan struct{}),
		status:    models.RunStatusRunning,
		startedAt: now,
		updatedAt: now,
		feedback:  make(map[string]*models.Verdict),
		inflight:  make(map[string]context.CancelFunc),
		cancelled: make(map[string]bool),
		recallTop: recallTop,
	}

	r.tree.SetDebugLog(debugLog.Log)
	r.tree.SetRecorder(&graphRecorder{run: r})
	return r, nil
}

// graphRecorder forwards tree mutations to the audit ledger, satisfying
// the one-entry-per-mutation contract.
type graphRecorder struct {
	run *Run
}

func (g *graphRecorder) Record(action, nodeID string, payload any, outcome string) {
	g.run.audit(audit.ActorGraph, action, nodeID, payload, outcome)
	g.run.bump()
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Goal returns the root goal text.
func (r *Run) Goal() string { return r.goal }

// Tree exposes the task tree for read access. Mutation stays inside the
// loop goroutine.
func (r *Run) Tree() *graph.Tree { return r.tree }

// Events returns the run's event channel. It closes when the run ends.
func (r *Run) Events() <-chan Event { return r.emitter.Events() }

// Start submits the root goal and launches the loop goroutine. Calling
// Start again is a no-op; the existing loop keeps running.
func (r *Run) Start(ctx context.Context, constraints models.Constraints) {
	r.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		r.cancel = cancel
		go r.loop(runCtx, constraints)
	})
}

// Wait blocks until the run ends and returns its result. The error is
// non-nil only for fatal conditions; a failed root is a regular result.
func (r *Run) Wait() (*models.RunResult, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.fatal
}

// Done returns a channel closed when the run ends.
func (r *Run) Done() <-chan struct{} { return r.done }

// Result returns the settled outcome, or nil while the run is live.
func (r *Run) Result() *models.RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Pause holds the loop at its next suspension point.
func (r *Run) Pause() {
	if r.pause.Pause() {
		r.setStatus(models.RunStatusPaused)
		r.audit(audit.ActorOrchestrator, "pause", "", nil, "paused")
		r.emit(Event{Type: EventRunPaused})
		r.note(audit.ActorOrchestrator, "", "run paused")
	}
}

// Resume releases a pause.
func (r *Run) Resume() {
	if r.pause.Resume() {
		r.setStatus(models.RunStatusRunning)
		r.audit(audit.ActorOrchestrator, "resume", "", nil, "resumed")
		r.emit(Event{Type: EventRunResumed})
		r.note(audit.ActorOrchestrator, "", "run resumed")
	}
}

// IsPaused reports whether the loop is holding.
func (r *Run) IsPaused() bool { return r.pause.IsPaused() }

// Cancel stops the whole run: the loop cancels the remaining tree and
// settles with status cancelled. In-flight tool calls get a best-effort
// cancel through their contexts.
func (r *Run) Cancel() {
	r.pause.Resume()
	if r.cancel != nil {
		r.cancel()
	}
}

// CancelNode marks one subtree cancelled. Already-terminal descendants
// keep their status. If the subtree's leaf is mid-execution its attempt
// context is cancelled too; the rest of the run continues.
func (r *Run) CancelNode(nodeID string) error {
	if _, err := r.tree.Get(nodeID); err != nil {
		return err
	}

	r.mu.Lock()
	r.cancelled[nodeID] = true
	inflight := make(map[string]context.CancelFunc, len(r.inflight))
	for id, abort := range r.inflight {
		inflight[id] = abort
	}
	r.mu.Unlock()

	for id, abort := range inflight {
		if r.inSubtree(nodeID, id) {
			abort()
		}
	}
	r.audit(audit.ActorOrchestrator, audit.ActionCancel, nodeID, nil, "requested")
	r.note(audit.ActorOrchestrator, nodeID, "cancel requested for subtree")
	return nil
}

// inSubtree reports whether node id sits at or below root id. Callers
// must not hold r.mu; the parent chain is read from the tree.
func (r *Run) inSubtree(rootID, id string) bool {
	for id != "" {
		if id == rootID {
			return true
		}
		node, err := r.tree.Get(id)
		if err != nil {
			return false
		}
		id = node.ParentID
	}
	return false
}

// InjectFeedback records a human verdict for a pending node. The loop
// consumes it on the node's next visit exactly as it would a Verifier
// output. Rejections must carry a rationale.
func (r *Run) InjectFeedback(nodeID string, verdict models.Verdict) error {
	node, err := r.tree.Get(nodeID)
	if err != nil {
		return err
	}
	if node.Status != models.TaskStatusPending {
		return fmt.Errorf("node %s: feedback requires a pending node, status is %s", nodeID, node.Status)
	}
	if !verdict.Decision.Valid() {
		return fmt.Errorf("node %s: unknown decision %q", nodeID, verdict.Decision)
	}
	if verdict.Decision == models.DecisionReject && verdict.Rationale == "" {
		return fmt.Errorf("node %s: a rejection needs a rationale", nodeID)
	}
	verdict.Source = models.VerdictSourceHuman

	r.mu.Lock()
	r.feedback[nodeID] = &verdict
	r.mu.Unlock()

	r.audit(audit.ActorHuman, audit.ActionFeedback, nodeID,
		map[string]any{"decision": string(verdict.Decision), "rationale": verdict.Rationale}, "injected")
	r.note(audit.ActorHuman, nodeID, "feedback injected: %s", verdict.Decision)
	return nil
}

// Approvals returns the approval manager so a front end can resolve
// held calls.
func (r *Run) Approvals() *gate.Manager { return r.approvals }

// takeFeedback removes and returns any verdict injected for a node.
func (r *Run) takeFeedback(nodeID string) *models.Verdict {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.feedback[nodeID]
	delete(r.feedback, nodeID)
	return v
}

// nodeCancelRoot reports and clears a pending subtree-cancel request
// that covers the node.
func (r *Run) nodeCancelRoot(nodeID string) (string, bool) {
	r.mu.Lock()
	roots := make([]string, 0, len(r.cancelled))
	for rootID := range r.cancelled {
		roots = append(roots, rootID)
	}
	r.mu.Unlock()

	for _, rootID := range roots {
		if r.inSubtree(rootID, nodeID) {
			r.mu.Lock()
			delete(r.cancelled, rootID)
			r.mu.Unlock()
			return rootID, true
		}
	}
	return "", false
}

// trackInflight registers the cancel function for a node's attempt and
// returns the untrack function.
func (r *Run) trackInflight(nodeID string, abort context.CancelFunc) func() {
	r.mu.Lock()
	r.inflight[nodeID] = abort
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.inflight, nodeID)
		r.mu.Unlock()
	}
}

// audit appends one ledger entry. Append failures are logged and
// otherwise ignored; diagnostics must never take the run down.
func (r *Run) audit(actor, action, nodeID string, payload any, outcome string) {
	if _, err := r.ledger.Append(r.id, actor, action, nodeID, payload, outcome); err != nil {
		log.Printf("[orchestrator] audit append failed (run %s, action %s): %v", r.id, action, err)
		r.debugLog.Log("audit append failed: action=%s err=%v", action, err)
	}
}

// emit stamps the run id and sends the event.
func (r *Run) emit(event Event) {
	event.RunID = r.id
	r.emitter.Emit(event)
	r.bump()
}

// note appends one line to the snapshot's recent-activity ring.
func (r *Run) note(actor, nodeID, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.debugLog.Log("[%s] %s", actor, msg)

	r.mu.Lock()
	r.logs = append(r.logs, models.LogEntry{
		Time:    time.Now(),
		Actor:   actor,
		NodeID:  nodeID,
		Message: msg,
	})
	if len(r.logs) > logRingSize {
		r.logs = r.logs[len(r.logs)-logRingSize:]
	}
	r.version++
	r.updatedAt = time.Now()
	r.mu.Unlock()
}

// recordToolCall counts and audits one broker invocation.
func (r *Run) recordToolCall(nodeID string, call models.ToolCall, result *models.ToolResult) {
	r.mu.Lock()
	r.metrics.ToolCalls++
	if !result.Success {
		r.metrics.ToolErrors++
	}
	r.mu.Unlock()

	outcome := "ok"
	if !result.Success {
		outcome = string(result.ErrorKind)
	}
	r.audit(audit.ActorBroker, audit.ActionToolCall, nodeID, map[string]any{
		"tool":   call.Tool,
		"server": result.ServerID,
		"ms":     result.Duration.Milliseconds(),
	}, outcome)
	r.emit(Event{Type: EventToolCall, NodeID: nodeID, Message: call.Tool + ": " + outcome})
	r.note(audit.ActorBroker, nodeID, "%s -> %s (%s)", call.Tool, outcome, result.Duration.Round(time.Millisecond))
}

// setStatus updates the run status and bumps the snapshot version.
func (r *Run) setStatus(status models.RunStatus) {
	r.mu.Lock()
	r.status = status
	r.version++
	r.updatedAt = time.Now()
	r.mu.Unlock()
}

// Status returns the current run status.
func (r *Run) Status() models.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// bump advances the snapshot version.
func (r *Run) bump() {
	r.mu.Lock()
	r.version++
	r.updatedAt = time.Now()
	r.mu.Unlock()
}
