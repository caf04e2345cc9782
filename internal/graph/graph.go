// Package graph owns the task tree and enforces its state-machine invariants.
// Nodes are created by submitting a root goal or by decomposing a failed node;
// they are archived in place, never deleted.
package graph

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banyanhq/banyan/pkg/models"
)

// ErrNotFound indicates the referenced node does not exist.
var ErrNotFound = errors.New("task node not found")

// ErrInvalidTransition indicates a status move outside the allowed table.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrRootExists indicates a second root was submitted for the same tree.
var ErrRootExists = errors.New("tree already has a root")

// ErrNoSubgoals indicates a decomposition with an empty subgoal list.
var ErrNoSubgoals = errors.New("decomposition requires at least one subgoal")

// allowedTransitions is the status table. A node may always be forced to
// cancelled from any non-terminal state.
var allowedTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusPending:    {models.TaskStatusActive, models.TaskStatusCancelled},
	models.TaskStatusActive:     {models.TaskStatusSuccess, models.TaskStatusFailed, models.TaskStatusCancelled},
	models.TaskStatusFailed:     {models.TaskStatusSuspended, models.TaskStatusDecomposed, models.TaskStatusCancelled},
	models.TaskStatusSuspended:  {models.TaskStatusPending, models.TaskStatusCancelled},
	models.TaskStatusDecomposed: {models.TaskStatusSuccess, models.TaskStatusCancelled},
	models.TaskStatusSuccess:    nil,
	models.TaskStatusCancelled:  nil,
}

// TransitionAllowed reports whether the status table permits from -> to.
func TransitionAllowed(from, to models.TaskStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Recorder receives one entry per tree mutation. Implementations must not
// call back into the tree.
type Recorder interface {
	Record(action, nodeID string, payload any, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, string, any, string) {}

// Tree is the task tree for a single run. All mutations go through its
// methods; accessors return copies so callers never share node memory.
type Tree struct {
	mu       sync.RWMutex
	rootID   string
	nodes    map[string]*models.TaskNode
	recorder Recorder
	debugLog func(format string, args ...interface{})
}

// New creates an empty tree.
func New() *Tree {
	return &Tree{
		nodes:    make(map[string]*models.TaskNode),
		recorder: nopRecorder{},
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetRecorder sets the mutation recorder.
func (t *Tree) SetRecorder(r Recorder) {
	if r != nil {
		t.recorder = r
	}
}

// SetDebugLog sets the debug logging function.
func (t *Tree) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		t.debugLog = fn
	}
}

// SubmitRoot creates the root node in pending status and returns its ID.
func (t *Tree) SubmitRoot(goal string, constraints models.Constraints) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rootID != "" {
		return "", ErrRootExists
	}

	now := time.Now()
	node := &models.TaskNode{
		ID:          uuid.New().String(),
		Goal:        goal,
		Status:      models.TaskStatusPending,
		Constraints: constraints,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.nodes[node.ID] = node
	t.rootID = node.ID

	t.debugLog("[graph.SubmitRoot] root=%s goal=%q", node.ID, goal)
	t.recorder.Record("submit_root", node.ID, map[string]any{"goal": goal}, "ok")
	return node.ID, nil
}

// RootID returns the root node's ID, or empty if no root was submitted.
func (t *Tree) RootID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootID
}

// Get returns a copy of the node.
func (t *Tree) Get(id string) (*models.TaskNode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	return cloneNode(node), nil
}

// Transition moves a node to a new status, enforcing the allowed table.
// A move to success on a node with children requires every child to have
// reached success, and transitively re-evaluates the parent so success
// propagates bottom-up through decomposed ancestors.
func (t *Tree) Transition(id string, to models.TaskStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(id, to)
}

// transitionLocked is the internal implementation that assumes the lock is held.
func (t *Tree) transitionLocked(id string, to models.TaskStatus) error {
	node, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if !to.Valid() {
		return fmt.Errorf("node %s: unknown status %q: %w", id, to, ErrInvalidTransition)
	}
	from := node.Status
	if !TransitionAllowed(from, to) {
		return fmt.Errorf("node %s: %s -> %s: %w", id, from, to, ErrInvalidTransition)
	}
	if to == models.TaskStatusSuccess && !t.childrenAllSuccessLocked(node) {
		return fmt.Errorf("node %s: success with unsuccessful children: %w", id, ErrInvalidTransition)
	}

	node.Status = to
	node.UpdatedAt = time.Now()

	t.debugLog("[graph.Transition] node=%s %s -> %s", id, from, to)
	t.recorder.Record("transition", id, map[string]any{"from": string(from), "to": string(to)}, "ok")

	if to == models.TaskStatusSuccess {
		t.propagateSuccessLocked(node.ParentID)
	}
	return nil
}

// childrenAllSuccessLocked reports whether every child reached success.
// Nodes without children trivially qualify.
func (t *Tree) childrenAllSuccessLocked(node *models.TaskNode) bool {
	for _, childID := range node.Children {
		child, ok := t.nodes[childID]
		if !ok || child.Status != models.TaskStatusSuccess {
			return false
		}
	}
	return true
}

// propagateSuccessLocked walks upward from a decomposed parent whose
// children may all have settled successfully.
func (t *Tree) propagateSuccessLocked(parentID string) {
	for parentID != "" {
		parent, ok := t.nodes[parentID]
		if !ok {
			return
		}
		if parent.Status != models.TaskStatusDecomposed || !t.childrenAllSuccessLocked(parent) {
			return
		}

		parent.Status = models.TaskStatusSuccess
		parent.UpdatedAt = time.Now()
		t.debugLog("[graph.Transition] node=%s decomposed -> success (all children succeeded)", parent.ID)
		t.recorder.Record("transition", parent.ID,
			map[string]any{"from": string(models.TaskStatusDecomposed), "to": string(models.TaskStatusSuccess)}, "ok")

		parentID = parent.ParentID
	}
}

// Decompose splits a failed node into child sub-goals and freezes it.
// Children are created pending, in declared order, inheriting the parent's
// constraints and carrying the parent's goal on their context stack.
func (t *Tree) Decompose(id string, subgoals []string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if len(subgoals) == 0 {
		return nil, fmt.Errorf("node %s: %w", id, ErrNoSubgoals)
	}
	if node.Status != models.TaskStatusFailed {
		return nil, fmt.Errorf("node %s: decompose from %s: %w", id, node.Status, ErrInvalidTransition)
	}

	now := time.Now()
	childStack := make([]string, 0, len(node.ContextStack)+1)
	childStack = append(childStack, node.ContextStack...)
	childStack = append(childStack, node.Goal)

	childIDs := make([]string, 0, len(subgoals))
	for _, goal := range subgoals {
		child := &models.TaskNode{
			ID:           uuid.New().String(),
			ParentID:     node.ID,
			Goal:         goal,
			Status:       models.TaskStatusPending,
			ContextStack: append([]string(nil), childStack...),
			Constraints:  node.Constraints,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		t.nodes[child.ID] = child
		childIDs = append(childIDs, child.ID)
	}

	node.Children = append(node.Children, childIDs...)
	node.Status = models.TaskStatusDecomposed
	node.UpdatedAt = now

	t.debugLog("[graph.Decompose] node=%s children=%d", id, len(childIDs))
	t.recorder.Record("decompose", id,
		map[string]any{"subgoals": subgoals, "children": childIDs}, "ok")
	return childIDs, nil
}

// SetPlan stores the strategy for a node. Passing nil clears it, which
// forces a re-plan on the next visit.
func (t *Tree) SetPlan(id string, plan *models.Plan) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	node.Plan = clonePlan(plan)
	node.UpdatedAt = time.Now()

	outcome := "set"
	payload := map[string]any{}
	if plan == nil {
		outcome = "cleared"
	} else {
		payload["strategy"] = plan.Strategy
		payload["steps"] = len(plan.Steps)
	}
	t.recorder.Record("set_plan", id, payload, outcome)
	return nil
}

// RecordRejection bumps the attempt count, persists the rationale, and
// clears the plan so the next visit re-plans with the rationale in hand.
func (t *Tree) RecordRejection(id string, rationale string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}

	node.AttemptCount++
	node.LastRationale = rationale
	node.Plan = nil
	node.UpdatedAt = time.Now()

	t.debugLog("[graph.RecordRejection] node=%s attempt=%d", id, node.AttemptCount)
	t.recorder.Record("reject", id,
		map[string]any{"attempt": node.AttemptCount, "rationale": rationale}, "ok")
	return nil
}

// SetResult stores a node's success payload. It does not change status.
func (t *Tree) SetResult(id string, result string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	node.Result = result
	node.UpdatedAt = time.Now()

	t.recorder.Record("set_result", id, map[string]any{"bytes": len(result)}, "ok")
	return nil
}

// NextActiveLeaf returns a copy of the next node to run, chosen by
// left-to-right depth-first traversal pruned at terminal nodes. A node is
// runnable when its status is pending or active. Returns false when no
// runnable node remains.
func (t *Tree) NextActiveLeaf() (*models.TaskNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.rootID == "" {
		return nil, false
	}
	id, ok := t.nextRunnableLocked(t.rootID)
	if !ok {
		return nil, false
	}
	return cloneNode(t.nodes[id]), true
}

func (t *Tree) nextRunnableLocked(id string) (string, bool) {
	node, ok := t.nodes[id]
	if !ok || node.Status.Terminal() {
		return "", false
	}

	switch node.Status {
	case models.TaskStatusPending, models.TaskStatusActive:
		return id, true
	default:
		for _, childID := range node.Children {
			if found, ok := t.nextRunnableLocked(childID); ok {
				return found, true
			}
		}
	}
	return "", false
}

// CancelSubtree forces a node and all its descendants to cancelled.
// Already-terminal nodes keep their status. Returns the IDs that changed.
func (t *Tree) CancelSubtree(id string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.nodes[id]; !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}

	var cancelled []string
	t.cancelLocked(id, &cancelled)
	return cancelled, nil
}

func (t *Tree) cancelLocked(id string, cancelled *[]string) {
	node, ok := t.nodes[id]
	if !ok {
		return
	}
	for _, childID := range node.Children {
		t.cancelLocked(childID, cancelled)
	}
	if node.Status.Terminal() {
		return
	}

	from := node.Status
	node.Status = models.TaskStatusCancelled
	node.UpdatedAt = time.Now()
	*cancelled = append(*cancelled, id)

	t.debugLog("[graph.Cancel] node=%s %s -> cancelled", id, from)
	t.recorder.Record("transition", id,
		map[string]any{"from": string(from), "to": string(models.TaskStatusCancelled)}, "ok")
}

// Nodes returns a deep copy of every node, keyed by ID.
func (t *Tree) Nodes() map[string]*models.TaskNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]*models.TaskNode, len(t.nodes))
	for id, node := range t.nodes {
		out[id] = cloneNode(node)
	}
	return out
}

// Size returns the number of nodes in the tree.
func (t *Tree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// StatusCounts returns the number of nodes per status.
func (t *Tree) StatusCounts() map[models.TaskStatus]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[models.TaskStatus]int)
	for _, node := range t.nodes {
		counts[node.Status]++
	}
	return counts
}

// Validate checks structural invariants: a root exists, every non-root
// node's parent exists and lists it as a child, every decomposed node has
// at least one child, and parent links contain no cycles.
func (t *Tree) Validate() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.rootID == "" {
		return errors.New("tree has no root")
	}
	if _, ok := t.nodes[t.rootID]; !ok {
		return fmt.Errorf("root %s missing from node map", t.rootID)
	}

	for id, node := range t.nodes {
		if id == t.rootID {
			if node.ParentID != "" {
				return fmt.Errorf("root %s has parent %s", id, node.ParentID)
			}
			continue
		}
		parent, ok := t.nodes[node.ParentID]
		if !ok {
			return fmt.Errorf("node %s: parent %s does not exist", id, node.ParentID)
		}
		if !containsString(parent.Children, id) {
			return fmt.Errorf("node %s: parent %s does not list it as a child", id, node.ParentID)
		}
	}

	for id, node := range t.nodes {
		if node.Status == models.TaskStatusDecomposed && len(node.Children) == 0 {
			return fmt.Errorf("node %s: decomposed with no children", id)
		}
		seen := map[string]bool{id: true}
		for cur := node.ParentID; cur != ""; {
			if seen[cur] {
				return fmt.Errorf("node %s: parent chain contains a cycle at %s", id, cur)
			}
			seen[cur] = true
			next, ok := t.nodes[cur]
			if !ok {
				break
			}
			cur = next.ParentID
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// cloneNode returns a deep copy of a node.
func cloneNode(node *models.TaskNode) *models.TaskNode {
	if node == nil {
		return nil
	}
	out := *node
	out.ContextStack = append([]string(nil), node.ContextStack...)
	out.Children = append([]string(nil), node.Children...)
	out.Plan = clonePlan(node.Plan)
	return &out
}

// clonePlan returns a deep copy of a plan.
func clonePlan(plan *models.Plan) *models.Plan {
	if plan == nil {
		return nil
	}
	out := models.Plan{
		Strategy: plan.Strategy,
		Steps:    make([]models.PlanStep, len(plan.Steps)),
	}
	for i, step := range plan.Steps {
		copied := step
		if step.Args != nil {
			copied.Args = make(map[string]any, len(step.Args))
			for k, v := range step.Args {
				copied.Args[k] = v
			}
		}
		out.Steps[i] = copied
	}
	return &out
}
