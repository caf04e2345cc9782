package graph

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/banyanhq/banyan/pkg/models"
)

// recordedCall captures one Recorder invocation.
type recordedCall struct {
	Action  string
	NodeID  string
	Outcome string
}

type fakeRecorder struct {
	calls []recordedCall
}

func (r *fakeRecorder) Record(action, nodeID string, payload any, outcome string) {
	r.calls = append(r.calls, recordedCall{Action: action, NodeID: nodeID, Outcome: outcome})
}

func (r *fakeRecorder) actions() []string {
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Action
	}
	return out
}

var _ Recorder = (*fakeRecorder)(nil)

func TestSubmitRoot(t *testing.T) {
	tree := New()

	rootID, err := tree.SubmitRoot("organize downloads", models.Constraints{})
	if err != nil {
		t.Fatalf("SubmitRoot failed: %v", err)
	}
	if rootID == "" {
		t.Fatal("SubmitRoot returned empty ID")
	}
	if tree.RootID() != rootID {
		t.Errorf("RootID() = %q, want %q", tree.RootID(), rootID)
	}

	node, err := tree.Get(rootID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if node.Status != models.TaskStatusPending {
		t.Errorf("root status = %q, want pending", node.Status)
	}
	if node.ParentID != "" {
		t.Errorf("root parent = %q, want empty", node.ParentID)
	}
	if node.Depth() != 0 {
		t.Errorf("root depth = %d, want 0", node.Depth())
	}

	if _, err := tree.SubmitRoot("another goal", models.Constraints{}); !errors.Is(err, ErrRootExists) {
		t.Errorf("second SubmitRoot error = %v, want ErrRootExists", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	tree := New()
	if _, err := tree.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestTransitionAllowed_FullTable(t *testing.T) {
	all := []models.TaskStatus{
		models.TaskStatusPending, models.TaskStatusActive, models.TaskStatusSuccess,
		models.TaskStatusFailed, models.TaskStatusSuspended, models.TaskStatusDecomposed,
		models.TaskStatusCancelled,
	}

	allowed := map[string]bool{
		"pending->active":       true,
		"pending->cancelled":    true,
		"active->success":       true,
		"active->failed":        true,
		"active->cancelled":     true,
		"failed->suspended":     true,
		"failed->decomposed":    true,
		"failed->cancelled":     true,
		"suspended->pending":    true,
		"suspended->cancelled":  true,
		"decomposed->success":   true,
		"decomposed->cancelled": true,
	}

	for _, from := range all {
		for _, to := range all {
			key := fmt.Sprintf("%s->%s", from, to)
			if got := TransitionAllowed(from, to); got != allowed[key] {
				t.Errorf("TransitionAllowed(%s, %s) = %v, want %v", from, to, got, allowed[key])
			}
		}
	}
}

func TestTransition(t *testing.T) {
	tree := New()
	rootID, _ := tree.SubmitRoot("goal", models.Constraints{})

	if err := tree.Transition(rootID, models.TaskStatusActive); err != nil {
		t.Fatalf("pending -> active failed: %v", err)
	}
	if err := tree.Transition(rootID, models.TaskStatusFailed); err != nil {
		t.Fatalf("active -> failed failed: %v", err)
	}
	if err := tree.Transition(rootID, models.TaskStatusSuspended); err != nil {
		t.Fatalf("failed -> suspended failed: %v", err)
	}
	if err := tree.Transition(rootID, models.TaskStatusPending); err != nil {
		t.Fatalf("suspended -> pending failed: %v", err)
	}

	if err := tree.Transition(rootID, models.TaskStatusSuccess); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending -> success error = %v, want ErrInvalidTransition", err)
	}

	if err := tree.Transition("missing", models.TaskStatusActive); !errors.Is(err, ErrNotFound) {
		t.Errorf("Transition(missing) error = %v, want ErrNotFound", err)
	}

	if err := tree.Transition(rootID, models.TaskStatus("bogus")); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Transition(bogus) error = %v, want ErrInvalidTransition", err)
	}
}

func TestTransition_TerminalIsFrozen(t *testing.T) {
	tree := New()
	rootID, _ := tree.SubmitRoot("goal", models.Constraints{})
	mustTransition(t, tree, rootID, models.TaskStatusActive, models.TaskStatusSuccess)

	for _, to := range []models.TaskStatus{
		models.TaskStatusPending, models.TaskStatusActive, models.TaskStatusFailed,
		models.TaskStatusCancelled,
	} {
		if err := tree.Transition(rootID, to); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("success -> %s error = %v, want ErrInvalidTransition", to, err)
		}
	}
}

func TestDecompose(t *testing.T) {
	tree := New()
	rootID, _ := tree.SubmitRoot("organize downloads", models.Constraints{AllowDangerousOps: true})
	mustTransition(t, tree, rootID, models.TaskStatusActive, models.TaskStatusFailed)

	childIDs, err := tree.Decompose(rootID, []string{"sort images", "sort documents"})
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	if len(childIDs) != 2 {
		t.Fatalf("Decompose returned %d children, want 2", len(childIDs))
	}

	root, _ := tree.Get(rootID)
	if root.Status != models.TaskStatusDecomposed {
		t.Errorf("parent status = %q, want decomposed", root.Status)
	}
	if len(root.Children) != 2 || root.Children[0] != childIDs[0] || root.Children[1] != childIDs[1] {
		t.Errorf("parent children = %v, want %v in order", root.Children, childIDs)
	}

	for i, childID := range childIDs {
		child, err := tree.Get(childID)
		if err != nil {
			t.Fatalf("Get(child %d) failed: %v", i, err)
		}
		if child.Status != models.TaskStatusPending {
			t.Errorf("child %d status = %q, want pending", i, child.Status)
		}
		if child.ParentID != rootID {
			t.Errorf("child %d parent = %q, want %q", i, child.ParentID, rootID)
		}
		if child.Depth() != 1 {
			t.Errorf("child %d depth = %d, want 1", i, child.Depth())
		}
		if len(child.ContextStack) != 1 || child.ContextStack[0] != "organize downloads" {
			t.Errorf("child %d context stack = %v, want parent goal", i, child.ContextStack)
		}
		if !child.Constraints.AllowDangerousOps {
			t.Errorf("child %d should inherit constraints", i)
		}
	}
}

func TestDecompose_Errors(t *testing.T) {
	tree := New()
	rootID, _ := tree.SubmitRoot("goal", models.Constraints{})

	if _, err := tree.Decompose(rootID, []string{"a"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Decompose from pending error = %v, want ErrInvalidTransition", err)
	}

	mustTransition(t, tree, rootID, models.TaskStatusActive, models.TaskStatusFailed)

	if _, err := tree.Decompose(rootID, nil); !errors.Is(err, ErrNoSubgoals) {
		t.Errorf("Decompose with no subgoals error = %v, want ErrNoSubgoals", err)
	}

	if _, err := tree.Decompose("missing", []string{"a"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Decompose(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSuccessPropagation(t *testing.T) {
	tree := New()
	rootID, _ := tree.SubmitRoot("root goal", models.Constraints{})
	mustTransition(t, tree, rootID, models.TaskStatusActive, models.TaskStatusFailed)
	children, _ := tree.Decompose(rootID, []string{"left", "right"})

	// Nest one more level under the left child.
	mustTransition(t, tree, children[0], models.TaskStatusActive, models.TaskStatusFailed)
	grandchildren, _ := tree.Decompose(children[0], []string{"left.a", "left.b"})

	// Completing only part of the tree must not flip any ancestor.
	mustTransition(t, tree, grandchildren[0], models.TaskStatusActive, models.TaskStatusSuccess)
	left, _ := tree.Get(children[0])
	if left.Status != models.TaskStatusDecomposed {
		t.Errorf("left status = %q, want decomposed while a child is open", left.Status)
	}

	mustTransition(t, tree, grandchildren[1], models.TaskStatusActive, models.TaskStatusSuccess)
	left, _ = tree.Get(children[0])
	if left.Status != models.TaskStatusSuccess {
		t.Errorf("left status = %q, want success after both children", left.Status)
	}

	root, _ := tree.Get(rootID)
	if root.Status != models.TaskStatusDecomposed {
		t.Errorf("root status = %q, want decomposed while right is open", root.Status)
	}

	mustTransition(t, tree, children[1], models.TaskStatusActive, models.TaskStatusSuccess)
	root, _ = tree.Get(rootID)
	if root.Status != models.TaskStatusSuccess {
		t.Errorf("root status = %q, want success after all descendants", root.Status)
	}
}

func TestDirectSuccessWithOpenChildren(t *testing.T) {
	tree := New()
	rootID, _ := tree.SubmitRoot("root goal", models.Constraints{})
	mustTransition(t, tree, rootID, models.TaskStatusActive, models.TaskStatusFailed)
	tree.Decompose(rootID, []string{"a", "b"})

	if err := tree.Transition(rootID, models.TaskStatusSuccess); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("decomposed -> success with open children error = %v, want ErrInvalidTransition", err)
	}
}

func TestNextActiveLeaf(t *testing.T) {
	tree := New()

	if _, ok := tree.NextActiveLeaf(); ok {
		t.Error("empty tree should have no runnable node")
	}

	rootID, _ := tree.SubmitRoot("root goal", models.Constraints{})

	node, ok := tree.NextActiveLeaf()
	if !ok || node.ID != rootID {
		t.Fatalf("NextActiveLeaf = %v, want root", node)
	}

	mustTransition(t, tree, rootID, models.TaskStatusActive)
	node, ok = tree.NextActiveLeaf()
	if !ok || node.ID != rootID {
		t.Fatalf("active root should still be runnable")
	}

	mustTransition(t, tree, rootID, models.TaskStatusFailed)
	children, _ := tree.Decompose(rootID, []string{"first", "second", "third"})

	node, ok = tree.NextActiveLeaf()
	if !ok || node.ID != children[0] {
		t.Fatalf("NextActiveLeaf = %v, want leftmost child %s", node, children[0])
	}

	// Nested decomposition under the first child runs before siblings.
	mustTransition(t, tree, children[0], models.TaskStatusActive, models.TaskStatusFailed)
	grandchildren, _ := tree.Decompose(children[0], []string{"first.a", "first.b"})

	node, ok = tree.NextActiveLeaf()
	if !ok || node.ID != grandchildren[0] {
		t.Fatalf("NextActiveLeaf = %v, want deepest leftmost %s", node, grandchildren[0])
	}

	mustTransition(t, tree, grandchildren[0], models.TaskStatusActive, models.TaskStatusSuccess)
	node, ok = tree.NextActiveLeaf()
	if !ok || node.ID != grandchildren[1] {
		t.Fatalf("NextActiveLeaf = %v, want %s after sibling settled", node, grandchildren[1])
	}

	mustTransition(t, tree, grandchildren[1], models.TaskStatusActive, models.TaskStatusSuccess)
	node, ok = tree.NextActiveLeaf()
	if !ok || node.ID != children[1] {
		t.Fatalf("NextActiveLeaf = %v, want second child %s", node, children[1])
	}
}

func TestNextActiveLeaf_SkipsPermanentlyFailed(t *testing.T) {
	tree := New()
	rootID, _ := tree.SubmitRoot("root goal", models.Constraints{})
	mustTransition(t, tree, rootID, models.TaskStatusActive, models.TaskStatusFailed)
	children, _ := tree.Decompose(rootID, []string{"a", "b"})

	// First child fails for good: no retries left, no decomposition possible.
	mustTransition(t, tree, children[0], models.TaskStatusActive, models.TaskStatusFailed)

	node, ok := tree.NextActiveLeaf()
	if !ok || node.ID != children[1] {
		t.Fatalf("NextActiveLeaf = %v, want sibling %s past the failed child", node, children[1])
	}

	mustTransition(t, tree, children[1], models.TaskStatusActive, models.TaskStatusSuccess)
	if _, ok := tree.NextActiveLeaf(); ok {
		t.Error("no runnable node should remain with one failed and one succeeded child")
	}
}

func TestCancelSubtree(t *testing.T) {
	tree := New()
	rootID, _ := tree.SubmitRoot("root goal", models.Constraints{})
	mustTransition(t, tree, rootID, models.TaskStatusActive, models.TaskStatusFailed)
	children, _ := tree.Decompose(rootID, []string{"a", "b", "c"})

	// One child already succeeded; it must keep its status.
	mustTransition(t, tree, children[0], models.TaskStatusActive, models.TaskStatusSuccess)

	cancelled, err := tree.CancelSubtree(rootID)
	if err != nil {
		t.Fatalf("CancelSubtree failed: %v", err)
	}
	if len(cancelled) != 3 {
		t.Errorf("cancelled %d nodes, want 3 (two children plus root)", len(cancelled))
	}

	done, _ := tree.Get(children[0])
	if done.Status != models.TaskStatusSuccess {
		t.Errorf("terminal child status = %q, want success untouched", done.Status)
	}
	for _, id := range children[1:] {
		node, _ := tree.Get(id)
		if node.Status != models.TaskStatusCancelled {
			t.Errorf("child %s status = %q, want cancelled", id, node.Status)
		}
	}
	root, _ := tree.Get(rootID)
	if root.Status != models.TaskStatusCancelled {
		t.Errorf("root status = %q, want cancelled", root.Status)
	}

	if _, err := tree.CancelSubtree("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CancelSubtree(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRecordRejection(t *testing.T) {
	tree := New()
	rootID, _ := tree.SubmitRoot("goal", models.Constraints{})
	tree.SetPlan(rootID, &models.Plan{Strategy: "first try"})

	if err := tree.RecordRejection(rootID, "output was wrong"); err != nil {
		t.Fatalf("RecordRejection failed: %v", err)
	}

	node, _ := tree.Get(rootID)
	if node.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", node.AttemptCount)
	}
	if node.LastRationale != "output was wrong" {
		t.Errorf("rationale = %q, want persisted", node.LastRationale)
	}
	if node.Plan != nil {
		t.Error("plan should be cleared after rejection")
	}

	if err := tree.RecordRejection("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordRejection(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRecorder_SeesEveryMutation(t *testing.T) {
	rec := &fakeRecorder{}
	tree := New()
	tree.SetRecorder(rec)

	rootID, _ := tree.SubmitRoot("goal", models.Constraints{})
	tree.Transition(rootID, models.TaskStatusActive)
	tree.SetPlan(rootID, &models.Plan{Strategy: "s"})
	tree.Transition(rootID, models.TaskStatusFailed)
	tree.RecordRejection(rootID, "no good")
	tree.Decompose(rootID, []string{"a", "b"})

	want := []string{"submit_root", "transition", "set_plan", "transition", "reject", "decompose"}
	got := rec.actions()
	if len(got) != len(want) {
		t.Fatalf("recorded %d actions %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("action[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	tree := New()
	rootID, _ := tree.SubmitRoot("goal", models.Constraints{})
	tree.SetPlan(rootID, &models.Plan{Strategy: "s", Steps: []models.PlanStep{{Tool: "t", Args: map[string]any{"k": "v"}}}})

	node, _ := tree.Get(rootID)
	node.Goal = "mutated"
	node.Plan.Strategy = "mutated"
	node.Plan.Steps[0].Args["k"] = "mutated"

	fresh, _ := tree.Get(rootID)
	if fresh.Goal != "goal" {
		t.Error("Get must return a copy of the node")
	}
	if fresh.Plan.Strategy != "s" {
		t.Error("Get must return a copy of the plan")
	}
	if fresh.Plan.Steps[0].Args["k"] != "v" {
		t.Error("Get must return a copy of step args")
	}
}

func TestValidate(t *testing.T) {
	tree := New()

	if err := tree.Validate(); err == nil {
		t.Error("empty tree should fail validation")
	}

	rootID, _ := tree.SubmitRoot("goal", models.Constraints{})
	mustTransition(t, tree, rootID, models.TaskStatusActive, models.TaskStatusFailed)
	children, _ := tree.Decompose(rootID, []string{"a", "b"})

	if err := tree.Validate(); err != nil {
		t.Errorf("well-formed tree failed validation: %v", err)
	}

	// Corrupt the tree from inside the package to prove detection works.
	tree.mu.Lock()
	delete(tree.nodes, children[0])
	tree.mu.Unlock()

	if err := tree.Validate(); err == nil {
		t.Error("tree with dangling child should fail validation")
	}
}

func TestStatusCounts(t *testing.T) {
	tree := New()
	rootID, _ := tree.SubmitRoot("goal", models.Constraints{})
	mustTransition(t, tree, rootID, models.TaskStatusActive, models.TaskStatusFailed)
	tree.Decompose(rootID, []string{"a", "b"})

	counts := tree.StatusCounts()
	if counts[models.TaskStatusDecomposed] != 1 {
		t.Errorf("decomposed count = %d, want 1", counts[models.TaskStatusDecomposed])
	}
	if counts[models.TaskStatusPending] != 2 {
		t.Errorf("pending count = %d, want 2", counts[models.TaskStatusPending])
	}
	if tree.Size() != 3 {
		t.Errorf("Size() = %d, want 3", tree.Size())
	}
}

func TestUpdatedAtAdvances(t *testing.T) {
	tree := New()
	rootID, _ := tree.SubmitRoot("goal", models.Constraints{})
	before, _ := tree.Get(rootID)

	time.Sleep(time.Millisecond)
	tree.Transition(rootID, models.TaskStatusActive)

	after, _ := tree.Get(rootID)
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Error("UpdatedAt should advance on transition")
	}
}

// mustTransition applies a sequence of transitions, failing the test on error.
func mustTransition(t *testing.T, tree *Tree, id string, statuses ...models.TaskStatus) {
	t.Helper()
	for _, s := range statuses {
		if err := tree.Transition(id, s); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}
}
