package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/banyanhq/banyan/internal/agent"
	"github.com/banyanhq/banyan/pkg/models"
)

func serviceHarness() (*Service, *harness) {
	h := newHarness()
	svc := NewService(testConfig(), func(runID string) (Deps, error) {
		return h.deps(), nil
	}, h.store)
	return svc, h
}

func waitSettled(t *testing.T, svc *Service, runID string) *models.RunResult {
	t.Helper()
	run, err := svc.Get(runID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	select {
	case <-run.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
	// The reaper caches the result on its own goroutine.
	var result *models.RunResult
	waitFor(t, "cached result", func() bool {
		result, err = svc.Result(runID)
		return err == nil && result != nil
	})
	return result
}

func TestService_SubmitRunsToCompletion(t *testing.T) {
	svc, _ := serviceHarness()

	runID, err := svc.Submit(context.Background(), "write a haiku to a file", models.Constraints{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(runID) != 8 {
		t.Errorf("run id %q, want 8 chars", runID)
	}

	result := waitSettled(t, svc, runID)
	if result.Status != models.RunStatusSucceeded {
		t.Errorf("status = %s, want succeeded", result.Status)
	}
}

func TestService_ResubmitReturnsCachedResult(t *testing.T) {
	svc, h := serviceHarness()

	runID, err := svc.Submit(context.Background(), "one and done", models.Constraints{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	first := waitSettled(t, svc, runID)
	attempts := first.Metrics.Attempts
	brokerCalls := h.broker.calls()
	planCalls := len(h.planner.requests())

	again, err := svc.Resubmit(runID)
	if err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	if again == nil || again.RunID != runID {
		t.Fatalf("Resubmit returned %+v", again)
	}
	if again.Metrics.Attempts != attempts {
		t.Errorf("cached result mutated: %d -> %d attempts", attempts, again.Metrics.Attempts)
	}

	// Nothing was re-dispatched.
	if h.broker.calls() != brokerCalls {
		t.Errorf("broker calls after resubmit: %d -> %d", brokerCalls, h.broker.calls())
	}
	if len(h.planner.requests()) != planCalls {
		t.Errorf("planner calls after resubmit: %d -> %d", planCalls, len(h.planner.requests()))
	}
}

func TestService_ResubmitFallsBackToStore(t *testing.T) {
	_, h := serviceHarness()
	h.store.SaveResult(&models.RunResult{RunID: "cold1234", Status: models.RunStatusSucceeded})

	// A fresh service with an empty in-memory cache but the same store.
	svc2 := NewService(testConfig(), func(runID string) (Deps, error) {
		return h.deps(), nil
	}, h.store)

	res, err := svc2.Resubmit("cold1234")
	if err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	if res.Status != models.RunStatusSucceeded {
		t.Errorf("status = %s", res.Status)
	}
}

func TestService_ResubmitUnknownRun(t *testing.T) {
	svc, _ := serviceHarness()
	if _, err := svc.Resubmit("nope0000"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestService_ConcurrentRunsAreIndependent(t *testing.T) {
	svc, _ := serviceHarness()

	idA, err := svc.Submit(context.Background(), "goal A", models.Constraints{})
	if err != nil {
		t.Fatalf("Submit A: %v", err)
	}
	idB, err := svc.Submit(context.Background(), "goal B", models.Constraints{})
	if err != nil {
		t.Fatalf("Submit B: %v", err)
	}
	if idA == idB {
		t.Fatal("two submissions shared a run id")
	}

	resA := waitSettled(t, svc, idA)
	resB := waitSettled(t, svc, idB)
	if resA.Goal != "goal A" || resB.Goal != "goal B" {
		t.Errorf("results crossed: %q / %q", resA.Goal, resB.Goal)
	}

	snapA, err := svc.Snapshot(idA)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapA.RunID != idA || len(snapA.Nodes) != 1 {
		t.Errorf("snapshot A = %+v", snapA)
	}
}

func TestService_CancelAndControls(t *testing.T) {
	h := newHarness()
	blocking := make(chan struct{}, 1)
	h.executor.execute = func(ctx context.Context, req agent.ExecuteRequest) (*models.ExecutionReport, error) {
		select {
		case blocking <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	svc := NewService(testConfig(), func(runID string) (Deps, error) {
		return h.deps(), nil
	}, h.store)

	runID, err := svc.Submit(context.Background(), "never ends", models.Constraints{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-blocking

	if err := svc.Cancel(runID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	result := waitSettled(t, svc, runID)
	if result.Status != models.RunStatusCancelled {
		t.Errorf("status = %s, want cancelled", result.Status)
	}

	if err := svc.Cancel("missing1"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Cancel unknown = %v, want ErrRunNotFound", err)
	}
	if err := svc.Pause("missing1"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Pause unknown = %v, want ErrRunNotFound", err)
	}
	if err := svc.InjectFeedback("missing1", "node", models.Verdict{Decision: models.DecisionApprove}); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("InjectFeedback unknown = %v, want ErrRunNotFound", err)
	}
}

func TestService_FactoryErrorSurfaces(t *testing.T) {
	svc := NewService(testConfig(), func(runID string) (Deps, error) {
		return Deps{}, errors.New("no API key")
	}, nil)

	if _, err := svc.Submit(context.Background(), "goal", models.Constraints{}); err == nil {
		t.Error("factory error should fail the submit")
	}
}
