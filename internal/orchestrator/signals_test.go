package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banyanhq/banyan/internal/agent"
	"github.com/banyanhq/banyan/pkg/models"
)

func TestSignals_CancelFile(t *testing.T) {
	dir := t.TempDir()

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

	run := h.newRun(t, testConfig(), "cancellable goal")
	if err := run.WatchSignals(dir); err != nil {
		t.Fatalf("WatchSignals: %v", err)
	}
	run.Start(context.Background(), models.Constraints{})
	<-blocking

	if err := os.WriteFile(filepath.Join(dir, "cancel"), nil, 0644); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	select {
	case <-run.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("cancel sentinel did not stop the run")
	}
	result, _ := run.Wait()
	if result.Status != models.RunStatusCancelled {
		t.Errorf("status = %s, want cancelled", result.Status)
	}

	// The sentinel is consumed.
	if _, err := os.Stat(filepath.Join(dir, "cancel")); !os.IsNotExist(err) {
		t.Error("cancel sentinel not consumed")
	}
}

func TestSignals_PreexistingFileApplies(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pause"), nil, 0644); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	h := newHarness()
	run := h.newRun(t, testConfig(), "paused from birth")
	if err := run.WatchSignals(dir); err != nil {
		t.Fatalf("WatchSignals: %v", err)
	}

	waitFor(t, "pause applied", run.IsPaused)

	run.Start(context.Background(), models.Constraints{})
	run.Resume()

	select {
	case <-run.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish after resume")
	}
}

func TestSignals_FeedbackDropFile(t *testing.T) {
	dir := t.TempDir()

	h := newHarness()
	var run *Run
	h.verifier.verify = func(ctx context.Context, req agent.VerifyRequest) (*models.Verdict, error) {
		run.Pause()
		return &models.Verdict{Decision: models.DecisionReject, Rationale: "needs a human"}, nil
	}

	run = h.newRun(t, testConfig(), "human in the loop")
	if err := run.WatchSignals(dir); err != nil {
		t.Fatalf("WatchSignals: %v", err)
	}
	run.Start(context.Background(), models.Constraints{})

	rootID := ""
	waitFor(t, "requeued root", func() bool {
		rootID = run.Tree().RootID()
		if rootID == "" {
			return false
		}
		node, err := run.Tree().Get(rootID)
		return err == nil && node.Status == models.TaskStatusPending && node.AttemptCount >= 1
	})

	body, _ := json.Marshal(models.Verdict{Decision: models.DecisionApprove, Rationale: "checked it myself"})
	if err := os.WriteFile(filepath.Join(dir, "feedback-"+rootID+".json"), body, 0644); err != nil {
		t.Fatalf("write feedback: %v", err)
	}

	waitFor(t, "feedback consumed", func() bool {
		_, err := os.Stat(filepath.Join(dir, "feedback-"+rootID+".json"))
		return os.IsNotExist(err)
	})
	run.Resume()

	select {
	case <-run.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
	result, _ := run.Wait()
	if result.Status != models.RunStatusSucceeded {
		t.Errorf("status = %s, want succeeded via drop file", result.Status)
	}
}
