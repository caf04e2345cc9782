package orchestrator

import (
	"context"
	"testing"
	"time"
)

func TestPauseController_PauseResume(t *testing.T) {
	p := newPauseController()

	if p.IsPaused() {
		t.Error("fresh controller should not be paused")
	}
	if !p.Pause() {
		t.Error("first Pause should change state")
	}
	if p.Pause() {
		t.Error("second Pause should be a no-op")
	}
	if !p.IsPaused() {
		t.Error("controller should report paused")
	}
	if !p.Resume() {
		t.Error("Resume should change state")
	}
	if p.Resume() {
		t.Error("Resume while running should be a no-op")
	}
}

func TestPauseController_WaitBlocksUntilResume(t *testing.T) {
	p := newPauseController()
	p.Pause()

	released := make(chan error, 1)
	go func() {
		released <- p.WaitIfPaused(context.Background())
	}()

	select {
	case <-released:
		t.Fatal("WaitIfPaused returned while paused")
	case <-time.After(50 * time.Millisecond):
	}

	p.Resume()
	select {
	case err := <-released:
		if err != nil {
			t.Errorf("WaitIfPaused = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitIfPaused did not release after Resume")
	}
}

func TestPauseController_StopReleasesWaiters(t *testing.T) {
	p := newPauseController()
	p.Pause()

	released := make(chan error, 1)
	go func() {
		released <- p.WaitIfPaused(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	p.Stop()

	select {
	case err := <-released:
		if err != ErrRunStopped {
			t.Errorf("WaitIfPaused = %v, want ErrRunStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not release the waiter")
	}

	if p.Pause() {
		t.Error("Pause after Stop should be refused")
	}
}

func TestPauseController_ContextCancelReleases(t *testing.T) {
	p := newPauseController()
	p.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	released := make(chan error, 1)
	go func() {
		released <- p.WaitIfPaused(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-released:
		if err != context.Canceled {
			t.Errorf("WaitIfPaused = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("context cancel did not release the waiter")
	}
}

func TestPauseController_PassThroughWhenRunning(t *testing.T) {
	p := newPauseController()
	if err := p.WaitIfPaused(context.Background()); err != nil {
		t.Errorf("WaitIfPaused while running = %v", err)
	}
}
