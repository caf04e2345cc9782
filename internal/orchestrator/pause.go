package orchestrator

import (
	"context"
	"errors"
	"sync"
)

// ErrRunStopped indicates the run was stopped while waiting at a
// suspension point.
var ErrRunStopped = errors.New("run stopped")

// pauseController holds the run loop at its suspension points. Pausing
// never interrupts a phase in flight; the loop checks between nodes.
type pauseController struct {
	mu      sync.RWMutex
	cond    *sync.Cond
	paused  bool
	stopped bool
}

func newPauseController() *pauseController {
	p := &pauseController{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Pause requests a hold. Returns true if the state changed.
func (p *pauseController) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused || p.stopped {
		return false
	}
	p.paused = true
	return true
}

// Resume releases a hold. Returns true if the state changed.
func (p *pauseController) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return false
	}
	p.paused = false
	p.cond.Broadcast()
	return true
}

// Stop permanently releases every waiter with ErrRunStopped.
func (p *pauseController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		p.cond.Broadcast()
	}
}

// IsPaused reports whether a hold is in effect.
func (p *pauseController) IsPaused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused && !p.stopped
}

// WaitIfPaused blocks while paused. It returns nil when running may
// continue, ErrRunStopped after Stop, or the context's error if it ends
// first.
func (p *pauseController) WaitIfPaused(ctx context.Context) error {
	p.mu.Lock()
	if p.paused && !p.stopped {
		// One goroutine wakes the condition if the context dies mid-wait.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-done:
			}
		}()

		for p.paused && !p.stopped {
			p.cond.Wait()
			if ctx.Err() != nil {
				close(done)
				p.mu.Unlock()
				return ctx.Err()
			}
		}
		close(done)
	}
	stopped := p.stopped
	p.mu.Unlock()

	if stopped {
		return ErrRunStopped
	}
	return nil
}
