package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banyanhq/banyan/internal/config"
	"github.com/banyanhq/banyan/pkg/models"
)

// ErrRunNotFound indicates no run with the given id is known here.
var ErrRunNotFound = errors.New("run not found")

// RunFactory builds the per-run dependency set. The service calls it once
// per submission so concurrent runs never share agent state.
type RunFactory func(runID string) (Deps, error)

// Service owns independent runs keyed by an 8-char run id. It is the
// ingestion point any thin front end talks to: submit a goal, poll or
// subscribe, inject decisions. Completed results are cached so
// re-submitting a finished run returns the cached outcome without
// dispatching a single node.
type Service struct {
	cfg     *config.Config
	factory RunFactory

	mu      sync.Mutex
	runs    map[string]*Run
	results map[string]*models.RunResult
	// store is the optional long-term result lookup behind the cache.
	store RunStore
}

// NewService creates a run service.
func NewService(cfg *config.Config, factory RunFactory, store RunStore) *Service {
	return &Service{
		cfg:     cfg,
		factory: factory,
		runs:    make(map[string]*Run),
		results: make(map[string]*models.RunResult),
		store:   store,
	}
}

// Submit starts a new run for the goal and returns its id. The run
// proceeds asynchronously; watch it through Events, Snapshot or Wait.
func (s *Service) Submit(ctx context.Context, goal string, constraints models.Constraints) (string, error) {
	runID := uuid.New().String()[:8]

	run, err := s.startRun(ctx, runID, goal, constraints)
	if err != nil {
		return "", err
	}

	go s.reap(run)
	return runID, nil
}

// Resubmit re-submits a run id. A completed run returns its cached result
// immediately, idempotently. A live run returns nil with no error; an
// unknown id is ErrRunNotFound.
func (s *Service) Resubmit(runID string) (*models.RunResult, error) {
	s.mu.Lock()
	if res, ok := s.results[runID]; ok {
		s.mu.Unlock()
		return res, nil
	}
	_, live := s.runs[runID]
	s.mu.Unlock()

	if live {
		return nil, nil
	}
	if s.store != nil {
		res, err := s.store.GetResult(runID)
		if err == nil && res != nil {
			s.mu.Lock()
			s.results[runID] = res
			s.mu.Unlock()
			return res, nil
		}
	}
	return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
}

// startRun builds and launches one run.
func (s *Service) startRun(ctx context.Context, runID, goal string, constraints models.Constraints) (*Run, error) {
	deps, err := s.factory(runID)
	if err != nil {
		return nil, fmt.Errorf("build run %s: %w", runID, err)
	}

	run, err := NewRun(runID, goal, s.cfg, deps)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.runs[runID] = run
	s.mu.Unlock()

	run.Start(ctx, constraints)
	return run, nil
}

// reap caches the run's result once it settles.
func (s *Service) reap(run *Run) {
	result, _ := run.Wait()

	s.mu.Lock()
	if result != nil {
		s.results[run.ID()] = result
	}
	s.mu.Unlock()
}

// Get returns a live run.
func (s *Service) Get(runID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return run, nil
}

// Snapshot returns the current versioned view of a run.
func (s *Service) Snapshot(runID string) (*models.RunSnapshot, error) {
	run, err := s.Get(runID)
	if err != nil {
		return nil, err
	}
	return run.Snapshot(), nil
}

// Result returns the settled outcome of a run, or nil while it is live.
func (s *Service) Result(runID string) (*models.RunResult, error) {
	s.mu.Lock()
	if res, ok := s.results[runID]; ok {
		s.mu.Unlock()
		return res, nil
	}
	run, ok := s.runs[runID]
	s.mu.Unlock()

	if ok {
		return run.Result(), nil
	}
	return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
}

// Cancel stops a whole run.
func (s *Service) Cancel(runID string) error {
	run, err := s.Get(runID)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// CancelNode cancels one subtree of a run.
func (s *Service) CancelNode(runID, nodeID string) error {
	run, err := s.Get(runID)
	if err != nil {
		return err
	}
	return run.CancelNode(nodeID)
}

// Pause holds a run at its next suspension point.
func (s *Service) Pause(runID string) error {
	run, err := s.Get(runID)
	if err != nil {
		return err
	}
	run.Pause()
	return nil
}

// Resume releases a paused run.
func (s *Service) Resume(runID string) error {
	run, err := s.Get(runID)
	if err != nil {
		return err
	}
	run.Resume()
	return nil
}

// InjectFeedback records a human verdict for a pending node of a run.
func (s *Service) InjectFeedback(runID, nodeID string, verdict models.Verdict) error {
	run, err := s.Get(runID)
	if err != nil {
		return err
	}
	return run.InjectFeedback(nodeID, verdict)
}

// Runs lists the ids of runs this service has seen, live first.
func (s *Service) Runs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	return ids
}
