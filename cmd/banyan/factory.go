package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/banyanhq/banyan/internal/agent"
	"github.com/banyanhq/banyan/internal/api"
	"github.com/banyanhq/banyan/internal/audit"
	"github.com/banyanhq/banyan/internal/broker"
	"github.com/banyanhq/banyan/internal/config"
	"github.com/banyanhq/banyan/internal/gate"
	"github.com/banyanhq/banyan/internal/memory"
	"github.com/banyanhq/banyan/internal/orchestrator"
	"github.com/banyanhq/banyan/internal/state"
)

// appRuntime bundles the long-lived backends behind the orchestrator
// service: one ledger, one memory store, one state database and one
// broker shared by every run the process launches.
type appRuntime struct {
	cfg      *config.Config
	ledger   *audit.Ledger
	memory   *memory.Store
	stateDB  *state.DB
	registry *broker.Registry
	broker   *broker.Broker
	policy   *gate.Policy

	planner  *api.Client
	executor *api.Client
	verifier *api.Client

	service *orchestrator.Service
}

// newAppRuntime opens every backend and builds the run service.
func newAppRuntime(cfg *config.Config) (*appRuntime, error) {
	rt := &appRuntime{cfg: cfg}

	for _, p := range []string{cfg.Audit.Path, cfg.Memory.Path, cfg.State.Path} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	var err error
	if rt.ledger, err = audit.Open(cfg.Audit.Path); err != nil {
		return nil, fmt.Errorf("opening audit ledger: %w", err)
	}
	if rt.memory, err = memory.Open(cfg.Memory.Path); err != nil {
		rt.Close()
		return nil, fmt.Errorf("opening memory store: %w", err)
	}
	if rt.stateDB, err = state.Open(cfg.State.Path); err != nil {
		rt.Close()
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	if err = rt.stateDB.Migrate(); err != nil {
		rt.Close()
		return nil, fmt.Errorf("migrating state store: %w", err)
	}

	if rt.registry, err = broker.LoadRegistry(cfg.Broker.ServersFile); err != nil {
		rt.Close()
		return nil, fmt.Errorf("loading tool-server registry: %w", err)
	}
	if err = rt.registry.Watch(); err != nil {
		// Watch is an optimization; a registry that cannot be watched
		// still reloads on broker cache expiry.
		fmt.Fprintf(os.Stderr, "warning: registry watch unavailable: %v\n", err)
	}
	if rt.broker, err = broker.New(cfg.Broker, rt.registry); err != nil {
		rt.Close()
		return nil, fmt.Errorf("building tool broker: %w", err)
	}

	if rt.policy, err = gate.Load(cfg.Gate); err != nil {
		rt.Close()
		return nil, fmt.Errorf("loading gate policy: %w", err)
	}

	if rt.planner, err = api.NewClient(api.FromConfig(cfg.Anthropic, cfg.Agents.Planner.Model)); err != nil {
		rt.Close()
		return nil, fmt.Errorf("building planner client: %w", err)
	}
	if rt.executor, err = api.NewClient(api.FromConfig(cfg.Anthropic, cfg.Agents.Executor.Model)); err != nil {
		rt.Close()
		return nil, fmt.Errorf("building executor client: %w", err)
	}
	if rt.verifier, err = api.NewClient(api.FromConfig(cfg.Anthropic, cfg.Agents.Verifier.Model)); err != nil {
		rt.Close()
		return nil, fmt.Errorf("building verifier client: %w", err)
	}

	rt.service = orchestrator.NewService(cfg, rt.buildRun, rt.stateDB)
	return rt, nil
}

// buildRun is the RunFactory: a fresh dependency set per submission.
// The backends are shared; the approval manager and debug log are not.
func (rt *appRuntime) buildRun(runID string) (orchestrator.Deps, error) {
	cfg := rt.cfg
	return orchestrator.Deps{
		Planner:   agent.NewClaudePlanner(rt.planner, cfg.Agents.Planner.MaxTokens),
		Executor:  agent.NewClaudeExecutor(rt.executor, cfg.Agents.Executor.MaxTokens, cfg.Orchestrator.WorkerPool),
		Verifier:  agent.NewClaudeVerifier(rt.verifier, cfg.Agents.Verifier.MaxTokens),
		Broker:    rt.broker,
		Ledger:    rt.ledger,
		Memory:    rt.memory,
		Store:     rt.stateDB,
		Policy:    rt.policy,
		Approvals: gate.NewManager(cfg.Gate),
		Tokens:    rt.tokenTotals,
		DebugLog:  orchestrator.NewDebugLoggerForRun(config.GetDataDir(), runID),
	}, nil
}

// tokenTotals sums usage across the three role clients.
func (rt *appRuntime) tokenTotals() (int64, int64) {
	var in, out int64
	for _, c := range []*api.Client{rt.planner, rt.executor, rt.verifier} {
		i, o := c.Tracker().Total()
		in += i
		out += o
	}
	return in, out
}

// Close releases every backend. Safe to call on a half-built runtime.
func (rt *appRuntime) Close() {
	if rt.broker != nil {
		rt.broker.Close()
	}
	if rt.registry != nil {
		rt.registry.Close()
	}
	if rt.stateDB != nil {
		rt.stateDB.Close()
	}
	if rt.memory != nil {
		rt.memory.Close()
	}
	if rt.ledger != nil {
		rt.ledger.Close()
	}
}

// runSignalsDir is where sentinel and feedback files for a run land.
func runSignalsDir(runID string) string {
	return filepath.Join(config.GetDataDir(), "runs", runID, "signals")
}
