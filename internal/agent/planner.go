package agent

import (
	"context"

	"github.com/banyanhq/banyan/internal/api"
	"github.com/banyanhq/banyan/pkg/models"
)

// ClaudePlanner proposes strategies through the Anthropic API. Planning is a
// single exchange with no tool access; the plan's steps are intents that the
// executor carries out later.
type ClaudePlanner struct {
	loop      *api.AgentLoop
	maxTokens int64
}

var _ Planner = (*ClaudePlanner)(nil)

// NewClaudePlanner creates a planner on the given client.
func NewClaudePlanner(client *api.Client, maxTokens int64) *ClaudePlanner {
	return &ClaudePlanner{
		loop:      api.NewAgentLoop(api.AgentLoopConfig{Client: client}),
		maxTokens: maxTokens,
	}
}

// Plan proposes a strategy and optional concrete steps for the goal.
func (p *ClaudePlanner) Plan(ctx context.Context, req PlanRequest) (*models.Plan, error) {
	result, err := p.loop.Run(ctx, api.CallOptions{
		System:      plannerSystemPrompt,
		Prompt:      buildPlanPrompt(req),
		Temperature: req.Temperature,
		MaxTokens:   p.maxTokens,
	})
	if err != nil {
		return nil, newError(models.RolePlanner, err)
	}

	plan, err := parsePlan(result.Output)
	if err != nil {
		return nil, newError(models.RolePlanner, err)
	}
	return plan, nil
}

// Decompose splits a stuck goal into at least two smaller subgoals.
func (p *ClaudePlanner) Decompose(ctx context.Context, req DecomposeRequest) ([]string, error) {
	result, err := p.loop.Run(ctx, api.CallOptions{
		System:      plannerSystemPrompt,
		Prompt:      buildDecomposePrompt(req),
		Temperature: req.Temperature,
		MaxTokens:   p.maxTokens,
	})
	if err != nil {
		return nil, newError(models.RolePlanner, err)
	}

	subgoals, err := parseSubgoals(result.Output)
	if err != nil {
		return nil, newError(models.RolePlanner, err)
	}
	return subgoals, nil
}
