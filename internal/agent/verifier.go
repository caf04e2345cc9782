package agent

import (
	"context"

	"github.com/banyanhq/banyan/internal/api"
	"github.com/banyanhq/banyan/pkg/models"
)

// ClaudeVerifier judges execution reports through the Anthropic API. It sees
// only the report, never the live tool surface, so it cannot "fix" anything
// itself.
type ClaudeVerifier struct {
	loop      *api.AgentLoop
	maxTokens int64
}

var _ Verifier = (*ClaudeVerifier)(nil)

// NewClaudeVerifier creates a verifier on the given client.
func NewClaudeVerifier(client *api.Client, maxTokens int64) *ClaudeVerifier {
	return &ClaudeVerifier{
		loop:      api.NewAgentLoop(api.AgentLoopConfig{Client: client}),
		maxTokens: maxTokens,
	}
}

// Verify judges whether the report satisfies the goal.
func (v *ClaudeVerifier) Verify(ctx context.Context, req VerifyRequest) (*models.Verdict, error) {
	result, err := v.loop.Run(ctx, api.CallOptions{
		System:      verifierSystemPrompt,
		Prompt:      buildVerifyPrompt(req),
		Temperature: req.Temperature,
		MaxTokens:   v.maxTokens,
	})
	if err != nil {
		return nil, newError(models.RoleVerifier, err)
	}

	verdict, err := parseVerdict(result.Output)
	if err != nil {
		return nil, newError(models.RoleVerifier, err)
	}
	verdict.Source = models.VerdictSourceVerifier
	return verdict, nil
}
