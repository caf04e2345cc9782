package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/banyanhq/banyan/pkg/models"
)

// extractJSONObject pulls the outermost JSON object out of a model response,
// tolerating prose or fences around it.
func extractJSONObject(response string) (string, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		preview := response
		if len(preview) > 500 {
			preview = preview[:500] + "..."
		}
		return "", fmt.Errorf("no valid JSON object found in response (got %d chars): %q", len(response), preview)
	}
	return response[start : end+1], nil
}

// extractJSONArray pulls the outermost JSON array out of a model response.
func extractJSONArray(response string) (string, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || end <= start {
		preview := response
		if len(preview) > 500 {
			preview = preview[:500] + "..."
		}
		return "", fmt.Errorf("no valid JSON array found in response (got %d chars): %q", len(response), preview)
	}
	return response[start : end+1], nil
}

// parsePlan parses a planner response into a Plan. Steps are optional but
// every declared step must name a tool.
func parsePlan(response string) (*models.Plan, error) {
	jsonStr, err := extractJSONObject(response)
	if err != nil {
		return nil, err
	}

	var plan models.Plan
	if err := json.Unmarshal([]byte(jsonStr), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}

	if strings.TrimSpace(plan.Strategy) == "" {
		return nil, fmt.Errorf("plan has no strategy")
	}
	for i, step := range plan.Steps {
		if strings.TrimSpace(step.Tool) == "" {
			return nil, fmt.Errorf("plan step %d names no tool", i+1)
		}
	}
	return &plan, nil
}

// parseSubgoals parses a decomposition response. Fewer than two subgoals is
// an error: a single subgoal would just recreate the stuck node.
func parseSubgoals(response string) ([]string, error) {
	jsonStr, err := extractJSONArray(response)
	if err != nil {
		return nil, err
	}

	var raw []string
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse subgoal JSON: %w", err)
	}

	subgoals := make([]string, 0, len(raw))
	for _, goal := range raw {
		if trimmed := strings.TrimSpace(goal); trimmed != "" {
			subgoals = append(subgoals, trimmed)
		}
	}
	if len(subgoals) < 2 {
		return nil, fmt.Errorf("decomposition produced %d subgoals, need at least 2", len(subgoals))
	}
	return subgoals, nil
}

// parseVerdict parses a verifier response. Rejections without a rationale
// are invalid because the rationale drives the next attempt.
func parseVerdict(response string) (*models.Verdict, error) {
	jsonStr, err := extractJSONObject(response)
	if err != nil {
		return nil, err
	}

	var verdict models.Verdict
	if err := json.Unmarshal([]byte(jsonStr), &verdict); err != nil {
		return nil, fmt.Errorf("failed to parse verdict JSON: %w", err)
	}

	verdict.Decision = models.Decision(strings.ToLower(strings.TrimSpace(string(verdict.Decision))))
	if !verdict.Decision.Valid() {
		return nil, fmt.Errorf("unknown verdict decision %q", verdict.Decision)
	}
	if verdict.Decision == models.DecisionReject && strings.TrimSpace(verdict.Rationale) == "" {
		if strings.TrimSpace(verdict.Remediation) == "" {
			return nil, fmt.Errorf("reject verdict has no rationale")
		}
		verdict.Rationale = verdict.Remediation
	}
	return &verdict, nil
}
