package agent

import (
	"fmt"
	"strings"

	"github.com/banyanhq/banyan/pkg/models"
)

const plannerSystemPrompt = `You are the planning agent of a personal automation assistant. You design small, concrete strategies that accomplish one goal through tool calls. You never perform work yourself; you only plan.`

const executorSystemPrompt = `You are the execution agent of a personal automation assistant. You carry out a planned strategy by calling tools. Work step by step, check the result of each call before moving on, and never invent tool output. When the work is done, reply with a short summary of what you did and what the outcome was.`

const verifierSystemPrompt = `You are the verification agent of a personal automation assistant. You judge whether an execution actually satisfied its goal. Be strict: approve only when the evidence in the report shows the goal was met. A plausible-sounding summary without supporting tool output is not evidence.`

const planFormat = `Return ONLY a JSON object with this exact structure (no other text):
{
  "strategy": "The chosen approach in one or two sentences",
  "steps": [
    {
      "description": "What this step is for",
      "tool": "tool_name",
      "args": {"name": "value"},
      "independent": false
    }
  ]
}

Guidelines:
- Use only tools from the available tool list, with their exact names
- Keep the plan short: the fewest steps that plausibly achieve the goal
- Mark a step "independent": true only when it does not depend on the
  results of the steps around it
- Leave "steps" empty ([]) when the goal needs free-form work instead of
  fixed calls
- Args must match each tool's input schema`

const decomposeFormat = `Return ONLY a JSON array of subgoal strings (no other text):
["first subgoal", "second subgoal"]

Guidelines:
- Return between 2 and 5 subgoals
- Each subgoal must be materially smaller than the original goal
- Together the subgoals must cover the whole original goal
- Order them so earlier subgoals unblock later ones
- Write each subgoal as a self-contained instruction that makes sense
  without the original goal text`

const verdictFormat = `Return ONLY a JSON object with this exact structure (no other text):
{
  "decision": "approve",
  "rationale": "Why you decided this, citing evidence from the report",
  "remediation": "What a retry should do differently (only for reject)"
}

The decision must be exactly one of: approve, reject, need_more_info.
A reject must always include a rationale.`

// buildPlanPrompt renders one planning request. Ancestor goals, the last
// rejection and recalled memories all land in the prompt so a retry plans
// with everything the run already knows.
func buildPlanPrompt(req PlanRequest) string {
	var sb strings.Builder

	sb.WriteString("Goal:\n")
	sb.WriteString(req.Goal)
	sb.WriteString("\n")

	writeContextStack(&sb, req.ContextStack)

	if req.Attempt > 0 {
		sb.WriteString(fmt.Sprintf("\nPrevious attempts on this goal: %d\n", req.Attempt))
	}
	if req.LastRationale != "" {
		sb.WriteString("\n## Last Rejection\n")
		sb.WriteString("The previous attempt was rejected:\n")
		sb.WriteString(req.LastRationale)
		sb.WriteString("\n\nPlan a different approach that addresses this.\n")
	}

	writeMemoryHits(&sb, req.MemoryHits)
	writeToolList(&sb, req.Tools)

	sb.WriteString("\n")
	sb.WriteString(planFormat)
	return sb.String()
}

// buildDecomposePrompt renders a request to split a stuck goal.
func buildDecomposePrompt(req DecomposeRequest) string {
	var sb strings.Builder

	sb.WriteString("This goal has failed repeatedly and direct attempts are exhausted:\n")
	sb.WriteString(req.Goal)
	sb.WriteString("\n")

	writeContextStack(&sb, req.ContextStack)

	if req.LastRationale != "" {
		sb.WriteString("\nThe most recent rejection said:\n")
		sb.WriteString(req.LastRationale)
		sb.WriteString("\n")
	}

	writeMemoryHits(&sb, req.MemoryHits)

	sb.WriteString("\nBreak the goal into smaller subgoals that can be attempted separately.\n\n")
	sb.WriteString(decomposeFormat)
	return sb.String()
}

// buildExecutePrompt renders one execution request. When declared steps have
// already run, their results are included so the model continues from the
// real state instead of re-doing them.
func buildExecutePrompt(req ExecuteRequest, done []models.ActionRecord) string {
	var sb strings.Builder

	sb.WriteString("Goal:\n")
	sb.WriteString(req.Goal)
	sb.WriteString("\n")

	writeContextStack(&sb, req.ContextStack)

	if req.Plan != nil && req.Plan.Strategy != "" {
		sb.WriteString("\nStrategy:\n")
		sb.WriteString(req.Plan.Strategy)
		sb.WriteString("\n")
	}

	if len(done) > 0 {
		sb.WriteString("\n## Steps Already Executed\n")
		sb.WriteString("The planned tool calls already ran with these results:\n\n")
		for i, action := range done {
			sb.WriteString(fmt.Sprintf("%d. %s -> %s\n", i+1, action.Call.Tool, resultLabel(action.Result)))
			if action.Result.Payload != "" {
				sb.WriteString(indent(clip(action.Result.Payload, 1000), "   "))
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\nFix anything that failed, finish any remaining work, then summarize the outcome.\n")
	} else {
		sb.WriteString("\nAccomplish the goal with the available tools, then summarize the outcome.\n")
	}

	return sb.String()
}

// buildVerifyPrompt renders an execution report for judgement.
func buildVerifyPrompt(req VerifyRequest) string {
	var sb strings.Builder

	sb.WriteString("Goal:\n")
	sb.WriteString(req.Goal)
	sb.WriteString("\n")

	writeContextStack(&sb, req.ContextStack)

	if req.Report != nil {
		if req.Report.Strategy != "" {
			sb.WriteString("\nStrategy that was executed:\n")
			sb.WriteString(req.Report.Strategy)
			sb.WriteString("\n")
		}

		if len(req.Report.Actions) > 0 {
			sb.WriteString("\n## Tool Calls\n")
			for i, action := range req.Report.Actions {
				sb.WriteString(fmt.Sprintf("%d. %s -> %s\n", i+1, action.Call.Tool, resultLabel(action.Result)))
				if action.Result.Payload != "" {
					sb.WriteString(indent(clip(action.Result.Payload, 2000), "   "))
					sb.WriteString("\n")
				}
			}
		} else {
			sb.WriteString("\nNo tool calls were made.\n")
		}

		if req.Report.Output != "" {
			sb.WriteString("\n## Executor Summary\n")
			sb.WriteString(clip(req.Report.Output, 4000))
			sb.WriteString("\n")
		}
		if req.Report.Failed {
			sb.WriteString("\nThe executor reported that the attempt could not complete.\n")
		}
	}

	sb.WriteString("\nJudge whether the goal was satisfied.\n\n")
	sb.WriteString(verdictFormat)
	return sb.String()
}

func writeContextStack(sb *strings.Builder, stack []string) {
	if len(stack) == 0 {
		return
	}
	sb.WriteString("\nThis goal serves a chain of larger goals, outermost first:\n")
	for _, ancestor := range stack {
		sb.WriteString(fmt.Sprintf("- %s\n", ancestor))
	}
}

func writeMemoryHits(sb *strings.Builder, hits []models.StrategyRecord) {
	if len(hits) == 0 {
		return
	}
	sb.WriteString("\n## Past Experience\n")
	sb.WriteString("Outcomes of similar goals from earlier runs:\n\n")
	for i, hit := range hits {
		sb.WriteString(fmt.Sprintf("### Memory %d (%s)\n", i+1, hit.Outcome))
		sb.WriteString(fmt.Sprintf("Goal: %s\n", hit.Goal))
		if hit.Narrative != "" {
			sb.WriteString(fmt.Sprintf("Lesson: %s\n", hit.Narrative))
		}
	}
}

func writeToolList(sb *strings.Builder, tools []models.ToolDescriptor) {
	if len(tools) == 0 {
		return
	}
	sb.WriteString("\n## Available Tools\n")
	for _, tool := range tools {
		if tool.Description != "" {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", tool.Name, clip(tool.Description, 200)))
		} else {
			sb.WriteString(fmt.Sprintf("- %s\n", tool.Name))
		}
	}
}

func resultLabel(result models.ToolResult) string {
	if result.Success {
		return "ok"
	}
	if result.ErrorKind != "" {
		return fmt.Sprintf("failed (%s)", result.ErrorKind)
	}
	return "failed"
}

// clip truncates s for prompt inclusion, marking the cut.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[... truncated ...]"
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
