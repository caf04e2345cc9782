package agent

import (
	"strings"
	"testing"

	"github.com/banyanhq/banyan/pkg/models"
)

func TestBuildPlanPrompt(t *testing.T) {
	req := PlanRequest{
		Goal:          "Summarize the quarterly report",
		ContextStack:  []string{"Prepare the board meeting", "Collect supporting documents"},
		Attempt:       2,
		LastRationale: "summary missed the revenue section",
		MemoryHits: []models.StrategyRecord{
			{Goal: "Summarize the annual report", Outcome: "success", Narrative: "read the file in chunks before summarizing"},
		},
		Tools: []models.ToolDescriptor{
			{Name: "read_file", Description: "Read a file from disk"},
			{Name: "write_file"},
		},
	}

	prompt := buildPlanPrompt(req)

	for _, want := range []string{
		"Summarize the quarterly report",
		"Prepare the board meeting",
		"Previous attempts on this goal: 2",
		"summary missed the revenue section",
		"Past Experience",
		"read the file in chunks",
		"Available Tools",
		"read_file: Read a file from disk",
		"- write_file",
		"Return ONLY a JSON object",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("plan prompt missing %q", want)
		}
	}
}

func TestBuildPlanPrompt_Minimal(t *testing.T) {
	prompt := buildPlanPrompt(PlanRequest{Goal: "List the home directory"})

	for _, absent := range []string{"Last Rejection", "Past Experience", "Available Tools", "Previous attempts"} {
		if strings.Contains(prompt, absent) {
			t.Errorf("minimal plan prompt should not contain %q", absent)
		}
	}
	if !strings.Contains(prompt, "List the home directory") {
		t.Error("plan prompt missing the goal")
	}
}

func TestBuildDecomposePrompt(t *testing.T) {
	prompt := buildDecomposePrompt(DecomposeRequest{
		Goal:          "Migrate the database to the new schema",
		LastRationale: "migration script fails on the orders table",
	})

	for _, want := range []string{
		"Migrate the database to the new schema",
		"migration script fails on the orders table",
		"Return ONLY a JSON array",
		"at least", // hint that a single subgoal is not acceptable
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("decompose prompt missing %q", want)
		}
	}
}

func TestBuildExecutePrompt_WithStepResults(t *testing.T) {
	req := ExecuteRequest{
		Goal: "Publish the release notes",
		Plan: &models.Plan{Strategy: "Render the notes, then upload them"},
	}
	done := []models.ActionRecord{
		{
			Call:   models.ToolCall{Tool: "render_notes"},
			Result: models.ToolResult{Success: true, Payload: "rendered 42 lines"},
		},
		{
			Call:   models.ToolCall{Tool: "upload"},
			Result: models.ToolResult{Success: false, ErrorKind: models.ErrorKindTimeout},
		},
	}

	prompt := buildExecutePrompt(req, done)

	for _, want := range []string{
		"Publish the release notes",
		"Render the notes, then upload them",
		"Steps Already Executed",
		"render_notes -> ok",
		"rendered 42 lines",
		"upload -> failed (timeout)",
		"Fix anything that failed",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("execute prompt missing %q", want)
		}
	}
}

func TestBuildExecutePrompt_NoSteps(t *testing.T) {
	prompt := buildExecutePrompt(ExecuteRequest{Goal: "Check disk usage"}, nil)

	if strings.Contains(prompt, "Steps Already Executed") {
		t.Error("prompt should not mention executed steps")
	}
	if !strings.Contains(prompt, "Accomplish the goal") {
		t.Error("prompt missing the free-form instruction")
	}
}

func TestBuildVerifyPrompt(t *testing.T) {
	req := VerifyRequest{
		Goal: "Create three config files",
		Report: &models.ExecutionReport{
			Strategy: "Write each file in turn",
			Actions: []models.ActionRecord{
				{
					Call:   models.ToolCall{Tool: "write_file"},
					Result: models.ToolResult{Success: true, Payload: "wrote /tmp/a.conf"},
				},
			},
			Output: "All three files created under /tmp.",
		},
	}

	prompt := buildVerifyPrompt(req)

	for _, want := range []string{
		"Create three config files",
		"Write each file in turn",
		"write_file -> ok",
		"wrote /tmp/a.conf",
		"Executor Summary",
		"All three files created under /tmp.",
		"approve, reject, need_more_info",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("verify prompt missing %q", want)
		}
	}
}

func TestBuildVerifyPrompt_NoActions(t *testing.T) {
	prompt := buildVerifyPrompt(VerifyRequest{
		Goal:   "Check the weather",
		Report: &models.ExecutionReport{Output: "It is sunny."},
	})

	if !strings.Contains(prompt, "No tool calls were made") {
		t.Error("prompt should flag the absence of tool calls")
	}
}

func TestBuildVerifyPrompt_TruncatesPayloads(t *testing.T) {
	req := VerifyRequest{
		Goal: "Read the log",
		Report: &models.ExecutionReport{
			Actions: []models.ActionRecord{
				{
					Call:   models.ToolCall{Tool: "read_file"},
					Result: models.ToolResult{Success: true, Payload: strings.Repeat("line\n", 2000)},
				},
			},
		},
	}

	prompt := buildVerifyPrompt(req)
	if !strings.Contains(prompt, "[... truncated ...]") {
		t.Error("long payload should be truncated")
	}
	if len(prompt) > 10000 {
		t.Errorf("prompt unexpectedly large: %d chars", len(prompt))
	}
}

func TestClip(t *testing.T) {
	if got := clip("short", 10); got != "short" {
		t.Errorf("clip = %q, want unchanged", got)
	}
	got := clip(strings.Repeat("a", 50), 10)
	if !strings.HasPrefix(got, "aaaaaaaaaa") || !strings.Contains(got, "truncated") {
		t.Errorf("clip = %q, want truncation marker", got)
	}
}
