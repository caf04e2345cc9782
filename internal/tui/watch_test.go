package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/banyanhq/banyan/pkg/models"
)

func sampleSnapshot() *models.RunSnapshot {
	return &models.RunSnapshot{
		Version: 7,
		RunID:   "ab12cd34",
		Goal:    "tidy the downloads directory",
		Status:  models.RunStatusRunning,
		RootID:  "root",
		Nodes: map[string]*models.TaskNode{
			"root": {
				ID:       "root",
				Goal:     "tidy the downloads directory",
				Status:   models.TaskStatusDecomposed,
				Children: []string{"a", "b"},
			},
			"a": {
				ID:           "a",
				ParentID:     "root",
				Goal:         "sort images into folders",
				Status:       models.TaskStatusSuccess,
				AttemptCount: 1,
			},
			"b": {
				ID:       "b",
				ParentID: "root",
				Goal:     "archive old installers",
				Status:   models.TaskStatusActive,
			},
		},
		ActiveNode: "b",
		Logs: []models.LogEntry{
			{Time: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), Actor: "planner", Message: "planned 2 steps"},
			{Time: time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC), Actor: "executor", Message: "moved 14 files"},
		},
		Metrics: models.Metrics{Attempts: 2, ToolCalls: 5},
	}
}

func TestRenderTree(t *testing.T) {
	out := renderTree(sampleSnapshot())

	for _, want := range []string{"tidy the downloads", "sort images", "archive old installers"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderTree() missing %q in:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "attempt 1") {
		t.Errorf("renderTree() should show attempt counts, got:\n%s", out)
	}

	// Children render below and indented relative to the root.
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("renderTree() produced %d lines, want 3:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], "  ") {
		t.Errorf("child line should be indented: %q", lines[1])
	}
}

func TestRenderTree_EmptySnapshot(t *testing.T) {
	out := renderTree(&models.RunSnapshot{})
	if !strings.Contains(out, "no tasks") {
		t.Errorf("renderTree() on empty snapshot = %q", out)
	}
}

func TestRenderLogs_TailOnly(t *testing.T) {
	snap := sampleSnapshot()
	for i := 0; i < 20; i++ {
		snap.Logs = append(snap.Logs, models.LogEntry{
			Time:    time.Now(),
			Actor:   "executor",
			Message: "line",
		})
	}

	out := renderLogs(snap, 8)
	if got := len(strings.Split(out, "\n")); got != 8 {
		t.Errorf("renderLogs() rendered %d lines, want 8", got)
	}
}

func TestRenderLogs_Empty(t *testing.T) {
	out := renderLogs(&models.RunSnapshot{}, 8)
	if !strings.Contains(out, "no activity") {
		t.Errorf("renderLogs() on empty snapshot = %q", out)
	}
}

func TestStatusGlyph_CoversAllStatuses(t *testing.T) {
	statuses := []models.TaskStatus{
		models.TaskStatusPending, models.TaskStatusActive,
		models.TaskStatusSuccess, models.TaskStatusFailed,
		models.TaskStatusSuspended, models.TaskStatusDecomposed,
		models.TaskStatusCancelled,
	}
	seen := map[string]models.TaskStatus{}
	for _, s := range statuses {
		g := statusGlyph(s)
		if g == "" {
			t.Errorf("statusGlyph(%s) is empty", s)
		}
		if prev, dup := seen[g]; dup {
			t.Errorf("statusGlyph(%s) == statusGlyph(%s) == %q", s, prev, g)
		}
		seen[g] = s
	}
}

func TestTruncateLine(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-10", 10, "exactly-10"},
		{"this is far too long", 10, "this is f…"},
		{"tiny", 2, "tiny"},
	}
	for _, tt := range tests {
		if got := truncateLine(tt.in, tt.max); got != tt.want {
			t.Errorf("truncateLine(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
