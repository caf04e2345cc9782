package models

import (
	"testing"
	"time"
)

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"active is valid", TaskStatusActive, true},
		{"success is valid", TaskStatusSuccess, true},
		{"failed is valid", TaskStatusFailed, true},
		{"suspended is valid", TaskStatusSuspended, true},
		{"decomposed is valid", TaskStatusDecomposed, true},
		{"cancelled is valid", TaskStatusCancelled, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"unknown status is invalid", TaskStatus("unknown"), false},
		{"typo status is invalid", TaskStatus("pendingg"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPending, false},
		{TaskStatusActive, false},
		{TaskStatusSuccess, true},
		{TaskStatusFailed, false},
		{TaskStatusSuspended, false},
		{TaskStatusDecomposed, false},
		{TaskStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("TaskStatus(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_StringValues(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   string
	}{
		{TaskStatusPending, "pending"},
		{TaskStatusActive, "active"},
		{TaskStatusSuccess, "success"},
		{TaskStatusFailed, "failed"},
		{TaskStatusSuspended, "suspended"},
		{TaskStatusDecomposed, "decomposed"},
		{TaskStatusCancelled, "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := string(tt.status); got != tt.want {
				t.Errorf("string(TaskStatus) = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTaskNode_DefaultValues(t *testing.T) {
	node := TaskNode{}

	if node.ID != "" {
		t.Errorf("TaskNode.ID default should be empty string, got %q", node.ID)
	}
	if node.ParentID != "" {
		t.Errorf("TaskNode.ParentID default should be empty string, got %q", node.ParentID)
	}
	if node.Status != "" {
		t.Errorf("TaskNode.Status default should be empty string, got %q", node.Status)
	}
	if node.ContextStack != nil {
		t.Errorf("TaskNode.ContextStack default should be nil, got %v", node.ContextStack)
	}
	if node.AttemptCount != 0 {
		t.Errorf("TaskNode.AttemptCount default should be 0, got %d", node.AttemptCount)
	}
	if node.Plan != nil {
		t.Errorf("TaskNode.Plan default should be nil, got %v", node.Plan)
	}
	if node.Children != nil {
		t.Errorf("TaskNode.Children default should be nil, got %v", node.Children)
	}
	if !node.CreatedAt.IsZero() {
		t.Errorf("TaskNode.CreatedAt default should be zero time, got %v", node.CreatedAt)
	}
}

func TestTaskNode_Fields(t *testing.T) {
	now := time.Now()

	node := TaskNode{
		ID:            "node-123",
		ParentID:      "node-000",
		Goal:          "create directory /tmp/out",
		Status:        TaskStatusActive,
		ContextStack:  []string{"organize downloads"},
		AttemptCount:  2,
		Plan:          &Plan{Strategy: "use the filesystem server"},
		LastRationale: "directory was created in the wrong place",
		Constraints:   Constraints{Deadline: 15 * time.Second, AllowDangerousOps: true},
		Children:      []string{"node-456", "node-789"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if node.ID != "node-123" {
		t.Errorf("TaskNode.ID = %q, want %q", node.ID, "node-123")
	}
	if node.ParentID != "node-000" {
		t.Errorf("TaskNode.ParentID = %q, want %q", node.ParentID, "node-000")
	}
	if node.Goal != "create directory /tmp/out" {
		t.Errorf("TaskNode.Goal = %q, want %q", node.Goal, "create directory /tmp/out")
	}
	if node.Status != TaskStatusActive {
		t.Errorf("TaskNode.Status = %q, want %q", node.Status, TaskStatusActive)
	}
	if node.AttemptCount != 2 {
		t.Errorf("TaskNode.AttemptCount = %d, want 2", node.AttemptCount)
	}
	if node.Plan == nil || node.Plan.Strategy != "use the filesystem server" {
		t.Errorf("TaskNode.Plan = %+v, want strategy set", node.Plan)
	}
	if node.Constraints.Deadline != 15*time.Second {
		t.Errorf("TaskNode.Constraints.Deadline = %v, want 15s", node.Constraints.Deadline)
	}
	if !node.Constraints.AllowDangerousOps {
		t.Error("TaskNode.Constraints.AllowDangerousOps should be true")
	}
	if len(node.Children) != 2 {
		t.Errorf("TaskNode.Children length = %d, want 2", len(node.Children))
	}
}

func TestTaskNode_Depth(t *testing.T) {
	tests := []struct {
		name  string
		stack []string
		want  int
	}{
		{"root has depth zero", nil, 0},
		{"one ancestor", []string{"root goal"}, 1},
		{"three ancestors", []string{"a", "b", "c"}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := TaskNode{ContextStack: tt.stack}
			if got := node.Depth(); got != tt.want {
				t.Errorf("TaskNode.Depth() = %d, want %d", got, tt.want)
			}
		})
	}
}
