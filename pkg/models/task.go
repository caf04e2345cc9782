package models

import "time"

// TaskStatus represents the current state of a task node.
type TaskStatus string

const (
	// TaskStatusPending indicates the node is queued and has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusActive indicates the node is currently being worked on.
	TaskStatusActive TaskStatus = "active"
	// TaskStatusSuccess indicates the node's goal was achieved.
	TaskStatusSuccess TaskStatus = "success"
	// TaskStatusFailed indicates the most recent attempt was rejected.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusSuspended indicates the node is parked awaiting a retry.
	TaskStatusSuspended TaskStatus = "suspended"
	// TaskStatusDecomposed indicates the node was split into child sub-goals
	// and is frozen from further direct execution.
	TaskStatusDecomposed TaskStatus = "decomposed"
	// TaskStatusCancelled indicates the node was forced to stop.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusActive, TaskStatusSuccess, TaskStatusFailed,
		TaskStatusSuspended, TaskStatusDecomposed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed from this status.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusCancelled
}

// Constraints carries per-node execution limits proposed at submission
// or decomposition time.
type Constraints struct {
	// Deadline bounds the node's execute phase. Zero means the broker default.
	Deadline time.Duration `json:"deadline,omitempty"`
	// AllowDangerousOps skips the danger gate for this node's tool calls.
	AllowDangerousOps bool `json:"allow_dangerous_ops,omitempty"`
}

// TaskNode represents one unit of goal, attempt and status in the task tree.
type TaskNode struct {
	// ID is the unique identifier for this node.
	ID string `json:"id"`
	// ParentID is the ID of the parent node. Empty only for the root.
	ParentID string `json:"parent_id,omitempty"`
	// Goal is the text of what this node should accomplish.
	Goal string `json:"goal"`
	// Status is the current state of the node.
	Status TaskStatus `json:"status"`
	// ContextStack holds the ordered goals of all ancestors, root first.
	ContextStack []string `json:"context_stack,omitempty"`
	// AttemptCount is how many times this node has been rejected.
	AttemptCount int `json:"attempt_count"`
	// Plan is the current strategy for this node. Nil means not yet planned.
	Plan *Plan `json:"plan,omitempty"`
	// LastRationale is the rationale from the most recent rejection.
	LastRationale string `json:"last_rationale,omitempty"`
	// Result holds the output payload once the node succeeds.
	Result string `json:"result,omitempty"`
	// Constraints are the execution limits for this node.
	Constraints Constraints `json:"constraints,omitempty"`
	// Children lists child node IDs in declared order.
	Children []string `json:"children,omitempty"`
	// CreatedAt is when the node was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the node last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Depth returns how many ancestors the node has. The root is depth zero.
func (n *TaskNode) Depth() int {
	return len(n.ContextStack)
}
