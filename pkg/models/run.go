package models

import "time"

// RunStatus represents the overall state of one run.
type RunStatus string

const (
	// RunStatusRunning indicates the run loop is making progress.
	RunStatusRunning RunStatus = "running"
	// RunStatusPaused indicates the run is held at a suspension point.
	RunStatusPaused RunStatus = "paused"
	// RunStatusSucceeded indicates the root goal was achieved.
	RunStatusSucceeded RunStatus = "succeeded"
	// RunStatusFailed indicates the run ended without achieving the root goal.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled indicates the run was stopped by request.
	RunStatusCancelled RunStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusPaused, RunStatusSucceeded,
		RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the run has stopped for good.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// LogEntry is one line in a run's recent-activity log.
type LogEntry struct {
	// Time is when the line was emitted.
	Time time.Time `json:"time"`
	// Actor is the component that emitted the line.
	Actor string `json:"actor"`
	// NodeID is the task node concerned, if any.
	NodeID string `json:"node_id,omitempty"`
	// Message is the log text.
	Message string `json:"message"`
}

// Metrics are the counters exposed in a run snapshot.
type Metrics struct {
	// NodesByStatus counts nodes per status.
	NodesByStatus map[TaskStatus]int `json:"nodes_by_status,omitempty"`
	// Attempts is the total number of execution attempts across all nodes.
	Attempts int `json:"attempts"`
	// Decompositions is how many nodes were split into sub-goals.
	Decompositions int `json:"decompositions"`
	// ToolCalls is the total number of broker invocations.
	ToolCalls int `json:"tool_calls"`
	// ToolErrors is how many broker invocations failed.
	ToolErrors int `json:"tool_errors"`
	// TokensIn is the total prompt tokens consumed by agents.
	TokensIn int64 `json:"tokens_in"`
	// TokensOut is the total completion tokens produced by agents.
	TokensOut int64 `json:"tokens_out"`
	// DroppedEvents counts events discarded because subscribers were slow.
	DroppedEvents uint64 `json:"dropped_events,omitempty"`
	// HeapBytes is the Go heap in use when the snapshot was taken.
	HeapBytes uint64 `json:"heap_bytes,omitempty"`
	// Goroutines is the goroutine count when the snapshot was taken.
	Goroutines int `json:"goroutines,omitempty"`
}

// RunSnapshot is a monotonically versioned view of one run.
type RunSnapshot struct {
	// Version increases by one on every change.
	Version uint64 `json:"version"`
	// RunID identifies the run.
	RunID string `json:"run_id"`
	// Goal is the root goal text.
	Goal string `json:"goal"`
	// Status is the overall run state.
	Status RunStatus `json:"status"`
	// RootID is the root node's ID.
	RootID string `json:"root_id"`
	// Nodes is the full task tree keyed by node ID.
	Nodes map[string]*TaskNode `json:"nodes"`
	// ActiveNode is the node currently being worked on, if any.
	ActiveNode string `json:"active_node,omitempty"`
	// Logs are the most recent activity lines, oldest first.
	Logs []LogEntry `json:"logs,omitempty"`
	// Metrics are the run counters at snapshot time.
	Metrics Metrics `json:"metrics"`
	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`
	// UpdatedAt is when the snapshot version last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// RunResult is the settled outcome of one run.
type RunResult struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`
	// Goal is the root goal text.
	Goal string `json:"goal"`
	// Status is the terminal run state.
	Status RunStatus `json:"status"`
	// RootStatus is the root node's final status.
	RootStatus TaskStatus `json:"root_status"`
	// Output is the root node's result payload, if any.
	Output string `json:"output,omitempty"`
	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the run reached its terminal state.
	CompletedAt time.Time `json:"completed_at"`
	// Metrics are the final run counters.
	Metrics Metrics `json:"metrics"`
}
