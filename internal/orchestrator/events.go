package orchestrator

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/banyanhq/banyan/pkg/models"
)

// EventType represents the type of run event.
type EventType string

const (
	// EventRunStarted indicates the run loop has begun.
	EventRunStarted EventType = "run_started"
	// EventRunCompleted indicates the run reached a terminal state.
	EventRunCompleted EventType = "run_completed"
	// EventRunPaused indicates the loop is holding at a suspension point.
	EventRunPaused EventType = "run_paused"
	// EventRunResumed indicates the loop continued after a pause.
	EventRunResumed EventType = "run_resumed"
	// EventNodePlanned indicates a node received a strategy.
	EventNodePlanned EventType = "node_planned"
	// EventNodeStarted indicates a node's execute phase began.
	EventNodeStarted EventType = "node_started"
	// EventNodeVerified indicates a verdict was reached for a node.
	EventNodeVerified EventType = "node_verified"
	// EventNodeSucceeded indicates a node settled successfully.
	EventNodeSucceeded EventType = "node_succeeded"
	// EventNodeRejected indicates an attempt was rejected and will retry.
	EventNodeRejected EventType = "node_rejected"
	// EventNodeFailed indicates a node failed permanently.
	EventNodeFailed EventType = "node_failed"
	// EventNodeDecomposed indicates a node was split into sub-goals.
	EventNodeDecomposed EventType = "node_decomposed"
	// EventToolCall indicates the broker dispatched a tool call.
	EventToolCall EventType = "tool_call"
	// EventGateHeld indicates a call is waiting for operator approval.
	EventGateHeld EventType = "gate_held"
	// EventGateDecided indicates a held call was approved or denied.
	EventGateDecided EventType = "gate_decided"
)

// Event is one observable run occurrence, consumed by the watch view and
// any other subscriber.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// RunID identifies the run.
	RunID string
	// NodeID is the task node concerned, if any.
	NodeID string
	// Goal is the node's goal text, if any.
	Goal string
	// Message provides additional context.
	Message string
	// Decision carries the verdict for node_verified events.
	Decision models.Decision
	// Attempt is the node's attempt count at emission time.
	Attempt int
	// Err carries error details for failure events.
	Err error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Emitter fans run events out to one subscriber channel. Emission never
// blocks the run loop for long: a full channel gets a short grace period
// and then the event is dropped and counted.
type Emitter struct {
	events  chan Event
	dropped atomic.Uint64
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Emitter{events: make(chan Event, bufferSize)}
}

// Emit sends an event, stamping the time if unset. If the channel is full
// it retries briefly before dropping the event.
func (e *Emitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.dropped.Add(1)
		if count%10 == 1 {
			log.Printf("[orchestrator] event channel full, dropped %d so far (latest: %s)", count, event.Type)
		}
	}
}

// Dropped returns how many events have been discarded.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Events returns the subscriber channel.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Close closes the subscriber channel. Call only after the run loop has
// stopped emitting.
func (e *Emitter) Close() {
	close(e.events)
}
