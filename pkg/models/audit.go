package models

import "time"

// AuditEntry is one immutable row in the append-only decision ledger.
type AuditEntry struct {
	// RunID identifies the run this entry belongs to.
	RunID string `json:"run_id"`
	// Seq is the entry's position within the run, starting at 1.
	Seq int64 `json:"seq"`
	// Timestamp is when the entry was recorded.
	Timestamp time.Time `json:"timestamp"`
	// Actor is the component that acted, such as "orchestrator" or "broker".
	Actor string `json:"actor"`
	// Action is what happened, such as "plan" or "transition".
	Action string `json:"action"`
	// NodeID is the task node the action concerned, if any.
	NodeID string `json:"node_id,omitempty"`
	// Payload is the JSON detail of the action.
	Payload string `json:"payload,omitempty"`
	// PayloadDigest is the hex SHA-256 of the payload.
	PayloadDigest string `json:"payload_digest,omitempty"`
	// Outcome summarizes the result, such as "ok" or "reject".
	Outcome string `json:"outcome,omitempty"`
}
