package models

import (
	"encoding/json"
	"time"
)

// ErrorKind classifies a failed tool invocation.
type ErrorKind string

const (
	// ErrorKindNone indicates the call succeeded.
	ErrorKindNone ErrorKind = ""
	// ErrorKindNotConfigured indicates no enabled server offers the tool.
	ErrorKindNotConfigured ErrorKind = "not_configured"
	// ErrorKindTimeout indicates the call exceeded its deadline.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindRemoteError indicates the server reported a failure.
	ErrorKindRemoteError ErrorKind = "remote_error"
	// ErrorKindInvalidArgs indicates the arguments did not match the schema.
	ErrorKindInvalidArgs ErrorKind = "invalid_args"
)

// Valid returns true if the kind is a known value.
func (k ErrorKind) Valid() bool {
	switch k {
	case ErrorKindNone, ErrorKindNotConfigured, ErrorKindTimeout,
		ErrorKindRemoteError, ErrorKindInvalidArgs:
		return true
	default:
		return false
	}
}

// ToolCall is an abstract request for a single tool invocation.
type ToolCall struct {
	// ServerHint names the preferred server. Empty means any server
	// offering the tool.
	ServerHint string `json:"server_hint,omitempty"`
	// Tool is the name of the tool to invoke.
	Tool string `json:"tool"`
	// Args are the invocation arguments.
	Args map[string]any `json:"args,omitempty"`
	// Timeout bounds the call. Zero means the broker default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ToolDescriptor describes one tool discovered on a server.
type ToolDescriptor struct {
	// ServerID identifies the server offering the tool.
	ServerID string `json:"server_id"`
	// Name is the tool name.
	Name string `json:"name"`
	// Description says what the tool does.
	Description string `json:"description,omitempty"`
	// InputSchema is the JSON schema for the tool's arguments.
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	// Required lists argument names the schema marks as required.
	Required []string `json:"required,omitempty"`
	// Tags are capability tags for routing.
	Tags []string `json:"tags,omitempty"`
}

// ToolResult is the normalized outcome of one tool invocation.
type ToolResult struct {
	// Success is true if the call completed without error.
	Success bool `json:"success"`
	// Payload is the tool output, possibly truncated.
	Payload string `json:"payload,omitempty"`
	// ErrorKind classifies the failure when Success is false.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	// ServerID identifies the server that handled the call.
	ServerID string `json:"server_id,omitempty"`
	// Duration is how long the call took.
	Duration time.Duration `json:"duration"`
	// Truncated is true if the payload was cut at the size cap.
	Truncated bool `json:"truncated,omitempty"`
}
