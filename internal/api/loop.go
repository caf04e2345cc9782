package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

// DispatchFunc executes one tool call requested by the model. It returns
// the result payload and whether the tool reported an error. Transport
// failures are reported the same way; the loop never aborts on a bad call.
type DispatchFunc func(ctx context.Context, name string, input json.RawMessage) (payload string, isError bool)

// StreamEvent represents one event during an exchange, for streaming to a UI.
type StreamEvent struct {
	Type    string // "text", "tool_use", "tool_result", "done", "error"
	Content string
	Tool    string
	Input   json.RawMessage
}

// CallOptions shape a single exchange with the model.
type CallOptions struct {
	// System is the system prompt.
	System string
	// Prompt is the user message that opens the exchange.
	Prompt string
	// Temperature for sampling. Zero leaves the API default.
	Temperature float64
	// MaxTokens per response. Zero means the loop default.
	MaxTokens int64
	// Tools offered to the model. Tool use is dispatched through the
	// loop's dispatcher.
	Tools []anthropic.ToolUnionParam
}

// CallResult contains the outcome of one exchange.
type CallResult struct {
	// Output is the text of the final assistant message.
	Output    string
	TokensIn  int64
	TokensOut int64
	ToolCalls int
	// Turns is the number of API calls the exchange took.
	Turns int
}

// AgentLoop manages the API call and tool dispatch cycle for one agent.
type AgentLoop struct {
	client   *Client
	dispatch DispatchFunc
	onStream func(StreamEvent)
	maxTurns int
}

// AgentLoopConfig contains configuration for the agent loop.
type AgentLoopConfig struct {
	Client *Client
	// Dispatch handles tool use blocks. Required when calls offer tools.
	Dispatch DispatchFunc
	// MaxTurns bounds the number of API calls per exchange (0 = default).
	MaxTurns int
}

// NewAgentLoop creates a new agent loop with the given configuration.
func NewAgentLoop(cfg AgentLoopConfig) *AgentLoop {
	maxTurns := cfg.MaxTurns
	if maxTurns == 0 {
		maxTurns = 30
	}

	return &AgentLoop{
		client:   cfg.Client,
		dispatch: cfg.Dispatch,
		maxTurns: maxTurns,
	}
}

// SetStreamHandler sets a callback for streaming events during exchanges.
func (l *AgentLoop) SetStreamHandler(fn func(StreamEvent)) {
	l.onStream = fn
}

// emit sends a stream event if a handler is configured.
func (l *AgentLoop) emit(event StreamEvent) {
	if l.onStream != nil {
		l.onStream(event)
	}
}

// Tracker returns the token tracker of the underlying client.
func (l *AgentLoop) Tracker() *TokenTracker {
	return l.client.Tracker()
}

// Run executes one exchange, dispatching tool use until the model stops
// or the turn bound is hit.
func (l *AgentLoop) Run(ctx context.Context, opts CallOptions) (*CallResult, error) {
	result := &CallResult{}

	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(opts.Prompt)),
	}

	for result.Turns < l.maxTurns {
		result.Turns++

		if err := ctx.Err(); err != nil {
			return result, err
		}

		params := anthropic.MessageNewParams{
			Model:     l.client.Model(),
			MaxTokens: maxTokens,
			System: []anthropic.TextBlockParam{
				{Text: opts.System},
			},
			Messages: messages,
		}
		if opts.Temperature > 0 {
			params.Temperature = anthropic.Float(opts.Temperature)
		}
		if len(opts.Tools) > 0 {
			params.Tools = opts.Tools
		}

		resp, err := l.client.sdk().Messages.New(ctx, params)
		if err != nil {
			l.emit(StreamEvent{Type: "error", Content: err.Error()})
			return result, fmt.Errorf("API call failed: %w", err)
		}

		result.TokensIn += resp.Usage.InputTokens
		result.TokensOut += resp.Usage.OutputTokens
		l.client.Tracker().Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResultBlocks []anthropic.ContentBlockParamUnion
		var textOutput string

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				textOutput += variant.Text
				l.emit(StreamEvent{Type: "text", Content: variant.Text})
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))

			case anthropic.ToolUseBlock:
				result.ToolCalls++

				l.emit(StreamEvent{
					Type:  "tool_use",
					Tool:  variant.Name,
					Input: variant.Input,
				})
				assistantBlocks = append(assistantBlocks,
					anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))

				if l.dispatch == nil {
					return result, fmt.Errorf("model requested tool %q but no dispatcher is configured", variant.Name)
				}

				payload, isError := l.dispatch(ctx, variant.Name, variant.Input)
				l.emit(StreamEvent{
					Type:    "tool_result",
					Tool:    variant.Name,
					Content: truncateForDisplay(payload),
				})

				toolResultBlocks = append(toolResultBlocks,
					anthropic.NewToolResultBlock(variant.ID, payload, isError))
			}
		}

		if resp.StopReason == anthropic.StopReasonEndTurn || len(toolResultBlocks) == 0 {
			result.Output = textOutput
			l.emit(StreamEvent{Type: "done"})
			return result, nil
		}

		messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
		messages = append(messages, anthropic.NewUserMessage(toolResultBlocks...))
	}

	return result, fmt.Errorf("max turns (%d) reached", l.maxTurns)
}

func truncateForDisplay(s string) string {
	if len(s) > 500 {
		return s[:500] + "..."
	}
	return s
}
