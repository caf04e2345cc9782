package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/banyanhq/banyan/internal/api"
	"github.com/banyanhq/banyan/pkg/models"
)

// ClaudeExecutor carries out plans in two phases. Declared plan steps are
// dispatched first, with runs of independent steps fanned out under a bounded
// worker pool and joined before anything that depends on them. The model then
// gets one tool-equipped exchange to finish free-form work and summarize,
// seeded with the step results.
type ClaudeExecutor struct {
	client      *api.Client
	maxTokens   int64
	maxParallel int
}

var _ Executor = (*ClaudeExecutor)(nil)

// NewClaudeExecutor creates an executor on the given client. maxParallel
// bounds concurrent independent steps; values below 1 fall back to 4.
func NewClaudeExecutor(client *api.Client, maxTokens int64, maxParallel int) *ClaudeExecutor {
	if maxParallel < 1 {
		maxParallel = 4
	}
	return &ClaudeExecutor{
		client:      client,
		maxTokens:   maxTokens,
		maxParallel: maxParallel,
	}
}

// Execute runs the plan and reports every tool call it made. The report is
// returned even on error so callers can audit partial work.
func (e *ClaudeExecutor) Execute(ctx context.Context, req ExecuteRequest) (*models.ExecutionReport, error) {
	report := &models.ExecutionReport{}
	if req.Plan != nil {
		report.Strategy = req.Plan.Strategy
	}
	if req.Dispatch == nil {
		report.Failed = true
		return report, newError(models.RoleExecutor, fmt.Errorf("no dispatcher configured"))
	}

	if req.Plan != nil && len(req.Plan.Steps) > 0 {
		records, err := runSteps(ctx, req.Dispatch, req.Plan.Steps, e.maxParallel)
		report.Actions = append(report.Actions, records...)
		if err != nil {
			report.Failed = true
			return report, err
		}
	}

	loop := api.NewAgentLoop(api.AgentLoopConfig{
		Client:   e.client,
		Dispatch: dispatchBridge(req.Dispatch, &report.Actions),
	})

	result, err := loop.Run(ctx, api.CallOptions{
		System:      executorSystemPrompt,
		Prompt:      buildExecutePrompt(req, report.Actions),
		Temperature: req.Temperature,
		MaxTokens:   e.maxTokens,
		Tools:       api.ToolParams(req.Tools),
	})
	if err != nil {
		report.Failed = true
		return report, newError(models.RoleExecutor, err)
	}

	report.Output = result.Output
	return report, nil
}

// runSteps dispatches declared plan steps in order. Consecutive steps marked
// independent run concurrently, at most maxParallel at a time, and the whole
// batch is joined before the next dependent step starts. A failed tool call
// is recorded and execution continues; only a dead context stops the walk.
func runSteps(ctx context.Context, d Dispatcher, steps []models.PlanStep, maxParallel int) ([]models.ActionRecord, error) {
	records := make([]models.ActionRecord, 0, len(steps))

	for start := 0; start < len(steps); {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		end := start + 1
		for steps[start].Independent && end < len(steps) && steps[end].Independent {
			end++
		}

		batch := make([]models.ActionRecord, end-start)
		var firstErr error

		if end-start == 1 {
			batch[0], firstErr = dispatchStep(ctx, d, steps[start])
		} else {
			var wg sync.WaitGroup
			var mu sync.Mutex
			sem := make(chan struct{}, maxParallel)
			for i := start; i < end; i++ {
				wg.Add(1)
				go func(slot int, step models.PlanStep) {
					defer wg.Done()
					sem <- struct{}{}
					defer func() { <-sem }()

					rec, err := dispatchStep(ctx, d, step)
					mu.Lock()
					batch[slot] = rec
					if err != nil && firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}(i-start, steps[i])
			}
			wg.Wait()
		}

		// Errored slots stay zero valued and are skipped; batch order is
		// the declared step order regardless of completion order.
		for _, rec := range batch {
			if rec.Call.Tool != "" {
				records = append(records, rec)
			}
		}
		if firstErr != nil {
			return records, firstErr
		}
		start = end
	}

	return records, nil
}

func dispatchStep(ctx context.Context, d Dispatcher, step models.PlanStep) (models.ActionRecord, error) {
	call := models.ToolCall{
		ServerHint: step.Server,
		Tool:       step.Tool,
		Args:       step.Args,
	}
	result, err := d.Dispatch(ctx, call)
	if err != nil {
		return models.ActionRecord{}, err
	}
	return models.ActionRecord{Call: call, Result: *result}, nil
}

// dispatchBridge adapts a Dispatcher to the agent loop's tool-use callback,
// recording every call on the report as it happens. The loop invokes it
// sequentially, so the slice append needs no locking.
func dispatchBridge(d Dispatcher, actions *[]models.ActionRecord) api.DispatchFunc {
	return func(ctx context.Context, name string, input json.RawMessage) (string, bool) {
		var args map[string]any
		if len(input) > 0 {
			if err := json.Unmarshal(input, &args); err != nil {
				return fmt.Sprintf("invalid tool arguments: %v", err), true
			}
		}

		call := models.ToolCall{Tool: name, Args: args}
		result, err := d.Dispatch(ctx, call)
		if err != nil {
			return err.Error(), true
		}

		*actions = append(*actions, models.ActionRecord{Call: call, Result: *result})
		if !result.Success {
			msg := result.Payload
			if msg == "" {
				msg = string(result.ErrorKind)
			}
			return msg, true
		}
		return result.Payload, false
	}
}
