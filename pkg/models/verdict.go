package models

// Decision is a Verifier's judgement on an execution result.
type Decision string

const (
	// DecisionApprove indicates the goal was achieved.
	DecisionApprove Decision = "approve"
	// DecisionReject indicates the result does not satisfy the goal.
	DecisionReject Decision = "reject"
	// DecisionNeedMoreInfo indicates the verifier could not judge the result.
	DecisionNeedMoreInfo Decision = "need_more_info"
)

// Valid returns true if the decision is a known value.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionNeedMoreInfo:
		return true
	default:
		return false
	}
}

const (
	// VerdictSourceVerifier marks verdicts produced by the verifier agent.
	VerdictSourceVerifier = "verifier"
	// VerdictSourceHuman marks verdicts supplied through operator feedback.
	VerdictSourceHuman = "human"
)

// Verdict is the outcome of verifying one execution attempt.
type Verdict struct {
	// Decision is the judgement.
	Decision Decision `json:"decision"`
	// Rationale explains the decision. Required for reject.
	Rationale string `json:"rationale,omitempty"`
	// Remediation suggests how to fix a rejected attempt.
	Remediation string `json:"remediation,omitempty"`
	// Source says who produced the verdict, "verifier" or "human".
	Source string `json:"source,omitempty"`
}

// ActionRecord pairs one tool call with its result.
type ActionRecord struct {
	// Call is the invocation that was issued.
	Call ToolCall `json:"call"`
	// Result is the normalized outcome.
	Result ToolResult `json:"result"`
}

// ExecutionReport is everything an Executor did for one attempt.
type ExecutionReport struct {
	// Strategy is the approach that was executed.
	Strategy string `json:"strategy,omitempty"`
	// Actions are the tool calls issued, in completion order.
	Actions []ActionRecord `json:"actions,omitempty"`
	// Output is the executor's summary of what happened.
	Output string `json:"output,omitempty"`
	// Failed is true if the attempt could not complete.
	Failed bool `json:"failed,omitempty"`
}
