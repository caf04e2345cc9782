package models

// PlanStep is one tool-call intent within a strategy.
type PlanStep struct {
	// Description says what the step is for.
	Description string `json:"description"`
	// Server hints at which tool server should handle the call.
	Server string `json:"server,omitempty"`
	// Tool is the name of the tool to invoke.
	Tool string `json:"tool"`
	// Args are the arguments for the tool call.
	Args map[string]any `json:"args,omitempty"`
	// Independent marks the step as safe to run concurrently with
	// adjacent independent steps. Dependent steps run in declared order.
	Independent bool `json:"independent,omitempty"`
}

// Plan is the strategy a Planner proposes for a single node.
type Plan struct {
	// Strategy is the chosen approach in prose.
	Strategy string `json:"strategy"`
	// Steps are the ordered tool-call intents that realize the strategy.
	Steps []PlanStep `json:"steps,omitempty"`
}
