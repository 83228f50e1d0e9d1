package agent

import (
	"context"
	"fmt"
)

// LLMCritic inspects the most recent interaction and proposes a revised step
// when it failed. It is a heuristic critic: it does not itself call a model,
// it classifies the failure and proposes a generic retry or parameter nudge.
// Orchestrator-level repair (which does call the model to rewrite arguments)
// builds on top of this as the cheap first pass.
type LLMCritic struct {
	SystemTpl string
}

func NewLLMCritic() *LLMCritic {
	return &LLMCritic{
		SystemTpl: `You are a Critic for an AI agent.
Analyze the following execution trace and determine if any steps should be revised.
If a step failed, suggest a fix. Return your analysis as a JSON object with:
- action: "approve" or "revise"
- fix: a new Step object if action is "revise", otherwise null
- reason: a string explaining your decision`,
	}
}

func (c *LLMCritic) Critique(_ context.Context, trace []Interaction) (Critique, error) {
	if len(trace) == 0 {
		return Critique{Action: "approve", Reason: "empty trace"}, nil
	}
	last := trace[len(trace)-1]
	if last.Observation.Err == nil {
		return Critique{Action: "approve", Reason: "all steps executed successfully"}, nil
	}

	fixedStep := last.Step
	return Critique{
		Action: "revise",
		Fix:    &fixedStep,
		Reason: fmt.Sprintf("step %q failed: %v; retry with repaired arguments", fixedStep.Tool, last.Observation.Err),
	}, nil
}
