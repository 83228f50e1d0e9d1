package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"memfuse/internal/agent"
	"memfuse/internal/store"
)

// repairSystemPrompt asks the model to fix one malformed plan, returning
// the same strict JSON array contract agent.LLMPlanner already expects.
const repairSystemPrompt = `You are repairing an invalid task plan. You will be given the original goal, the rejected plan, and why it was rejected. Return ONLY a corrected JSON array in the same shape as before: each element has description (string), tool (string or null), args (object). Every non-null tool must be one of the available subagents listed.
Available subagents:
%s`

// reuseLookupOrPlan is the Reuse-Lookup state: a sufficiently similar prior
// workflow short-circuits planning onto the Fast-Path; otherwise the
// Planner produces a fresh plan, validated once with a repair attempt on
// failure per the plan-validation failure semantics.
func (o *Orchestrator) reuseLookupOrPlan(ctx context.Context, goal string, goalEmbedding []float32) ([]agent.Step, bool, string, error) {
	wf, score, ok, err := o.store.MatchWorkflow(ctx, goalEmbedding)
	if err != nil {
		return nil, false, "", fmt.Errorf("orchestrator: reuse lookup: %w", err)
	}
	if ok && score >= o.reuseThreshold && triggerMatches(wf.TriggerPattern, goal) {
		steps, err := instantiateTemplate(wf.SuccessfulWorkflow, goal)
		if err != nil {
			// A corrupt stored template falls back to planning rather than
			// failing the whole request.
			return o.planFresh(ctx, goal)
		}
		return steps, true, wf.WorkflowID, nil
	}
	steps, _, _, err := o.planFresh(ctx, goal)
	return steps, false, "", err
}

func (o *Orchestrator) planFresh(ctx context.Context, goal string) ([]agent.Step, bool, string, error) {
	var relMem []agent.MemoryItem
	if o.memory != nil {
		relMem, _ = o.memory.Recall(ctx, goal, recentStepMemoryWindow)
	}
	steps, err := o.planner.Plan(ctx, goal, relMem)
	if err != nil {
		return nil, false, "", fmt.Errorf("orchestrator: plan: %w", err)
	}
	if verr := o.validatePlan(steps); verr != nil {
		repaired, rerr := o.repairPlan(ctx, goal, steps, verr)
		if rerr != nil {
			return nil, false, "", fmt.Errorf("orchestrator: plan rejected twice: %w", verr)
		}
		if verr2 := o.validatePlan(repaired); verr2 != nil {
			return nil, false, "", fmt.Errorf("orchestrator: repaired plan still invalid: %w", verr2)
		}
		steps = repaired
	}
	return steps, false, "", nil
}

// validatePlan rejects a plan if any non-empty tool name isn't a
// registered subagent, per "Each agent_name must exist in the Subagent
// Registry."
func (o *Orchestrator) validatePlan(steps []agent.Step) error {
	if len(steps) == 0 {
		return newValidationError("empty plan")
	}
	known := make(map[string]struct{})
	for _, spec := range o.registry.Spec() {
		known[spec.Name] = struct{}{}
	}
	for _, s := range steps {
		if s.Tool == "" {
			continue
		}
		if _, ok := known[s.Tool]; !ok {
			return newValidationError(fmt.Sprintf("unknown subagent %q in step %q", s.Tool, s.ID))
		}
	}
	return nil
}

func (o *Orchestrator) repairPlan(ctx context.Context, goal string, rejected []agent.Step, reason error) ([]agent.Step, error) {
	sys := fmt.Sprintf(repairSystemPrompt, toJSON(o.registry.Spec()))
	user := fmt.Sprintf("Goal: %s\n\nRejected plan:\n%s\n\nRejection reason: %v", goal, toJSON(rejected), reason)

	resp, err := o.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          o.model,
		Temperature:    0,
		MaxTokens:      1024,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: sys},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repair plan: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("repair plan: empty completion")
	}
	var steps []agent.Step
	if err := json.Unmarshal([]byte(agent.UnwrapJSONArray(resp.Choices[0].Message.Content)), &steps); err != nil {
		return nil, fmt.Errorf("repair plan: malformed JSON: %w", err)
	}
	return steps, nil
}

// triggerMatches checks that every keyword in a workflow's stored trigger
// pattern appears somewhere in the new goal text, independent of order —
// the pattern is a bag of keywords extracted at distillation time, not a
// literal phrase.
func triggerMatches(pattern, goal string) bool {
	if pattern == "" {
		return true
	}
	for _, word := range strings.Fields(pattern) {
		if !containsFold(goal, word) {
			return false
		}
	}
	return true
}

// instantiateTemplate deserializes a distilled workflow's step template and
// fills its goal-text slot placeholder with the current goal, leaving
// prior-step-output slots for execute() to resolve at run time.
func instantiateTemplate(raw json.RawMessage, goal string) ([]agent.Step, error) {
	var steps []agent.Step
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, fmt.Errorf("instantiate template: %w", err)
	}
	for i := range steps {
		steps[i].Args = substituteGoalSlot(steps[i].Args, goal)
	}
	return steps, nil
}

func substituteGoalSlot(args map[string]any, goal string) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && s == goalSlot {
			out[k] = goal
			continue
		}
		out[k] = v
	}
	return out
}

func toJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// compile-time assertion that this package's narrowed store interface
// stays in sync with *store.Store's actual method set.
var _ WorkflowStore = (*store.Store)(nil)
