package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"memfuse/internal/agent"
	"memfuse/internal/store"
)

// distill is the Workflow distillation step: arguments in a successful
// plan that equal the goal text are replaced by the goal placeholder
// (other concrete arguments are kept as they are; step-output placeholders
// appear only where the plan already carried them), then the template is upserted into M3
// keyed by the goal's trigger embedding. Identity isn't strict equality —
// a template whose trigger embedding is already within distillThreshold of
// an existing workflow overwrites it rather than creating a near-duplicate.
func (o *Orchestrator) distill(ctx context.Context, goal string, goalEmbedding []float32, plan []agent.Step) (string, error) {
	template := templatize(plan, goal)
	raw, err := json.Marshal(template)
	if err != nil {
		return "", fmt.Errorf("distill: marshal template: %w", err)
	}

	workflowID := uuid.NewString()
	if existing, score, ok, err := o.store.MatchWorkflow(ctx, goalEmbedding); err == nil && ok && score >= o.distillThreshold {
		workflowID = existing.WorkflowID
	}

	wf := store.Workflow{
		WorkflowID:         workflowID,
		TriggerPattern:     keywordPattern(goal),
		SuccessfulWorkflow: raw,
	}
	saved, err := o.store.SaveWorkflow(ctx, wf, goalEmbedding)
	if err != nil {
		return "", fmt.Errorf("distill: save workflow: %w", err)
	}
	return saved.WorkflowID, nil
}

// templatize replaces any step arg that is exactly the goal text with the
// goal placeholder, and any arg naming a step id's output slot is left
// untouched (the plan already carries those placeholders from planning,
// since a plan references prior steps by id before they've run).
func templatize(plan []agent.Step, goal string) []agent.Step {
	out := make([]agent.Step, len(plan))
	for i, s := range plan {
		out[i] = s
		if s.Args == nil {
			continue
		}
		args := make(map[string]any, len(s.Args))
		for k, v := range s.Args {
			if str, ok := v.(string); ok && str == goal {
				args[k] = goalSlot
				continue
			}
			args[k] = v
		}
		out[i].Args = args
	}
	return out
}

// keywordPattern extracts a coarse trigger pattern from the goal text:
// the first six words of five or more characters, in goal order,
// lower-cased, space-joined — enough to gate fast-path
// reuse to goals that are also lexically similar, not just embedding-close.
func keywordPattern(goal string) string {
	fields := strings.Fields(strings.ToLower(goal))
	var kept []string
	for _, f := range fields {
		if len(f) >= 5 {
			kept = append(kept, f)
		}
	}
	if len(kept) > 6 {
		kept = kept[:6]
	}
	return strings.Join(kept, " ")
}
