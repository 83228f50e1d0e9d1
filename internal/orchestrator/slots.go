package orchestrator

import (
	"fmt"
	"strings"
)

// goalSlot is the placeholder a distilled workflow template uses in place
// of the concrete goal text a plan was originally generated for.
const goalSlot = "{{goal}}"

// stepOutputSlot is the placeholder referring to a prior step's output,
// by that step's plan-local id — the "named slot the plan references"
// each step's output is written into.
func stepOutputSlot(stepID string) string {
	return fmt.Sprintf("{{step:%s.output}}", stepID)
}

// resolveStepSlots replaces any stepOutputSlot placeholders in args with
// the stringified output already produced by that earlier step in this
// same execution, so a later step can consume an earlier one's result.
func resolveStepSlots(args map[string]any, outputs map[string]string) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		resolved := s
		for id, val := range outputs {
			resolved = strings.ReplaceAll(resolved, stepOutputSlot(id), val)
		}
		out[k] = resolved
	}
	return out
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
