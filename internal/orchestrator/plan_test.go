package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfuse/internal/agent"
)

func newTestOrchestrator(registry *agent.Registry, st WorkflowStore, planner agent.Planner) *Orchestrator {
	o := New(planner, registry, st, testEmbedCfg(), testLLMCfg(), 0.9, 0.97, 2)
	o.embedder = fakeEmbedder{}
	return o
}

func TestValidatePlan_AcceptsKnownSubagents(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register("rag_query", &fakeTool{})
	o := newTestOrchestrator(reg, &fakeWorkflowStore{}, &fakePlanner{})

	err := o.validatePlan([]agent.Step{{ID: "1", Tool: "rag_query"}})

	assert.NoError(t, err)
}

func TestValidatePlan_AllowsPureLLMStepWithNoTool(t *testing.T) {
	reg := agent.NewRegistry()
	o := newTestOrchestrator(reg, &fakeWorkflowStore{}, &fakePlanner{})

	err := o.validatePlan([]agent.Step{{ID: "1", Tool: ""}})

	assert.NoError(t, err)
}

func TestValidatePlan_RejectsUnknownSubagent(t *testing.T) {
	reg := agent.NewRegistry()
	o := newTestOrchestrator(reg, &fakeWorkflowStore{}, &fakePlanner{})

	err := o.validatePlan([]agent.Step{{ID: "1", Tool: "nonexistent"}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestValidatePlan_RejectsEmptyPlan(t *testing.T) {
	reg := agent.NewRegistry()
	o := newTestOrchestrator(reg, &fakeWorkflowStore{}, &fakePlanner{})

	err := o.validatePlan(nil)

	assert.Error(t, err)
}

func TestTriggerMatches_EmptyPatternAlwaysMatches(t *testing.T) {
	assert.True(t, triggerMatches("", "anything at all"))
}

func TestTriggerMatches_RequiresEveryKeyword(t *testing.T) {
	assert.True(t, triggerMatches("deploy friday window", "Schedule the deploy for the friday maintenance window please"))
	assert.False(t, triggerMatches("deploy friday window", "Schedule the deploy for tuesday"))
}

func TestKeywordPattern_KeepsOnlyLongWordsCappedAtSix(t *testing.T) {
	pattern := keywordPattern("Please schedule a deployment for the upcoming Friday maintenance window release")
	words := strings.Fields(pattern)
	assert.Len(t, words, 6) // eight words of five or more characters, capped at six
	assert.NotContains(t, pattern, "for") // short word filtered
}

func TestInstantiateTemplate_FillsGoalSlot(t *testing.T) {
	raw := []byte(`[{"ID":"1","Description":"answer","Tool":"","Args":{"query":"` + goalSlot + `"}}]`)

	steps, err := instantiateTemplate(raw, "what is the deploy window?")

	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "what is the deploy window?", steps[0].Args["query"])
}

func TestTemplatize_ReplacesExactGoalMatchesWithSlot(t *testing.T) {
	plan := []agent.Step{
		{ID: "1", Tool: "rag_query", Args: map[string]any{"query": "what is the deploy window?", "k": 5}},
	}

	out := templatize(plan, "what is the deploy window?")

	assert.Equal(t, goalSlot, out[0].Args["query"])
	assert.Equal(t, 5, out[0].Args["k"])
}
