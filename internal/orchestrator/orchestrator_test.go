package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfuse/internal/agent"
	"memfuse/internal/store"
)

func TestRun_PlansAndExecutesThenDistillsOnSuccess(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register("rag_query", &fakeTool{output: "the answer"})
	planner := &fakePlanner{steps: []agent.Step{
		{ID: "1", Tool: "rag_query", Args: map[string]any{"query": "what is the deploy window?"}},
	}}
	st := &fakeWorkflowStore{matchOK: false}
	o := newTestOrchestrator(reg, st, planner)

	result, err := o.Run(context.Background(), Request{SessionID: "s1", Goal: "what is the deploy window?"})

	require.NoError(t, err)
	assert.False(t, result.FastPath)
	assert.NotEmpty(t, result.WorkflowID)
	require.NotNil(t, st.savedWorkflow.SuccessfulWorkflow)

	var template []agent.Step
	require.NoError(t, json.Unmarshal(st.savedWorkflow.SuccessfulWorkflow, &template))
	assert.Equal(t, goalSlot, template[0].Args["query"])
	require.Len(t, st.appendedTurns, 1)
	assert.Equal(t, store.SpeakerAssistant, st.appendedTurns[0].Speaker)
}

func TestRun_TakesFastPathWhenWorkflowMatchesAboveThreshold(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register("rag_query", &fakeTool{output: "reused answer"})
	template, _ := json.Marshal([]agent.Step{
		{ID: "1", Tool: "rag_query", Args: map[string]any{"query": goalSlot}},
	})
	st := &fakeWorkflowStore{
		matchOK:    true,
		matchScore: 0.95,
		matched:    store.Workflow{WorkflowID: "wf-1", SuccessfulWorkflow: template},
	}
	planner := &fakePlanner{err: errBoom} // should never be consulted
	o := newTestOrchestrator(reg, st, planner)

	result, err := o.Run(context.Background(), Request{SessionID: "s1", Goal: "what is the deploy window?"})

	require.NoError(t, err)
	assert.True(t, result.FastPath)
	assert.Equal(t, "wf-1", result.WorkflowID)
	assert.Equal(t, []string{"wf-1"}, st.reuseCalls)
}

func TestRun_FallsBackToPlanningWhenMatchBelowThreshold(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register("rag_query", &fakeTool{output: "planned answer"})
	st := &fakeWorkflowStore{
		matchOK:    true,
		matchScore: 0.5, // below reuseThreshold
		matched:    store.Workflow{WorkflowID: "wf-low"},
	}
	planner := &fakePlanner{steps: []agent.Step{{ID: "1", Tool: "rag_query"}}}
	o := newTestOrchestrator(reg, st, planner)

	result, err := o.Run(context.Background(), Request{SessionID: "s1", Goal: "goal text"})

	require.NoError(t, err)
	assert.False(t, result.FastPath)
	assert.Empty(t, st.reuseCalls)
}

func TestRun_RecordsFailureLessonWhenExecutionFails(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register("rag_query", &fakeTool{err: errBoom})
	planner := &fakePlanner{steps: []agent.Step{{ID: "1", Tool: "rag_query"}}}
	st := &fakeWorkflowStore{}
	o := New(planner, reg, st, testEmbedCfg(), llmCfgPointingNowhere(), 0.9, 0.97, 1)
	o.embedder = fakeEmbedder{}

	_, err := o.Run(context.Background(), Request{SessionID: "s1", Goal: "goal that fails"})

	require.Error(t, err)
	require.NotNil(t, st.recordedLesson)
	assert.Equal(t, store.LessonFail, st.recordedLesson.Status)
	assert.Equal(t, "goal that fails", st.recordedLesson.GoalText)
}

func TestRun_RejectsPlanWithUnknownSubagentAndCannotRepairWithoutLiveClient(t *testing.T) {
	reg := agent.NewRegistry() // empty: no subagents registered
	planner := &fakePlanner{steps: []agent.Step{{ID: "1", Tool: "no_such_agent"}}}
	st := &fakeWorkflowStore{}
	o := New(planner, reg, st, testEmbedCfg(), llmCfgPointingNowhere(), 0.9, 0.97, 1)
	o.embedder = fakeEmbedder{}

	_, err := o.Run(context.Background(), Request{SessionID: "s1", Goal: "goal"})

	assert.Error(t, err)
}
