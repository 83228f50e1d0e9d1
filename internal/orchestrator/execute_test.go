package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfuse/internal/agent"
)

func TestExecute_RunsPureLLMStepWithoutRegistry(t *testing.T) {
	reg := agent.NewRegistry()
	o := newTestOrchestrator(reg, &fakeWorkflowStore{}, &fakePlanner{})
	plan := []agent.Step{{ID: "1", Description: "summarize", Tool: ""}}

	results, output, err := o.execute(context.Background(), Request{}, plan, nil)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, output, "summarize")
}

func TestExecute_PassesPriorStepOutputThroughNamedSlot(t *testing.T) {
	tool := &fakeTool{output: "step-two ran"}
	reg := agent.NewRegistry()
	reg.Register("echo", tool)
	o := newTestOrchestrator(reg, &fakeWorkflowStore{}, &fakePlanner{})

	plan := []agent.Step{
		{ID: "1", Tool: ""},
		{ID: "2", Tool: "echo", Args: map[string]any{"prior": stepOutputSlot("1")}},
	}

	results, _, err := o.execute(context.Background(), Request{SessionID: "s1"}, plan, nil)

	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Len(t, tool.calls, 1)
	gotArgs := tool.calls[0][0]
	assert.Contains(t, gotArgs["prior"], "LLM-answer")
}

func TestExecute_CallsOnStepForEveryStep(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register("echo", &fakeTool{output: "ok"})
	o := newTestOrchestrator(reg, &fakeWorkflowStore{}, &fakePlanner{})

	var seen []string
	plan := []agent.Step{{ID: "1", Tool: "echo"}}

	_, _, err := o.execute(context.Background(), Request{OnStep: func(sr StepResult) {
		seen = append(seen, sr.Step.ID)
	}}, plan, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, seen)
}

func TestExecute_InjectsSessionAndUserIDIntoToolArgs(t *testing.T) {
	tool := &fakeTool{output: "ok"}
	reg := agent.NewRegistry()
	reg.Register("echo", tool)
	o := newTestOrchestrator(reg, &fakeWorkflowStore{}, &fakePlanner{})

	_, _, err := o.execute(context.Background(), Request{SessionID: "sess-9", UserID: "user-1"}, []agent.Step{{ID: "1", Tool: "echo"}}, nil)

	require.NoError(t, err)
	require.Len(t, tool.calls, 1)
	assert.Equal(t, "sess-9", tool.calls[0][0]["__session_id"])
	assert.Equal(t, "user-1", tool.calls[0][0]["__user_id"])
}

func TestExecute_FailsTaskAfterExhaustingStepRetriesWithNoRepairableClient(t *testing.T) {
	tool := &fakeTool{err: errBoom}
	reg := agent.NewRegistry()
	reg.Register("echo", tool)
	// Point the repair client at an unreachable endpoint so repairParams
	// itself errors quickly instead of retrying successfully.
	o := New(&fakePlanner{}, reg, &fakeWorkflowStore{}, testEmbedCfg(), llmCfgPointingNowhere(), 0.9, 0.97, 1)
	o.embedder = fakeEmbedder{}

	_, _, err := o.execute(context.Background(), Request{}, []agent.Step{{ID: "1", Tool: "echo"}}, nil)

	assert.Error(t, err)
}
