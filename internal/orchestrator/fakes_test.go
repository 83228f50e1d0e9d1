package orchestrator

import (
	"context"
	"fmt"

	"memfuse/internal/agent"
	"memfuse/internal/config"
	"memfuse/internal/store"
)

func testEmbedCfg() config.EmbeddingConfig { return config.EmbeddingConfig{Dimension: 4} }

func testLLMCfg() config.LLMConfig { return config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini"} }

// llmCfgPointingNowhere routes the repair client at a port nothing listens
// on, so a repair attempt fails fast with a connection error instead of
// hanging or reaching a real API.
func llmCfgPointingNowhere() config.LLMConfig {
	return config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini", BaseURL: "http://127.0.0.1:1"}
}

type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		dim := f.dim
		if dim == 0 {
			dim = 4
		}
		out[i] = make([]float32, dim)
	}
	return out, nil
}

type fakePlanner struct {
	steps []agent.Step
	err   error
}

func (p *fakePlanner) Plan(_ context.Context, _ string, _ []agent.MemoryItem) ([]agent.Step, error) {
	return p.steps, p.err
}

type fakeTool struct {
	output any
	err    error
	calls  [][]map[string]any
}

func (t *fakeTool) Describe() agent.ToolSpec { return agent.ToolSpec{Description: "fake tool"} }

func (t *fakeTool) Execute(_ context.Context, args map[string]any) (any, error) {
	t.calls = append(t.calls, []map[string]any{args})
	if t.err != nil {
		return nil, t.err
	}
	return t.output, nil
}

type fakeWorkflowStore struct {
	matched        store.Workflow
	matchScore     float64
	matchOK        bool
	matchErr       error
	savedWorkflow  store.Workflow
	reuseCalls     []string
	recordedLesson *store.Lesson
	lessons        []store.Lesson
	appendedTurns  []store.Turn
}

func (s *fakeWorkflowStore) MatchWorkflow(_ context.Context, _ []float32) (store.Workflow, float64, bool, error) {
	return s.matched, s.matchScore, s.matchOK, s.matchErr
}

func (s *fakeWorkflowStore) RecordWorkflowReuse(_ context.Context, workflowID string) error {
	s.reuseCalls = append(s.reuseCalls, workflowID)
	return nil
}

func (s *fakeWorkflowStore) SaveWorkflow(_ context.Context, w store.Workflow, _ []float32) (store.Workflow, error) {
	if w.WorkflowID == "" {
		w.WorkflowID = "generated-workflow-id"
	}
	s.savedWorkflow = w
	return w, nil
}

func (s *fakeWorkflowStore) RecordLesson(_ context.Context, l store.Lesson, _ []float32) (store.Lesson, error) {
	s.recordedLesson = &l
	return l, nil
}

func (s *fakeWorkflowStore) RelevantLessons(_ context.Context, _ string, _ []float32, _ int) ([]store.Lesson, error) {
	return s.lessons, nil
}

func (s *fakeWorkflowStore) AppendTurn(_ context.Context, sessionID string, speaker store.Speaker, content, tenant string) (store.Turn, error) {
	turn := store.Turn{SessionID: sessionID, Speaker: speaker, Content: content, Tenant: tenant}
	s.appendedTurns = append(s.appendedTurns, turn)
	return turn, nil
}

var errBoom = fmt.Errorf("boom")
