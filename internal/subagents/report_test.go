package subagents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfuse/internal/llm"
)

type fakeChatProvider struct {
	lastMessages []llm.Message
	reply        string
	err          error
}

func (f *fakeChatProvider) Chat(_ context.Context, msgs []llm.Message, _ []llm.ToolSchema, _ string) (llm.Message, error) {
	f.lastMessages = msgs
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return llm.Message{Role: "assistant", Content: f.reply}, nil
}

func (f *fakeChatProvider) ChatStream(context.Context, []llm.Message, []llm.ToolSchema, string, llm.StreamHandler) error {
	return nil
}

func TestReportGenTool_ComposesReportFromFindings(t *testing.T) {
	provider := &fakeChatProvider{reply: "# Report\nAll systems nominal."}
	tool := NewReportGenTool(provider, "test-model")

	out, err := tool.Execute(context.Background(), map[string]any{
		"title":    "Weekly status",
		"findings": []any{"deploy succeeded", "no incidents"},
	})

	require.NoError(t, err)
	m := out.(map[string]any)
	assert.True(t, m["ok"].(bool))
	assert.Equal(t, "# Report\nAll systems nominal.", m["report"])
	require.Len(t, provider.lastMessages, 2)
	assert.Contains(t, provider.lastMessages[1].Content, "deploy succeeded")
}

func TestReportGenTool_MissingTitleIsError(t *testing.T) {
	tool := NewReportGenTool(&fakeChatProvider{}, "m")

	_, err := tool.Execute(context.Background(), map[string]any{"findings": []any{"x"}})

	assert.Error(t, err)
}

func TestReportGenTool_MalformedFindingsIsError(t *testing.T) {
	tool := NewReportGenTool(&fakeChatProvider{}, "m")

	_, err := tool.Execute(context.Background(), map[string]any{"title": "t", "findings": "not a list"})

	assert.Error(t, err)
}

func TestReportGenTool_ChatErrorSurfacesAsOkFalse(t *testing.T) {
	provider := &fakeChatProvider{err: errors.New("rate limited")}
	tool := NewReportGenTool(provider, "m")

	out, err := tool.Execute(context.Background(), map[string]any{"title": "t", "findings": []any{"x"}})

	require.NoError(t, err)
	m := out.(map[string]any)
	assert.False(t, m["ok"].(bool))
}
