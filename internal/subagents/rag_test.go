package subagents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfuse/internal/retriever"
)

type fakeRecaller struct {
	lastOpts retriever.Options
	items    []retriever.Item
	err      error
}

func (f *fakeRecaller) Retrieve(_ context.Context, opts retriever.Options) ([]retriever.Item, error) {
	f.lastOpts = opts
	return f.items, f.err
}

func TestRAGQueryTool_ReturnsFusedItems(t *testing.T) {
	recaller := &fakeRecaller{items: []retriever.Item{
		{Kind: retriever.KindFact, Content: "the deploy window is Tuesdays", Score: 0.9, Origin: "fact-1"},
	}}
	tool := NewRAGQueryTool(recaller, 8)

	out, err := tool.Execute(context.Background(), map[string]any{"query": "deploy window", "session_id": "sess-1"})

	require.NoError(t, err)
	m := out.(map[string]any)
	assert.True(t, m["ok"].(bool))
	items := m["items"].([]map[string]any)
	require.Len(t, items, 1)
	assert.Equal(t, "fact", items[0]["kind"])
	assert.Equal(t, "sess-1", recaller.lastOpts.SessionID)
	assert.True(t, recaller.lastOpts.PreferSession)
}

func TestRAGQueryTool_MissingQueryIsError(t *testing.T) {
	tool := NewRAGQueryTool(&fakeRecaller{}, 8)

	_, err := tool.Execute(context.Background(), map[string]any{})

	assert.Error(t, err)
}

func TestRAGQueryTool_RecallErrorSurfacesAsOkFalse(t *testing.T) {
	recaller := &fakeRecaller{err: errors.New("qdrant unavailable")}
	tool := NewRAGQueryTool(recaller, 8)

	out, err := tool.Execute(context.Background(), map[string]any{"query": "x"})

	require.NoError(t, err)
	m := out.(map[string]any)
	assert.False(t, m["ok"].(bool))
	assert.Contains(t, m["error"], "qdrant unavailable")
}

func TestRAGQueryTool_Describe_NamesToolRagQuery(t *testing.T) {
	tool := NewRAGQueryTool(&fakeRecaller{}, 8)

	assert.Equal(t, "rag_query", tool.Describe().Name)
}
