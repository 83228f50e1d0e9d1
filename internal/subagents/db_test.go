package subagents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfuse/internal/store"
)

type fakeFactSearcher struct {
	facts  []store.Fact
	scores []float64
	err    error
}

func (f *fakeFactSearcher) SearchFactsByKeyword(_ context.Context, _ []string, _ string, _ int) ([]store.Fact, []float64, error) {
	return f.facts, f.scores, f.err
}

func TestDBQueryTool_ReturnsRows(t *testing.T) {
	searcher := &fakeFactSearcher{
		facts:  []store.Fact{{FactID: "f1", SessionID: "s1", Type: store.FactKindFact, Content: "the API key rotates monthly"}},
		scores: []float64{1.0},
	}
	tool := NewDBQueryTool(searcher, 8)

	out, err := tool.Execute(context.Background(), map[string]any{"query": "API key rotation"})

	require.NoError(t, err)
	m := out.(map[string]any)
	assert.True(t, m["ok"].(bool))
	rows := m["rows"].([]map[string]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "f1", rows[0]["fact_id"])
}

func TestDBQueryTool_EmptyTokensReturnsEmptyRows(t *testing.T) {
	tool := NewDBQueryTool(&fakeFactSearcher{}, 8)

	out, err := tool.Execute(context.Background(), map[string]any{"query": "the a of"})

	require.NoError(t, err)
	m := out.(map[string]any)
	assert.True(t, m["ok"].(bool))
	assert.Empty(t, m["rows"])
}

func TestDBQueryTool_MissingQueryIsError(t *testing.T) {
	tool := NewDBQueryTool(&fakeFactSearcher{}, 8)

	_, err := tool.Execute(context.Background(), map[string]any{})

	assert.Error(t, err)
}

func TestDBQueryTool_SearchErrorSurfacesAsOkFalse(t *testing.T) {
	searcher := &fakeFactSearcher{err: errors.New("postgres down")}
	tool := NewDBQueryTool(searcher, 8)

	out, err := tool.Execute(context.Background(), map[string]any{"query": "anything"})

	require.NoError(t, err)
	m := out.(map[string]any)
	assert.False(t, m["ok"].(bool))
}
