package contextctl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfuse/internal/retriever"
	"memfuse/internal/store"
)

func TestCompose_OrdersSystemHistoryRecallUser(t *testing.T) {
	c := New(nil)
	turns := []store.Turn{
		{SessionID: "s", RoundID: 0, Speaker: store.SpeakerUser, Content: "hi"},
		{SessionID: "s", RoundID: 0, Speaker: store.SpeakerAssistant, Content: "hello"},
	}
	recalled := []retriever.Item{
		{Kind: retriever.KindFact, Content: "Plan B was rejected because of cost overruns.", Score: 0.9},
	}

	msgs, err := c.Compose(context.Background(), "be terse", "why did we reject plan B?", turns, recalled, Budgets{
		UserInputMaxTokens:    1000,
		HistoryMaxTokens:      1000,
		TotalContextMaxTokens: 10000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "user", msgs[len(msgs)-1].Role)
	assert.Contains(t, msgs[len(msgs)-1].Content, "plan B")
}

func TestCompose_DropsPartialHistoryTurnsWhole(t *testing.T) {
	c := New(nil)
	turns := []store.Turn{
		{SessionID: "s", RoundID: 0, Speaker: store.SpeakerUser, Content: "short"},
		{SessionID: "s", RoundID: 1, Speaker: store.SpeakerUser, Content: "this is a much longer turn that should not fit"},
	}

	msgs, err := c.Compose(context.Background(), "sys", "query", turns, nil, Budgets{
		UserInputMaxTokens:    1000,
		HistoryMaxTokens:      2, // only room for the shortest turn
		TotalContextMaxTokens: 10000,
	})
	require.NoError(t, err)

	var historyContents []string
	for _, m := range msgs {
		if m.Role == "user" && m.Content != "query" {
			historyContents = append(historyContents, m.Content)
		}
	}
	for _, c := range historyContents {
		assert.NotContains(t, c, "much longer")
	}
}

func TestCompose_TotalBudgetNeverDropsSystemOrQuery(t *testing.T) {
	c := New(nil)
	turns := []store.Turn{
		{SessionID: "s", RoundID: 0, Speaker: store.SpeakerUser, Content: "turn one"},
	}
	recalled := []retriever.Item{
		{Kind: retriever.KindChunk, Content: "low relevance recalled passage", Score: 0.1},
	}

	msgs, err := c.Compose(context.Background(), "sys", "query", turns, recalled, Budgets{
		UserInputMaxTokens:    1000,
		HistoryMaxTokens:      1000,
		TotalContextMaxTokens: 1, // forces aggressive trimming
	})
	require.NoError(t, err)
	// system and user are never dropped
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "query", msgs[len(msgs)-1].Content)
}
