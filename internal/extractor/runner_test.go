package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfuse/internal/store"
)

func TestParseRoundIDs_ParsesDecimalStrings(t *testing.T) {
	ids, err := parseRoundIDs([]string{"1", "2", "10"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 10}, ids)
}

func TestParseRoundIDs_RejectsNonNumeric(t *testing.T) {
	_, err := parseRoundIDs([]string{"abc"})
	assert.Error(t, err)
}

func TestParseRoundIDs_RejectsEmpty(t *testing.T) {
	_, err := parseRoundIDs(nil)
	assert.Error(t, err)
}

func TestMaxRound_ReturnsLargest(t *testing.T) {
	assert.Equal(t, 10, maxRound([]int{3, 10, 1}))
	assert.Equal(t, 5, maxRound([]int{5}))
}

func TestValidFactType_AcceptsTheFourKinds(t *testing.T) {
	for _, k := range []string{"Fact", "Decision", "Assumption", "UserPreference"} {
		assert.True(t, validFactType(k), k)
	}
	assert.False(t, validFactType("Opinion"))
	assert.False(t, validFactType(""))
}

func TestFormatTranscript_IncludesRoundAndSpeaker(t *testing.T) {
	turns := []store.Turn{
		{RoundID: 1, Speaker: store.SpeakerUser, Content: "What's the deploy window?"},
		{RoundID: 1, Speaker: store.SpeakerAssistant, Content: "Fridays 2-4pm UTC."},
	}
	got := formatTranscript(turns)
	assert.Contains(t, got, "[round 1] user: What's the deploy window?")
	assert.Contains(t, got, "[round 1] assistant: Fridays 2-4pm UTC.")
}

func TestFormatKnownFacts_EmptyListSaysNone(t *testing.T) {
	assert.Contains(t, formatKnownFacts(nil), "none yet")
}

func TestFormatKnownFacts_ListsEachFactWithType(t *testing.T) {
	facts := []store.Fact{
		{Type: store.FactKindDecision, Content: "Deploys happen on Fridays."},
	}
	got := formatKnownFacts(facts)
	assert.Contains(t, got, "(Decision) Deploys happen on Fridays.")
}
