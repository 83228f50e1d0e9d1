package retriever

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeywordTokens_FiltersStopwordsAndPunctuation(t *testing.T) {
	tokens := keywordTokens("Why did we choose Plan B?")
	assert.NotContains(t, tokens, "why")
	assert.NotContains(t, tokens, "did")
	assert.NotContains(t, tokens, "we")
	assert.Contains(t, tokens, "choose")
	assert.Contains(t, tokens, "plan")
	assert.Contains(t, tokens, "b")
}

func TestFuse_SortsByScoreDescending(t *testing.T) {
	streams := [][]Item{
		{{Kind: KindChunk, Content: "low score item", Score: 0.2, Origin: "c1"}},
		{{Kind: KindFact, Content: "high score item", Score: 0.9, Origin: "f1"}},
	}
	out := fuse(streams, 10)
	assert.Len(t, out, 2)
	assert.Equal(t, "high score item", out[0].Content)
	assert.Equal(t, "low score item", out[1].Content)
}

func TestFuse_DedupesByContentHash(t *testing.T) {
	streams := [][]Item{
		{{Kind: KindChunk, Content: "Plan B was rejected.", Score: 0.8, Origin: "c1"}},
		{{Kind: KindFact, Content: "Plan   B   was rejected.", Score: 0.6, Origin: "f1"}},
	}
	out := fuse(streams, 10)
	assert.Len(t, out, 1)
	assert.Equal(t, 0.8, out[0].Score)
}

func TestFuse_BreaksScoreTiesByRecency(t *testing.T) {
	now := time.Now()
	streams := [][]Item{
		{{Kind: KindChunk, Content: "older", Score: 0.5, Origin: "c1", CreatedAt: now.Add(-time.Hour)}},
		{{Kind: KindFact, Content: "newer", Score: 0.5, Origin: "f1", CreatedAt: now}},
	}
	out := fuse(streams, 10)
	assert.Len(t, out, 2)
	assert.Equal(t, "newer", out[0].Content)
	assert.Equal(t, "older", out[1].Content)
}

func TestFuse_CapsAtTopK(t *testing.T) {
	streams := [][]Item{
		{
			{Kind: KindChunk, Content: "a", Score: 0.9, Origin: "1"},
			{Kind: KindChunk, Content: "b", Score: 0.8, Origin: "2"},
			{Kind: KindChunk, Content: "c", Score: 0.7, Origin: "3"},
		},
	}
	out := fuse(streams, 2)
	assert.Len(t, out, 2)
}
