package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"memfuse/internal/config"
	"memfuse/internal/embedding"
	"memfuse/internal/queue"
	"memfuse/internal/store"
)

// extractionSystemPrompt mirrors the planner's strict JSON-object contract:
// no prose, no markdown fences, just the documented schema.
const extractionSystemPrompt = `You are the Extractor. Read a conversation excerpt and the session's already-known facts below it, then propose new structured memory candidates.

Return ONLY a JSON object: {"candidates": [...]}. Each candidate has:
- type: one of "Fact", "Decision", "Assumption", "UserPreference"
- content: a single self-contained statement, no pronouns referring outside itself
- relations: an object (may be empty)
- confidence: a number from 0 to 1
- contradicts: a short description of the prior fact this supersedes, or "" if none

Only propose a candidate when it adds information not already covered by the known facts. Do not repeat a known fact verbatim.`

// Runner implements queue.Runner: it loads a job's target rounds, asks the
// configured language model for candidate facts, clusters and dedups them,
// and commits survivors through store.ApplyExtraction.
type Runner struct {
	store               *store.Store
	llm                 *openai.Client
	model               string
	embedder            textEmbedder
	contextFacts        int
	dedupThreshold      float64
	contradictThreshold float64
}

// NewRunner builds a Runner against an OpenAI-compatible JSON-mode endpoint,
// independent of whichever llm.Provider backs the main chat loop, since
// structured extraction output benefits from a strict response_format
// contract not every provider adapter exposes uniformly.
func NewRunner(st *store.Store, embedCfg config.EmbeddingConfig, llmCfg config.LLMConfig, contextFacts int, dedupThreshold, contradictThreshold float64) *Runner {
	cfg := openai.DefaultConfig(llmCfg.APIKey)
	if llmCfg.BaseURL != "" {
		cfg.BaseURL = llmCfg.BaseURL
	}
	model := llmCfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	if contextFacts <= 0 {
		contextFacts = 8
	}
	return &Runner{
		store:               st,
		llm:                 openai.NewClientWithConfig(cfg),
		model:               model,
		embedder:            httpEmbedder{cfg: embedCfg},
		contextFacts:        contextFacts,
		dedupThreshold:      dedupThreshold,
		contradictThreshold: contradictThreshold,
	}
}

// httpEmbedder adapts the package-level embedding.EmbedText function to the
// textEmbedder interface so Runner can be constructed with a fake in tests.
type httpEmbedder struct{ cfg config.EmbeddingConfig }

func (e httpEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return embedding.EmbedText(ctx, e.cfg, inputs)
}

// Run satisfies queue.Runner. It is the extraction job protocol: load
// rounds, recall nearby facts, ask the model, cluster, dedup, insert.
func (r *Runner) Run(ctx context.Context, job queue.ExtractionJob) (int, error) {
	roundIDs, err := parseRoundIDs(job.RoundIDs)
	if err != nil {
		return 0, fmt.Errorf("extractor: %w", err)
	}
	turns, err := r.store.TurnsForRounds(ctx, job.SessionID, roundIDs)
	if err != nil {
		return 0, fmt.Errorf("extractor: load turns: %w", err)
	}
	if len(turns) == 0 {
		return 0, nil
	}
	transcript := formatTranscript(turns)

	transcriptEmbedding, err := r.embedder.Embed(ctx, []string{transcript})
	if err != nil {
		return 0, fmt.Errorf("extractor: embed transcript: %w", err)
	}

	knownFacts, _, err := r.store.SearchFactsByVector(ctx, transcriptEmbedding[0], job.SessionID, r.contextFacts, false)
	if err != nil {
		return 0, fmt.Errorf("extractor: recall known facts: %w", err)
	}

	candidates, err := r.proposeCandidates(ctx, transcript, knownFacts)
	if err != nil {
		return 0, fmt.Errorf("extractor: propose candidates: %w", err)
	}
	if len(candidates) == 0 {
		lastRound := maxRound(roundIDs)
		if _, err := r.store.ApplyExtraction(ctx, job.SessionID, lastRound, nil, r.dedupThreshold, r.contradictThreshold); err != nil {
			return 0, fmt.Errorf("extractor: advance progress marker: %w", err)
		}
		return 0, nil
	}

	contents := make([]string, len(candidates))
	for i, c := range candidates {
		contents[i] = c.Content
	}
	embeddings, err := r.embedder.Embed(ctx, contents)
	if err != nil {
		return 0, fmt.Errorf("extractor: embed candidates: %w", err)
	}

	confidences := make([]float64, len(candidates))
	for i, c := range candidates {
		confidences[i] = c.Confidence
	}
	survivorIdx := clusterSurvivors(embeddings, confidences, r.dedupThreshold)

	lastRound := maxRound(roundIDs)
	candidateFacts := make([]store.CandidateFact, 0, len(survivorIdx))
	for _, idx := range survivorIdx {
		c := candidates[idx]
		relations := c.Relations
		if relations == nil {
			relations = map[string]any{}
		}
		candidateFacts = append(candidateFacts, store.CandidateFact{
			Fact: store.Fact{
				FactID:        uuid.NewString(),
				SessionID:     job.SessionID,
				SourceRoundID: lastRound,
				Type:          store.FactType(c.Type),
				Content:       c.Content,
				Relations:     relations,
				Metadata:      map[string]any{"confidence": c.Confidence},
			},
			Embedding: embeddings[idx],
		})
	}

	return r.store.ApplyExtraction(ctx, job.SessionID, lastRound, candidateFacts, r.dedupThreshold, r.contradictThreshold)
}

func (r *Runner) proposeCandidates(ctx context.Context, transcript string, known []store.Fact) ([]candidate, error) {
	user := "Conversation excerpt:\n" + transcript + "\n\n" + formatKnownFacts(known)

	resp, err := r.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          r.model,
		Temperature:    0,
		MaxTokens:      1536,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty completion")
	}

	var batch candidateBatch
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &batch); err != nil {
		return nil, fmt.Errorf("malformed candidate JSON: %w", err)
	}

	out := batch.Candidates[:0]
	for _, c := range batch.Candidates {
		if !validFactType(c.Type) || strings.TrimSpace(c.Content) == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func validFactType(t string) bool {
	switch store.FactType(t) {
	case store.FactKindFact, store.FactKindDecision, store.FactKindAssumption, store.FactKindUserPreference:
		return true
	default:
		return false
	}
}

func formatTranscript(turns []store.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "[round %d] %s: %s\n", t.RoundID, t.Speaker, t.Content)
	}
	return b.String()
}

func formatKnownFacts(facts []store.Fact) string {
	if len(facts) == 0 {
		return "Known facts: (none yet)"
	}
	var b strings.Builder
	b.WriteString("Known facts:\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- (%s) %s\n", f.Type, f.Content)
	}
	return b.String()
}

func parseRoundIDs(raw []string) ([]int, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty round_ids")
	}
	out := make([]int, len(raw))
	for i, s := range raw {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid round id %q: %w", s, err)
		}
		out[i] = n
	}
	return out, nil
}

func maxRound(ids []int) int {
	m := ids[0]
	for _, n := range ids[1:] {
		if n > m {
			m = n
		}
	}
	return m
}
