// Package retriever implements the fused, ranked recall across the
// session-scoped chunk index, structured facts, and procedural
// workflows that the context controller composes into a prompt.
package retriever

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"memfuse/internal/config"
	"memfuse/internal/embedding"
	"memfuse/internal/store"
)

// Kind distinguishes the origin subsystem of a recalled item.
type Kind string

const (
	KindChunk    Kind = "chunk"
	KindFact     Kind = "fact"
	KindWorkflow Kind = "workflow"
)

// Item is one fused, ranked recall result.
type Item struct {
	Kind      Kind
	Content   string
	Score     float64
	Origin    string // chunk/fact/workflow id
	CreatedAt time.Time
}

// factKeywordWeight is α in score = max(vector_score, α·keyword_score).
const factKeywordWeight = 0.7

// Options configures a single Retrieve call.
type Options struct {
	Query            string
	SessionID        string
	TopK             int
	IncludeChunks    bool
	IncludeFacts     bool
	IncludeWorkflows bool
	PreferSession    bool
	// WorkflowBoost multiplies workflow-item scores before fusion; its
	// zero value is treated as 1.0 (no boost). The Router's chat path
	// fills it from boostFor(tag), which is 1.25 only for tag=m3, but
	// Router.Handle sends tag=m3 requests to the task path, so chat
	// retrieval runs with 1.0.
	WorkflowBoost float64
}

// Retriever composes the Store with an embedding client to answer
// Retrieve calls.
type Retriever struct {
	store    *store.Store
	embedCfg config.EmbeddingConfig
	cache    *embedding.Cache
}

// New builds a Retriever over an already-open Store. Query text is
// embedded through cache, so repeated or near-repeated queries within a
// session (the common case in a back-and-forth chat) skip the round
// trip to the embedding endpoint.
func New(st *store.Store, embedCfg config.EmbeddingConfig, cache *embedding.Cache) *Retriever {
	return &Retriever{store: st, embedCfg: embedCfg, cache: cache}
}

// Retrieve returns a fused, descending-score list of recalled items
// capped at opts.TopK.
func (r *Retriever) Retrieve(ctx context.Context, opts Options) ([]Item, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	queryVec, err := r.embedQuery(ctx, opts.Query)
	if err != nil {
		return nil, err
	}

	var streams [][]Item

	if opts.IncludeChunks {
		chunkItems, err := r.recallChunks(ctx, opts, queryVec)
		if err != nil {
			return nil, err
		}
		streams = append(streams, chunkItems)
	}
	if opts.IncludeFacts {
		factItems, err := r.recallFacts(ctx, opts, queryVec)
		if err != nil {
			return nil, err
		}
		streams = append(streams, factItems)
	}
	if opts.IncludeWorkflows {
		workflowItems, err := r.recallWorkflows(ctx, queryVec, opts.TopK)
		if err != nil {
			return nil, err
		}
		boost := opts.WorkflowBoost
		if boost <= 0 {
			boost = 1.0
		}
		for i := range workflowItems {
			workflowItems[i].Score *= boost
		}
		streams = append(streams, workflowItems)
	}

	return fuse(streams, opts.TopK), nil
}

// embedQuery routes through the cache when one is configured, falling
// back to a direct embed call otherwise (tests construct a Retriever
// with a nil cache and their own embedCfg.BaseURL stub).
func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if r.cache != nil {
		return r.cache.EmbedOne(ctx, query)
	}
	vectors, err := embedding.EmbedText(ctx, r.embedCfg, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// recallChunks implements step 2: session-scoped Qdrant when preferred
// and available, falling back to the global Postgres chunk table, with
// the sequential-scan retry on a zero-row vector query.
func (r *Retriever) recallChunks(ctx context.Context, opts Options, queryVec []float32) ([]Item, error) {
	if opts.PreferSession && opts.SessionID != "" {
		results, err := r.store.SearchSession(ctx, opts.SessionID, queryVec, opts.TopK)
		if err != nil {
			return nil, err
		}
		if len(results) > 0 {
			items := make([]Item, 0, len(results))
			for _, res := range results {
				var createdAt time.Time
				if ts := res.Metadata["created_at"]; ts != "" {
					createdAt, _ = time.Parse(time.RFC3339Nano, ts)
				}
				items = append(items, Item{Kind: KindChunk, Content: res.Metadata["content"], Score: res.Score, Origin: res.ID, CreatedAt: createdAt})
			}
			return items, nil
		}
		log.Ctx(ctx).Debug().Str("session_id", opts.SessionID).Msg("no session chunk index hit, falling back to global corpus")
	}

	chunks, scores, err := r.store.SearchChunksByVector(ctx, queryVec, opts.TopK, false)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		log.Ctx(ctx).Debug().Msg("vector query returned zero chunks, retrying without index scans")
		chunks, scores, err = r.store.SearchChunksByVector(ctx, queryVec, opts.TopK, true)
		if err != nil {
			return nil, err
		}
	}
	items := make([]Item, 0, len(chunks))
	for i, c := range chunks {
		items = append(items, Item{Kind: KindChunk, Content: c.Content, Score: scores[i], Origin: c.ChunkID, CreatedAt: c.CreatedAt})
	}
	return items, nil
}

// recallFacts implements step 3: vector top-k merged with a keyword
// stream over the same session scope, combining by fact id with
// score = max(vector_score, α·keyword_score).
func (r *Retriever) recallFacts(ctx context.Context, opts Options, queryVec []float32) ([]Item, error) {
	sessionScope := ""
	if opts.PreferSession {
		sessionScope = opts.SessionID
	}

	vecFacts, vecScores, err := r.store.SearchFactsByVector(ctx, queryVec, sessionScope, opts.TopK, false)
	if err != nil {
		return nil, err
	}
	if len(vecFacts) == 0 {
		vecFacts, vecScores, err = r.store.SearchFactsByVector(ctx, queryVec, sessionScope, opts.TopK, true)
		if err != nil {
			return nil, err
		}
		if len(vecFacts) > 0 {
			log.Ctx(ctx).Debug().Msg("fact vector query recovered via sequential-scan fallback")
		}
	}

	byID := make(map[string]float64, len(vecFacts))
	content := make(map[string]string, len(vecFacts))
	createdAt := make(map[string]time.Time, len(vecFacts))
	for i, f := range vecFacts {
		byID[f.FactID] = vecScores[i]
		content[f.FactID] = f.Content
		createdAt[f.FactID] = f.CreatedAt
	}

	tokens := keywordTokens(opts.Query)
	if len(tokens) > 0 {
		kwFacts, kwScores, err := r.store.SearchFactsByKeyword(ctx, tokens, sessionScope, opts.TopK)
		if err != nil {
			return nil, err
		}
		for i, f := range kwFacts {
			weighted := factKeywordWeight * kwScores[i]
			content[f.FactID] = f.Content
			createdAt[f.FactID] = f.CreatedAt
			if existing, ok := byID[f.FactID]; !ok || weighted > existing {
				byID[f.FactID] = weighted
			}
		}
	}

	items := make([]Item, 0, len(byID))
	for id, score := range byID {
		items = append(items, Item{Kind: KindFact, Content: content[id], Score: score, Origin: id, CreatedAt: createdAt[id]})
	}
	return items, nil
}

// recallWorkflows implements step 4.
func (r *Retriever) recallWorkflows(ctx context.Context, queryVec []float32, topK int) ([]Item, error) {
	workflows, scores, err := r.store.SearchWorkflows(ctx, queryVec, topK)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(workflows))
	for i, w := range workflows {
		items = append(items, Item{Kind: KindWorkflow, Content: w.TriggerPattern, Score: scores[i], Origin: w.WorkflowID, CreatedAt: w.CreatedAt})
	}
	return items, nil
}

// fuse implements step 5: interleave the streams in score order,
// deduping on content_hash(content); ties break by created_at desc
// (most recent first), then by content_hash for determinism when
// timestamps also tie or are unavailable.
func fuse(streams [][]Item, topK int) []Item {
	var all []Item
	for _, s := range streams {
		all = append(all, s...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return contentHash(all[i].Content) < contentHash(all[j].Content)
	})

	seen := make(map[string]struct{}, len(all))
	out := make([]Item, 0, topK)
	for _, item := range all {
		h := contentHash(item.Content)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, item)
		if len(out) == topK {
			break
		}
	}
	return out
}

func contentHash(content string) string {
	normalized := strings.Join(strings.Fields(content), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
