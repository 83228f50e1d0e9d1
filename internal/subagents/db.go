package subagents

import (
	"context"
	"fmt"

	"memfuse/internal/agent"
	"memfuse/internal/retriever"
	"memfuse/internal/store"
)

// FactSearcher is the subset of *store.Store the db_query tool needs: a
// keyword search over structured facts, the closest thing this system has
// to a relational query surface that a plan step can run read-only.
type FactSearcher interface {
	SearchFactsByKeyword(ctx context.Context, tokens []string, sessionID string, k int) ([]store.Fact, []float64, error)
}

// DBQueryTool runs a keyword search over structured facts on behalf of a
// plan step, in the uniform execute(params) -> {output, artifacts} shape;
// SQL correctness and query planning beyond this fixed keyword search are
// left to whatever consumes the facts table directly.
type DBQueryTool struct {
	store       FactSearcher
	defaultTopK int
}

// NewDBQueryTool builds the db_query tool over an already-wired FactSearcher.
func NewDBQueryTool(st FactSearcher, defaultTopK int) *DBQueryTool {
	if defaultTopK <= 0 {
		defaultTopK = 8
	}
	return &DBQueryTool{store: st, defaultTopK: defaultTopK}
}

func (t *DBQueryTool) Describe() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        "db_query",
		Description: "Keyword-search structured facts recorded for a session or across all sessions.",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"query"},
			"properties": map[string]any{
				"query":      map[string]any{"type": "string"},
				"session_id": map[string]any{"type": "string", "description": "Optional; scopes the search to one session."},
				"top_k":      map[string]any{"type": "integer"},
			},
		},
	}
}

func (t *DBQueryTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("db_query: missing required arg %q", "query")
	}
	sessionID, _ := args["session_id"].(string)
	topK := t.defaultTopK
	if v, ok := asInt(args["top_k"]); ok && v > 0 {
		topK = v
	}

	tokens := retriever.KeywordTokens(query)
	if len(tokens) == 0 {
		return map[string]any{"ok": true, "rows": []map[string]any{}}, nil
	}

	facts, scores, err := t.store.SearchFactsByKeyword(ctx, tokens, sessionID, topK)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	rows := make([]map[string]any, 0, len(facts))
	for i, f := range facts {
		rows = append(rows, map[string]any{
			"fact_id":    f.FactID,
			"session_id": f.SessionID,
			"type":       string(f.Type),
			"content":    f.Content,
			"score":      scores[i],
		})
	}
	return map[string]any{"ok": true, "rows": rows}, nil
}
