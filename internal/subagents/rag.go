// Package subagents implements the concrete tools registered into the
// agent.Registry the orchestrator plans and executes against: a uniform
// invocation contract around RAG query, structured DB query, report
// generation, web search, and sandboxed shell execution.
package subagents

import (
	"context"
	"fmt"

	"memfuse/internal/agent"
	"memfuse/internal/retriever"
)

// Recaller is the subset of *retriever.Retriever the rag_query tool needs,
// narrowed the same way internal/router narrows its collaborators.
type Recaller interface {
	Retrieve(ctx context.Context, opts retriever.Options) ([]retriever.Item, error)
}

// RAGQueryTool recalls fused memory (chunks, facts, workflows) for a plan
// step that needs to ground its next action in prior session history.
type RAGQueryTool struct {
	recaller    Recaller
	defaultTopK int
}

// NewRAGQueryTool builds the rag_query tool over an already-wired Recaller.
func NewRAGQueryTool(recaller Recaller, defaultTopK int) *RAGQueryTool {
	if defaultTopK <= 0 {
		defaultTopK = 8
	}
	return &RAGQueryTool{recaller: recaller, defaultTopK: defaultTopK}
}

func (t *RAGQueryTool) Describe() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        "rag_query",
		Description: "Recall fused chunk/fact/workflow memory relevant to a query, optionally scoped to a session.",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"query"},
			"properties": map[string]any{
				"query":             map[string]any{"type": "string"},
				"session_id":        map[string]any{"type": "string"},
				"top_k":             map[string]any{"type": "integer"},
				"include_chunks":    map[string]any{"type": "boolean"},
				"include_facts":     map[string]any{"type": "boolean"},
				"include_workflows": map[string]any{"type": "boolean"},
			},
		},
	}
}

func (t *RAGQueryTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("rag_query: missing required arg %q", "query")
	}
	sessionID, _ := args["session_id"].(string)
	topK := t.defaultTopK
	if v, ok := asInt(args["top_k"]); ok && v > 0 {
		topK = v
	}

	opts := retriever.Options{
		Query:            query,
		SessionID:        sessionID,
		TopK:             topK,
		IncludeChunks:    boolOr(args["include_chunks"], true),
		IncludeFacts:     boolOr(args["include_facts"], true),
		IncludeWorkflows: boolOr(args["include_workflows"], false),
		PreferSession:    sessionID != "",
	}

	items, err := t.recaller.Retrieve(ctx, opts)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	results := make([]map[string]any, 0, len(items))
	for _, item := range items {
		results = append(results, map[string]any{
			"kind":    string(item.Kind),
			"content": item.Content,
			"score":   item.Score,
			"origin":  item.Origin,
		})
	}
	return map[string]any{"ok": true, "items": results}, nil
}

func boolOr(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
