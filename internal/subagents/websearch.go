package subagents

import (
	"context"
	"fmt"

	"memfuse/internal/agent"
)

// SearchResult is one hit returned by a Searcher.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// Searcher abstracts the web search transport. The uniform invocation
// contract (query in, ranked results out) is in scope; which transport
// backs it, and the quality of its results, is not — concrete deployments
// swap in a real search API client behind this interface.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)
}

// StubSearcher is a deterministic, network-free Searcher: it echoes the
// query back as a single placeholder result instead of calling out to a
// real search index. It exists so the web_search tool, the orchestrator's
// registry validation, and plan execution can all be exercised without a
// live search API dependency; swap in a real Searcher for production use.
type StubSearcher struct{}

func (StubSearcher) Search(_ context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 1
	}
	result := SearchResult{
		Title:   fmt.Sprintf("stub result for %q", query),
		URL:     "about:blank",
		Snippet: "web search transport is stubbed; no live index is queried.",
	}
	out := make([]SearchResult, 0, topK)
	for i := 0; i < topK && i < 1; i++ {
		out = append(out, result)
	}
	return out, nil
}

// WebSearchTool runs a web search through a pluggable Searcher.
type WebSearchTool struct {
	searcher    Searcher
	defaultTopK int
}

// NewWebSearchTool builds the web_search tool over a Searcher. Pass
// StubSearcher{} where no live search backend is wired.
func NewWebSearchTool(searcher Searcher, defaultTopK int) *WebSearchTool {
	if searcher == nil {
		searcher = StubSearcher{}
	}
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &WebSearchTool{searcher: searcher, defaultTopK: defaultTopK}
}

func (t *WebSearchTool) Describe() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        "web_search",
		Description: "Search the web for pages relevant to a query.",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"query"},
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"top_k": map[string]any{"type": "integer"},
			},
		},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("web_search: missing required arg %q", "query")
	}
	topK := t.defaultTopK
	if v, ok := asInt(args["top_k"]); ok && v > 0 {
		topK = v
	}

	results, err := t.searcher.Search(ctx, query, topK)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	items := make([]map[string]any, 0, len(results))
	for _, r := range results {
		items = append(items, map[string]any{"title": r.Title, "url": r.URL, "snippet": r.Snippet})
	}
	return map[string]any{"ok": true, "results": items}, nil
}
