package subagents

import (
	"context"
	"fmt"
	"strings"

	"memfuse/internal/agent"
	"memfuse/internal/llm"
)

// reportSystemPrompt mirrors the teacher's critic/planner convention of a
// fixed system template plus a single structured user turn.
const reportSystemPrompt = `You are a report-writing assistant. Given a title and a set of
findings, produce a concise Markdown report: a one-paragraph summary followed
by a bulleted findings section. Do not invent facts beyond what is given.`

// ReportGenTool synthesizes a Markdown report from supplied findings via the
// chat model; it does not gather the findings itself (an earlier plan step,
// typically rag_query or db_query, is expected to have done that).
type ReportGenTool struct {
	provider llm.Provider
	model    string
}

// NewReportGenTool builds the report_gen tool over an already-wired chat
// provider.
func NewReportGenTool(provider llm.Provider, model string) *ReportGenTool {
	return &ReportGenTool{provider: provider, model: model}
}

func (t *ReportGenTool) Describe() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        "report_gen",
		Description: "Compose a Markdown report from a title and a list of findings.",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"title", "findings"},
			"properties": map[string]any{
				"title":    map[string]any{"type": "string"},
				"findings": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
		},
	}
}

func (t *ReportGenTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	title, _ := args["title"].(string)
	if title == "" {
		return nil, fmt.Errorf("report_gen: missing required arg %q", "title")
	}
	findings, err := stringSlice(args["findings"])
	if err != nil {
		return nil, fmt.Errorf("report_gen: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n\nFindings:\n", title)
	for _, f := range findings {
		fmt.Fprintf(&b, "- %s\n", f)
	}

	resp, err := t.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: reportSystemPrompt},
		{Role: "user", Content: b.String()},
	}, nil, t.model)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}, nil
	}
	return map[string]any{"ok": true, "report": resp.Content}, nil
}

func stringSlice(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("missing or malformed arg %q", "findings")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("findings entries must be strings")
		}
		out = append(out, s)
	}
	return out, nil
}
