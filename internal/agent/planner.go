package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// LLMPlanner turns a goal into an ordered Step list via a structured JSON
// chat completion. It targets an OpenAI-compatible JSON-mode endpoint
// independently of which llm.Provider backs the main conversation loop,
// since structured planning output benefits from a strict response_format
// contract that not every provider adapter exposes uniformly.
type LLMPlanner struct {
	Client    *openai.Client
	Model     string
	ToolSpecs []ToolSpec
	SystemTpl string
}

// NewLLMPlanner builds a planner against an OpenAI-compatible endpoint.
func NewLLMPlanner(apiKey, baseURL, model string, toolSpecs []ToolSpec) *LLMPlanner {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &LLMPlanner{
		Client:    openai.NewClientWithConfig(cfg),
		Model:     model,
		ToolSpecs: toolSpecs,
		SystemTpl: DefaultPlannerSystemTemplate,
	}
}

// DefaultPlannerSystemTemplate is a strict JSON-array contract with no prose.
const DefaultPlannerSystemTemplate = `You are the task Planner. Return ONLY a JSON array, no prose, no markdown fences.
Each element must have: description (string), tool (string or null), args (object).
Available subagents:
%s`

func (p *LLMPlanner) Plan(ctx context.Context, goal string, relMem []MemoryItem) ([]Step, error) {
	sys := p.SystemTpl
	if sys == "" {
		sys = DefaultPlannerSystemTemplate
	}
	sys = fmt.Sprintf(sys, toJSON(p.ToolSpecs))
	user := recallPrefix(relMem) + "Goal: " + goal

	resp, err := p.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          p.Model,
		Temperature:    0,
		MaxTokens:      1024,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: sys},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("plan: empty completion")
	}

	var out []Step
	if err := json.Unmarshal([]byte(UnwrapJSONArray(resp.Choices[0].Message.Content)), &out); err != nil {
		return nil, fmt.Errorf("plan: malformed JSON plan: %w", err)
	}
	for i := range out {
		out[i].ID = uuid.NewString()
	}
	return out, nil
}

// UnwrapJSONArray tolerates providers that wrap a JSON array inside a
// {"steps": [...]} object despite the json_object response format requested.
func UnwrapJSONArray(content string) string {
	var probe any
	if err := json.Unmarshal([]byte(content), &probe); err != nil {
		return content
	}
	if _, ok := probe.([]any); ok {
		return content
	}
	if m, ok := probe.(map[string]any); ok {
		for _, v := range m {
			if _, ok := v.([]any); ok {
				if b, err := json.Marshal(v); err == nil {
					return string(b)
				}
			}
		}
	}
	return content
}

func recallPrefix(mem []MemoryItem) string {
	if len(mem) == 0 {
		return ""
	}
	b, err := json.Marshal(mem)
	if err != nil {
		return ""
	}
	return "Relevant prior steps (for reuse, do not repeat verbatim):\n" + string(b) + "\n\n"
}

func toJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
