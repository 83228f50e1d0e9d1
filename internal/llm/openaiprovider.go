package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"memfuse/internal/observability"
)

// OpenAIProvider backs the conversation loop against an OpenAI-compatible
// chat completions endpoint. It is the default Provider for deployments
// that do not set llm_provider=anthropic.
type OpenAIProvider struct {
	sdk   sdk.Client
	model string
}

// NewOpenAIProvider builds a provider against the given API key, optional
// base URL override (for OpenAI-compatible gateways), and default model.
func NewOpenAIProvider(apiKey, baseURL, model string, httpClient *http.Client) *OpenAIProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithHTTPClient(httpClient)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{sdk: sdk.NewClient(opts...), model: model}
}

func (p *OpenAIProvider) pickModel(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return p.model
}

func adaptOpenAIMessages(msgs []Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "user":
			out = append(out, sdk.UserMessage(m.Content))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, sdk.AssistantMessage(m.Content))
				continue
			}
			var asst sdk.ChatCompletionAssistantMessageParam
			asst.Content.OfString = sdk.String(m.Content)
			for _, tc := range m.ToolCalls {
				fn := sdk.ChatCompletionMessageFunctionToolCallParam{
					ID: tc.ID,
					Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
						Arguments: string(tc.Args),
						Name:      tc.Name,
					},
				}
				asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallUnionParam{OfFunction: &fn})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case "tool":
			out = append(out, sdk.ToolMessage(m.Content, m.ToolID))
		}
	}
	return out
}

func adaptOpenAITools(tools []ToolSchema) []sdk.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		def := sdk.FunctionDefinitionParam{
			Name:        t.Name,
			Description: sdk.String(t.Description),
			Parameters:  t.Parameters,
		}
		out = append(out, sdk.ChatCompletionFunctionTool(def))
	}
	return out
}

func (p *OpenAIProvider) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error) {
	effectiveModel := p.pickModel(model)
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(effectiveModel),
		Messages: adaptOpenAIMessages(msgs),
	}
	if t := adaptOpenAITools(tools); len(t) > 0 {
		params.Tools = t
	}

	ctx, span := StartRequestSpan(ctx, "OpenAI Chat", effectiveModel, len(tools), len(msgs))
	defer span.End()
	LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	comp, err := p.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", effectiveModel).Dur("duration", dur).Msg("openai_chat_error")
		return Message{}, fmt.Errorf("openai chat: %w", wrapTransient("openai chat", err))
	}

	var out Message
	if len(comp.Choices) > 0 {
		msg := comp.Choices[0].Message
		out = Message{Role: "assistant", Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			if v, ok := tc.AsAny().(sdk.ChatCompletionMessageFunctionToolCall); ok {
				out.ToolCalls = append(out.ToolCalls, ToolCall{
					Name: v.Function.Name,
					Args: json.RawMessage(v.Function.Arguments),
					ID:   v.ID,
				})
			}
		}
	}

	LogRedactedResponse(ctx, comp.Choices)
	promptTokens, completionTokens := int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens)
	RecordTokenAttributes(span, promptTokens, completionTokens, int(comp.Usage.TotalTokens))
	RecordTokenMetrics(effectiveModel, promptTokens, completionTokens)
	log.Debug().Str("model", effectiveModel).Dur("duration", dur).Int("prompt_tokens", promptTokens).Int("completion_tokens", completionTokens).Msg("openai_chat_ok")
	return out, nil
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error {
	effectiveModel := p.pickModel(model)
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(effectiveModel),
		Messages: adaptOpenAIMessages(msgs),
	}
	if t := adaptOpenAITools(tools); len(t) > 0 {
		params.Tools = t
	}
	params.StreamOptions.IncludeUsage = sdk.Bool(true)

	ctx, span := StartRequestSpan(ctx, "OpenAI ChatStream", effectiveModel, len(tools), len(msgs))
	defer span.End()
	LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	stream := p.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	toolCalls := map[int]*ToolCall{}
	flushed := false
	var promptTokens, completionTokens int

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			if chunk.JSON.Usage.Valid() {
				promptTokens = int(chunk.Usage.PromptTokens)
				completionTokens = int(chunk.Usage.CompletionTokens)
			}
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			h.OnDelta(delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			idx := int(tc.Index)
			if toolCalls[idx] == nil {
				toolCalls[idx] = &ToolCall{ID: tc.ID}
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Args = json.RawMessage(string(toolCalls[idx].Args) + tc.Function.Arguments)
			}
		}
		if chunk.Choices[0].FinishReason != "" && !flushed {
			for _, tc := range toolCalls {
				if tc != nil && tc.Name != "" {
					h.OnToolCall(*tc)
				}
			}
			flushed = true
		}
	}

	dur := time.Since(start)
	if err := stream.Err(); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Dur("duration", dur).Msg("openai_stream_error")
		return fmt.Errorf("openai chat stream: %w", err)
	}
	RecordTokenAttributes(span, promptTokens, completionTokens, promptTokens+completionTokens)
	RecordTokenMetrics(effectiveModel, promptTokens, completionTokens)
	log.Debug().Str("model", effectiveModel).Dur("duration", dur).Msg("openai_stream_ok")
	return nil
}

var _ Provider = (*OpenAIProvider)(nil)
