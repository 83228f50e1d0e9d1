package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"memfuse/internal/observability"
)

const anthropicDefaultMaxTokens int64 = 2048

// AnthropicProvider backs the conversation loop against the Anthropic
// Messages API. Selected via llm_provider=anthropic.
type AnthropicProvider struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicProvider builds a provider against the given API key,
// optional base URL override, and default model.
func NewAnthropicProvider(apiKey, baseURL, model string, httpClient *http.Client) *AnthropicProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithHTTPClient(httpClient)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &AnthropicProvider{sdk: anthropic.NewClient(opts...), model: model, maxTokens: anthropicDefaultMaxTokens}
}

func (p *AnthropicProvider) pickModel(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return p.model
}

func adaptAnthropicMessages(msgs []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(msgs))
	toolResultCount := 0
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Content})
			}
		case "user":
			if strings.TrimSpace(m.Content) != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if strings.TrimSpace(m.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for i, tc := range m.ToolCalls {
				id := strings.TrimSpace(tc.ID)
				if id == "" {
					id = fmt.Sprintf("call-%d", i+1)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(id, decodeToolArgs(tc.Args), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			id := strings.TrimSpace(m.ToolID)
			if id == "" {
				toolResultCount++
				id = fmt.Sprintf("tool-result-%d", toolResultCount)
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(id, m.Content, false)))
		default:
			return nil, nil, fmt.Errorf("anthropic provider: unsupported role %q", m.Role)
		}
	}
	return system, out, nil
}

func decodeToolArgs(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	return map[string]any{}
}

func adaptAnthropicTools(tools []ToolSchema) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("anthropic provider: tool name required")
		}
		schema := anthropic.ToolInputSchemaParam{Type: constant.ValueOf[constant.Object]()}
		extras := map[string]any{}
		for k, v := range t.Parameters {
			extras[k] = v
		}
		if props, ok := extras["properties"]; ok {
			schema.Properties = props
			delete(extras, "properties")
		}
		if req, ok := extras["required"].([]any); ok {
			for _, item := range req {
				if s, ok := item.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
			delete(extras, "required")
		}
		delete(extras, "type")
		if len(extras) > 0 {
			schema.ExtraFields = extras
		}
		param := anthropic.ToolParam{Name: name, InputSchema: schema}
		if desc := strings.TrimSpace(t.Description); desc != "" {
			param.Description = anthropic.String(desc)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out, nil
}

func anthropicMessageFromResponse(resp *anthropic.Message) Message {
	if resp == nil {
		return Message{}
	}
	var sb strings.Builder
	var calls []ToolCall
	callIdx := 0
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(v.Text)
		case anthropic.ToolUseBlock:
			callIdx++
			id := strings.TrimSpace(v.ID)
			if id == "" {
				id = fmt.Sprintf("call-%d", callIdx)
			}
			calls = append(calls, ToolCall{Name: v.Name, Args: v.Input, ID: id})
		}
	}
	return Message{Role: "assistant", Content: sb.String(), ToolCalls: calls}
}

func (p *AnthropicProvider) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error) {
	sys, converted, err := adaptAnthropicMessages(msgs)
	if err != nil {
		return Message{}, err
	}
	toolDefs, err := adaptAnthropicTools(tools)
	if err != nil {
		return Message{}, err
	}

	effectiveModel := p.pickModel(model)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(effectiveModel),
		Messages:  converted,
		System:    sys,
		Tools:     toolDefs,
		MaxTokens: p.maxTokens,
	}

	ctx, span := StartRequestSpan(ctx, "Anthropic Chat", effectiveModel, len(tools), len(msgs))
	defer span.End()
	LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	resp, err := p.sdk.Messages.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", effectiveModel).Dur("duration", dur).Msg("anthropic_chat_error")
		return Message{}, fmt.Errorf("anthropic chat: %w", wrapTransient("anthropic chat", err))
	}

	LogRedactedResponse(ctx, resp)
	out := anthropicMessageFromResponse(resp)
	promptTokens := int(resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens + resp.Usage.InputTokens)
	completionTokens := int(resp.Usage.OutputTokens)
	RecordTokenAttributes(span, promptTokens, completionTokens, promptTokens+completionTokens)
	RecordTokenMetrics(effectiveModel, promptTokens, completionTokens)
	log.Debug().Str("model", effectiveModel).Dur("duration", dur).Int("prompt_tokens", promptTokens).Int("completion_tokens", completionTokens).Msg("anthropic_chat_ok")
	return out, nil
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error {
	sys, converted, err := adaptAnthropicMessages(msgs)
	if err != nil {
		return err
	}
	toolDefs, err := adaptAnthropicTools(tools)
	if err != nil {
		return err
	}

	effectiveModel := p.pickModel(model)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(effectiveModel),
		Messages:  converted,
		System:    sys,
		Tools:     toolDefs,
		MaxTokens: p.maxTokens,
	}

	ctx, span := StartRequestSpan(ctx, "Anthropic ChatStream", effectiveModel, len(tools), len(msgs))
	defer span.End()
	LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	stream := p.sdk.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var acc anthropic.Message
	toolBuffers := map[int64]*anthropicToolBuffer{}
	var usage anthropic.MessageDeltaUsage

	for stream.Next() {
		event := stream.Current()
		_ = acc.Accumulate(event)

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				id := strings.TrimSpace(block.ID)
				if id == "" {
					id = fmt.Sprintf("call-%d", len(toolBuffers)+1)
				}
				tb := &anthropicToolBuffer{name: block.Name, id: id}
				toolBuffers[ev.Index] = tb
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					h.OnDelta(delta.Text)
				}
			case anthropic.InputJSONDelta:
				if tb := toolBuffers[ev.Index]; tb != nil {
					tb.buf.WriteString(delta.PartialJSON)
				}
			}
		case anthropic.MessageDeltaEvent:
			usage = ev.Usage
		}
	}

	dur := time.Since(start)
	if err := stream.Err(); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Dur("duration", dur).Msg("anthropic_stream_error")
		return fmt.Errorf("anthropic chat stream: %w", err)
	}

	for idx := range toolBuffers {
		tb := toolBuffers[idx]
		h.OnToolCall(tb.toToolCall())
	}

	promptTokens := int(usage.CacheCreationInputTokens + usage.CacheReadInputTokens + usage.InputTokens)
	completionTokens := int(usage.OutputTokens)
	RecordTokenAttributes(span, promptTokens, completionTokens, promptTokens+completionTokens)
	RecordTokenMetrics(effectiveModel, promptTokens, completionTokens)
	LogRedactedResponse(ctx, acc)
	log.Debug().Str("model", effectiveModel).Dur("duration", dur).Msg("anthropic_stream_ok")
	return nil
}

type anthropicToolBuffer struct {
	name string
	id   string
	buf  strings.Builder
}

func (tb *anthropicToolBuffer) toToolCall() ToolCall {
	args := strings.TrimSpace(tb.buf.String())
	if args == "" || !json.Valid([]byte(args)) {
		args = "{}"
	}
	return ToolCall{Name: tb.name, Args: json.RawMessage(args), ID: tb.id}
}

var _ Provider = (*AnthropicProvider)(nil)
