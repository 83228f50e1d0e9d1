package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfuse/internal/config"
)

func TestNewProvider_SelectsByConfig(t *testing.T) {
	p, err := NewProvider(config.LLMConfig{Provider: "openai", APIKey: "sk-test"}, nil)
	require.NoError(t, err)
	_, ok := p.(*OpenAIProvider)
	assert.True(t, ok)

	p, err = NewProvider(config.LLMConfig{Provider: "anthropic", APIKey: "sk-ant-test"}, nil)
	require.NoError(t, err)
	_, ok = p.(*AnthropicProvider)
	assert.True(t, ok)

	_, err = NewProvider(config.LLMConfig{Provider: "unknown"}, nil)
	assert.Error(t, err)
}

func TestAdaptOpenAIMessages_RoundTripsToolCalls(t *testing.T) {
	msgs := []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "what time is it"},
		{Role: "assistant", Content: "", ToolCalls: []ToolCall{{Name: "clock", Args: json.RawMessage(`{}`), ID: "call-1"}}},
		{Role: "tool", Content: `{"time":"noon"}`, ToolID: "call-1"},
	}
	out := adaptOpenAIMessages(msgs)
	assert.Len(t, out, 4)
}

func TestAdaptAnthropicMessages_RejectsUnknownRole(t *testing.T) {
	_, _, err := adaptAnthropicMessages([]Message{{Role: "narrator", Content: "hi"}})
	assert.Error(t, err)
}

func TestAdaptAnthropicTools_RequiresName(t *testing.T) {
	_, err := adaptAnthropicTools([]ToolSchema{{Description: "no name"}})
	assert.Error(t, err)
}

func TestAnthropicToolBuffer_DefaultsToEmptyObjectOnInvalidJSON(t *testing.T) {
	tb := &anthropicToolBuffer{name: "search", id: "call-1"}
	tb.buf.WriteString("not json")
	tc := tb.toToolCall()
	assert.Equal(t, json.RawMessage("{}"), tc.Args)
}
