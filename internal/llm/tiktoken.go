package llm

import (
	"context"
	"fmt"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// messageOverheadTokens approximates the per-message role/separator overhead
// that OpenAI-compatible chat formats add on top of raw content tokens.
const messageOverheadTokens = 4

// CLTokenizer is a Tokenizer backed by the cl100k_base BPE encoding, the
// encoding shared by the OpenAI and Anthropic-compatible chat families this
// module talks to. It is built once per process and reused across requests,
// since building the BPE ranks table is comparatively expensive.
type CLTokenizer struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewCLTokenizer returns a lazily-initialized cl100k_base tokenizer.
func NewCLTokenizer() *CLTokenizer {
	return &CLTokenizer{}
}

func (t *CLTokenizer) ensure() error {
	t.once.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding("cl100k_base")
		if t.err != nil {
			t.err = fmt.Errorf("load cl100k_base encoding: %w", t.err)
		}
	})
	return t.err
}

func (t *CLTokenizer) CountTokens(_ context.Context, text string) (int, error) {
	if err := t.ensure(); err != nil {
		return EstimateTokens(text), err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *CLTokenizer) CountMessagesTokens(ctx context.Context, msgs []Message) (int, error) {
	if err := t.ensure(); err != nil {
		return EstimateTokensForMessages(msgs), err
	}
	total := 0
	for _, m := range msgs {
		total += messageOverheadTokens
		total += len(t.enc.Encode(m.Content, nil, nil))
		for _, tc := range m.ToolCalls {
			total += len(t.enc.Encode(tc.Name, nil, nil)) + len(t.enc.Encode(string(tc.Args), nil, nil))
		}
	}
	return total, nil
}

// elisionMarker is inserted between the kept head and tail token slices
// when TruncateMiddle drops tokens from the interior of a text.
const elisionMarker = " … "

// TruncateMiddle keeps a head and a tail slice of text's tokens, joined
// by an elision marker, so the result never exceeds maxTokens while
// still reading naturally at both ends. Returns text unchanged if it
// already fits.
func (t *CLTokenizer) TruncateMiddle(text string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		return "", nil
	}
	if err := t.ensure(); err != nil {
		return estimateTruncateMiddle(text, maxTokens), err
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, nil
	}
	markerTokens := len(t.enc.Encode(elisionMarker, nil, nil))
	budget := maxTokens - markerTokens
	if budget <= 0 {
		return t.enc.Decode(tokens[:maxTokens]), nil
	}
	headLen := budget / 2
	tailLen := budget - headLen
	head := t.enc.Decode(tokens[:headLen])
	tail := t.enc.Decode(tokens[len(tokens)-tailLen:])
	return head + elisionMarker + tail, nil
}

// estimateTruncateMiddle is the fallback used when the BPE encoding
// failed to load, mirroring EstimateTokens' rough chars-per-token ratio.
func estimateTruncateMiddle(text string, maxTokens int) string {
	const charsPerToken = 4
	maxChars := maxTokens * charsPerToken
	if len(text) <= maxChars {
		return text
	}
	budget := maxChars - len(elisionMarker)
	if budget <= 0 {
		return text[:maxChars]
	}
	headLen := budget / 2
	tailLen := budget - headLen
	return text[:headLen] + elisionMarker + text[len(text)-tailLen:]
}

var _ Tokenizer = (*CLTokenizer)(nil)
