// Package contextctl composes the final prompt sent to a provider from a
// user query, a session's recent turns, and the retriever's recalled
// items, enforcing independent token budgets for the query, the
// history, and the assembled whole.
package contextctl

import (
	"context"
	"fmt"
	"sort"

	"memfuse/internal/llm"
	"memfuse/internal/retriever"
	"memfuse/internal/store"
)

// Budgets holds the three token ceilings the controller enforces.
type Budgets struct {
	UserInputMaxTokens    int
	HistoryMaxTokens      int
	TotalContextMaxTokens int
}

// Composer builds prompts against a fixed tokenizer and cache.
type Composer struct {
	tokenizer *llm.CLTokenizer
	cache     *llm.TokenCache
}

// New builds a Composer. The cache is optional; pass nil to skip caching.
func New(cache *llm.TokenCache) *Composer {
	return &Composer{tokenizer: llm.NewCLTokenizer(), cache: cache}
}

func (c *Composer) countTokens(ctx context.Context, text string) (int, error) {
	if c.cache != nil {
		if n, ok := c.cache.Get(text); ok {
			return n, nil
		}
	}
	n, err := c.tokenizer.CountTokens(ctx, text)
	if err != nil {
		return n, err
	}
	if c.cache != nil {
		c.cache.Set(text, n)
	}
	return n, nil
}

// Compose produces the final ordered message list [system, …context…,
// user], each guarantee from the contract enforced in order: query
// truncation, history inclusion newest-first with whole-turn drops,
// recall insertion by descending score with content-hash dedup, then a
// final total-budget pass that trims recall tail-first, then history
// tail-first, never the system prompt or the user query.
func (c *Composer) Compose(ctx context.Context, systemPrompt, query string, turns []store.Turn, recalled []retriever.Item, budgets Budgets) ([]llm.Message, error) {
	truncatedQuery, err := c.tokenizer.TruncateMiddle(query, nonZero(budgets.UserInputMaxTokens, 1<<30))
	if err != nil {
		return nil, fmt.Errorf("truncate query: %w", err)
	}

	historyMsgs, err := c.selectHistory(ctx, turns, budgets.HistoryMaxTokens)
	if err != nil {
		return nil, err
	}

	recallMsgs := dedupRecall(recalled)

	userMsg := llm.Message{Role: "user", Content: truncatedQuery}
	systemMsg := llm.Message{Role: "system", Content: systemPrompt}

	fixedTokens, err := c.countTokens(ctx, systemPrompt)
	if err != nil {
		return nil, err
	}
	queryTokens, err := c.countTokens(ctx, truncatedQuery)
	if err != nil {
		return nil, err
	}
	fixedTokens += queryTokens

	historyTokens := make([]int, len(historyMsgs))
	for i, m := range historyMsgs {
		n, err := c.countTokens(ctx, m.Content)
		if err != nil {
			return nil, err
		}
		historyTokens[i] = n
	}
	recallTokens := make([]int, len(recallMsgs))
	for i, m := range recallMsgs {
		n, err := c.countTokens(ctx, m.Content)
		if err != nil {
			return nil, err
		}
		recallTokens[i] = n
	}

	total := fixedTokens + sum(historyTokens) + sum(recallTokens)
	limit := budgets.TotalContextMaxTokens
	if limit <= 0 {
		limit = 1 << 30
	}

	// Trim recall tail-first (lowest score first, since recallMsgs is
	// already ordered by descending score).
	for total > limit && len(recallMsgs) > 0 {
		last := len(recallMsgs) - 1
		total -= recallTokens[last]
		recallMsgs = recallMsgs[:last]
		recallTokens = recallTokens[:last]
	}
	// Then history tail-first in newest-first terms, i.e. oldest turn
	// first. selectHistory emits oldest-first for the final message
	// order, so the oldest turns are at the head of historyMsgs.
	for total > limit && len(historyMsgs) > 0 {
		total -= historyTokens[0]
		historyMsgs = historyMsgs[1:]
		historyTokens = historyTokens[1:]
	}

	out := make([]llm.Message, 0, 2+len(historyMsgs)+len(recallMsgs))
	out = append(out, systemMsg)
	out = append(out, historyMsgs...)
	out = append(out, recallMsgs...)
	out = append(out, userMsg)
	return out, nil
}

// selectHistory walks turns newest-first, accumulating whole turns
// until historyMaxTokens would be exceeded, then reverses the result
// to chronological (oldest-first) order for the final message list.
func (c *Composer) selectHistory(ctx context.Context, turns []store.Turn, historyMaxTokens int) ([]llm.Message, error) {
	if historyMaxTokens <= 0 || len(turns) == 0 {
		return nil, nil
	}
	newestFirst := make([]store.Turn, len(turns))
	copy(newestFirst, turns)
	sort.SliceStable(newestFirst, func(i, j int) bool {
		if newestFirst[i].RoundID != newestFirst[j].RoundID {
			return newestFirst[i].RoundID > newestFirst[j].RoundID
		}
		// Within a round the assistant reply is newer than the user turn.
		return newestFirst[i].Speaker == store.SpeakerAssistant && newestFirst[j].Speaker != store.SpeakerAssistant
	})

	var kept []store.Turn
	budget := historyMaxTokens
	for _, t := range newestFirst {
		n, err := c.countTokens(ctx, t.Content)
		if err != nil {
			return nil, err
		}
		if n > budget {
			break
		}
		budget -= n
		kept = append(kept, t)
	}

	// kept is newest-first; reverse to chronological order.
	out := make([]llm.Message, len(kept))
	for i, t := range kept {
		role := "user"
		if t.Speaker == store.SpeakerAssistant {
			role = "assistant"
		}
		out[len(kept)-1-i] = llm.Message{Role: role, Content: t.Content}
	}
	return out, nil
}

// dedupRecall orders recalled items by descending score and drops
// duplicates by content hash, emitting each surviving item as its own
// context message so the caller can still attribute origin/kind via
// logging without the controller needing to serialize structure into
// the message content itself.
func dedupRecall(items []retriever.Item) []llm.Message {
	sorted := make([]retriever.Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	seen := make(map[string]struct{}, len(sorted))
	out := make([]llm.Message, 0, len(sorted))
	for _, item := range sorted {
		h := store.ContentHash(item.Content)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, llm.Message{Role: "system", Content: formatRecall(item)})
	}
	return out
}

func formatRecall(item retriever.Item) string {
	return fmt.Sprintf("[%s] %s", item.Kind, item.Content)
}

func sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}

func nonZero(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}
