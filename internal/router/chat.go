package router

import (
	"context"
	"fmt"

	"memfuse/internal/retriever"
	"memfuse/internal/store"
)

// handleChat is the chat path: retrieve, compose, call the LLM, persist
// both turns of the round under the session lock, and trigger the
// extractor for the completed round. Per spec.md §5's ordering
// guarantee, the whole "complete + persist" critical section runs under
// the session-level mutex so turn insertions for a session stay in
// round order.
func (r *Router) handleChat(ctx context.Context, sessionID string, req Request) (string, error) {
	var reply string
	err := r.locks.With(sessionID, func() error {
		recalled, err := r.retriever.Retrieve(ctx, retriever.Options{
			Query:            req.Text,
			SessionID:        sessionID,
			TopK:             10,
			IncludeChunks:    true,
			IncludeFacts:     true,
			IncludeWorkflows: true,
			PreferSession:    true,
			WorkflowBoost:    boostFor(req.Tag),
		})
		if err != nil {
			return fmt.Errorf("retrieve: %w", err)
		}

		turns, err := r.store.RecentTurns(ctx, sessionID, r.historyRounds)
		if err != nil {
			return fmt.Errorf("recent turns: %w", err)
		}

		messages, err := r.composer.Compose(ctx, r.systemPrompt, req.Text, turns, recalled, r.budgets)
		if err != nil {
			return fmt.Errorf("compose: %w", err)
		}

		resp, err := r.chatLLM.Chat(ctx, messages, nil, r.chatModel)
		if err != nil {
			return fmt.Errorf("chat: %w", err)
		}
		reply = resp.Content

		if _, err := r.store.AppendTurn(ctx, sessionID, store.SpeakerUser, req.Text, req.Tenant); err != nil {
			return fmt.Errorf("persist user turn: %w", err)
		}
		assistantTurn, err := r.store.AppendTurn(ctx, sessionID, store.SpeakerAssistant, reply, req.Tenant)
		if err != nil {
			return fmt.Errorf("persist assistant turn: %w", err)
		}

		if r.trigger != nil {
			tokens, tokErr := r.roundTokens(ctx, req.Text, reply)
			if tokErr != nil {
				return fmt.Errorf("count round tokens: %w", tokErr)
			}
			if err := r.trigger.OnRoundComplete(ctx, sessionID, assistantTurn.RoundID, tokens); err != nil {
				return fmt.Errorf("trigger extractor: %w", err)
			}
		}

		return nil
	})
	return reply, err
}

func (r *Router) roundTokens(ctx context.Context, userText, assistantText string) (int, error) {
	userTokens, err := r.tokenizer.CountTokens(ctx, userText)
	if err != nil {
		return 0, err
	}
	assistantTokens, err := r.tokenizer.CountTokens(ctx, assistantText)
	if err != nil {
		return 0, err
	}
	return userTokens + assistantTokens, nil
}

// boostFor returns the workflow-recall score multiplier for a query tag:
// 1.25× for tag=m3, 1.0 otherwise. handleChat is never reached with
// tag=m3 (Handle routes those requests to the task path), so on the chat
// path the multiplier is 1.0.
func boostFor(tag string) float64 {
	if tag == "m3" {
		return workflowBoost
	}
	return 1.0
}
