// Package router is MemFuse's entry point: it resolves the caller's
// external session id to a stable internal one, decides whether a turn
// is chat or task mode, and dispatches accordingly — the "own the
// user/session/agent lookup... dispatch to chat or task" responsibility
// from spec.md §4.5.
package router

import (
	"context"
	"fmt"

	"memfuse/internal/config"
	"memfuse/internal/contextctl"
	"memfuse/internal/llm"
	"memfuse/internal/orchestrator"
	"memfuse/internal/retriever"
	"memfuse/internal/session"
	"memfuse/internal/store"
)

// workflowBoost is the workflow recall score multiplier boostFor returns
// for tag=m3.
const workflowBoost = 1.25

// ChatStore is the subset of *store.Store the chat path needs, narrowed
// for testability the same way orchestrator.WorkflowStore is.
type ChatStore interface {
	RecentTurns(ctx context.Context, sessionID string, nRounds int) ([]store.Turn, error)
	AppendTurn(ctx context.Context, sessionID string, speaker store.Speaker, content, tenant string) (store.Turn, error)
}

// TaskRunner is the subset of *orchestrator.Orchestrator the task path
// needs.
type TaskRunner interface {
	Run(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
}

// RoundTrigger is the subset of *extractor.Trigger the chat path needs,
// narrowed for testability the same way ChatStore and TaskRunner are.
type RoundTrigger interface {
	OnRoundComplete(ctx context.Context, sessionID string, roundID, tokens int) error
}

// Recaller is the subset of *retriever.Retriever the chat path needs.
type Recaller interface {
	Retrieve(ctx context.Context, opts retriever.Options) ([]retriever.Item, error)
}

// ContextComposer is the subset of *contextctl.Composer the chat path
// needs.
type ContextComposer interface {
	Compose(ctx context.Context, systemPrompt, query string, turns []store.Turn, recalled []retriever.Item, budgets contextctl.Budgets) ([]llm.Message, error)
}

// Request is one inbound user turn.
type Request struct {
	ExternalSessionID string
	UserID             string
	Tenant             string
	Text               string
	// Tag forces M3 (task) mode when set to "m3"; any other value (or
	// empty) routes through the classifier when enabled, else chat.
	Tag string
	// OnStep, if set, is forwarded to the Orchestrator on the task path.
	OnStep func(orchestrator.StepResult)
}

// Mode distinguishes which path handled a Request.
type Mode string

const (
	ModeChat Mode = "chat"
	ModeTask Mode = "task"
)

// Response is what Handle returns, tagged by Mode.
type Response struct {
	Mode       Mode
	SessionID  string
	ChatReply  string
	TaskResult orchestrator.Result
}

// defaultSystemPrompt is used when no override is configured.
const defaultSystemPrompt = "You are MemFuse, a long-horizon memory-augmented assistant. Use the provided history and recalled context to answer the user's latest message."

// Router wires session resolution, retrieval, context composition, the
// chat LLM call, and task orchestration together.
type Router struct {
	resolver *session.Resolver
	locks    *session.Locks

	retriever Recaller
	composer  ContextComposer
	chatLLM   llm.Provider
	chatModel string
	store     ChatStore
	trigger   RoundTrigger
	tokenizer llm.Tokenizer

	task TaskRunner

	classifierRoutingEnabled bool
	historyRounds            int
	budgets                  contextctl.Budgets
	systemPrompt             string
}

// Deps bundles everything Router needs to construct; kept as one struct
// since every field is required for at least one of the two paths.
type Deps struct {
	Resolver  *session.Resolver
	Locks     *session.Locks
	Retriever Recaller
	Composer  ContextComposer
	ChatLLM   llm.Provider
	ChatModel string
	Store     ChatStore
	Trigger   RoundTrigger
	Tokenizer llm.Tokenizer
	Task      TaskRunner
	Cfg       config.Config
}

// New builds a Router from Deps.
func New(d Deps) *Router {
	historyRounds := d.Cfg.HistoryMaxTokens / 200
	if historyRounds <= 0 {
		historyRounds = 20
	}
	return &Router{
		resolver:  d.Resolver,
		locks:     d.Locks,
		retriever: d.Retriever,
		composer:  d.Composer,
		chatLLM:   d.ChatLLM,
		chatModel: d.ChatModel,
		store:     d.Store,
		trigger:   d.Trigger,
		tokenizer: d.Tokenizer,
		task:      d.Task,
		classifierRoutingEnabled: d.Cfg.ClassifierRoutingEnabled,
		historyRounds:            historyRounds,
		budgets: contextctl.Budgets{
			UserInputMaxTokens:    d.Cfg.UserInputMaxTokens,
			HistoryMaxTokens:      d.Cfg.HistoryMaxTokens,
			TotalContextMaxTokens: d.Cfg.TotalContextMaxTokens,
		},
		systemPrompt: defaultSystemPrompt,
	}
}

// Handle resolves the session, decides chat vs task, and dispatches.
func (r *Router) Handle(ctx context.Context, req Request) (Response, error) {
	sessionID, err := r.resolver.Resolve(ctx, req.ExternalSessionID, req.Tenant)
	if err != nil {
		return Response{}, fmt.Errorf("router: resolve session: %w", err)
	}

	if r.isTaskMode(req.Tag) {
		result, err := r.task.Run(ctx, orchestrator.Request{
			SessionID: sessionID,
			UserID:    req.UserID,
			Tenant:    req.Tenant,
			Goal:      req.Text,
			OnStep:    req.OnStep,
		})
		if err != nil {
			return Response{Mode: ModeTask, SessionID: sessionID}, fmt.Errorf("router: task: %w", err)
		}
		return Response{Mode: ModeTask, SessionID: sessionID, TaskResult: result}, nil
	}

	reply, err := r.handleChat(ctx, sessionID, req)
	if err != nil {
		return Response{Mode: ModeChat, SessionID: sessionID}, fmt.Errorf("router: chat: %w", err)
	}
	return Response{Mode: ModeChat, SessionID: sessionID, ChatReply: reply}, nil
}

// isTaskMode implements the tag-based dispatch: an explicit tag=m3 opt-in
// is authoritative; the learned classifier is reserved behind
// classifier_routing_enabled (default false per Open Question resolution
// 3) and, until built, never overrides the explicit tag.
func (r *Router) isTaskMode(tag string) bool {
	if tag == "m3" {
		return true
	}
	if r.classifierRoutingEnabled {
		// No classifier model is wired yet; the flag exists so a future
		// learned router can flip this on without an interface change.
		return false
	}
	return false
}
