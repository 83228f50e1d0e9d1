package router

import (
	"context"

	"memfuse/internal/config"
	"memfuse/internal/contextctl"
	"memfuse/internal/llm"
	"memfuse/internal/orchestrator"
	"memfuse/internal/retriever"
	"memfuse/internal/session"
	"memfuse/internal/store"
)

type fakeSessionResolver struct{}

func (fakeSessionResolver) ResolveSession(_ context.Context, externalID, _ string) (string, error) {
	return "sess-" + externalID, nil
}

type fakeRecaller struct {
	lastOpts retriever.Options
	items    []retriever.Item
}

func (f *fakeRecaller) Retrieve(_ context.Context, opts retriever.Options) ([]retriever.Item, error) {
	f.lastOpts = opts
	return f.items, nil
}

type fakeComposer struct{}

func (fakeComposer) Compose(_ context.Context, _, query string, _ []store.Turn, _ []retriever.Item, _ contextctl.Budgets) ([]llm.Message, error) {
	return []llm.Message{{Role: "user", Content: query}}, nil
}

type fakeChatProvider struct {
	reply string
	err   error
}

func (f *fakeChatProvider) Chat(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string) (llm.Message, error) {
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return llm.Message{Role: "assistant", Content: f.reply}, nil
}

func (f *fakeChatProvider) ChatStream(context.Context, []llm.Message, []llm.ToolSchema, string, llm.StreamHandler) error {
	return nil
}

type fakeChatStore struct {
	turns      []store.Turn
	appended   []store.Turn
	nextRound  int
}

func (f *fakeChatStore) RecentTurns(_ context.Context, _ string, _ int) ([]store.Turn, error) {
	return f.turns, nil
}

func (f *fakeChatStore) AppendTurn(_ context.Context, sessionID string, speaker store.Speaker, content, tenant string) (store.Turn, error) {
	turn := store.Turn{SessionID: sessionID, RoundID: f.nextRound, Speaker: speaker, Content: content, Tenant: tenant}
	if speaker == store.SpeakerAssistant {
		f.nextRound++
	}
	f.appended = append(f.appended, turn)
	return turn, nil
}

type fakeTrigger struct {
	calls []triggerCall
	err   error
}

type triggerCall struct {
	sessionID string
	roundID   int
	tokens    int
}

func (f *fakeTrigger) OnRoundComplete(_ context.Context, sessionID string, roundID, tokens int) error {
	f.calls = append(f.calls, triggerCall{sessionID: sessionID, roundID: roundID, tokens: tokens})
	return f.err
}

type fakeTaskRunner struct {
	result orchestrator.Result
	err    error
	called bool
	goal   string
}

func (f *fakeTaskRunner) Run(_ context.Context, req orchestrator.Request) (orchestrator.Result, error) {
	f.called = true
	f.goal = req.Goal
	return f.result, f.err
}

type countingTokenizer struct{}

func (countingTokenizer) CountTokens(_ context.Context, text string) (int, error) {
	return len(text), nil
}

func (countingTokenizer) CountMessagesTokens(_ context.Context, msgs []llm.Message) (int, error) {
	total := 0
	for _, m := range msgs {
		total += len(m.Content)
	}
	return total, nil
}

func newTestRouter(store *fakeChatStore, trigger *fakeTrigger, task *fakeTaskRunner, chat *fakeChatProvider) *Router {
	return newTestRouterWithRecaller(store, trigger, task, chat, &fakeRecaller{})
}

func newTestRouterWithRecaller(store *fakeChatStore, trigger *fakeTrigger, task *fakeTaskRunner, chat *fakeChatProvider, recaller *fakeRecaller) *Router {
	return New(Deps{
		Resolver:  session.NewResolver(fakeSessionResolver{}, session.New()),
		Locks:     session.New(),
		Retriever: recaller,
		Composer:  fakeComposer{},
		ChatLLM:   chat,
		ChatModel: "test-model",
		Store:     store,
		Trigger:   trigger,
		Tokenizer: countingTokenizer{},
		Task:      task,
		Cfg:       config.Defaults(),
	})
}
