package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfuse/internal/orchestrator"
	"memfuse/internal/store"
)

func TestHandle_ChatMode_PersistsBothTurnsAndTriggersExtractor(t *testing.T) {
	st := &fakeChatStore{}
	trig := &fakeTrigger{}
	task := &fakeTaskRunner{}
	chat := &fakeChatProvider{reply: "hi there"}
	r := newTestRouter(st, trig, task, chat)

	resp, err := r.Handle(context.Background(), Request{ExternalSessionID: "ext-1", Text: "hello"})

	require.NoError(t, err)
	assert.Equal(t, ModeChat, resp.Mode)
	assert.Equal(t, "hi there", resp.ChatReply)
	require.Len(t, st.appended, 2)
	assert.Equal(t, store.SpeakerUser, st.appended[0].Speaker)
	assert.Equal(t, store.SpeakerAssistant, st.appended[1].Speaker)
	require.Len(t, trig.calls, 1)
	assert.False(t, task.called)
}

func TestHandle_TagM3_RoutesToTaskAndSkipsChat(t *testing.T) {
	st := &fakeChatStore{}
	trig := &fakeTrigger{}
	task := &fakeTaskRunner{result: orchestrator.Result{Output: "done"}}
	chat := &fakeChatProvider{reply: "should not be used"}
	r := newTestRouter(st, trig, task, chat)

	resp, err := r.Handle(context.Background(), Request{ExternalSessionID: "ext-1", Text: "schedule the deploy", Tag: "m3"})

	require.NoError(t, err)
	assert.Equal(t, ModeTask, resp.Mode)
	assert.Equal(t, "done", resp.TaskResult.Output)
	assert.True(t, task.called)
	assert.Equal(t, "schedule the deploy", task.goal)
	assert.Empty(t, st.appended)
	assert.Empty(t, trig.calls)
}

func TestHandle_ResolvesSameExternalIDToSameSessionID(t *testing.T) {
	st := &fakeChatStore{}
	r := newTestRouter(st, &fakeTrigger{}, &fakeTaskRunner{}, &fakeChatProvider{reply: "ok"})

	resp1, err := r.Handle(context.Background(), Request{ExternalSessionID: "same-caller", Text: "one"})
	require.NoError(t, err)
	resp2, err := r.Handle(context.Background(), Request{ExternalSessionID: "same-caller", Text: "two"})
	require.NoError(t, err)

	assert.Equal(t, resp1.SessionID, resp2.SessionID)
}

func TestHandle_ChatMode_PropagatesLLMError(t *testing.T) {
	st := &fakeChatStore{}
	r := newTestRouter(st, &fakeTrigger{}, &fakeTaskRunner{}, &fakeChatProvider{err: errChatBoom})

	_, err := r.Handle(context.Background(), Request{ExternalSessionID: "ext-1", Text: "hello"})

	assert.Error(t, err)
	assert.Empty(t, st.appended)
}

func TestHandle_TaskMode_PropagatesOrchestratorError(t *testing.T) {
	task := &fakeTaskRunner{err: errChatBoom}
	r := newTestRouter(&fakeChatStore{}, &fakeTrigger{}, task, &fakeChatProvider{})

	_, err := r.Handle(context.Background(), Request{ExternalSessionID: "ext-1", Text: "goal", Tag: "m3"})

	assert.Error(t, err)
}

func TestBoostFor_M3TagBoostsWorkflowScore(t *testing.T) {
	assert.Equal(t, 1.25, boostFor("m3"))
	assert.Equal(t, 1.0, boostFor(""))
	assert.Equal(t, 1.0, boostFor("other"))
}

func TestHandle_ChatMode_PassesWorkflowBoostThroughRetrieveOptions(t *testing.T) {
	st := &fakeChatStore{}
	recaller := &fakeRecaller{}
	r := newTestRouterWithRecaller(st, &fakeTrigger{}, &fakeTaskRunner{}, &fakeChatProvider{reply: "ok"}, recaller)

	_, err := r.Handle(context.Background(), Request{ExternalSessionID: "ext-1", Text: "recall workflows", Tag: "not-m3"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, recaller.lastOpts.WorkflowBoost)
	assert.True(t, recaller.lastOpts.IncludeWorkflows)
}

var errChatBoom = assert.AnError
