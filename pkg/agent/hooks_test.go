package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/structured"
)

// eventRecorder collects hook invocations; stream hooks fire from another goroutine.
type eventRecorder struct {
	mu     sync.Mutex
	events []HookData
}

func (r *eventRecorder) hook(_ context.Context, data HookData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, data)
}

func (r *eventRecorder) names() []HookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HookEvent, len(r.events))
	for i, e := range r.events {
		out[i] = e.Event
	}
	return out
}

func registerAll(a *BasicAgent, rec *eventRecorder) {
	for _, e := range []HookEvent{HookCompletionRequest, HookCompletionResponse, HookCompletionError, HookParseError} {
		a.RegisterHook(e, rec.hook)
	}
}

func quietAgent(t *testing.T, client llm.LLMClient) *BasicAgent {
	t.Helper()
	return newBasic(t, client, func(c *Config) { c.PromptLog = &PromptLogConfig{Mode: PromptLogOff} })
}

func TestHooksOnSuccess(t *testing.T) {
	a := quietAgent(t, llm.NewMockClient(testModel, reply("ok")))
	rec := &eventRecorder{}
	registerAll(a, rec)

	_, err := a.Run(context.Background(), input("hi"))
	require.NoError(t, err)

	assert.Equal(t, []HookEvent{HookCompletionRequest, HookCompletionResponse}, rec.names())
	assert.Equal(t, `{"chat_message": "ok"}`, rec.events[1].Response.Content)
	require.NotNil(t, rec.events[0].Request.Schema)
}

func TestHooksOnCompletionError(t *testing.T) {
	boom := errors.New("boom")
	a := quietAgent(t, llm.NewMockClient(testModel, llm.MockResponse{Err: boom}))
	rec := &eventRecorder{}
	registerAll(a, rec)

	_, err := a.Run(context.Background(), input("hi"))
	assert.Equal(t, boom, err)
	assert.Equal(t, []HookEvent{HookCompletionRequest, HookCompletionError}, rec.names())
	assert.Equal(t, boom, rec.events[1].Err)
}

func TestHooksOnParseError(t *testing.T) {
	a := quietAgent(t, llm.NewMockClient(testModel, llm.MockResponse{Content: "not json"}))
	rec := &eventRecorder{}
	registerAll(a, rec)

	_, err := a.Run(context.Background(), input("hi"))
	require.Error(t, err)
	assert.Equal(t, []HookEvent{HookCompletionRequest, HookCompletionResponse, HookParseError}, rec.names())
	assert.ErrorIs(t, rec.events[2].Err, structured.ErrDecode)
	require.NotNil(t, rec.events[2].Request.Schema, "parse errors report the request that was sent")
	assert.Equal(t, "BasicChatOutput", rec.events[2].Request.Schema.Name)
}

func TestHooksOnStream(t *testing.T) {
	a := quietAgent(t, llm.NewMockClient(testModel, llm.MockResponse{
		Chunks: []string{`{"chat_message": "he`, `llo"}`},
	}))
	rec := &eventRecorder{}
	registerAll(a, rec)

	for _, err := range a.RunStream(context.Background(), input("hi")) {
		require.NoError(t, err)
	}

	names := rec.names()
	require.NotEmpty(t, names)
	assert.Equal(t, HookCompletionRequest, names[0])
}

func TestHookPanicIsRecovered(t *testing.T) {
	a := quietAgent(t, llm.NewMockClient(testModel, reply("still fine")))
	a.RegisterHook(HookCompletionRequest, func(context.Context, HookData) { panic("hook exploded") })
	rec := &eventRecorder{}
	a.RegisterHook(HookCompletionRequest, rec.hook)

	out, err := a.Run(context.Background(), input("hi"))
	require.NoError(t, err)
	assert.Equal(t, "still fine", out.ChatMessage)
	assert.Len(t, rec.names(), 1, "later hooks still run")
}

func TestUnregisterHook(t *testing.T) {
	a := quietAgent(t, llm.NewMockClient(testModel, reply("a"), reply("b")))
	rec := &eventRecorder{}
	id := a.RegisterHook(HookCompletionRequest, rec.hook)

	_, err := a.Run(context.Background(), input("1"))
	require.NoError(t, err)
	assert.True(t, a.UnregisterHook(HookCompletionRequest, id))
	assert.False(t, a.UnregisterHook(HookCompletionRequest, id))

	_, err = a.Run(context.Background(), input("2"))
	require.NoError(t, err)
	assert.Len(t, rec.names(), 1)
}

func TestDisableAndClearHooks(t *testing.T) {
	a := quietAgent(t, llm.NewMockClient(testModel, reply("a"), reply("b"), reply("c")))
	rec := &eventRecorder{}
	registerAll(a, rec)

	a.DisableHooks()
	assert.False(t, a.HooksEnabled())
	_, err := a.Run(context.Background(), input("1"))
	require.NoError(t, err)
	assert.Empty(t, rec.names())

	a.EnableHooks()
	a.ClearHooks(HookCompletionRequest)
	_, err = a.Run(context.Background(), input("2"))
	require.NoError(t, err)
	assert.Equal(t, []HookEvent{HookCompletionResponse}, rec.names())

	a.ClearHooks()
	_, err = a.Run(context.Background(), input("3"))
	require.NoError(t, err)
	assert.Len(t, rec.names(), 1)
}
