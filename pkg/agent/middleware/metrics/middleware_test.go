package metrics

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/agent/llmerrors"
	"agentkit/pkg/agent/middleware/resilience/circuit"
	"agentkit/pkg/logx"
)

type captureRecorder struct {
	mu       sync.Mutex
	requests []Request
	done     chan struct{}
}

func newCaptureRecorder() *captureRecorder {
	return &captureRecorder{done: make(chan struct{}, 8)}
}

func (c *captureRecorder) ObserveRequest(r Request) {
	c.mu.Lock()
	c.requests = append(c.requests, r)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *captureRecorder) IncThrottle(_, _ string)                {}
func (c *captureRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

func (c *captureRecorder) last() Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}

func request() llm.CompletionRequest {
	return llm.NewCompletionRequest("gpt-4o-mini", []llm.CompletionMessage{llm.NewUserMessage("hello there")}, nil)
}

func TestMiddlewareRecordsComplete(t *testing.T) {
	rec := newCaptureRecorder()
	base := llm.NewMockClient("mock", llm.MockResponse{Content: `{"chat_message":"hi"}`})
	client := llm.Chain(base, Middleware(rec, nil, nil))

	ctx := logx.WithAgentID(context.Background(), "agent-1")
	_, err := client.Complete(ctx, request())
	require.NoError(t, err)

	r := rec.last()
	assert.Equal(t, "gpt-4o-mini", r.Model)
	assert.Equal(t, "agent-1", r.AgentID)
	assert.Equal(t, OpComplete, r.Operation)
	assert.True(t, r.Success)
	assert.Positive(t, r.PromptTokens)
	assert.Positive(t, r.CompletionTokens)
}

func TestMiddlewareUsesProviderUsage(t *testing.T) {
	rec := newCaptureRecorder()
	base := llm.WrapClient(
		func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{Content: "x", Usage: llm.Usage{PromptTokens: 11, CompletionTokens: 7}}, nil
		},
		nil,
		func() string { return "mock" },
	)

	_, err := Middleware(rec, nil, nil)(base).Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)

	r := rec.last()
	assert.Equal(t, "mock", r.Model)
	assert.Equal(t, 11, r.PromptTokens)
	assert.Equal(t, 7, r.CompletionTokens)
}

func TestMiddlewareRecordsErrors(t *testing.T) {
	rec := newCaptureRecorder()
	upstream := llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "429")
	base := llm.NewMockClient("mock", llm.MockResponse{Err: upstream})

	_, err := Middleware(rec, nil, nil)(base).Complete(context.Background(), request())
	assert.Same(t, upstream, err)

	r := rec.last()
	assert.False(t, r.Success)
	assert.Equal(t, "rate_limit", r.ErrorType)
	assert.Zero(t, r.PromptTokens)
}

func TestMiddlewareRecordsStreamOnCompletion(t *testing.T) {
	rec := newCaptureRecorder()
	base := llm.NewMockClient("mock", llm.MockResponse{Chunks: []string{`{"chat_`, `message":"hi"}`}})

	stream, err := Middleware(rec, nil, nil)(base).Stream(context.Background(), request())
	require.NoError(t, err)

	var got string
	for chunk := range stream {
		got += chunk.Content
	}
	assert.Equal(t, `{"chat_message":"hi"}`, got)

	select {
	case <-rec.done:
	case <-time.After(time.Second):
		t.Fatal("stream was not recorded")
	}
	r := rec.last()
	assert.Equal(t, OpStream, r.Operation)
	assert.True(t, r.Success)
	assert.Positive(t, r.CompletionTokens)
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, "", getErrorType(nil))
	assert.Equal(t, "circuit_breaker", getErrorType(&circuit.Error{State: circuit.Open}))
	assert.Equal(t, "timeout", getErrorType(context.DeadlineExceeded))
	assert.Equal(t, "canceled", getErrorType(context.Canceled))
	assert.Equal(t, "auth", getErrorType(llmerrors.NewError(llmerrors.ErrorTypeAuth, "")))
	assert.Equal(t, "unknown", getErrorType(errors.New("boom")))
}

func TestPrometheusRecorderWriteText(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.ObserveRequest(Request{
		Model: "gpt-4o-mini", AgentID: "a1", Operation: OpComplete,
		PromptTokens: 10, CompletionTokens: 5, Success: true, Duration: 100 * time.Millisecond,
	})
	rec.IncThrottle("gpt-4o-mini", "rate_limit")

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, reg))
	out := buf.String()
	assert.Contains(t, out, `model="gpt-4o-mini",operation="complete",status="success"} 1`)
	assert.Contains(t, out, `llm_tokens_total{agent_id="a1",model="gpt-4o-mini",type="prompt"} 10`)
	assert.Contains(t, out, `llm_throttle_total{model="gpt-4o-mini",reason="rate_limit"} 1`)
	assert.Contains(t, out, "llm_request_duration_seconds_bucket")
}

func TestInternalRecorder(t *testing.T) {
	rec := NewInternalRecorder()
	rec.ObserveRequest(Request{AgentID: "a", PromptTokens: 3, CompletionTokens: 2, Success: true})
	rec.ObserveRequest(Request{AgentID: "a", PromptTokens: 4, CompletionTokens: 1, Success: true})
	rec.ObserveRequest(Request{AgentID: "a", Success: false})

	u := rec.Usage("a")
	require.NotNil(t, u)
	assert.Equal(t, int64(7), u.PromptTokens)
	assert.Equal(t, int64(3), u.CompletionTokens)
	assert.Equal(t, int64(10), u.TotalTokens)
	assert.Equal(t, int64(3), u.RequestCount)
	assert.Equal(t, int64(1), u.ErrorCount)

	assert.Nil(t, rec.Usage("missing"))
	assert.Len(t, rec.AllUsage(), 1)

	rec.Reset()
	assert.Nil(t, rec.Usage("a"))
}

func TestMulti(t *testing.T) {
	a, b := NewInternalRecorder(), NewInternalRecorder()
	Multi(a, b, Nop()).ObserveRequest(Request{AgentID: "x", Success: true, PromptTokens: 1})
	assert.Equal(t, int64(1), a.Usage("x").PromptTokens)
	assert.Equal(t, int64(1), b.Usage("x").PromptTokens)
}
