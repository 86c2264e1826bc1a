package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/agent/llmerrors"
)

// TestEnsureAlternation tests the message alternation logic.
func TestEnsureAlternation(t *testing.T) {
	tests := []struct {
		name         string
		input        []llm.CompletionMessage
		expectSystem string
		expectMsgLen int
		errContains  string
	}{
		{
			name:        "empty messages",
			input:       []llm.CompletionMessage{},
			errContains: "message list cannot be empty",
		},
		{
			name: "system message extracted",
			input: []llm.CompletionMessage{
				{Role: llm.RoleSystem, Content: "You are helpful"},
				{Role: llm.RoleUser, Content: "Hello"},
			},
			expectSystem: "You are helpful",
			expectMsgLen: 1,
		},
		{
			name: "multiple system messages concatenated",
			input: []llm.CompletionMessage{
				{Role: llm.RoleSystem, Content: "You are helpful"},
				{Role: llm.RoleSystem, Content: "And concise"},
				{Role: llm.RoleUser, Content: "Hello"},
			},
			expectSystem: "You are helpful\n\nAnd concise",
			expectMsgLen: 1,
		},
		{
			name: "proper alternation maintained",
			input: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Hello"},
				{Role: llm.RoleAssistant, Content: "Hi"},
				{Role: llm.RoleUser, Content: "How are you?"},
			},
			expectMsgLen: 3,
		},
		{
			name: "consecutive user messages merged",
			input: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Hello"},
				{Role: llm.RoleUser, Content: "Anyone there?"},
			},
			expectMsgLen: 1,
		},
		{
			name: "only system messages",
			input: []llm.CompletionMessage{
				{Role: llm.RoleSystem, Content: "You are helpful"},
			},
			errContains: "at least one non-system message",
		},
		{
			name: "starts with assistant",
			input: []llm.CompletionMessage{
				{Role: llm.RoleAssistant, Content: "Hi"},
				{Role: llm.RoleUser, Content: "Hello"},
			},
			errContains: "first message must be user",
		},
		{
			name: "ends with assistant gets a continuation turn",
			input: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Hello"},
				{Role: llm.RoleAssistant, Content: "Hi"},
			},
			expectMsgLen: 3,
		},
		{
			name: "consecutive assistant messages",
			input: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Hello"},
				{Role: llm.RoleAssistant, Content: "Hi"},
				{Role: llm.RoleAssistant, Content: "Again"},
				{Role: llm.RoleUser, Content: "?"},
			},
			errContains: "alternation violation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, msgs, err := ensureAlternation(tt.input)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectSystem, system)
			assert.Len(t, msgs, tt.expectMsgLen)
		})
	}
}

func TestEnsureAlternationContinuation(t *testing.T) {
	_, msgs, err := ensureAlternation([]llm.CompletionMessage{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "Hello"},
		{Role: llm.RoleAssistant, Content: `{"chat_message":"Hi"}`},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleUser, msgs[2].Role)
	assert.Equal(t, continuationPrompt, msgs[2].Content)
}

func TestEnsureAlternationMergedContent(t *testing.T) {
	_, msgs, err := ensureAlternation([]llm.CompletionMessage{
		llm.NewUserMessage("a"),
		llm.NewUserMessage("b"),
	})
	require.NoError(t, err)
	assert.Equal(t, "a\n\nb", msgs[0].Content)
}

func TestToolName(t *testing.T) {
	assert.Equal(t, "BasicChatOutput", toolName("BasicChatOutput"))
	assert.Equal(t, "pkg_Type_int_", toolName("pkg.Type[int]"))
	assert.Equal(t, "structured_output", toolName(""))
}

func outputSchema() *llm.OutputSchema {
	return &llm.OutputSchema{
		Name:        "Answer",
		Description: "An answer.",
		Schema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"chat_message": {Type: "string"},
			},
			Required: []string{"chat_message"},
		},
	}
}

func TestBuildParams(t *testing.T) {
	c := NewClaudeClientWithModel("key", "claude-sonnet-4-5").(*ClaudeClient)

	req := llm.NewCompletionRequest("", []llm.CompletionMessage{
		llm.NewSystemMessage("be brief"),
		llm.NewUserMessage("hi"),
	}, map[string]any{llm.ParamTemperature: 0.3, llm.ParamMaxTokens: 100000})
	req.Schema = outputSchema()

	params, err := c.buildParams(req)
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5", string(params.Model))
	assert.Equal(t, int64(8192), params.MaxTokens, "capped to the model limit")
	assert.InDelta(t, 0.3, params.Temperature.Value, 1e-9)
	require.Len(t, params.System, 1)
	assert.Equal(t, "be brief", params.System[0].Text)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "Answer", params.Tools[0].OfTool.Name)
	require.NotNil(t, params.ToolChoice.OfTool)
	assert.Equal(t, "Answer", params.ToolChoice.OfTool.Name)
}

func TestBuildParamsDefaultMaxTokens(t *testing.T) {
	c := NewClaudeClientWithModel("key", "claude-sonnet-4-5").(*ClaudeClient)
	params, err := c.buildParams(llm.NewCompletionRequest("", []llm.CompletionMessage{llm.NewUserMessage("hi")}, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(llm.DefaultMaxTokens), params.MaxTokens)
	assert.Empty(t, params.Tools)
}

func TestBuildParamsRejectsBadPrompt(t *testing.T) {
	c := NewClaudeClientWithModel("key", "claude-sonnet-4-5").(*ClaudeClient)
	_, err := c.buildParams(llm.CompletionRequest{})
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) llm.LLMClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClaudeClientWithModel("test-key", "claude-sonnet-4-5",
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
}

func TestCompleteReturnsToolInput(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
			"content": [{"type": "tool_use", "id": "tu_1", "name": "Answer", "input": {"chat_message": "hello"}}],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`)
	})

	req := llm.NewCompletionRequest("", []llm.CompletionMessage{llm.NewUserMessage("hi")}, nil)
	req.Schema = outputSchema()
	resp, err := client.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.JSONEq(t, `{"chat_message": "hello"}`, resp.Content)
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, llm.Usage{PromptTokens: 12, CompletionTokens: 7}, resp.Usage)
	assert.Equal(t, "claude-sonnet-4-5", captured["model"])
}

func TestCompleteEmptyResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id": "msg_1", "type": "message", "role": "assistant", "content": [],
			"stop_reason": "end_turn", "usage": {"input_tokens": 1, "output_tokens": 0}}`)
	})

	_, err := client.Complete(context.Background(),
		llm.NewCompletionRequest("", []llm.CompletionMessage{llm.NewUserMessage("hi")}, nil))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse))
}

func TestCompleteClassifiesErrors(t *testing.T) {
	tests := []struct {
		status int
		want   llmerrors.ErrorType
	}{
		{http.StatusTooManyRequests, llmerrors.ErrorTypeRateLimit},
		{http.StatusUnauthorized, llmerrors.ErrorTypeAuth},
		{http.StatusBadRequest, llmerrors.ErrorTypeBadPrompt},
		{http.StatusServiceUnavailable, llmerrors.ErrorTypeTransient},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"type": "error", "error": {"type": "api_error", "message": "nope"}}`)
			})
			_, err := client.Complete(context.Background(),
				llm.NewCompletionRequest("", []llm.CompletionMessage{llm.NewUserMessage("hi")}, nil))
			require.Error(t, err)
			assert.Equal(t, tt.want, llmerrors.TypeOf(err))
		})
	}
}

func sseEvent(name, data string) string {
	return "event: " + name + "\ndata: " + data + "\n\n"
}

func TestStreamYieldsPartialJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		var b strings.Builder
		b.WriteString(sseEvent("message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"usage":{"input_tokens":3,"output_tokens":0}}}`))
		b.WriteString(sseEvent("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"tu_1","name":"Answer","input":{}}}`))
		b.WriteString(sseEvent("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"chat_message\": \"hel"}}`))
		b.WriteString(sseEvent("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"lo\"}"}}`))
		b.WriteString(sseEvent("content_block_stop", `{"type":"content_block_stop","index":0}`))
		b.WriteString(sseEvent("message_delta", `{"type":"message_delta","delta":{"stop_reason":"max_tokens","stop_sequence":null},"usage":{"output_tokens":5}}`))
		b.WriteString(sseEvent("message_stop", `{"type":"message_stop"}`))
		_, _ = io.WriteString(w, b.String())
	})

	req := llm.NewCompletionRequest("", []llm.CompletionMessage{llm.NewUserMessage("hi")}, nil)
	req.Schema = outputSchema()
	stream, err := client.Stream(context.Background(), req)
	require.NoError(t, err)

	var pieces []string
	var done bool
	var stopReason string
	for chunk := range stream {
		require.NoError(t, chunk.Error)
		if chunk.Done {
			done = true
			stopReason = chunk.StopReason
			continue
		}
		pieces = append(pieces, chunk.Content)
	}
	assert.True(t, done)
	assert.Equal(t, "max_tokens", stopReason)
	assert.Equal(t, []string{`{"chat_message": "hel`, `lo"}`}, pieces)
}
