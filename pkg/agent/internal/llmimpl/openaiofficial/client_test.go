package openaiofficial

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/agent/llmerrors"
)

func TestNewOfficialClientWithModel(t *testing.T) {
	client := NewOfficialClientWithModel("test-api-key", "gpt-4o")
	require.NotNil(t, client)
	assert.Equal(t, "gpt-4o", client.GetModelName())
}

func outputSchema() *llm.OutputSchema {
	return &llm.OutputSchema{
		Name:        "Answer",
		Description: "An answer.",
		Schema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"chat_message": {Type: "string"},
				"mood":         {Type: "string"},
			},
			Required: []string{"chat_message"},
		},
	}
}

func TestStrictSchema(t *testing.T) {
	original := outputSchema().Schema
	strict := strictSchema(original)

	assert.Equal(t, []string{"chat_message", "mood"}, strict.Required)
	assert.Equal(t, []string{"string", "null"}, strict.Properties["mood"].Types)
	assert.Equal(t, "string", strict.Properties["chat_message"].Type)
	require.NotNil(t, strict.AdditionalProperties)

	assert.Equal(t, []string{"chat_message"}, original.Required, "input schema untouched")
	assert.Nil(t, original.AdditionalProperties)
}

func TestStrictSchemaNested(t *testing.T) {
	s := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"items": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type:       "object",
					Properties: map[string]*jsonschema.Schema{"name": {Type: "string"}},
				},
			},
		},
		Required: []string{"items"},
	}
	strict := strictSchema(s)
	inner := strict.Properties["items"].Items
	assert.Equal(t, []string{"name"}, inner.Required)
	assert.NotNil(t, inner.AdditionalProperties)
}

func TestBuildParams(t *testing.T) {
	c := NewOfficialClientWithModel("key", "gpt-4o").(*OfficialClient)

	req := llm.NewCompletionRequest("", []llm.CompletionMessage{
		llm.NewSystemMessage("be brief"),
		{Role: "developer", Content: "dev note"},
		llm.NewUserMessage("hi"),
		{Role: llm.RoleAssistant, Content: "hello"},
		llm.NewUserMessage("again"),
	}, map[string]any{llm.ParamTemperature: 0.5, llm.ParamMaxTokens: 999999, "seed": 3})
	req.Schema = outputSchema()

	params, err := c.buildParams(req)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", string(params.Model))
	require.Len(t, params.Messages, 5)
	assert.NotNil(t, params.Messages[0].OfSystem)
	assert.NotNil(t, params.Messages[1].OfDeveloper)
	assert.NotNil(t, params.Messages[2].OfUser)
	assert.NotNil(t, params.Messages[3].OfAssistant)
	assert.InDelta(t, 0.5, params.Temperature.Value, 1e-9)
	assert.Equal(t, int64(16384), params.MaxCompletionTokens.Value, "capped to the model limit")
	require.NotNil(t, params.ResponseFormat.OfJSONSchema)
	assert.Equal(t, "Answer", params.ResponseFormat.OfJSONSchema.JSONSchema.Name)
}

func TestBuildParamsOmitsUnsetMaxTokens(t *testing.T) {
	c := NewOfficialClientWithModel("key", "gpt-4o").(*OfficialClient)
	params, err := c.buildParams(llm.NewCompletionRequest("", []llm.CompletionMessage{llm.NewUserMessage("hi")}, nil))
	require.NoError(t, err)
	assert.False(t, params.MaxCompletionTokens.Valid())
	assert.Nil(t, params.ResponseFormat.OfJSONSchema)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) llm.LLMClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOfficialClientWithModel("test-key", "gpt-4o-mini",
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
}

func TestComplete(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"chat_message\":\"hi\"}"}}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
		}`)
	})

	req := llm.NewCompletionRequest("", []llm.CompletionMessage{llm.NewUserMessage("hi")}, nil)
	req.Schema = outputSchema()
	resp, err := client.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, `{"chat_message":"hi"}`, resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, llm.Usage{PromptTokens: 9, CompletionTokens: 3}, resp.Usage)

	format, ok := captured["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
}

func TestCompleteRefusal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id": "x", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "", "refusal": "no"}}]}`)
	})
	_, err := client.Complete(context.Background(),
		llm.NewCompletionRequest("", []llm.CompletionMessage{llm.NewUserMessage("hi")}, nil))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt))
}

func TestCompleteClassifiesErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error": {"message": "slow down", "type": "rate_limit"}}`)
	})
	_, err := client.Complete(context.Background(),
		llm.NewCompletionRequest("", []llm.CompletionMessage{llm.NewUserMessage("hi")}, nil))
	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeRateLimit, llmerrors.TypeOf(err))
}

func TestStream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{`{\"chat_message\": \"hel`, `lo\"}`} {
			_, _ = io.WriteString(w, `data: {"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"`+piece+`"}}]}`+"\n\n")
		}
		_, _ = io.WriteString(w, `data: {"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`+"\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	stream, err := client.Stream(context.Background(),
		llm.NewCompletionRequest("", []llm.CompletionMessage{llm.NewUserMessage("hi")}, nil))
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
	assert.Equal(t, "stop", stopReason)
	assert.Equal(t, []string{`{"chat_message": "hel`, `lo"}`}, pieces)
}
