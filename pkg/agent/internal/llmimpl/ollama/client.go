// Package ollama provides Ollama client implementation for LLM interface.
// Ollama is a local LLM runtime that allows running open-source models.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/agent/llmerrors"
)

const (
	providerName = "ollama"
	defaultHost  = "http://localhost:11434"
)

// Client wraps the Ollama API client to implement llm.LLMClient interface.
type Client struct {
	client *api.Client
	model  string
}

// NewOllamaClientWithModel creates a new Ollama client with specific model.
// hostURL should be the Ollama server URL (e.g., "http://localhost:11434").
func NewOllamaClientWithModel(hostURL, model string) llm.LLMClient {
	return NewOllamaClientWithHTTPClient(hostURL, model, http.DefaultClient)
}

// NewOllamaClientWithHTTPClient is NewOllamaClientWithModel with a caller-supplied transport.
func NewOllamaClientWithHTTPClient(hostURL, model string, httpClient *http.Client) llm.LLMClient {
	parsedURL, err := url.Parse(hostURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		parsedURL, _ = url.Parse(defaultHost)
	}
	return &Client{
		client: api.NewClient(parsedURL, httpClient),
		model:  strings.TrimPrefix(model, "ollama:"),
	}
}

// buildRequest converts a completion request into an Ollama chat request.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (o *Client) buildRequest(in llm.CompletionRequest, stream bool) (*api.ChatRequest, error) {
	if err := in.Validate(); err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, fmt.Sprintf("message conversion error: %v", err))
	}

	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		messages = append(messages, api.Message{
			Role:    string(in.Messages[i].Role),
			Content: in.Messages[i].Content,
		})
	}

	options := in.ExtraParams()
	if t, ok := in.ParamFloat(llm.ParamTemperature); ok {
		options["temperature"] = t
	}
	if p, ok := in.ParamFloat(llm.ParamTopP); ok {
		options["top_p"] = p
	}
	if n, ok := in.ParamInt(llm.ParamMaxTokens); ok {
		options["num_predict"] = n
	}

	req := &api.ChatRequest{
		Model:    strings.TrimPrefix(in.ModelOr(o.model), "ollama:"),
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}
	if in.Schema != nil {
		format, err := json.Marshal(in.Schema.Schema)
		if err != nil {
			return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "failed to encode output schema")
		}
		req.Format = format
	}
	return req, nil
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	req, err := o.buildRequest(in, false)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	var response api.ChatResponse
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	return llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: getStopReason(&response),
		Usage: llm.Usage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
		},
	}, nil
}

// Stream implements the llm.LLMClient interface using Ollama's streaming chat callback.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (o *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	req, err := o.buildRequest(in, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)

		stopReason := "incomplete"
		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Done {
				stopReason = getStopReason(&resp)
			}
			if resp.Message.Content == "" {
				return nil
			}
			select {
			case ch <- llm.StreamChunk{Content: resp.Message.Content}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})

		final := llm.StreamChunk{Done: true, StopReason: stopReason}
		if err != nil {
			final = llm.StreamChunk{Error: classifyError(err)}
		}
		select {
		case ch <- final:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

// getStopReason converts Ollama's done_reason to our stop reason format.
func getStopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}

	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

// classifyError converts Ollama errors to our error types.
func classifyError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusNotFound {
			return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err,
				fmt.Sprintf("Ollama model not found: %v", err))
		}
		return llmerrors.Classify(providerName, statusErr.StatusCode, err)
	}
	if strings.Contains(err.Error(), "connection refused") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err,
			fmt.Sprintf("Ollama server not reachable: %v", err))
	}
	return llmerrors.Classify(providerName, 0, err)
}
