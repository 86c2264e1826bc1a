// Package llm provides interfaces and types for chat-completion client implementations.
package llm

import (
	"context"
	"fmt"
	"io"
	"maps"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem CompletionRole = "system"
	// RoleUser indicates a message from the human user.
	RoleUser CompletionRole = "user"
	// RoleAssistant indicates a message from the AI assistant.
	RoleAssistant CompletionRole = "assistant"
)

// Well-known keys of CompletionRequest.Params. Providers map these onto their
// own request fields and ignore keys they do not understand.
const (
	ParamTemperature = "temperature"
	ParamMaxTokens   = "max_tokens"
	ParamTopP        = "top_p"
)

// DefaultMaxTokens is used by providers whose API requires an output limit
// when the request does not carry one.
const DefaultMaxTokens = 4096

// CompletionMessage represents a message in a completion request.
type CompletionMessage struct {
	Role    CompletionRole `json:"role"`
	Content string         `json:"content"`
}

// OutputSchema describes the structured result the model must produce.
type OutputSchema struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
}

// CompletionRequest represents a request to generate a completion.
type CompletionRequest struct {
	Model    string
	Messages []CompletionMessage
	Params   map[string]any
	Schema   *OutputSchema // nil means free-form text
}

// Usage reports token accounting returned by a provider, when available.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// CompletionResponse represents a response from a completion request.
type CompletionResponse struct {
	Content    string // Main response text (JSON when a schema was requested)
	StopReason string // Why the response stopped: "end_turn", "max_tokens", "refusal", etc.
	Usage      Usage
}

// StreamChunk represents a chunk of streamed completion response.
// The Done chunk carries the stop reason when the provider reports one.
type StreamChunk struct {
	Error      error
	Content    string
	StopReason string
	Done       bool
}

// IsTruncated reports whether a stop reason means the output hit the token
// limit or ended before the provider finished it.
func IsTruncated(stopReason string) bool {
	switch strings.ToLower(stopReason) {
	case "length", "max_tokens", "incomplete":
		return true
	default:
		return false
	}
}

// LLMClient defines the interface for language model interactions.
type LLMClient interface { //nolint:revive // Keep name for consistency with middleware packages
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// Stream generates a completion as a stream of chunks.
	Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error)

	// GetModelName returns the default model name for this LLM client.
	GetModelName() string
}

// NewCompletionRequest creates a completion request for model with a copy of params.
func NewCompletionRequest(model string, messages []CompletionMessage, params map[string]any) CompletionRequest {
	return CompletionRequest{
		Model:    model,
		Messages: messages,
		Params:   maps.Clone(params),
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleSystem,
		Content: content,
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleUser,
		Content: content,
	}
}

// ModelOr returns the request model, falling back to def when unset.
func (r *CompletionRequest) ModelOr(def string) string {
	if r.Model != "" {
		return r.Model
	}
	return def
}

// ParamFloat reads a numeric parameter as float64.
func (r *CompletionRequest) ParamFloat(key string) (float64, bool) {
	switch v := r.Params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// ParamInt reads a numeric parameter as int.
func (r *CompletionRequest) ParamInt(key string) (int, bool) {
	switch v := r.Params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	default:
		return 0, false
	}
}

// ExtraParams returns the parameters that are not one of the well-known keys.
func (r *CompletionRequest) ExtraParams() map[string]any {
	extra := make(map[string]any)
	for k, v := range r.Params {
		switch k {
		case ParamTemperature, ParamMaxTokens, ParamTopP:
			continue
		}
		extra[k] = v
	}
	return extra
}

// Validate checks the request shape common to all providers.
func (r *CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("message list cannot be empty")
	}
	if r.Schema != nil && r.Schema.Schema == nil {
		return fmt.Errorf("output schema %q has no JSON schema", r.Schema.Name)
	}
	return nil
}

// StreamToReader converts a stream channel to an io.Reader.
func StreamToReader(stream <-chan StreamChunk) io.Reader {
	pr, pw := io.Pipe()

	go func() {
		defer func() {
			_ = pw.Close()
		}()
		for chunk := range stream {
			if chunk.Error != nil {
				pw.CloseWithError(chunk.Error)
				return
			}
			if _, err := pw.Write([]byte(chunk.Content)); err != nil {
				pw.CloseWithError(err)
				return
			}
			if chunk.Done {
				return
			}
		}
	}()

	return pr
}
