// Package anthropic provides Anthropic Claude client implementation for LLM interface.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/agent/llmerrors"
	"agentkit/pkg/config"
)

const providerName = "anthropic"

// ClaudeClient wraps the Anthropic API client to implement llm.LLMClient interface.
// Structured output is produced through a forced tool call whose input schema
// is the requested output schema.
type ClaudeClient struct {
	client anthropic.Client
	model  string
}

// NewClaudeClientWithModel creates a new Claude client with specific model (raw client, middleware applied at higher level).
func NewClaudeClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ClaudeClient{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// continuationPrompt closes a conversation that ends on an assistant turn,
// as Agent.Continue produces. Anthropic requires the last message to be user.
const continuationPrompt = "Continue."

// ensureAlternation prepares messages for Anthropic API requirements.
// 1. Extracts system messages to top-level system parameter
// 2. Merges consecutive user messages into single user messages
// 3. Ensures strict user/assistant alternation that starts and ends with user,
// appending continuationPrompt after a trailing assistant message.
func ensureAlternation(messages []llm.CompletionMessage) (systemPrompt string, alternating []llm.CompletionMessage, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var currentUserParts []string

	flush := func() {
		if len(currentUserParts) > 0 {
			alternating = append(alternating, llm.NewUserMessage(strings.Join(currentUserParts, "\n\n")))
			currentUserParts = nil
		}
	}

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case llm.RoleAssistant:
			flush()
			alternating = append(alternating, *msg)
		default:
			currentUserParts = append(currentUserParts, msg.Content)
		}
	}
	flush()

	if len(alternating) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	for i := range alternating {
		if i > 0 && alternating[i].Role == alternating[i-1].Role {
			return "", nil, fmt.Errorf("alternation violation at index %d: consecutive %s messages", i, alternating[i].Role)
		}
	}
	if alternating[0].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got: %s", alternating[0].Role)
	}
	if alternating[len(alternating)-1].Role == llm.RoleAssistant {
		alternating = append(alternating, llm.NewUserMessage(continuationPrompt))
	}

	return strings.Join(systemParts, "\n\n"), alternating, nil
}

// buildParams converts a completion request into Anthropic message parameters.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (c *ClaudeClient) buildParams(in llm.CompletionRequest) (anthropic.MessageNewParams, error) {
	if err := in.Validate(); err != nil {
		return anthropic.MessageNewParams{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, err.Error())
	}
	systemPrompt, alternating, err := ensureAlternation(in.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err,
			fmt.Sprintf("message alternation error: %v", err))
	}

	messages := make([]anthropic.MessageParam, 0, len(alternating))
	for i := range alternating {
		msg := &alternating[i]
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == llm.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	model := in.ModelOr(c.model)
	maxTokens, ok := in.ParamInt(llm.ParamMaxTokens)
	if !ok || maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	// Cap MaxTokens to the model's actual limit to prevent API errors.
	if info, known := config.GetModelInfo(model); known && info.MaxOutputTokens > 0 && maxTokens > info.MaxOutputTokens {
		maxTokens = info.MaxOutputTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if t, ok := in.ParamFloat(llm.ParamTemperature); ok {
		params.Temperature = anthropic.Float(t)
	}
	if p, ok := in.ParamFloat(llm.ParamTopP); ok {
		params.TopP = anthropic.Float(p)
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if extra := in.ExtraParams(); len(extra) > 0 {
		params.SetExtraFields(extra)
	}

	if in.Schema != nil {
		tool := anthropic.ToolParam{
			Name: toolName(in.Schema.Name),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: in.Schema.Schema.Properties,
				Required:   in.Schema.Schema.Required,
			},
		}
		if in.Schema.Description != "" {
			tool.Description = anthropic.String(in.Schema.Description)
		}
		params.Tools = []anthropic.ToolUnionParam{{OfTool: &tool}}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: tool.Name},
		}
	}
	return params, nil
}

// toolName sanitizes a schema name into Anthropic's tool name alphabet.
func toolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "structured_output"
	}
	return b.String()
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	params, err := c.buildParams(in)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
			"received empty or nil response from Claude API")
	}

	var text strings.Builder
	var toolInput string
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			toolInput = string(block.AsToolUse().Input)
		}
	}

	content := text.String()
	if in.Schema != nil && toolInput != "" {
		content = toolInput
	}
	return llm.CompletionResponse{
		Content:    content,
		StopReason: string(resp.StopReason),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// Stream implements the llm.LLMClient interface. With a schema the chunks are
// the partial JSON of the forced tool call; otherwise they are text deltas.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (c *ClaudeClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	params, err := c.buildParams(in)
	if err != nil {
		return nil, err
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		send := func(chunk llm.StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var stopReason string
		for stream.Next() {
			var delta anthropic.ContentBlockDeltaEvent
			switch event := stream.Current().AsAny().(type) {
			case anthropic.MessageDeltaEvent:
				stopReason = string(event.Delta.StopReason)
				continue
			case anthropic.ContentBlockDeltaEvent:
				delta = event
			default:
				continue
			}
			var piece string
			switch d := delta.Delta.AsAny().(type) {
			case anthropic.InputJSONDelta:
				piece = d.PartialJSON
			case anthropic.TextDelta:
				if in.Schema == nil {
					piece = d.Text
				}
			}
			if piece != "" && !send(llm.StreamChunk{Content: piece}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(llm.StreamChunk{Error: classifyError(err)})
			return
		}
		send(llm.StreamChunk{Done: true, StopReason: stopReason})
	}()
	return ch, nil
}

// GetModelName returns the model name for this client.
func (c *ClaudeClient) GetModelName() string {
	return c.model
}

// classifyError maps Anthropic SDK errors to our structured error types.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llmerrors.Classify(providerName, apiErr.StatusCode, err)
	}
	return llmerrors.Classify(providerName, 0, err)
}
