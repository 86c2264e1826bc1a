// Package openaiofficial provides OpenAI client implementation using the official OpenAI Go package.
package openaiofficial

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/agent/llmerrors"
	"agentkit/pkg/config"
)

const providerName = "openai"

// OfficialClient wraps the official OpenAI Go client to implement llm.LLMClient interface.
type OfficialClient struct {
	client openai.Client
	model  string
}

// NewOfficialClientWithModel creates a new OpenAI client with specific model using the official package (raw client, middleware applied at higher level).
func NewOfficialClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OfficialClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// buildParams converts a completion request into chat completion parameters.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (o *OfficialClient) buildParams(in llm.CompletionRequest) (openai.ChatCompletionNewParams, error) {
	if err := in.Validate(); err != nil {
		return openai.ChatCompletionNewParams{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, err.Error())
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		case llm.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		default:
			// Custom system role labels such as "developer".
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfDeveloper: &openai.ChatCompletionDeveloperMessageParam{
					Content: openai.ChatCompletionDeveloperMessageParamContentUnion{
						OfString: param.NewOpt(msg.Content),
					},
				},
			})
		}
	}

	model := in.ModelOr(o.model)
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}

	if t, ok := in.ParamFloat(llm.ParamTemperature); ok {
		params.Temperature = param.NewOpt(t)
	}
	if p, ok := in.ParamFloat(llm.ParamTopP); ok {
		params.TopP = param.NewOpt(p)
	}
	if n, ok := in.ParamInt(llm.ParamMaxTokens); ok && n > 0 {
		// Cap MaxTokens to model's actual limit to prevent API errors
		if info, known := config.GetModelInfo(model); known && info.MaxOutputTokens > 0 && n > info.MaxOutputTokens {
			n = info.MaxOutputTokens
		}
		params.MaxCompletionTokens = param.NewOpt(int64(n))
	}
	if extra := in.ExtraParams(); len(extra) > 0 {
		params.SetExtraFields(extra)
	}

	if in.Schema != nil {
		format := openai.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:   in.Schema.Name,
			Schema: strictSchema(in.Schema.Schema),
			Strict: param.NewOpt(true),
		}
		if in.Schema.Description != "" {
			format.Description = param.NewOpt(in.Schema.Description)
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: format},
		}
	}
	return params, nil
}

// strictSchema formats a schema for OpenAI structured outputs.
//
// OpenAI strict mode requires:
//   - All objects must have additionalProperties: false
//   - All properties must be listed in required
//
// Optional properties become nullable instead.
func strictSchema(s *jsonschema.Schema) *jsonschema.Schema {
	if s == nil {
		return nil
	}
	return formatStrict(s.CloneSchemas())
}

func formatStrict(m *jsonschema.Schema) *jsonschema.Schema {
	if m == nil {
		return nil
	}

	if m.Type != "" && len(m.Types) > 0 {
		m.Types = append(m.Types, m.Type)
		m.Type = ""
	}
	typ := m.Type
	if typ == "" {
		for _, t := range m.Types {
			if t != "null" && t != "" {
				typ = t
				break
			}
		}
	}

	switch typ {
	case "array":
		m.Items = formatStrict(m.Items)
	case "object":
		m.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}

		required := make(map[string]struct{}, len(m.Properties))
		for _, name := range m.Required {
			required[name] = struct{}{}
		}
		for name, prop := range m.Properties {
			if _, ok := required[name]; !ok {
				required[name] = struct{}{}
				if prop.Type != "" {
					prop.Types = []string{prop.Type}
					prop.Type = ""
				}
				if !slices.Contains(prop.Types, "null") {
					prop.Types = append(prop.Types, "null")
				}
			}
			m.Properties[name] = formatStrict(prop)
		}
		m.Required = slices.Sorted(maps.Keys(required))
	}
	return m
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (o *OfficialClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	params, err := o.buildParams(in)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI API")
	}

	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt,
			"OpenAI refused the request: "+choice.Message.Refusal)
	}

	return llm.CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// Stream implements the llm.LLMClient interface with server-sent events.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (o *OfficialClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	params, err := o.buildParams(in)
	if err != nil {
		return nil, err
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
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
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if reason := chunk.Choices[0].FinishReason; reason != "" {
				stopReason = reason
			}
			delta := chunk.Choices[0].Delta
			if delta.Refusal != "" {
				send(llm.StreamChunk{Error: llmerrors.NewError(llmerrors.ErrorTypeBadPrompt,
					"OpenAI refused the request: "+delta.Refusal)})
				return
			}
			if delta.Content != "" && !send(llm.StreamChunk{Content: delta.Content}) {
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
func (o *OfficialClient) GetModelName() string {
	return o.model
}

func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llmerrors.Classify(providerName, apiErr.StatusCode, err)
	}
	return llmerrors.Classify(providerName, 0, err)
}
