// Package google provides Google Gemini client implementation for LLM interface.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/agent/llmerrors"
	"agentkit/pkg/config"
)

const providerName = "google"

// GeminiClient wraps the Google GenAI client to implement llm.LLMClient interface.
type GeminiClient struct {
	mu      sync.Mutex
	client  *genai.Client
	apiKey  string
	baseURL string
	model   string
}

// NewGeminiClientWithModel creates a new Gemini client with specific model (raw client, middleware applied at higher level).
func NewGeminiClientWithModel(apiKey, model string) llm.LLMClient {
	// Client creation requires a context, so it is deferred to the first call.
	return &GeminiClient{
		apiKey: apiKey,
		model:  model,
	}
}

// NewGeminiClientWithBaseURL points the client at an alternative API endpoint.
func NewGeminiClientWithBaseURL(apiKey, model, baseURL string) llm.LLMClient {
	return &GeminiClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
	}
}

func (g *GeminiClient) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}

	cfg := &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if g.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, fmt.Sprintf("failed to create Gemini client: %v", err))
	}
	g.client = client
	return client, nil
}

// buildRequest converts a completion request into Gemini contents and generation config.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (g *GeminiClient) buildRequest(in llm.CompletionRequest) (string, []*genai.Content, *genai.GenerateContentConfig, error) {
	if err := in.Validate(); err != nil {
		return "", nil, nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, fmt.Sprintf("message conversion error: %v", err))
	}
	contents, systemInstruction, err := convertMessagesToGemini(in.Messages)
	if err != nil {
		return "", nil, nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, fmt.Sprintf("message conversion error: %v", err))
	}

	model := in.ModelOr(g.model)
	cfg := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}}
	}
	if t, ok := in.ParamFloat(llm.ParamTemperature); ok {
		cfg.Temperature = genai.Ptr(float32(t))
	}
	if p, ok := in.ParamFloat(llm.ParamTopP); ok {
		cfg.TopP = genai.Ptr(float32(p))
	}
	if n, ok := in.ParamInt(llm.ParamMaxTokens); ok && n > 0 {
		if info, known := config.GetModelInfo(model); known && info.MaxOutputTokens > 0 && n > info.MaxOutputTokens {
			n = info.MaxOutputTokens
		}
		//nolint:gosec // bounded by model output limits
		cfg.MaxOutputTokens = int32(n)
	}
	if in.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = convertSchemaToGemini(in.Schema.Schema)
	}
	return model, contents, cfg, nil
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	model, contents, cfg, err := g.buildRequest(in)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	client, err := g.ensureClient(ctx)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	result, err := client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	resp := llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: string(result.Candidates[0].FinishReason),
	}
	if result.UsageMetadata != nil {
		resp.Usage = llm.Usage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	return resp, nil
}

// Stream implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (g *GeminiClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	model, contents, cfg, err := g.buildRequest(in)
	if err != nil {
		return nil, err
	}
	client, err := g.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)

		send := func(chunk llm.StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var stopReason string
		for result, err := range client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				send(llm.StreamChunk{Error: classifyError(err)})
				return
			}
			if result == nil || len(result.Candidates) == 0 {
				continue
			}
			if reason := result.Candidates[0].FinishReason; reason != "" {
				stopReason = string(reason)
			}
			if text := result.Text(); text != "" && !send(llm.StreamChunk{Content: text}) {
				return
			}
		}
		send(llm.StreamChunk{Done: true, StopReason: stopReason})
	}()
	return ch, nil
}

// GetModelName returns the model name for this client.
func (g *GeminiClient) GetModelName() string {
	return g.model
}

// convertMessagesToGemini converts our message format to Gemini's Content format.
// System messages are extracted and concatenated into the system instruction.
func convertMessagesToGemini(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	contents := make([]*genai.Content, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		var role string
		switch msg.Role {
		case llm.RoleUser:
			role = genai.RoleUser
		case llm.RoleAssistant:
			role = genai.RoleModel
		default:
			// System messages, including custom labels such as "developer".
			systemParts = append(systemParts, msg.Content)
			continue
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	if len(contents) == 0 {
		return nil, "", fmt.Errorf("must have at least one non-system message")
	}
	return contents, strings.Join(systemParts, "\n\n"), nil
}

// convertSchemaToGemini recursively converts a JSON schema to Gemini's schema subset.
func convertSchemaToGemini(s *jsonschema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	gs := &genai.Schema{
		Title:       s.Title,
		Description: s.Description,
		Required:    s.Required,
	}

	typ := s.Type
	for _, t := range s.Types {
		if t == "null" {
			gs.Nullable = genai.Ptr(true)
		} else if typ == "" {
			typ = t
		}
	}

	switch typ {
	case "string":
		gs.Type = genai.TypeString
	case "number":
		gs.Type = genai.TypeNumber
	case "integer":
		gs.Type = genai.TypeInteger
	case "boolean":
		gs.Type = genai.TypeBoolean
	case "array":
		gs.Type = genai.TypeArray
		gs.Items = convertSchemaToGemini(s.Items)
	case "object":
		gs.Type = genai.TypeObject
		if len(s.Properties) > 0 {
			gs.Properties = make(map[string]*genai.Schema, len(s.Properties))
			for name, prop := range s.Properties {
				gs.Properties[name] = convertSchemaToGemini(prop)
			}
		}
	default:
		// Default to string for unknown types
		gs.Type = genai.TypeString
	}

	for _, v := range s.Enum {
		if str, ok := v.(string); ok {
			gs.Enum = append(gs.Enum, str)
		}
	}
	return gs
}

// classifyError converts GenAI errors to our error types.
func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llmerrors.Classify(providerName, apiErr.Code, err)
	}
	return llmerrors.Classify(providerName, 0, err)
}
