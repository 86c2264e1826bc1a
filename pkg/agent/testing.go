package agent

import (
	"fmt"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/agent/middleware/logging"
	"agentkit/pkg/agent/middleware/validation"
	"agentkit/pkg/config"
)

// NewTestLLMClient creates a raw LLM client for integration testing.
// This bypasses the middleware chain for simpler testing.
// Returns an error if the API key is not available.
func NewTestLLMClient(modelName string) (llm.LLMClient, error) {
	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to get model provider for %s: %w", modelName, err)
	}

	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	return newRawClient(provider, modelName, apiKey)
}

// NewTestLLMClientWithMiddleware creates an LLM client with validation and logging middleware.
// This more closely matches the production middleware chain for integration testing.
func NewTestLLMClientWithMiddleware(modelName string) (llm.LLMClient, error) {
	rawClient, err := NewTestLLMClient(modelName)
	if err != nil {
		return nil, err
	}

	// Note: We skip rate limiting, circuit breaker, and timeout for simpler testing
	return llm.Chain(rawClient,
		logging.Middleware(),
		validation.EmptyResponseMiddleware(),
	), nil
}
