package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"agentkit/pkg/agent/middleware/resilience/circuit"
	"agentkit/pkg/agent/middleware/resilience/ratelimit"
	"agentkit/pkg/agent/middleware/resilience/retry"
	"agentkit/pkg/logx"
)

// API providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Environment variables holding provider credentials.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// Defaults applied by Load when the file leaves a value unset.
const (
	DefaultModel      = "gpt-4o-mini"
	DefaultSystemRole = "system"
	DefaultTimeout    = 3 * time.Minute
	DefaultOllamaHost = "http://localhost:11434"
)

//nolint:gochecknoglobals // package logger
var logger = logx.NewLogger("config")

// ModelInfo contains static information about a known LLM model.
// This data is hardcoded in the application, not user-configurable.
type ModelInfo struct {
	Provider         string  // API provider
	InputCPM         float64 // Cost per million input tokens (USD)
	OutputCPM        float64 // Cost per million output tokens (USD)
	MaxContextTokens int     // Maximum context window size in tokens
	MaxOutputTokens  int     // Maximum output tokens per request
}

// KnownModels registry contains pricing and provider information for common models.
// This is optional - unknown models will be inferred via ProviderPatterns.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	"claude-sonnet-4-5": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-sonnet-4-20250514": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-3-5-haiku-latest": {
		Provider:         ProviderAnthropic,
		InputCPM:         0.8,
		OutputCPM:        4.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-opus-4-1": {
		Provider:         ProviderAnthropic,
		InputCPM:         15.0,
		OutputCPM:        75.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  16384,
	},

	"gpt-4o": {
		Provider:         ProviderOpenAI,
		InputCPM:         2.5,
		OutputCPM:        10.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"gpt-4o-mini": {
		Provider:         ProviderOpenAI,
		InputCPM:         0.15,
		OutputCPM:        0.6,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"gpt-4.1": {
		Provider:         ProviderOpenAI,
		InputCPM:         2.0,
		OutputCPM:        8.0,
		MaxContextTokens: 1047576,
		MaxOutputTokens:  32768,
	},
	"o4-mini": {
		Provider:         ProviderOpenAI,
		InputCPM:         1.1,
		OutputCPM:        4.4,
		MaxContextTokens: 200000,
		MaxOutputTokens:  100000,
	},

	"gemini-2.0-flash": {
		Provider:         ProviderGoogle,
		InputCPM:         0.10,
		OutputCPM:        0.40,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  8192,
	},
	"gemini-2.5-flash": {
		Provider:         ProviderGoogle,
		InputCPM:         0.30,
		OutputCPM:        2.50,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},

	// Local inference, no per-token cost.
	"llama3.1": {
		Provider:         ProviderOllama,
		MaxContextTokens: 131072,
		MaxOutputTokens:  4096,
	},
	"qwen2.5": {
		Provider:         ProviderOllama,
		MaxContextTokens: 32768,
		MaxOutputTokens:  8192,
	},
}

// ProviderPattern represents a pattern for inferring provider from model name.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns defines rules for inferring providers from unknown model names.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"gemma", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama}, // Explicit prefix like "ollama:phi4"
}

// ProviderDefaults defines default rate limits for each provider.
// These are used when rate limits are not specified in the config file.
//
//nolint:gochecknoglobals // Intentional global for provider defaults
var ProviderDefaults = map[string]ratelimit.Config{
	ProviderAnthropic: {TokensPerMinute: 300000, MaxConcurrency: 5},
	ProviderOpenAI:    {TokensPerMinute: 150000, MaxConcurrency: 5},
	ProviderGoogle:    {TokensPerMinute: 1200000, MaxConcurrency: 5},
	ProviderOllama:    {TokensPerMinute: 0, MaxConcurrency: 2}, // local inference, bounded by GPU memory
}

// Config is the root of the YAML configuration file.
type Config struct {
	Agent       AgentConfig       `yaml:"agent"`
	Prompt      PromptConfig      `yaml:"prompt"`
	Resilience  ResilienceConfig  `yaml:"resilience"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Debug       DebugConfig       `yaml:"debug"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Ollama      OllamaConfig      `yaml:"ollama"`
}

// AgentConfig holds the per-agent model settings.
type AgentConfig struct {
	Model              string         `yaml:"model"`
	Temperature        *float64       `yaml:"temperature"`
	MaxTokens          *int           `yaml:"max_tokens"`
	SystemRole         string         `yaml:"system_role"`
	DisableSystemRole  bool           `yaml:"disable_system_role"`
	ModelAPIParameters map[string]any `yaml:"model_api_parameters"`
}

// PromptConfig seeds the system prompt generator.
type PromptConfig struct {
	Background         []string `yaml:"background"`
	Steps              []string `yaml:"steps"`
	OutputInstructions []string `yaml:"output_instructions"`
}

// ResilienceConfig bundles all resilience-related middleware configuration.
type ResilienceConfig struct {
	CircuitBreaker circuit.Config              `yaml:"circuit_breaker"`
	Retry          retry.Config                `yaml:"retry"`
	RateLimit      map[string]ratelimit.Config `yaml:"rate_limit"` // keyed by provider
	Timeout        time.Duration               `yaml:"timeout"`    // per request, defaults to DefaultTimeout
}

// MetricsConfig defines configuration for metrics collection.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DebugConfig mirrors DEBUG and DEBUG_DOMAINS.
type DebugConfig struct {
	Enabled bool     `yaml:"enabled"`
	Domains []string `yaml:"domains"`
}

// PersistenceConfig locates the SQLite history database. An empty path disables persistence.
type PersistenceConfig struct {
	DBPath string `yaml:"db_path"`
}

// OllamaConfig locates the local Ollama server.
type OllamaConfig struct {
	Host string `yaml:"host"`
}

// GetModelProvider returns the API provider for a given model.
// First checks KnownModels, then tries pattern matching.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}

	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}

	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match", modelName)
}

// GetModelInfo returns the ModelInfo for a given model name.
// The boolean reports whether the model is in KnownModels; otherwise the
// info carries the inferred provider and conservative limits.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}

	provider, _ := GetModelProvider(modelName)
	return ModelInfo{
		Provider:         provider,
		MaxContextTokens: 32000,
		MaxOutputTokens:  4096,
	}, false
}

// CalculateCost calculates the cost in USD for a given model and token usage.
// Unknown models cost 0.
func CalculateCost(modelName string, promptTokens, completionTokens int) float64 {
	info, exists := KnownModels[modelName]
	if !exists {
		return 0
	}
	inputCost := (float64(promptTokens) / 1_000_000.0) * info.InputCPM
	outputCost := (float64(completionTokens) / 1_000_000.0) * info.OutputCPM
	return inputCost + outputCost
}

// GetAPIKey returns the API key for a given provider.
// Checks the decrypted secrets first, then environment variables.
// For Ollama, returns the host URL instead of an API key.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		if host := os.Getenv(EnvOllamaHost); host != "" {
			return host, nil
		}
		return DefaultOllamaHost, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	key, err := GetSecret(envVar)
	if err != nil {
		return "", fmt.Errorf("API key not found: %w", err)
	}
	return key, nil
}

// Provider returns the provider of the configured agent model.
func (c *Config) Provider() (string, error) {
	return GetModelProvider(c.Agent.Model)
}

// RateLimitFor returns the rate limits for provider, falling back to ProviderDefaults.
func (c *Config) RateLimitFor(provider string) ratelimit.Config {
	if limits, ok := c.Resilience.RateLimit[provider]; ok {
		return limits
	}
	return ProviderDefaults[provider]
}

// OllamaHost returns the configured Ollama host, or GetAPIKey's fallback.
func (c *Config) OllamaHost() string {
	if c.Ollama.Host != "" {
		return c.Ollama.Host
	}
	host, _ := GetAPIKey(ProviderOllama)
	return host
}
