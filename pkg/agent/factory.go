package agent

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"agentkit/pkg/agent/internal/llmimpl/anthropic"
	"agentkit/pkg/agent/internal/llmimpl/google"
	"agentkit/pkg/agent/internal/llmimpl/ollama"
	"agentkit/pkg/agent/internal/llmimpl/openaiofficial"
	"agentkit/pkg/agent/llm"
	"agentkit/pkg/agent/middleware/logging"
	"agentkit/pkg/agent/middleware/metrics"
	"agentkit/pkg/agent/middleware/resilience/circuit"
	"agentkit/pkg/agent/middleware/resilience/ratelimit"
	"agentkit/pkg/agent/middleware/resilience/retry"
	"agentkit/pkg/agent/middleware/resilience/timeout"
	"agentkit/pkg/agent/middleware/validation"
	"agentkit/pkg/config"
	"agentkit/pkg/logx"
)

// LLMClientFactory creates LLM clients with properly configured middleware chains.
// Circuit breakers and rate limiters are shared by all clients of one provider.
type LLMClientFactory struct {
	config          *config.Config
	metricsRecorder metrics.Recorder
	usage           *metrics.InternalRecorder
	logger          *logx.Logger

	mu              sync.Mutex
	circuitBreakers map[string]circuit.Breaker
	rateLimiters    map[string]*ratelimit.Limiter
}

// NewLLMClientFactory creates a new LLM client factory with the given configuration.
// When metrics are enabled, usage is aggregated in memory and, if reg is
// non-nil, exported to Prometheus.
func NewLLMClientFactory(cfg *config.Config, reg prometheus.Registerer) *LLMClientFactory {
	if cfg == nil {
		cfg = config.Default()
	}

	usage := metrics.NewInternalRecorder()
	recorder := metrics.Nop()
	if cfg.Metrics.Enabled {
		recorders := []metrics.Recorder{usage}
		if reg != nil {
			recorders = append(recorders, metrics.NewPrometheusRecorder(reg))
		}
		recorder = metrics.Multi(recorders...)
	}

	return &LLMClientFactory{
		config:          cfg,
		metricsRecorder: recorder,
		usage:           usage,
		logger:          logx.NewLogger("llm-factory"),
		circuitBreakers: make(map[string]circuit.Breaker),
		rateLimiters:    make(map[string]*ratelimit.Limiter),
	}
}

// NewClient builds a client for model with the default configuration.
func NewClient(model, apiKey string) (llm.LLMClient, error) {
	return NewLLMClientFactory(nil, nil).CreateClientWithKey(model, apiKey)
}

// CreateClient creates an LLM client for model with the full middleware chain.
// The API key is retrieved from the secrets store or the environment based on
// the model's provider.
func (f *LLMClientFactory) CreateClient(model string) (llm.LLMClient, error) {
	provider, err := config.GetModelProvider(model)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", model, err)
	}

	var apiKey string
	if provider == config.ProviderOllama {
		apiKey = f.config.OllamaHost()
	} else {
		apiKey, err = config.GetAPIKey(provider)
		if err != nil {
			return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
		}
	}
	return f.CreateClientWithKey(model, apiKey)
}

// CreateClientWithKey is CreateClient with an explicit API key. For Ollama the
// key is the server host.
func (f *LLMClientFactory) CreateClientWithKey(model, apiKey string) (llm.LLMClient, error) {
	provider, err := config.GetModelProvider(model)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", model, err)
	}

	rawClient, err := newRawClient(provider, model, apiKey)
	if err != nil {
		return nil, err
	}
	return f.wrap(provider, rawClient), nil
}

// Usage returns the aggregated token usage of agentID, or nil.
func (f *LLMClientFactory) Usage(agentID string) *metrics.UsageTotals {
	return f.usage.Usage(agentID)
}

// RateLimiterStats returns the limiter statistics of provider.
func (f *LLMClientFactory) RateLimiterStats(provider string) (ratelimit.Stats, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	limiter, ok := f.rateLimiters[provider]
	if !ok {
		return ratelimit.Stats{}, false
	}
	return limiter.Stats(), true
}

func newRawClient(provider, model, apiKey string) (llm.LLMClient, error) {
	switch provider {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClientWithModel(apiKey, model), nil
	case config.ProviderOpenAI:
		return openaiofficial.NewOfficialClientWithModel(apiKey, model), nil
	case config.ProviderGoogle:
		return google.NewGeminiClientWithModel(apiKey, model), nil
	case config.ProviderOllama:
		return ollama.NewOllamaClientWithModel(apiKey, model), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
}

// providerResilience returns the shared breaker and limiter of provider, creating them on first use.
func (f *LLMClientFactory) providerResilience(provider string) (circuit.Breaker, *ratelimit.Limiter) {
	f.mu.Lock()
	defer f.mu.Unlock()

	breaker, ok := f.circuitBreakers[provider]
	if !ok {
		cbConfig := f.config.Resilience.CircuitBreaker
		if cbConfig == (circuit.Config{}) {
			cbConfig = circuit.DefaultConfig
		}
		breaker = circuit.New(cbConfig)
		f.circuitBreakers[provider] = breaker
	}

	limiter, ok := f.rateLimiters[provider]
	if !ok {
		limiter = ratelimit.NewLimiter(provider, f.config.RateLimitFor(provider))
		f.rateLimiters[provider] = limiter
	}
	return breaker, limiter
}

// wrap builds the middleware chain in the correct order:
// Metrics -> Logging -> CircuitBreaker -> Retry -> RateLimit -> EmptyResponse -> Timeout -> RawClient
func (f *LLMClientFactory) wrap(provider string, rawClient llm.LLMClient) llm.LLMClient {
	breaker, limiter := f.providerResilience(provider)

	retryConfig := f.config.Resilience.Retry
	if retryConfig == (retry.Config{}) {
		retryConfig = retry.DefaultConfig
	}
	retryPolicy := retry.NewPolicy(retryConfig, nil) // Use default classifier

	timeoutDuration := f.config.Resilience.Timeout
	if timeoutDuration <= 0 {
		timeoutDuration = config.DefaultTimeout
	}

	f.logger.Debug("building %s client for %s", provider, rawClient.GetModelName())

	return llm.Chain(rawClient,
		metrics.Middleware(f.metricsRecorder, nil, nil),
		logging.Middleware(),
		circuit.Middleware(provider, breaker),
		retry.Middleware(retryPolicy),
		ratelimit.Middleware(limiter, ratelimit.DefaultTokenEstimator{}, f.metricsRecorder),
		validation.EmptyResponseMiddleware(),
		timeout.Middleware(timeoutDuration),
	)
}
