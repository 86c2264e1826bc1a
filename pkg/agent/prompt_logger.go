package agent

import (
	"context"
	"errors"
	"strings"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/agent/llmerrors"
	"agentkit/pkg/logx"
)

// PromptLogMode defines when prompts should be logged.
type PromptLogMode string

const (
	// PromptLogOff disables prompt logging completely.
	PromptLogOff PromptLogMode = "off"
	// PromptLogOnFailure logs prompts when the completion fails.
	PromptLogOnFailure PromptLogMode = "on_failure"
	// PromptLogAlways also logs a summary of successful completions at debug level.
	PromptLogAlways PromptLogMode = "always"
)

// PromptLogConfig configures prompt logging behavior.
type PromptLogConfig struct {
	Mode     PromptLogMode // When to log prompts
	MaxChars int           // Maximum characters to log (truncate with hash if larger)
}

// DefaultPromptLogConfig provides sensible defaults.
//
//nolint:gochecknoglobals // Configuration struct - acceptable for package defaults
var DefaultPromptLogConfig = PromptLogConfig{
	Mode:     PromptLogOnFailure,
	MaxChars: 4000,
}

// PromptLogger handles conditional logging of prompts based on configuration.
// It is installed as a completion hook.
type PromptLogger struct {
	logger *logx.Logger
	config PromptLogConfig
}

// NewPromptLogger creates a new prompt logger with the given configuration.
func NewPromptLogger(config PromptLogConfig, logger *logx.Logger) *PromptLogger {
	return &PromptLogger{
		config: config,
		logger: logger,
	}
}

// Hook logs failed requests and, in PromptLogAlways mode, successful ones.
func (pl *PromptLogger) Hook(ctx context.Context, data HookData) {
	switch data.Event {
	case HookCompletionError, HookParseError:
		pl.LogFailure(ctx, data.Request, data.Err)
	case HookCompletionResponse:
		if pl.config.Mode == PromptLogAlways {
			pl.LogSuccess(ctx, data.Request, data.Response)
		}
	}
}

// LogFailure logs a prompt request that failed, if logging is enabled.
func (pl *PromptLogger) LogFailure(_ context.Context, req llm.CompletionRequest, err error) {
	if pl.config.Mode == PromptLogOff || err == nil {
		return
	}

	promptContent := extractPromptContent(req)
	sanitizedPrompt := llmerrors.SanitizePrompt(promptContent, pl.config.MaxChars)

	errorType := llmerrors.TypeOf(err)
	var statusCode int
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		statusCode = llmErr.StatusCode
	}

	// Calculate approximate token count (rough estimate: 4 chars per token)
	approxTokens := len(promptContent) / 4

	pl.logger.Warn("LLM request failed - prompt logged for debugging: error_type=%s status_code=%d model=%s prompt_chars=%d approx_tokens=%d schema=%s messages_count=%d error=%s prompt=%s",
		errorType.String(),
		statusCode,
		req.Model,
		len(promptContent),
		approxTokens,
		schemaName(req),
		len(req.Messages),
		err.Error(),
		sanitizedPrompt,
	)
}

// LogSuccess logs successful requests at debug level for metrics.
func (pl *PromptLogger) LogSuccess(_ context.Context, req llm.CompletionRequest, resp llm.CompletionResponse) {
	promptLength := 0
	for i := range req.Messages {
		promptLength += len(req.Messages[i].Content)
	}

	pl.logger.Debug("LLM request succeeded: model=%s prompt_chars=%d approx_tokens=%d response_chars=%d schema=%s",
		req.Model,
		promptLength,
		promptLength/4,
		len(resp.Content),
		schemaName(req),
	)
}

// extractPromptContent extracts the full prompt content from a completion request.
func extractPromptContent(req llm.CompletionRequest) string {
	var b strings.Builder
	for i := range req.Messages {
		msg := &req.Messages[i]
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[" + string(msg.Role) + "]: " + msg.Content)
	}
	return b.String()
}

func schemaName(req llm.CompletionRequest) string {
	if req.Schema == nil {
		return ""
	}
	return req.Schema.Name
}
