package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/agent/llmerrors"
	"agentkit/pkg/agent/middleware/resilience/circuit"
	"agentkit/pkg/logx"
	"agentkit/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor is a function that extracts token usage from a request and response.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor uses provider-reported usage and falls back to
// tiktoken counts when the provider reported none.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		return resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}

	counter, err := utils.NewTokenCounter(req.Model)
	if err != nil {
		return 0, 0
	}
	return counter.CountMessages(req.Messages), counter.CountTokens(resp.Content)
}

// Middleware records latency, token usage and failures for every call.
// Streams are recorded when they end. logger may be nil.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}

	return func(next llm.LLMClient) llm.LLMClient {
		observe := func(ctx context.Context, op string, req llm.CompletionRequest, resp llm.CompletionResponse, err error, duration time.Duration) {
			model := req.ModelOr(next.GetModelName())
			r := Request{
				Model:     model,
				AgentID:   logx.AgentIDFrom(ctx),
				Operation: op,
				Success:   err == nil,
				ErrorType: getErrorType(err),
				Duration:  duration,
			}
			if err == nil {
				r.PromptTokens, r.CompletionTokens = usageExtractor(req, resp)
			}
			recorder.ObserveRequest(r)

			if logger != nil {
				status := statusSuccess
				if err != nil {
					status = statusError
				}
				logger.Info("LLM %s: model=%s tokens=%d+%d=%d status=%s duration=%dms",
					op, model, r.PromptTokens, r.CompletionTokens, r.PromptTokens+r.CompletionTokens, status, duration.Milliseconds())
			}
		}

		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				observe(ctx, OpComplete, req, resp, err, time.Since(start))
				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				start := time.Now()
				upstream, err := next.Stream(ctx, req)
				if err != nil {
					observe(ctx, OpStream, req, llm.CompletionResponse{}, err, time.Since(start))
					return nil, err //nolint:wrapcheck // Middleware should pass through errors unchanged
				}

				out := make(chan llm.StreamChunk)
				go func() {
					defer close(out)
					var (
						content   strings.Builder
						streamErr error
					)
					defer func() {
						observe(ctx, OpStream, req, llm.CompletionResponse{Content: content.String()}, streamErr, time.Since(start))
					}()
					for chunk := range upstream {
						content.WriteString(chunk.Content)
						if chunk.Error != nil {
							streamErr = chunk.Error
						}
						select {
						case out <- chunk:
						case <-ctx.Done():
							streamErr = ctx.Err()
							return
						}
					}
				}()
				return out, nil
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}

// getErrorType classifies errors for metrics labeling.
func getErrorType(err error) string {
	if err == nil {
		return ""
	}

	var circuitErr *circuit.Error
	switch {
	case errors.As(err, &circuitErr):
		return "circuit_breaker"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return llmerrors.TypeOf(err).String()
	}
}
