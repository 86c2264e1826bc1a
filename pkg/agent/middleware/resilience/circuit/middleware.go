package circuit

import (
	"context"
	"errors"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/agent/llmerrors"
	"agentkit/pkg/logx"
)

// Middleware rejects requests while the circuit is open. Only failures that
// say something about provider health count: caller cancellation and
// non-retryable request errors (auth, bad prompt) are recorded as successes.
func Middleware(provider string, breaker Breaker) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		guard := func(ctx context.Context) error {
			if breaker.Allow() {
				return nil
			}
			logx.Debug(ctx, "circuit", "%s circuit open, rejecting request", provider)
			return &Error{State: breaker.GetState()}
		}

		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if err := guard(ctx); err != nil {
					return llm.CompletionResponse{}, err
				}
				resp, err := next.Complete(ctx, req)
				breaker.Record(healthy(err))
				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				if err := guard(ctx); err != nil {
					return nil, err
				}
				// Only stream establishment is tracked.
				ch, err := next.Stream(ctx, req)
				breaker.Record(healthy(err))
				return ch, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}

func healthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return !llmErr.IsRetryable()
	}
	return false
}
