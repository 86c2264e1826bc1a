package retry

import (
	"context"
	"time"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/logx"
)

// Middleware retries failed requests according to policy. For streams only
// establishing the stream is retried; errors inside the stream are not.
// The last error is returned unchanged once attempts are exhausted.
func Middleware(policy *Policy) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				return do(ctx, policy, func() (llm.CompletionResponse, error) {
					return next.Complete(ctx, req)
				})
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				return do(ctx, policy, func() (<-chan llm.StreamChunk, error) {
					return next.Stream(ctx, req)
				})
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}

func do[T any](ctx context.Context, policy *Policy, call func() (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.CalculateDelay(attempt)
			logx.Debug(ctx, "retry", "attempt %d/%d after %v: %v", attempt, policy.Config.MaxAttempts, delay, err)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, err
			case <-timer.C:
			}
		}

		result, err = call()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil || !policy.ShouldRetry(err) {
			break
		}
	}
	return result, err //nolint:wrapcheck // Middleware should pass through errors unchanged
}
