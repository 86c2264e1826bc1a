package ratelimit

import (
	"context"
	"time"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/agent/middleware/metrics"
)

// Middleware acquires capacity from limiter before each request. A stream
// holds its concurrency slot until it ends. recorder and estimator may be nil.
func Middleware(limiter *Limiter, estimator TokenEstimator, recorder metrics.Recorder) llm.Middleware {
	if estimator == nil {
		estimator = DefaultTokenEstimator{}
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}

	return func(next llm.LLMClient) llm.LLMClient {
		acquire := func(ctx context.Context, req llm.CompletionRequest) (func(), error) {
			model := req.ModelOr(next.GetModelName())
			start := time.Now()
			release, reason, err := limiter.Acquire(ctx, estimator.Estimate(req))
			if reason != "" {
				recorder.IncThrottle(model, reason)
				recorder.ObserveQueueWait(model, time.Since(start))
			}
			return release, err
		}

		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				release, err := acquire(ctx, req)
				if err != nil {
					return llm.CompletionResponse{}, err
				}
				defer release()
				return next.Complete(ctx, req)
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				release, err := acquire(ctx, req)
				if err != nil {
					return nil, err
				}
				upstream, err := next.Stream(ctx, req)
				if err != nil {
					release()
					return nil, err //nolint:wrapcheck // Middleware should pass through errors unchanged
				}

				out := make(chan llm.StreamChunk)
				go func() {
					defer close(out)
					defer release()
					for chunk := range upstream {
						select {
						case out <- chunk:
						case <-ctx.Done():
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
