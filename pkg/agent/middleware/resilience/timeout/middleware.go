// Package timeout bounds the duration of each LLM request.
package timeout

import (
	"context"
	"time"

	"agentkit/pkg/agent/llm"
)

// Middleware gives every request its own deadline. For streams the deadline
// covers the whole stream, and the stream is relayed so the deadline is
// released once it ends. A non-positive duration disables the middleware.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		if duration <= 0 {
			return next
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()
				return next.Complete(timeoutCtx, req)
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				upstream, err := next.Stream(timeoutCtx, req)
				if err != nil {
					cancel()
					return nil, err //nolint:wrapcheck // Middleware should pass through errors unchanged
				}

				out := make(chan llm.StreamChunk)
				go func() {
					defer close(out)
					defer cancel()
					for chunk := range upstream {
						select {
						case out <- chunk:
						case <-timeoutCtx.Done():
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
