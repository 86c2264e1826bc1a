// Package validation provides response validation middleware for LLM clients.
package validation

import (
	"context"
	"fmt"
	"strings"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/agent/llmerrors"
	"agentkit/pkg/logx"
)

// maxEmptyAttempts is the original call plus one retry with guidance.
const maxEmptyAttempts = 2

// EmptyResponseMiddleware retries a completion once, with a guidance
// message appended, when the model returns no usable content. A second
// empty response fails with llmerrors.ErrorTypeEmptyResponse.
//
// When the request carries an output schema, content without a JSON object
// counts as empty.
func EmptyResponseMiddleware() llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				for attempt := 1; attempt <= maxEmptyAttempts; attempt++ {
					resp, err := next.Complete(ctx, req)
					if err != nil && !llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
						return resp, err //nolint:wrapcheck // Middleware intentionally passes through errors unchanged
					}
					if err == nil && !isEmptyResponse(resp, req) {
						return resp, nil
					}

					logx.Debug(ctx, "validation", "empty response (attempt %d/%d): stop=%s content_length=%d",
						attempt, maxEmptyAttempts, resp.StopReason, len(resp.Content))

					if attempt < maxEmptyAttempts {
						retry := req
						retry.Messages = append(append([]llm.CompletionMessage(nil), req.Messages...),
							llm.NewUserMessage(guidanceMessage(req)))
						req = retry
					}
				}

				return llm.CompletionResponse{}, llmerrors.NewError(
					llmerrors.ErrorTypeEmptyResponse,
					fmt.Sprintf("received no usable content after %d attempts", maxEmptyAttempts),
				)
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				return next.Stream(ctx, req)
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}

func isEmptyResponse(resp llm.CompletionResponse, req llm.CompletionRequest) bool {
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return true
	}
	return req.Schema != nil && !strings.Contains(content, "{")
}

func guidanceMessage(req llm.CompletionRequest) string {
	if req.Schema != nil {
		return fmt.Sprintf("Your previous response was empty or not valid JSON. Respond only with a JSON object that matches the %s schema.", req.Schema.Name)
	}
	return "No response received, please try again."
}
